package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestPayloadSizes(t *testing.T) {
	st, _ := NewStatus(ModeHeat, 80, 0)
	setMode, err := Revised.SetMode(st)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	tests := []struct {
		cmd  Command
		op   Opcode
		size int
	}{
		{Revised.Auth(Key{1, 2, 3, 4, 5, 6, 7, 8}), OpAuth, 8},
		{Revised.Firmware(), OpFirmware, 0},
		{Revised.SwitchOn(), OpSwitchOn, 0},
		{Revised.SwitchOff(), OpSwitchOff, 0},
		{setMode, OpSetMode, 16},
		{Revised.Status(), OpStatus, 0},
		{Revised.UsageStats(), OpUsageStats, 1},
		{Revised.CycleStats(), OpCycleStats, 1},
		{Revised.Sync(now, time.Hour), OpSync, 8},
		{Legacy.Sync(now, time.Hour), OpSync, 8},
		{Revised.SetLights(DefaultScheme(LightBoil)), OpSetLights, 16},
		{Revised.GetLights(LightBacklight), OpGetLights, 1},
		{Revised.UseBacklight(true), OpUseBacklight, 3},
		{Revised.SetSound(true), OpSetSound, 1},
		{Revised.SetLock(false), OpSetLock, 1},
		{Revised.AddEvent(CalendarEvent{UID: 1}), OpAddEvent, 16},
		{Revised.GetEvent(1), OpGetEvent, 1},
		{Revised.DeleteEvent(1), OpDeleteEvent, 1},
		{Revised.CalendarInfo(), OpCalendarInfo, 0},
	}
	for _, tt := range tests {
		if tt.cmd.Opcode() != tt.op {
			t.Errorf("%T opcode = %s, want %s", tt.cmd, tt.cmd.Opcode(), tt.op)
		}
		if got := len(tt.cmd.Payload()); got != tt.size {
			t.Errorf("%T payload = %d bytes, want %d", tt.cmd, got, tt.size)
		}
	}
}

func TestSetModePayloadOnlyCarriesProgram(t *testing.T) {
	st := Status{Mode: ModeHeat, TargetTemp: 90, BoilTime: -5, CurrentTemp: 40, State: StateOn, Sound: true}
	cmd, err := Revised.SetMode(st)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 16)
	want[0], want[2], want[13] = 0x01, 90, 0x7B
	if got := cmd.Payload(); !bytes.Equal(got, want) {
		t.Errorf("payload = % x, want % x", got, want)
	}
}

func TestSetModeRejectsInvalid(t *testing.T) {
	_, err := Revised.SetMode(Status{Mode: ModeBoil, TargetTemp: 50})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestSyncLayouts(t *testing.T) {
	now := time.Unix(0x01020304, 0)

	revised := Revised.Sync(now, -3*time.Hour).Payload()
	want := []byte{0x04, 0x03, 0x02, 0x01, 0xD0, 0xD5, 0xFF, 0xFF}
	if !bytes.Equal(revised, want) {
		t.Errorf("revised sync = % x, want % x", revised, want)
	}

	legacy := Legacy.Sync(now, -3*time.Hour).Payload()
	want = []byte{0x30, 0x2A, 0x04, 0x03, 0x02, 0x01, 0x01, 0x00}
	if !bytes.Equal(legacy, want) {
		t.Errorf("legacy sync = % x, want % x", legacy, want)
	}

	legacy = Legacy.Sync(now, 4*time.Hour).Payload()
	if legacy[6] != 0x00 || Uint16(legacy[0:2]) != 14400 {
		t.Errorf("legacy positive offset = % x", legacy)
	}
}

func TestBacklightPayload(t *testing.T) {
	got := Revised.UseBacklight(true).Payload()
	if !bytes.Equal(got, []byte{0xC8, 0xC8, 0x01}) {
		t.Errorf("payload = % x", got)
	}
}

func TestDecodeResponses(t *testing.T) {
	r, err := Revised.Firmware().Decode([]byte{3, 10})
	if err != nil {
		t.Fatal(err)
	}
	if v := r.(Version); v.Major != 3 || v.Minor != 10 || v.String() != "3.10" {
		t.Errorf("version = %+v", v)
	}

	r, err = Revised.Auth(Key{}).Decode([]byte{0x01})
	if err != nil || !r.(Success).OK {
		t.Errorf("auth decode = %v, %v", r, err)
	}
	r, err = Revised.SwitchOn().Decode([]byte{0x00})
	if err != nil || r.(Success).OK {
		t.Errorf("switch on decode = %v, %v", r, err)
	}

	r, err = Revised.Sync(time.Now(), 0).Decode([]byte{0x00})
	if err != nil || !r.(Neutral).OK() {
		t.Errorf("sync decode = %v, %v", r, err)
	}
}

func TestDecodeErrorCarriesOpcode(t *testing.T) {
	_, err := Revised.UsageStats().Decode([]byte{0x00, 0x00})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Opcode != OpUsageStats || de.Want != 14 || de.Got != 2 {
		t.Errorf("DecodeError = %+v", de)
	}

	_, err = Revised.Firmware().Decode(nil)
	if !errors.As(err, &de) || de.Opcode != OpFirmware {
		t.Errorf("empty firmware reply: %v", err)
	}
}

func TestUsageStatsEras(t *testing.T) {
	want := UsageStats{WorkTime: 1223, SpentPower: 102252, RelayCount: 7}
	p := want.Bytes()

	r, err := Revised.UsageStats().Decode(p)
	if err != nil {
		t.Fatal(err)
	}
	s := r.(UsageStats).Statistics()
	if *s.WorkTime != 1223 || *s.SpentPower != 102252 || *s.RelayCount != 7 {
		t.Errorf("revised stats = %+v", r)
	}

	r, err = Legacy.UsageStats().Decode(p)
	if err != nil {
		t.Fatal(err)
	}
	s = r.(UsageStats).Statistics()
	if s.WorkTime != nil || s.RelayCount != nil || *s.SpentPower != 102252 {
		t.Errorf("legacy stats should only carry spent power: %+v", s)
	}
}

func TestCycleStatsDecode(t *testing.T) {
	r, err := Revised.CycleStats().Decode(CycleStats{Count: 51}.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if c := r.(CycleStats); c.Count != 51 || *c.Statistics().OnTimes != 51 {
		t.Errorf("cycle stats = %+v", c)
	}
}

func TestStatisticsMergeIsRightBiased(t *testing.T) {
	a := Statistics{WorkTime: uint32Ptr(1), SpentPower: uint32Ptr(2)}
	b := Statistics{SpentPower: uint32Ptr(20), OnTimes: uint32Ptr(5)}
	got := a.Merge(b)
	if *got.WorkTime != 1 || *got.SpentPower != 20 || *got.OnTimes != 5 || got.RelayCount != nil {
		t.Errorf("merge = %+v", got)
	}
	// Merging again replaces values instead of summing them.
	got = got.Merge(b)
	if *got.SpentPower != 20 || *got.OnTimes != 5 {
		t.Errorf("second merge = %+v", got)
	}
}

func TestColorSchemeRoundTrip(t *testing.T) {
	cs := DefaultScheme(LightBacklight)
	p := cs.Bytes()
	if len(p) != 16 || p[0] != byte(LightBacklight) {
		t.Fatalf("scheme bytes = % x", p)
	}
	got, err := DecodeColorScheme(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != cs {
		t.Errorf("round trip = %+v, want %+v", got, cs)
	}
}

func TestCalendarEventRoundTrip(t *testing.T) {
	ev := CalendarEvent{Timezone: 10800, UID: 3, RecurrenceType: 1, RepeatRule: 2, RepeatType: 1, ActionType: 4, Timestamp: 1700000000}
	got, err := DecodeCalendarEvent(ev.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != ev || !got.Enabled() {
		t.Errorf("round trip = %+v, want %+v", got, ev)
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKeyHex("b54c75b1b40c88ef")
	if err != nil {
		t.Fatal(err)
	}
	if k.String() != "b54c75b1b40c88ef" {
		t.Errorf("String() = %q", k.String())
	}
	for _, n := range []int{0, 7, 9, 16} {
		_, err := ParseKey(make([]byte, n))
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("ParseKey(%d bytes) err = %v, want *ValidationError", n, err)
		}
	}
	if _, err := ParseKeyHex("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
}

func TestCatalogueFor(t *testing.T) {
	tests := map[string]Era{"": EraRevised, "revised": EraRevised, "Legacy": EraLegacy, "2019": EraLegacy}
	for name, want := range tests {
		c, err := CatalogueFor(name)
		if err != nil || c.Era() != want {
			t.Errorf("CatalogueFor(%q) = %v, %v", name, c.Era(), err)
		}
	}
	if _, err := CatalogueFor("2030"); err == nil {
		t.Error("expected error for unknown era")
	}
}
