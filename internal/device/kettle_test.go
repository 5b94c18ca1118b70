package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/redmond-ble/internal/ble/bletest"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

func newTestKettle(t *testing.T, era protocol.Era) (*Kettle, *bletest.Kettle) {
	t.Helper()
	fake := bletest.NewKettle(era)
	opts := testOptions()
	if era == protocol.EraLegacy {
		opts.Catalogue = protocol.Legacy
	}
	k, err := NewKettle(fake, opts)
	require.NoError(t, err)
	require.NoError(t, k.FirstConnect(context.Background()))
	fake.ResetRequests()
	return k, fake
}

func TestKettleSetModeHeat(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)

	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeHeat, 90))

	assert.Equal(t, []protocol.Opcode{
		protocol.OpSync,
		protocol.OpSetMode,
		protocol.OpSwitchOn,
		protocol.OpStatus,
	}, fake.Requests())

	st, ok := k.Status()
	require.True(t, ok)
	assert.Equal(t, protocol.ModeHeat, st.Mode)
	assert.Equal(t, uint8(90), st.TargetTemp)
	assert.Equal(t, protocol.StateOn, st.State)
	assert.Equal(t, st, fake.Status())
}

func TestKettleSetModeKeepsBoilTime(t *testing.T) {
	fake := bletest.NewKettle(protocol.EraRevised)
	fake.SetStatus(protocol.Status{Mode: protocol.ModeBoil, CurrentTemp: 20, BoilTime: 3})
	k, err := NewKettle(fake, testOptions())
	require.NoError(t, err)
	require.NoError(t, k.FirstConnect(context.Background()))

	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeBoil, 0))
	assert.Equal(t, int8(3), fake.Status().BoilTime)
}

func TestKettleSetModeValidatesFirst(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)

	cases := []struct {
		name string
		mode protocol.Mode
		temp uint8
	}{
		{"boil with temperature", protocol.ModeBoil, 50},
		{"heat too cold", protocol.ModeHeat, 34},
		{"heat too hot", protocol.ModeHeat, 91},
		{"light with temperature", protocol.ModeLight, 40},
		{"unknown mode", protocol.Mode(7), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := k.SetMode(context.Background(), true, tc.mode, tc.temp)
			var ve *protocol.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
	assert.Empty(t, fake.Requests())
}

func TestKettleSetModeOff(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)
	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeHeat, 60))
	fake.ResetRequests()

	require.NoError(t, k.SetMode(context.Background(), false, protocol.ModeHeat, 60))
	assert.Equal(t, []protocol.Opcode{protocol.OpSync, protocol.OpSwitchOff, protocol.OpStatus}, fake.Requests())

	st, _ := k.Status()
	assert.Equal(t, protocol.StateOff, st.State)
}

func TestKettleSetModeWithoutStatus(t *testing.T) {
	fake := bletest.NewKettle(protocol.EraRevised)
	fake.SetStatus(protocol.Status{Mode: protocol.ModeBoil, CurrentTemp: 20, BoilTime: 3})
	k, err := NewKettle(fake, testOptions())
	require.NoError(t, err)

	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeHeat, 70))
	assert.Equal(t, int8(3), fake.Status().BoilTime)
	assert.Equal(t, uint8(70), fake.Status().TargetTemp)
	assert.Equal(t, []protocol.Opcode{
		protocol.OpAuth,
		protocol.OpStatus,
		protocol.OpSync,
		protocol.OpSetMode,
		protocol.OpSwitchOn,
		protocol.OpStatus,
	}, fake.Requests())
}

func TestKettleSetModeUnreadableStatus(t *testing.T) {
	fake := bletest.NewKettle(protocol.EraRevised)
	fake.SetStatus(protocol.Status{Mode: protocol.ModeBoil, CurrentTemp: 20, BoilTime: 3})
	garbled := false
	fake.Tamper(func(f []byte) []byte {
		if protocol.Opcode(f[2]) != protocol.OpStatus || garbled {
			return f
		}
		garbled = true
		return protocol.Wrap(f[1], protocol.OpStatus, nil)
	})
	k, err := NewKettle(fake, testOptions())
	require.NoError(t, err)

	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeHeat, 70))
	assert.Equal(t, int8(-protocol.MaxBoilTime), fake.Status().BoilTime)
}

func TestKettleLegacy(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraLegacy)

	stats := k.Statistics()
	assert.Nil(t, stats.WorkTime, "legacy firmware only reports spent power")
	require.NotNil(t, stats.SpentPower)
	assert.Equal(t, uint32(102252), *stats.SpentPower)

	require.NoError(t, k.SetMode(context.Background(), true, protocol.ModeHeat, 85))
	assert.Equal(t, protocol.ModeHeat, fake.Status().Mode)
	assert.Equal(t, uint8(85), fake.Status().TargetTemp)
	assert.True(t, fake.Clock().Equal(testNow))
}

func TestKettleSwitch(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)

	require.NoError(t, k.SwitchOn(context.Background()))
	assert.Equal(t, protocol.StateOn, fake.Status().State)
	require.NoError(t, k.SwitchOff(context.Background()))
	assert.Equal(t, protocol.StateOff, fake.Status().State)

	st, err := k.UpdateStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.StateOff, st.State)
}

func TestKettleUpdateStatistics(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)
	fake.SetUsage(protocol.UsageStats{WorkTime: 2000, SpentPower: 110000, RelayCount: 12}, protocol.CycleStats{Count: 40})

	stats, err := k.UpdateStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), *stats.WorkTime)
	assert.Equal(t, uint32(110000), *stats.SpentPower)
	assert.Equal(t, uint32(12), *stats.RelayCount)
	assert.Equal(t, uint32(40), *stats.OnTimes)
}

func TestKettleSoundAndLock(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)

	require.NoError(t, k.SetSound(context.Background(), true))
	require.NoError(t, k.SetLock(context.Background(), true))
	assert.True(t, fake.Status().Sound)
	assert.True(t, fake.Status().Blocked)

	st, _ := k.Status()
	assert.True(t, st.Sound)
	assert.True(t, st.Blocked)
}

func TestKettleLights(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)
	cs := protocol.DefaultScheme(protocol.LightBacklight)
	cs.Colors[1].R = 0x80

	require.NoError(t, k.SetLights(context.Background(), cs))
	got, ok := fake.Lights(protocol.LightBacklight)
	require.True(t, ok)
	assert.Equal(t, cs, got)

	cached, ok := k.Lights(uint8(protocol.LightBacklight))
	require.True(t, ok)
	assert.Equal(t, cs, cached)

	require.NoError(t, k.UseBacklight(context.Background(), true))
	assert.True(t, fake.Backlight())
}

func TestKettleCalendar(t *testing.T) {
	k, _ := newTestKettle(t, protocol.EraRevised)
	ev := protocol.CalendarEvent{UID: 3, RecurrenceType: 1, ActionType: 2, Timestamp: 1_700_000_000}

	uid, err := k.AddEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), uid)
	info, ok := k.CalendarInfo()
	require.True(t, ok)
	assert.Equal(t, uint8(1), info.CurrentTasks)

	got, err := k.Event(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	require.NoError(t, k.DeleteEvent(context.Background(), 3))
	info, _ = k.CalendarInfo()
	assert.Equal(t, uint8(0), info.CurrentTasks)
}

func TestKettleRejection(t *testing.T) {
	k, fake := newTestKettle(t, protocol.EraRevised)
	fake.Tamper(func(f []byte) []byte {
		if protocol.Opcode(f[2]) == protocol.OpSetLock {
			return protocol.Wrap(f[1], protocol.OpSetLock, protocol.Success{OK: false}.Bytes())
		}
		return f
	})

	err := k.SetLock(context.Background(), true)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, []protocol.Opcode{protocol.OpSetLock}, fake.Requests())
}
