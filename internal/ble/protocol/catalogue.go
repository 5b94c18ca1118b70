package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Era identifies a firmware generation. Both eras share opcode byte values;
// they differ in payload layouts and in which response fields are reported.
type Era uint8

const (
	EraLegacy Era = iota + 1
	EraRevised
)

func (e Era) String() string {
	switch e {
	case EraLegacy:
		return "legacy"
	case EraRevised:
		return "revised"
	default:
		return fmt.Sprintf("Era(%d)", uint8(e))
	}
}

// Catalogue builds commands in the layout of one firmware era.
type Catalogue struct {
	era Era
}

var (
	// Legacy is the catalogue for early firmware.
	Legacy = Catalogue{era: EraLegacy}
	// Revised is the catalogue for current firmware.
	Revised = Catalogue{era: EraRevised}
)

// CatalogueFor returns the catalogue named by s ("legacy" or "revised").
// An empty name selects Revised.
func CatalogueFor(s string) (Catalogue, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "revised", "2020":
		return Revised, nil
	case "legacy", "2019":
		return Legacy, nil
	}
	return Catalogue{}, fmt.Errorf("protocol: unknown protocol era %q", s)
}

// Era reports the firmware generation of the catalogue.
func (c Catalogue) Era() Era { return c.era }

func (c Catalogue) Auth(k Key) Command { return Auth{Key: k} }
func (c Catalogue) Firmware() Command { return Firmware{} }
func (c Catalogue) SwitchOn() Command { return SwitchOn{} }
func (c Catalogue) SwitchOff() Command { return SwitchOff{} }
func (c Catalogue) Status() Command { return GetStatus{era: c.era} }
func (c Catalogue) UsageStats() Command { return GetUsageStats{era: c.era} }
func (c Catalogue) CycleStats() Command { return GetCycleStats{} }
func (c Catalogue) SetSound(on bool) Command { return SetSound{On: on} }
func (c Catalogue) SetLock(on bool) Command { return SetLock{On: on} }

// SetMode selects a program. The status must validate.
func (c Catalogue) SetMode(s Status) (Command, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return SetMode{Status: s, era: c.era}, nil
}

// Sync sets the appliance clock to now in the zone of offset.
func (c Catalogue) Sync(now time.Time, offset time.Duration) Command {
	return Sync{Now: now, Offset: offset, era: c.era}
}

func (c Catalogue) SetLights(cs ColorScheme) Command { return SetLights{Scheme: cs} }
func (c Catalogue) GetLights(lt LightType) Command { return GetLights{Type: lt} }
func (c Catalogue) UseBacklight(on bool) Command { return UseBacklight{On: on} }

func (c Catalogue) GetEvent(uid uint8) Command { return GetEvent{UID: uid} }
func (c Catalogue) AddEvent(e CalendarEvent) Command { return AddEvent{Event: e} }
func (c Catalogue) CalendarInfo() Command { return GetCalendarInfo{} }
func (c Catalogue) DeleteEvent(uid uint8) Command { return DeleteEvent{UID: uid} }
