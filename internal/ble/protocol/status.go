package protocol

import "fmt"

// Mode is the program a kettle runs.
type Mode uint8

const (
	ModeBoil  Mode = 0x00
	ModeHeat  Mode = 0x01
	ModeLight Mode = 0x03
)

func (m Mode) String() string {
	switch m {
	case ModeBoil:
		return "boil"
	case ModeHeat:
		return "heat"
	case ModeLight:
		return "light"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "boil":
		return ModeBoil, nil
	case "heat":
		return ModeHeat, nil
	case "light":
		return ModeLight, nil
	}
	return 0, fmt.Errorf("protocol: unknown mode %q", s)
}

// State is the on/off state reported in a status.
type State uint8

const (
	StateOff State = 0x00
	StateOn  State = 0x02
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Temperature limits of the heat program, as in the official app.
const (
	MinTemp     = 35
	MaxTemp     = 90
	BoilTemp    = 0
	MaxBoilTime = 5
)

// StatusSize is the payload size of set-mode requests and status replies.
const StatusSize = 16

// Status byte offsets.
const (
	statusMode     = 0
	statusTarget   = 2
	statusBlocked  = 3
	statusSound    = 4
	statusCurrent  = 5
	statusPeriod   = 6
	statusState    = 8
	statusBoilTime = 13
	statusErr      = 15
)

// Status is the kettle status block. It is both the reply of the status
// command and the request payload of the set-mode command.
type Status struct {
	Mode              Mode
	TargetTemp        uint8
	CurrentTemp       uint8
	State             State
	BoilTime          int8 // offset in [-MaxBoilTime, MaxBoilTime]
	Blocked           bool
	Sound             bool
	ColorChangePeriod uint8
	Err               uint8
}

// NewStatus builds the program part of a status and validates it.
func NewStatus(mode Mode, target uint8, boilTime int8) (Status, error) {
	st := Status{Mode: mode, TargetTemp: target, BoilTime: boilTime}
	if err := st.Validate(); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Validate checks the program fields. The appliance ignores the target
// temperature outside the heat program, so it must be zero there.
func (s Status) Validate() error {
	switch s.Mode {
	case ModeBoil, ModeLight:
		if s.TargetTemp != BoilTemp {
			return &ValidationError{Field: "target temperature", Value: int(s.TargetTemp),
				Reason: fmt.Sprintf("must be %d in %s mode", BoilTemp, s.Mode)}
		}
	case ModeHeat:
		if s.TargetTemp < MinTemp || s.TargetTemp > MaxTemp {
			return &ValidationError{Field: "target temperature", Value: int(s.TargetTemp),
				Reason: fmt.Sprintf("allowed range [%d:%d]", MinTemp, MaxTemp)}
		}
	default:
		return &ValidationError{Field: "mode", Value: int(s.Mode), Reason: "unknown mode"}
	}
	if s.BoilTime < -MaxBoilTime || s.BoilTime > MaxBoilTime {
		return &ValidationError{Field: "boil time", Value: int(s.BoilTime),
			Reason: fmt.Sprintf("allowed range [%d:%d]", -MaxBoilTime, MaxBoilTime)}
	}
	return nil
}

// Bytes encodes the status in the revised layout.
func (s Status) Bytes() []byte { return EncodeStatus(EraRevised, s) }

// EncodeStatus encodes s in the layout of the given era. The legacy layout
// only carries program, temperatures, state and boil time.
func EncodeStatus(era Era, s Status) []byte {
	p := make([]byte, StatusSize)
	p[statusMode] = byte(s.Mode)
	p[statusTarget] = s.TargetTemp
	p[statusCurrent] = s.CurrentTemp
	p[statusState] = byte(s.State)
	p[statusBoilTime] = EncodeOffset(s.BoilTime)
	if era == EraLegacy {
		return p
	}
	p[statusBlocked] = boolByte(s.Blocked)
	p[statusSound] = boolByte(s.Sound)
	p[statusPeriod] = s.ColorChangePeriod
	p[statusErr] = s.Err
	return p
}

// DecodeStatus decodes a status payload in the layout of the given era and
// validates the program fields.
func DecodeStatus(era Era, p []byte) (Status, error) {
	size := StatusSize
	if era == EraLegacy {
		size = statusBoilTime + 1
	}
	if err := need(p, size); err != nil {
		return Status{}, err
	}
	st := Status{
		Mode:        Mode(p[statusMode]),
		TargetTemp:  p[statusTarget],
		CurrentTemp: p[statusCurrent],
		State:       State(p[statusState]),
		BoilTime:    DecodeOffset(p[statusBoilTime]),
	}
	if era != EraLegacy {
		st.Blocked = p[statusBlocked] != 0
		st.Sound = p[statusSound] != 0
		st.ColorChangePeriod = p[statusPeriod]
		st.Err = p[statusErr]
	}
	if err := st.Validate(); err != nil {
		return Status{}, err
	}
	return st, nil
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
