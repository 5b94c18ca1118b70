package protocol

import "time"

// Command is a request bound to an opcode. It encodes its own payload and
// decodes the payload of its reply.
//
// Payload always returns the fixed length the firmware expects for the
// command. Decode must only be called with a payload that was actually
// received; a missing reply is the transport's concern.
type Command interface {
	Opcode() Opcode
	Payload() []byte
	Decode(payload []byte) (Response, error)
}

// Auth authenticates the session with a paired key.
type Auth struct{ Key Key }

func (Auth) Opcode() Opcode { return OpAuth }
func (c Auth) Payload() []byte { return append([]byte(nil), c.Key[:]...) }
func (Auth) Decode(p []byte) (Response, error) { return decodeSuccess(OpAuth, p) }

// Firmware reads the firmware version.
type Firmware struct{}

func (Firmware) Opcode() Opcode { return OpFirmware }
func (Firmware) Payload() []byte { return nil }
func (Firmware) Decode(p []byte) (Response, error) {
	r, err := DecodeVersion(p)
	if err != nil {
		return nil, withOpcode(OpFirmware, err)
	}
	return r, nil
}

// SwitchOn starts the selected program.
type SwitchOn struct{}

func (SwitchOn) Opcode() Opcode { return OpSwitchOn }
func (SwitchOn) Payload() []byte { return nil }
func (SwitchOn) Decode(p []byte) (Response, error) { return decodeSuccess(OpSwitchOn, p) }

// SwitchOff stops the running program.
type SwitchOff struct{}

func (SwitchOff) Opcode() Opcode { return OpSwitchOff }
func (SwitchOff) Payload() []byte { return nil }
func (SwitchOff) Decode(p []byte) (Response, error) { return decodeSuccess(OpSwitchOff, p) }

// SetMode selects a program. Only mode, target temperature and boil time of
// Status are meaningful; the rest of the block is sent as zeroes.
type SetMode struct {
	Status Status
	era    Era
}

func (SetMode) Opcode() Opcode { return OpSetMode }
func (c SetMode) Payload() []byte {
	return EncodeStatus(c.era, Status{Mode: c.Status.Mode, TargetTemp: c.Status.TargetTemp, BoilTime: c.Status.BoilTime})
}
func (SetMode) Decode(p []byte) (Response, error) { return decodeSuccess(OpSetMode, p) }

// GetStatus reads the status block.
type GetStatus struct{ era Era }

func (GetStatus) Opcode() Opcode { return OpStatus }
func (GetStatus) Payload() []byte { return nil }
func (c GetStatus) Decode(p []byte) (Response, error) {
	r, err := DecodeStatus(c.era, p)
	if err != nil {
		return nil, withOpcode(OpStatus, err)
	}
	return r, nil
}

// SetSound enables or disables the beeper.
type SetSound struct{ On bool }

func (SetSound) Opcode() Opcode { return OpSetSound }
func (c SetSound) Payload() []byte { return []byte{boolByte(c.On)} }
func (SetSound) Decode(p []byte) (Response, error) { return decodeSuccess(OpSetSound, p) }

// SetLock enables or disables the child lock.
type SetLock struct{ On bool }

func (SetLock) Opcode() Opcode { return OpSetLock }
func (c SetLock) Payload() []byte { return []byte{boolByte(c.On)} }
func (SetLock) Decode(p []byte) (Response, error) { return decodeSuccess(OpSetLock, p) }

// SetLights installs a light scheme; Scheme.ID selects the light type.
type SetLights struct{ Scheme ColorScheme }

func (SetLights) Opcode() Opcode { return OpSetLights }
func (c SetLights) Payload() []byte { return c.Scheme.Bytes() }
func (SetLights) Decode(p []byte) (Response, error) { return decodeNeutral(OpSetLights, p) }

// GetLights reads the scheme of a light type.
type GetLights struct{ Type LightType }

func (GetLights) Opcode() Opcode { return OpGetLights }
func (c GetLights) Payload() []byte { return []byte{byte(c.Type)} }
func (GetLights) Decode(p []byte) (Response, error) {
	r, err := DecodeColorScheme(p)
	if err != nil {
		return nil, withOpcode(OpGetLights, err)
	}
	return r, nil
}

// backlightMagic precedes the on/off flag of the backlight command.
var backlightMagic = [2]byte{0xc8, 0xc8}

// UseBacklight switches the night light.
type UseBacklight struct{ On bool }

func (UseBacklight) Opcode() Opcode { return OpUseBacklight }
func (c UseBacklight) Payload() []byte {
	return []byte{backlightMagic[0], backlightMagic[1], boolByte(c.On)}
}
func (UseBacklight) Decode(p []byte) (Response, error) { return decodeNeutral(OpUseBacklight, p) }

// GetUsageStats reads the heating element counters.
type GetUsageStats struct{ era Era }

func (GetUsageStats) Opcode() Opcode { return OpUsageStats }
func (GetUsageStats) Payload() []byte { return []byte{0x00} }
func (c GetUsageStats) Decode(p []byte) (Response, error) {
	r, err := DecodeUsageStats(c.era, p)
	if err != nil {
		return nil, withOpcode(OpUsageStats, err)
	}
	return r, nil
}

// GetCycleStats reads how many times the appliance was switched on.
type GetCycleStats struct{}

func (GetCycleStats) Opcode() Opcode { return OpCycleStats }
func (GetCycleStats) Payload() []byte { return []byte{0x00} }
func (GetCycleStats) Decode(p []byte) (Response, error) {
	r, err := DecodeCycleStats(p)
	if err != nil {
		return nil, withOpcode(OpCycleStats, err)
	}
	return r, nil
}

// Sync sets the appliance clock.
type Sync struct {
	Now    time.Time
	Offset time.Duration // timezone offset from UTC
	era    Era
}

const syncSize = 8

func (Sync) Opcode() Opcode { return OpSync }

// Payload encodes the clock. Revised firmware takes now(4) followed by the
// signed offset in seconds(4). Legacy firmware takes the absolute offset(2),
// now(4), a sign byte and a reserved zero.
func (c Sync) Payload() []byte {
	p := make([]byte, syncSize)
	now := uint32(c.Now.Unix())
	offset := int32(c.Offset / time.Second)
	if c.era == EraLegacy {
		abs, sign := offset, byte(0x00)
		if abs < 0 {
			abs, sign = -abs, 0x01
		}
		PutUint16(p[0:2], uint16(abs))
		PutUint32(p[2:6], now)
		p[6] = sign
		return p
	}
	PutUint32(p[0:4], now)
	PutUint32(p[4:8], uint32(offset))
	return p
}

func (Sync) Decode(p []byte) (Response, error) { return decodeNeutral(OpSync, p) }

// GetEvent reads a calendar event.
type GetEvent struct{ UID uint8 }

func (GetEvent) Opcode() Opcode { return OpGetEvent }
func (c GetEvent) Payload() []byte { return []byte{c.UID} }
func (GetEvent) Decode(p []byte) (Response, error) {
	r, err := DecodeCalendarEvent(p)
	if err != nil {
		return nil, withOpcode(OpGetEvent, err)
	}
	return r, nil
}

// AddEvent stores a calendar event.
type AddEvent struct{ Event CalendarEvent }

func (AddEvent) Opcode() Opcode { return OpAddEvent }
func (c AddEvent) Payload() []byte { return c.Event.Bytes() }
func (AddEvent) Decode(p []byte) (Response, error) {
	r, err := DecodeAddEventResult(p)
	if err != nil {
		return nil, withOpcode(OpAddEvent, err)
	}
	return r, nil
}

// GetCalendarInfo reads the calendar capacity.
type GetCalendarInfo struct{}

func (GetCalendarInfo) Opcode() Opcode { return OpCalendarInfo }
func (GetCalendarInfo) Payload() []byte { return nil }
func (GetCalendarInfo) Decode(p []byte) (Response, error) {
	r, err := DecodeCalendarInfo(p)
	if err != nil {
		return nil, withOpcode(OpCalendarInfo, err)
	}
	return r, nil
}

// DeleteEvent removes a calendar event.
type DeleteEvent struct{ UID uint8 }

func (DeleteEvent) Opcode() Opcode { return OpDeleteEvent }
func (c DeleteEvent) Payload() []byte { return []byte{c.UID} }
func (DeleteEvent) Decode(p []byte) (Response, error) { return decodeNeutral(OpDeleteEvent, p) }

func decodeSuccess(op Opcode, p []byte) (Response, error) {
	r, err := DecodeSuccess(p)
	if err != nil {
		return nil, withOpcode(op, err)
	}
	return r, nil
}

func decodeNeutral(op Opcode, p []byte) (Response, error) {
	r, err := DecodeNeutral(p)
	if err != nil {
		return nil, withOpcode(op, err)
	}
	return r, nil
}
