package protocol

import "fmt"

// Opcode identifies a command family. A response frame echoes the opcode of
// the request it answers.
type Opcode byte

const (
	OpFirmware     Opcode = 0x01 // 1
	OpSwitchOn     Opcode = 0x03 // 3
	OpSwitchOff    Opcode = 0x04 // 4
	OpSetMode      Opcode = 0x05 // 5
	OpStatus       Opcode = 0x06 // 6
	OpSetLights    Opcode = 0x32 // 50
	OpGetLights    Opcode = 0x33 // 51
	OpUseBacklight Opcode = 0x37 // 55
	OpSetSound     Opcode = 0x3C // 60
	OpSetLock      Opcode = 0x3E // 62
	OpUsageStats   Opcode = 0x47 // 71
	OpCycleStats   Opcode = 0x50 // 80
	OpSync         Opcode = 0x6E // 110
	OpGetEvent     Opcode = 0x70 // 112
	OpAddEvent     Opcode = 0x71 // 113
	OpCalendarInfo Opcode = 0x73 // 115
	OpDeleteEvent  Opcode = 0x74 // 116
	OpAuth         Opcode = 0xFF // 255
)

var opcodeNames = map[Opcode]string{
	OpFirmware:     "firmware",
	OpSwitchOn:     "switch-on",
	OpSwitchOff:    "switch-off",
	OpSetMode:      "set-mode",
	OpStatus:       "status",
	OpSetLights:    "set-lights",
	OpGetLights:    "get-lights",
	OpUseBacklight: "use-backlight",
	OpSetSound:     "set-sound",
	OpSetLock:      "set-lock",
	OpUsageStats:   "usage-stats",
	OpCycleStats:   "cycle-stats",
	OpSync:         "sync",
	OpGetEvent:     "get-event",
	OpAddEvent:     "add-event",
	OpCalendarInfo: "calendar-info",
	OpDeleteEvent:  "delete-event",
	OpAuth:         "auth",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return fmt.Sprintf("%s(0x%02x)", name, byte(op))
	}
	return fmt.Sprintf("0x%02x", byte(op))
}
