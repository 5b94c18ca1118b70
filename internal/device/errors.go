package device

import (
	"errors"
	"fmt"

	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

var (
	// ErrAuthFailed means the appliance did not accept the key within the
	// configured number of attempts.
	ErrAuthFailed = errors.New("device: authentication failed")
	// ErrUnsupportedDevice means the appliance model is not a known Ready
	// for Sky model.
	ErrUnsupportedDevice = errors.New("device: unsupported device")
	// ErrNotImplemented means the model is known but has no controller.
	ErrNotImplemented = errors.New("device: model not implemented")
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("device: command rejected")
)

// RejectedError reports a command the appliance answered with a failure flag
// or a nonzero error code.
type RejectedError struct {
	Opcode protocol.Opcode
	Code   uint8
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("device: %s rejected (code %d)", e.Opcode, e.Code)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// rejection returns a *RejectedError when resp reports a failure.
func rejection(op protocol.Opcode, resp protocol.Response) error {
	switch r := resp.(type) {
	case protocol.Success:
		if !r.OK {
			return &RejectedError{Opcode: op}
		}
	case protocol.Neutral:
		if !r.OK() {
			return &RejectedError{Opcode: op, Code: r.Code}
		}
	case protocol.AddEventResult:
		if r.Err != 0 {
			return &RejectedError{Opcode: op, Code: r.Err}
		}
	}
	return nil
}
