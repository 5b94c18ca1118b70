package protocol

import (
	"errors"
	"fmt"
)

// DecodeError reports a response payload too short or malformed for the
// shape its command expects.
type DecodeError struct {
	Opcode Opcode
	Want   int // minimum payload length
	Got    int
	Err    error // set when the payload had the right size but invalid content
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: decode %s response: %v", e.Opcode, e.Err)
	}
	return fmt.Sprintf("protocol: decode %s response: need %d bytes, got %d", e.Opcode, e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// withOpcode attaches op to a decode failure.
func withOpcode(op Opcode, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		de.Opcode = op
		return de
	}
	return &DecodeError{Opcode: op, Err: err}
}

// ValidationError is raised when a value is constructed with fields the
// appliance would reject. It never originates from the wire layer.
type ValidationError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid %s %d: %s", e.Field, e.Value, e.Reason)
}
