package session

import (
	"errors"
	"fmt"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

var (
	// ErrTimeout means no notification arrived within the session timeout.
	ErrTimeout = errors.New("session: no response")
	// ErrUnexpectedResponse matches every *MismatchError.
	ErrUnexpectedResponse = errors.New("session: unexpected response")
	// ErrBusy is returned when Send is called while another Send is running.
	ErrBusy = errors.New("session: another command is in flight")
	// ErrNotConnected is the transport's not-connected error.
	ErrNotConnected = ble.ErrNotConnected
)

// MismatchError reports a notification that does not answer the request in
// flight: wrong counter or opcode, or not a frame at all.
type MismatchError struct {
	Want protocol.Header
	Got  protocol.Header
	Err  error // set when the notification could not be unwrapped
}

func (e *MismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: unexpected response to %s: %v", e.Want, e.Err)
	}
	return fmt.Sprintf("session: unexpected response: want %s, got %s", e.Want, e.Got)
}

func (e *MismatchError) Is(target error) bool { return target == ErrUnexpectedResponse }

func (e *MismatchError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying BLE transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("session: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may go away after reconnecting: timeouts
// and transport failures. Mismatch, decode and validation errors are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
