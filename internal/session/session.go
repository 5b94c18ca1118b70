// Package session runs the request/response exchange with a Ready for Sky
// appliance over a ble.Transport. A Session owns the rolling frame counter
// and the authenticated flag of one connection and allows exactly one
// command in flight.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
	"github.com/chaz8081/redmond-ble/internal/logging"
)

// DefaultTimeout bounds the wait for one reply.
const DefaultTimeout = 3 * time.Second

// State is the protocol state of a connection.
type State struct {
	Counter       uint8
	Authenticated bool
}

// Phase is the position of a session in its connection lifecycle.
type Phase int

const (
	Disconnected Phase = iota
	Connected
	Subscribed
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Options configures a Session.
type Options struct {
	Handles ble.Handles
	Timeout time.Duration
}

// Session exchanges frames with one appliance.
type Session struct {
	transport ble.Transport
	handles   ble.Handles
	timeout   time.Duration

	inFlight atomic.Bool

	mu         sync.Mutex
	state      State
	subscribed bool
	id         uuid.UUID
	log        *zap.Logger
}

// New creates a session over t. Zero option fields take their defaults.
func New(t ble.Transport, opts Options) *Session {
	if opts.Handles == (ble.Handles{}) {
		opts.Handles = ble.DefaultHandles
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	s := &Session{transport: t, handles: opts.Handles, timeout: opts.Timeout}
	s.Reset()
	return s
}

// ID identifies the current connection in logs. It changes on Reset.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns a snapshot of the protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase reports the lifecycle phase of the session.
func (s *Session) Phase() Phase {
	if !s.transport.Connected() {
		return Disconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.Authenticated:
		return Authenticated
	case s.subscribed:
		return Subscribed
	default:
		return Connected
	}
}

// Reset clears the state for a new connection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	s.subscribed = false
	s.id = uuid.New()
	s.log = logging.Named("session").With(zap.String("session", s.id.String()))
}

// ResetCounter restarts the frame counter at zero.
func (s *Session) ResetCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counter = 0
}

// EnableNotifications subscribes to replies. It must precede the first Send
// and may be repeated.
func (s *Session) EnableNotifications() error {
	if err := s.transport.Write(s.handles.CCC, ble.EnableNotificationValue); err != nil {
		return &TransportError{Op: "enable notifications", Err: err}
	}
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
	return nil
}

// Send writes cmd and waits for its reply.
//
// The counter advances only when a reply with the awaited counter and opcode
// arrives; it advances before decoding, so a *protocol.DecodeError leaves it
// advanced. A missing reply yields ErrTimeout and a stray one a
// *MismatchError, both without advancing the counter.
func (s *Session) Send(cmd protocol.Command) (protocol.Response, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	want := protocol.Header{Counter: s.state.Counter, Opcode: cmd.Opcode()}
	log := s.log
	s.mu.Unlock()

	log.Debug("send", zap.Stringer("opcode", want.Opcode), zap.Uint8("counter", want.Counter))

	frame := protocol.Wrap(want.Counter, want.Opcode, cmd.Payload())
	if err := s.transport.Write(s.handles.Command, frame); err != nil {
		return nil, &TransportError{Op: "write " + want.Opcode.String(), Err: err}
	}

	raw, ok, err := s.transport.AwaitNotification(s.handles.Response, s.timeout)
	if err != nil {
		return nil, &TransportError{Op: "await " + want.Opcode.String(), Err: err}
	}
	if !ok {
		log.Warn("no response", zap.Stringer("opcode", want.Opcode), zap.Duration("timeout", s.timeout))
		return nil, fmt.Errorf("%w to %s", ErrTimeout, want)
	}

	got, payload, err := protocol.Unwrap(raw)
	if err != nil {
		log.Warn("malformed response", zap.Error(err))
		return nil, &MismatchError{Want: want, Err: err}
	}
	if got != want {
		log.Warn("unexpected response", zap.Stringer("want", want), zap.Stringer("got", got))
		return nil, &MismatchError{Want: want, Got: got}
	}

	s.mu.Lock()
	s.state.Counter++
	s.mu.Unlock()

	resp, err := cmd.Decode(payload)
	if err != nil {
		return nil, err
	}
	if want.Opcode == protocol.OpAuth {
		if r, ok := resp.(protocol.Success); ok {
			s.mu.Lock()
			s.state.Authenticated = r.OK
			s.mu.Unlock()
		}
	}
	return resp, nil
}
