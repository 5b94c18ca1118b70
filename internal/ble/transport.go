package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/redmond-ble/internal/logging"
)

// Handle identifies a GATT attribute.
type Handle uint16

func (h Handle) String() string { return fmt.Sprintf("0x%04x", uint16(h)) }

// Handles are the attributes the protocol session talks to.
type Handles struct {
	Command  Handle `yaml:"command"`  // frames are written here
	Response Handle `yaml:"response"` // replies arrive as notifications here
	CCC      Handle `yaml:"ccc"`      // client characteristic configuration of Response
}

// DefaultHandles are the handles used by every known Ready for Sky kettle.
var DefaultHandles = Handles{Command: 0x000e, Response: 0x000b, CCC: 0x000c}

// EnableNotificationValue switches notifications on when written to a CCC
// descriptor.
var EnableNotificationValue = []byte{0x01, 0x00}

// ErrNotConnected is returned for I/O on a transport without a connection.
var ErrNotConnected = errors.New("ble: not connected")

// Transport is the handle level view of a connected peripheral the protocol
// session needs. Implementations must be safe for use by one session while a
// disconnect callback fires concurrently.
type Transport interface {
	// Connect establishes the connection; it is a no-op when connected.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down; it is a no-op when disconnected.
	Disconnect() error
	// Connected reports whether the link is up.
	Connected() bool
	// Write writes data to a handle without waiting for a response.
	Write(h Handle, data []byte) error
	// AwaitNotification blocks for exactly one notification on h. It returns
	// false when none arrived within timeout.
	AwaitNotification(h Handle, timeout time.Duration) ([]byte, bool, error)
}

// GATTOptions configures a GATTTransport.
type GATTOptions struct {
	Handles        Handles
	ConnectTimeout time.Duration
	QueueSize      int // buffered notifications; extra ones are dropped
}

// DefaultGATTOptions returns sensible defaults.
func DefaultGATTOptions() GATTOptions {
	return GATTOptions{
		Handles:        DefaultHandles,
		ConnectTimeout: 10 * time.Second,
		QueueSize:      8,
	}
}

// GATTTransport maps the handle level Transport onto an Adapter connection.
// The command and response handles resolve to the Ready for Sky command and
// response characteristics; writing EnableNotificationValue to the CCC handle
// subscribes to the response characteristic.
type GATTTransport struct {
	adapter Adapter
	mac     string
	opts    GATTOptions
	log     *zap.Logger

	mu         sync.Mutex
	conn       Connection
	cmdChar    Characteristic
	rspChar    Characteristic
	notify     chan []byte
	closed     chan struct{} // closed when the current connection drops
	subscribed bool
}

// NewGATTTransport creates a transport for the peripheral at mac. Zero option
// fields take their defaults.
func NewGATTTransport(adapter Adapter, mac string, opts GATTOptions) *GATTTransport {
	def := DefaultGATTOptions()
	if opts.Handles == (Handles{}) {
		opts.Handles = def.Handles
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	return &GATTTransport{
		adapter: adapter,
		mac:     mac,
		opts:    opts,
		log:     logging.Named("ble").With(zap.String("mac", mac)),
	}
}

// Handles returns the handles the transport resolves.
func (t *GATTTransport) Handles() Handles { return t.opts.Handles }

func (t *GATTTransport) Connect(ctx context.Context) error {
	if t.Connected() {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, err := t.adapter.Connect(ctx, t.mac)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", t.mac, err)
	}
	if err := t.setConnected(conn); err != nil {
		_ = conn.Disconnect()
		return err
	}

	closed := t.closedChan()
	conn.OnDisconnect(func() {
		t.log.Warn("disconnected")
		t.setDisconnected(closed)
	})

	t.log.Info("connected")
	return nil
}

// setConnected discovers the characteristics of conn and installs it.
func (t *GATTTransport) setConnected(conn Connection) error {
	cmd, err := conn.DiscoverCharacteristic(ServiceUUID, CommandCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover command characteristic: %w", err)
	}
	rsp, err := conn.DiscoverCharacteristic(ServiceUUID, ResponseCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover response characteristic: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.cmdChar = cmd
	t.rspChar = rsp
	t.notify = make(chan []byte, t.opts.QueueSize)
	t.closed = make(chan struct{})
	t.subscribed = false
	return nil
}

func (t *GATTTransport) closedChan() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// setDisconnected drops the connection identified by closed. Callbacks from
// an earlier connection are ignored.
func (t *GATTTransport) setDisconnected(closed chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != closed || t.conn == nil {
		return
	}
	close(t.closed)
	t.conn = nil
	t.cmdChar = nil
	t.rspChar = nil
	t.subscribed = false
}

func (t *GATTTransport) Disconnect() error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.setDisconnected(closed)
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", t.mac, err)
	}
	t.log.Info("disconnect requested")
	return nil
}

func (t *GATTTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *GATTTransport) Write(h Handle, data []byte) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	cmd, rsp, notify := t.cmdChar, t.rspChar, t.notify
	subscribed := t.subscribed
	t.mu.Unlock()

	switch h {
	case t.opts.Handles.Command:
		logging.LogFrame(t.log, "tx", data)
		if err := cmd.Write(data); err != nil {
			return fmt.Errorf("ble: write %s: %w", h, err)
		}
		return nil
	case t.opts.Handles.CCC:
		if !bytes.Equal(data, EnableNotificationValue) {
			return fmt.Errorf("ble: unsupported CCC value % x", data)
		}
		if subscribed {
			return nil
		}
		if err := rsp.Subscribe(func(buf []byte) { t.deliver(notify, buf) }); err != nil {
			return fmt.Errorf("ble: subscribe to responses: %w", err)
		}
		t.mu.Lock()
		t.subscribed = true
		t.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("ble: write to unknown handle %s", h)
	}
}

// deliver queues a notification, dropping it when nobody is reading.
func (t *GATTTransport) deliver(notify chan []byte, buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	logging.LogFrame(t.log, "rx", cp)
	select {
	case notify <- cp:
	default:
		t.log.Warn("notification queue full, dropping", zap.Int("length", len(cp)))
	}
}

func (t *GATTTransport) AwaitNotification(h Handle, timeout time.Duration) ([]byte, bool, error) {
	if h != t.opts.Handles.Response {
		return nil, false, fmt.Errorf("ble: no notifications on handle %s", h)
	}
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil, false, ErrNotConnected
	}
	notify, closed := t.notify, t.closed
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case buf := <-notify:
		return buf, true, nil
	case <-closed:
		return nil, false, ErrNotConnected
	case <-timer.C:
		return nil, false, nil
	}
}

// Compile-time check that GATTTransport implements Transport.
var _ Transport = (*GATTTransport)(nil)
