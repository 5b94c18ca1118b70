// Package bletest provides an in-memory Ready for Sky kettle for tests. It
// implements ble.Transport, answering protocol frames the way a real kettle
// does, and lets tests inject link failures, lost or tampered replies and
// rejected authentication.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

// DefaultKey is the key every new Kettle accepts.
var DefaultKey = protocol.Key{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}

// ErrLinkLost is returned by writes that were configured to fail.
var ErrLinkLost = errors.New("bletest: link lost")

// Kettle is a fake RK-G200 family kettle.
type Kettle struct {
	era     protocol.Era
	handles ble.Handles

	mu          sync.Mutex
	keys        map[protocol.Key]bool
	readyToPair bool
	firmware    protocol.Version
	usage       protocol.UsageStats
	cycles      protocol.CycleStats
	status      protocol.Status
	lights      map[uint8]protocol.ColorScheme
	backlight   bool
	clock       time.Time
	events      map[uint8]protocol.CalendarEvent

	connected     bool
	subscribed    bool
	authenticated bool
	pending       [][]byte

	authFailures int
	connectFails int
	drop         map[protocol.Opcode]int
	failWrite    map[protocol.Opcode]int
	tamper       func([]byte) []byte

	requests    []protocol.Opcode
	connects    int
	disconnects int
}

// NewKettle returns a kettle speaking the given era, loaded with the state of
// a typical idle appliance: firmware 3.10, 1223 s of work, 102252 Wh spent,
// boil program, 40 degrees, switched off.
func NewKettle(era protocol.Era) *Kettle {
	return &Kettle{
		era:      era,
		handles:  ble.DefaultHandles,
		keys:     map[protocol.Key]bool{DefaultKey: true},
		firmware: protocol.Version{Major: 3, Minor: 10},
		usage:    protocol.UsageStats{WorkTime: 1223, SpentPower: 102252},
		status: protocol.Status{
			Mode:        protocol.ModeBoil,
			CurrentTemp: 40,
			State:       protocol.StateOff,
		},
		lights:    make(map[uint8]protocol.ColorScheme),
		events:    make(map[uint8]protocol.CalendarEvent),
		drop:      make(map[protocol.Opcode]int),
		failWrite: make(map[protocol.Opcode]int),
	}
}

// SetReadyToPair emulates holding the pairing button: unknown keys are then
// accepted and remembered.
func (k *Kettle) SetReadyToPair(v bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.readyToPair = v
}

// AddKey registers key as paired.
func (k *Kettle) AddKey(key protocol.Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key] = true
}

// KnowsKey reports whether key is paired.
func (k *Kettle) KnowsKey(key protocol.Key) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys[key]
}

// FailAuth rejects the next n authentication requests, even with a valid key.
func (k *Kettle) FailAuth(n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.authFailures = n
}

// FailConnects makes the next n connection attempts fail.
func (k *Kettle) FailConnects(n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.connectFails = n
}

// DropReplies swallows the replies to the next n requests with opcode op.
func (k *Kettle) DropReplies(op protocol.Opcode, n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.drop[op] = n
}

// FailWrites drops the link on the next n writes of requests with opcode op.
func (k *Kettle) FailWrites(op protocol.Opcode, n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failWrite[op] = n
}

// Tamper installs fn to rewrite every reply frame before it is delivered.
func (k *Kettle) Tamper(fn func(frame []byte) []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tamper = fn
}

// Inject queues an unsolicited notification.
func (k *Kettle) Inject(frame []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pending = append(k.pending, frame)
}

// SetStatus replaces the kettle status.
func (k *Kettle) SetStatus(st protocol.Status) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = st
}

// SetFirmware replaces the firmware version.
func (k *Kettle) SetFirmware(v protocol.Version) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.firmware = v
}

// SetUsage replaces the usage counters.
func (k *Kettle) SetUsage(u protocol.UsageStats, c protocol.CycleStats) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.usage, k.cycles = u, c
}

// Status returns the kettle status.
func (k *Kettle) Status() protocol.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// Lights returns the installed scheme for a light type.
func (k *Kettle) Lights(lt protocol.LightType) (protocol.ColorScheme, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cs, ok := k.lights[uint8(lt)]
	return cs, ok
}

// Backlight reports whether the night light is on.
func (k *Kettle) Backlight() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.backlight
}

// Clock returns the time set by the last sync request.
func (k *Kettle) Clock() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clock
}

// Requests returns the opcodes of all frames written so far.
func (k *Kettle) Requests() []protocol.Opcode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]protocol.Opcode(nil), k.requests...)
}

// ResetRequests clears the request log.
func (k *Kettle) ResetRequests() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = nil
}

// Connects returns the number of successful connections.
func (k *Kettle) Connects() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connects
}

// Disconnects returns the number of disconnects of a live connection.
func (k *Kettle) Disconnects() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.disconnects
}

// Connect implements ble.Transport.
func (k *Kettle) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.connected {
		return nil
	}
	if k.connectFails > 0 {
		k.connectFails--
		return fmt.Errorf("bletest: connect: %w", ErrLinkLost)
	}
	k.connected = true
	k.subscribed = false
	k.authenticated = false
	k.pending = nil
	k.connects++
	return nil
}

// Disconnect implements ble.Transport.
func (k *Kettle) Disconnect() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dropLink()
	return nil
}

func (k *Kettle) dropLink() {
	if !k.connected {
		return
	}
	k.connected = false
	k.subscribed = false
	k.authenticated = false
	k.pending = nil
	k.disconnects++
}

// Connected implements ble.Transport.
func (k *Kettle) Connected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connected
}

// Write implements ble.Transport.
func (k *Kettle) Write(h ble.Handle, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.connected {
		return ble.ErrNotConnected
	}
	switch h {
	case k.handles.CCC:
		k.subscribed = true
		return nil
	case k.handles.Command:
	default:
		return fmt.Errorf("bletest: write to unknown handle %s", h)
	}

	hdr, payload, err := protocol.Unwrap(data)
	if err != nil {
		return nil // a real kettle ignores garbage
	}
	k.requests = append(k.requests, hdr.Opcode)

	if k.failWrite[hdr.Opcode] > 0 {
		k.failWrite[hdr.Opcode]--
		k.dropLink()
		return ErrLinkLost
	}
	if !k.authenticated && hdr.Opcode != protocol.OpAuth {
		return nil
	}

	reply, ok := k.handle(hdr.Opcode, payload)
	if !ok {
		return nil
	}
	if k.drop[hdr.Opcode] > 0 {
		k.drop[hdr.Opcode]--
		return nil
	}
	frame := protocol.Wrap(hdr.Counter, hdr.Opcode, reply)
	if k.tamper != nil {
		frame = k.tamper(frame)
	}
	k.pending = append(k.pending, frame)
	return nil
}

// AwaitNotification implements ble.Transport. It never blocks: a reply is
// produced synchronously by Write, so an empty queue means none is coming.
func (k *Kettle) AwaitNotification(h ble.Handle, _ time.Duration) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if h != k.handles.Response {
		return nil, false, fmt.Errorf("bletest: no notifications on handle %s", h)
	}
	if !k.connected {
		return nil, false, ble.ErrNotConnected
	}
	if !k.subscribed || len(k.pending) == 0 {
		return nil, false, nil
	}
	frame := k.pending[0]
	k.pending = k.pending[1:]
	return frame, true, nil
}

// handle executes a request; the caller must hold mu.
func (k *Kettle) handle(op protocol.Opcode, p []byte) ([]byte, bool) {
	switch op {
	case protocol.OpAuth:
		return protocol.Success{OK: k.auth(p)}.Bytes(), true
	case protocol.OpFirmware:
		return k.firmware.Bytes(), true
	case protocol.OpSwitchOn:
		k.status.State = protocol.StateOn
		return protocol.Success{OK: true}.Bytes(), true
	case protocol.OpSwitchOff:
		k.status.State = protocol.StateOff
		return protocol.Success{OK: true}.Bytes(), true
	case protocol.OpSetMode:
		st, err := protocol.DecodeStatus(k.era, p)
		if err != nil {
			return protocol.Success{OK: false}.Bytes(), true
		}
		k.status.Mode = st.Mode
		k.status.TargetTemp = st.TargetTemp
		k.status.BoilTime = st.BoilTime
		return protocol.Success{OK: true}.Bytes(), true
	case protocol.OpStatus:
		return protocol.EncodeStatus(k.era, k.status), true
	case protocol.OpUsageStats:
		return k.usage.Bytes(), true
	case protocol.OpCycleStats:
		return k.cycles.Bytes(), true
	case protocol.OpSync:
		k.clock = k.decodeClock(p)
		return protocol.Neutral{}.Bytes(), true
	case protocol.OpSetSound:
		k.status.Sound = len(p) > 0 && p[0] != 0
		return protocol.Success{OK: true}.Bytes(), true
	case protocol.OpSetLock:
		k.status.Blocked = len(p) > 0 && p[0] != 0
		return protocol.Success{OK: true}.Bytes(), true
	case protocol.OpSetLights:
		cs, err := protocol.DecodeColorScheme(p)
		if err != nil {
			return protocol.Neutral{Code: 1}.Bytes(), true
		}
		k.lights[cs.ID] = cs
		return protocol.Neutral{}.Bytes(), true
	case protocol.OpGetLights:
		lt := protocol.LightBoil
		if len(p) > 0 {
			lt = protocol.LightType(p[0])
		}
		cs, ok := k.lights[uint8(lt)]
		if !ok {
			cs = protocol.DefaultScheme(lt)
		}
		return cs.Bytes(), true
	case protocol.OpUseBacklight:
		k.backlight = len(p) == 3 && p[2] != 0
		return protocol.Neutral{}.Bytes(), true
	case protocol.OpCalendarInfo:
		return protocol.CalendarInfo{Version: 1, MaxTasks: 8, CurrentTasks: uint8(len(k.events))}.Bytes(), true
	case protocol.OpAddEvent:
		ev, err := protocol.DecodeCalendarEvent(p)
		if err != nil {
			return protocol.AddEventResult{Err: 1}.Bytes(), true
		}
		k.events[ev.UID] = ev
		return protocol.AddEventResult{UID: ev.UID}.Bytes(), true
	case protocol.OpGetEvent:
		var uid uint8
		if len(p) > 0 {
			uid = p[0]
		}
		ev := k.events[uid]
		return ev.Bytes(), true
	case protocol.OpDeleteEvent:
		if len(p) > 0 {
			delete(k.events, p[0])
		}
		return protocol.Neutral{}.Bytes(), true
	}
	return nil, false
}

func (k *Kettle) auth(p []byte) bool {
	key, err := protocol.ParseKey(p)
	if err != nil {
		return false
	}
	if k.authFailures > 0 {
		k.authFailures--
		return false
	}
	if !k.keys[key] {
		if !k.readyToPair {
			return false
		}
		k.keys[key] = true
	}
	k.authenticated = true
	return true
}

func (k *Kettle) decodeClock(p []byte) time.Time {
	if len(p) < 8 {
		return time.Time{}
	}
	if k.era == protocol.EraLegacy {
		return time.Unix(int64(protocol.Uint32(p[2:6])), 0)
	}
	return time.Unix(int64(protocol.Uint32(p[0:4])), 0)
}

// Compile-time check that Kettle implements ble.Transport.
var _ ble.Transport = (*Kettle)(nil)
