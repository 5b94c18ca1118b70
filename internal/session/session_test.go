package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/bletest"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

func newSession(t *testing.T) (*Session, *bletest.Kettle) {
	t.Helper()
	k := bletest.NewKettle(protocol.EraRevised)
	require.NoError(t, k.Connect(context.Background()))
	s := New(k, Options{})
	return s, k
}

func authenticated(t *testing.T) (*Session, *bletest.Kettle) {
	t.Helper()
	s, k := newSession(t)
	require.NoError(t, s.EnableNotifications())
	resp, err := s.Send(protocol.Revised.Auth(bletest.DefaultKey))
	require.NoError(t, err)
	require.True(t, resp.(protocol.Success).OK)
	return s, k
}

func TestSessionPhases(t *testing.T) {
	k := bletest.NewKettle(protocol.EraRevised)
	s := New(k, Options{})
	assert.Equal(t, Disconnected, s.Phase())

	require.NoError(t, k.Connect(context.Background()))
	assert.Equal(t, Connected, s.Phase())

	require.NoError(t, s.EnableNotifications())
	assert.Equal(t, Subscribed, s.Phase())

	_, err := s.Send(protocol.Revised.Auth(bletest.DefaultKey))
	require.NoError(t, err)
	assert.Equal(t, Authenticated, s.Phase())
	assert.True(t, s.State().Authenticated)

	require.NoError(t, k.Disconnect())
	assert.Equal(t, Disconnected, s.Phase())
}

func TestSessionAuthRejected(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.EnableNotifications())

	resp, err := s.Send(protocol.Revised.Auth(protocol.Key{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, err)
	assert.False(t, resp.(protocol.Success).OK)
	assert.False(t, s.State().Authenticated)
	assert.Equal(t, uint8(1), s.State().Counter, "a rejected auth is still a valid exchange")
}

func TestSessionCounterWraps(t *testing.T) {
	s, _ := authenticated(t)
	require.Equal(t, uint8(1), s.State().Counter)

	for i := 0; i < 255; i++ {
		_, err := s.Send(protocol.Revised.Firmware())
		require.NoError(t, err, "send %d", i)
	}
	assert.Equal(t, uint8(0), s.State().Counter)

	_, err := s.Send(protocol.Revised.Firmware())
	require.NoError(t, err)
	assert.Equal(t, uint8(1), s.State().Counter)
}

func TestSessionCounterMismatch(t *testing.T) {
	s, k := authenticated(t)
	k.Tamper(func(f []byte) []byte {
		f[1]++
		return f
	})

	_, err := s.Send(protocol.Revised.Firmware())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, uint8(1), me.Want.Counter)
	assert.Equal(t, uint8(2), me.Got.Counter)
	assert.Equal(t, uint8(1), s.State().Counter)
	assert.False(t, IsRetryable(err))
}

func TestSessionOpcodeMismatch(t *testing.T) {
	s, k := authenticated(t)
	k.Tamper(func(f []byte) []byte {
		f[2] = byte(protocol.OpStatus)
		return f
	})

	_, err := s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, uint8(1), s.State().Counter)
}

func TestSessionMalformedFrame(t *testing.T) {
	s, k := authenticated(t)
	k.Tamper(func(f []byte) []byte {
		f[0] = 0x00
		return f
	})

	_, err := s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	assert.Equal(t, uint8(1), s.State().Counter)
}

func TestSessionStrayNotification(t *testing.T) {
	s, k := authenticated(t)
	k.Inject(protocol.Wrap(0, protocol.OpStatus, make([]byte, 16)))

	_, err := s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, uint8(1), s.State().Counter)
}

func TestSessionTimeout(t *testing.T) {
	s, k := authenticated(t)
	k.DropReplies(protocol.OpFirmware, 1)

	_, err := s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, uint8(1), s.State().Counter)

	// The next exchange reuses the counter.
	resp, err := s.Send(protocol.Revised.Firmware())
	require.NoError(t, err)
	assert.Equal(t, protocol.Version{Major: 3, Minor: 10}, resp)
	assert.Equal(t, uint8(2), s.State().Counter)
}

func TestSessionWithoutNotifications(t *testing.T) {
	s, _ := newSession(t)
	_, err := s.Send(protocol.Revised.Auth(bletest.DefaultKey))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSessionDecodeErrorAdvancesCounter(t *testing.T) {
	s, k := authenticated(t)
	k.Tamper(func(f []byte) []byte {
		return protocol.Wrap(f[1], protocol.Opcode(f[2]), nil)
	})

	_, err := s.Send(protocol.Revised.Firmware())
	var de *protocol.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.OpFirmware, de.Opcode)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, uint8(2), s.State().Counter)
}

func TestSessionWriteFailure(t *testing.T) {
	s, k := authenticated(t)
	k.FailWrites(protocol.OpStatus, 1)

	_, err := s.Send(protocol.Revised.Status())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, bletest.ErrLinkLost)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, uint8(1), s.State().Counter)
}

func TestSessionNotConnected(t *testing.T) {
	k := bletest.NewKettle(protocol.EraRevised)
	s := New(k, Options{})

	_, err := s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsRetryable(err))

	assert.ErrorIs(t, s.EnableNotifications(), ErrNotConnected)
}

func TestSessionResetStartsNewConnection(t *testing.T) {
	s, _ := authenticated(t)
	id := s.ID()

	s.Reset()
	assert.Equal(t, State{}, s.State())
	assert.NotEqual(t, id, s.ID())
}

func TestSessionResetCounterKeepsAuth(t *testing.T) {
	s, _ := authenticated(t)
	s.ResetCounter()
	assert.Equal(t, State{Counter: 0, Authenticated: true}, s.State())
}

// blockingTransport holds every AwaitNotification until release is closed.
type blockingTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTransport) Connect(context.Context) error { return nil }
func (b *blockingTransport) Disconnect() error { return nil }
func (b *blockingTransport) Connected() bool { return true }
func (b *blockingTransport) Write(ble.Handle, []byte) error { return nil }
func (b *blockingTransport) AwaitNotification(ble.Handle, time.Duration) ([]byte, bool, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil, false, nil
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	bt := &blockingTransport{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(bt, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(protocol.Revised.Firmware())
		done <- err
	}()
	<-bt.entered

	_, err := s.Send(protocol.Revised.Status())
	assert.True(t, errors.Is(err, ErrBusy))

	close(bt.release)
	assert.ErrorIs(t, <-done, ErrTimeout)

	// Released: the next send is accepted again.
	_, err = s.Send(protocol.Revised.Firmware())
	assert.ErrorIs(t, err, ErrTimeout)
}
