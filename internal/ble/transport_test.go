package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

const testMAC = "AA:BB:CC:DD:EE:FF"

func connectedTransport(t *testing.T) (*GATTTransport, *mockAdapter) {
	t.Helper()
	adapter := newMockAdapter(nil)
	tr := NewGATTTransport(adapter, testMAC, GATTOptions{})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return tr, adapter
}

func TestGATTTransportDefaults(t *testing.T) {
	tr := NewGATTTransport(newMockAdapter(nil), testMAC, GATTOptions{})
	if tr.Handles() != DefaultHandles {
		t.Errorf("Handles() = %+v, want %+v", tr.Handles(), DefaultHandles)
	}
	if tr.Connected() {
		t.Error("new transport should not be connected")
	}
}

func TestGATTTransportConnectIsIdempotent(t *testing.T) {
	tr, adapter := connectedTransport(t)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := adapter.connectCount(); n != 1 {
		t.Errorf("adapter connects = %d, want 1", n)
	}
}

func TestGATTTransportConnectError(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = errMockRadio
	tr := NewGATTTransport(adapter, testMAC, GATTOptions{})
	err := tr.Connect(context.Background())
	if !errors.Is(err, errMockRadio) {
		t.Fatalf("Connect() error = %v, want %v", err, errMockRadio)
	}
	if tr.Connected() {
		t.Error("transport should not be connected after a failed connect")
	}
}

func TestGATTTransportMissingService(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.newConn = func() *mockConnection {
		c := newMockConnection()
		c.noService = true
		return c
	}
	tr := NewGATTTransport(adapter, testMAC, GATTOptions{})
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected error for peripheral without the service")
	}
	if !adapter.latestConnection().isDisconnected() {
		t.Error("connection should be released after discovery failure")
	}
}

func TestGATTTransportWriteCommand(t *testing.T) {
	tr, adapter := connectedTransport(t)
	frame := []byte{0x55, 0x00, 0x01, 0xAA}
	if err := tr.Write(DefaultHandles.Command, frame); err != nil {
		t.Fatal(err)
	}
	writes := adapter.latestConnection().cmdChar.writeLog()
	if len(writes) != 1 || !bytes.Equal(writes[0], frame) {
		t.Errorf("command writes = %x", writes)
	}
}

func TestGATTTransportWriteUnknownHandle(t *testing.T) {
	tr, _ := connectedTransport(t)
	if err := tr.Write(0x0042, []byte{0x00}); err == nil {
		t.Error("expected error for unknown handle")
	}
}

func TestGATTTransportEnableNotificationsIsIdempotent(t *testing.T) {
	tr, adapter := connectedTransport(t)
	for i := 0; i < 3; i++ {
		if err := tr.Write(DefaultHandles.CCC, EnableNotificationValue); err != nil {
			t.Fatal(err)
		}
	}
	if n := adapter.latestConnection().rspChar.subscriptions(); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
	if err := tr.Write(DefaultHandles.CCC, []byte{0x00, 0x00}); err == nil {
		t.Error("expected error for unsupported CCC value")
	}
}

func TestGATTTransportAwaitNotification(t *testing.T) {
	tr, adapter := connectedTransport(t)
	if err := tr.Write(DefaultHandles.CCC, EnableNotificationValue); err != nil {
		t.Fatal(err)
	}

	reply := []byte{0x55, 0x00, 0x01, 0x03, 0x0a, 0xAA}
	adapter.latestConnection().rspChar.SimulateNotification(reply)
	reply[3] = 0xFF // the transport must have copied the buffer

	got, ok, err := tr.AwaitNotification(DefaultHandles.Response, time.Second)
	if err != nil || !ok {
		t.Fatalf("AwaitNotification() = %v, %v", ok, err)
	}
	if got[3] != 0x03 {
		t.Errorf("notification = % x", got)
	}
}

func TestGATTTransportAwaitTimeout(t *testing.T) {
	tr, _ := connectedTransport(t)
	start := time.Now()
	got, ok, err := tr.AwaitNotification(DefaultHandles.Response, 20*time.Millisecond)
	if err != nil || ok || got != nil {
		t.Fatalf("AwaitNotification() = %x, %v, %v; want timeout", got, ok, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the timeout elapsed")
	}
}

func TestGATTTransportAwaitWrongHandle(t *testing.T) {
	tr, _ := connectedTransport(t)
	if _, _, err := tr.AwaitNotification(DefaultHandles.Command, time.Millisecond); err == nil {
		t.Error("expected error awaiting on the command handle")
	}
}

func TestGATTTransportDisconnectCallback(t *testing.T) {
	tr, adapter := connectedTransport(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := tr.AwaitNotification(DefaultHandles.Response, 5*time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	adapter.latestConnection().SimulateDisconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("AwaitNotification() error = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitNotification did not return after disconnect")
	}
	if tr.Connected() {
		t.Error("transport should report disconnected")
	}
	if err := tr.Write(DefaultHandles.Command, []byte{0x00}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestGATTTransportReconnect(t *testing.T) {
	tr, adapter := connectedTransport(t)
	first := adapter.latestConnection()
	if err := tr.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !first.isDisconnected() {
		t.Error("Disconnect should close the connection")
	}
	if err := tr.Disconnect(); err != nil {
		t.Errorf("second Disconnect() = %v", err)
	}

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A late callback from the old connection must not drop the new one.
	first.SimulateDisconnect()
	if !tr.Connected() {
		t.Error("stale disconnect callback dropped the new connection")
	}
	if adapter.latestConnection() == first {
		t.Error("reconnect should create a new connection")
	}
}

func TestGATTTransportWriteError(t *testing.T) {
	tr, adapter := connectedTransport(t)
	adapter.latestConnection().cmdChar.mu.Lock()
	adapter.latestConnection().cmdChar.writeErr = errMockRadio
	adapter.latestConnection().cmdChar.mu.Unlock()
	if err := tr.Write(DefaultHandles.Command, []byte{0x55}); !errors.Is(err, errMockRadio) {
		t.Errorf("Write() error = %v, want %v", err, errMockRadio)
	}
}
