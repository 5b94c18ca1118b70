package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/redmond-ble/internal/logging"
)

// maxAttributeSize bounds a characteristic read.
const maxAttributeSize = 512

// TinyGoAdapter drives the host controller through tinygo-org/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS). On macOS peripherals are known by
// CoreBluetooth UUIDs instead of MAC addresses; the "mac" strings handled
// here then carry that UUID.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	links map[string]*tinyGoConnection // keyed by normalized address
	// closing counts the disconnect events still due for links closed
	// through Disconnect, per address.
	closing map[string]int
}

// NewTinyGoAdapter creates an adapter for the host controller named id, e.g.
// "hci0". An empty id selects the default controller.
func NewTinyGoAdapter(id string) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter: hostAdapter(id),
		log:     logging.Named("adapter"),
		links:   make(map[string]*tinyGoConnection),
		closing: make(map[string]int),
	}
}

// Enable powers the controller on once; later calls return the first result.
func (a *TinyGoAdapter) Enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("ble: enable controller: %w", err)
			return
		}
		a.adapter.SetConnectHandler(a.onConnectionChange)
	})
	return a.enableErr
}

// onConnectionChange routes peripheral disconnects, which tinygo reports
// through the adapter-wide handler, to the affected connection.
func (a *TinyGoAdapter) onConnectionChange(device bluetooth.Device, connected bool) {
	id := normalizeMAC(device.Address.String())
	a.log.Debug("connection state", zap.String("mac", id), zap.Bool("connected", connected))
	if connected {
		return
	}
	a.mu.Lock()
	if a.closing[id] > 0 {
		// The event belongs to a link closed locally; a newer link to the
		// same address may already be registered.
		a.closing[id]--
		a.mu.Unlock()
		return
	}
	link, ok := a.links[id]
	delete(a.links, id)
	a.mu.Unlock()
	if ok {
		link.fireDisconnect()
	}
}

// release unregisters link before a local disconnect. It reports whether
// the link was still registered.
func (a *TinyGoAdapter) release(link *tinyGoConnection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.links[link.mac] != link {
		return false
	}
	delete(a.links, link.mac)
	a.closing[link.mac]++
	return true
}

// unrelease undoes release when the disconnect request failed and no event
// will follow.
func (a *TinyGoAdapter) unrelease(link *tinyGoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing[link.mac] > 0 {
		a.closing[link.mac]--
	}
	if _, taken := a.links[link.mac]; !taken {
		a.links[link.mac] = link
	}
}

// Scan collects peripherals advertising serviceUUID until ctx is done. Each
// address is reported once, with the strongest signal seen.
func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var order []string
	found := make(map[string]Device)

	stop := context.AfterFunc(ctx, func() { _ = a.adapter.StopScan() })
	defer stop()

	err = a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		mac := normalizeMAC(result.Address.String())
		mu.Lock()
		defer mu.Unlock()
		prev, seen := found[mac]
		if !seen {
			order = append(order, mac)
		} else if int(result.RSSI) <= prev.RSSI {
			return
		}
		name := result.LocalName()
		if name == "" {
			name = prev.Name
		}
		found[mac] = Device{Name: name, MAC: mac, RSSI: int(result.RSSI)}
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]Device, 0, len(order))
	for _, mac := range order {
		devices = append(devices, found[mac])
	}
	return devices, nil
}

// Connect opens a link to the peripheral at mac. The remaining time of ctx
// becomes the controller's connection timeout.
func (a *TinyGoAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(mac)

	var params bluetooth.ConnectionParams
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, params)
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.err == nil {
				a.mu.Lock()
				a.closing[normalizeMAC(mac)]++
				a.mu.Unlock()
				_ = late.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		link := &tinyGoConnection{
			adapter:  a,
			mac:      normalizeMAC(mac),
			device:   result.device,
			services: make(map[string]bluetooth.DeviceService),
		}
		a.mu.Lock()
		a.links[link.mac] = link
		a.mu.Unlock()
		return link, nil
	}
}

var _ Adapter = (*TinyGoAdapter)(nil)

// tinyGoConnection is one link. Discovered services are remembered, so the
// command and response characteristics share one service discovery.
type tinyGoConnection struct {
	adapter *TinyGoAdapter
	mac     string
	device  bluetooth.Device

	mu           sync.Mutex
	services     map[string]bluetooth.DeviceService
	disconnectCb func()
}

func (c *tinyGoConnection) service(serviceUUID string) (bluetooth.DeviceService, error) {
	key := strings.ToLower(serviceUUID)
	c.mu.Lock()
	svc, ok := c.services[key]
	c.mu.Unlock()
	if ok {
		return svc, nil
	}

	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return svc, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return svc, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return svc, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	c.mu.Lock()
	c.services[key] = svcs[0]
	c.mu.Unlock()
	return svcs[0], nil
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := c.service(serviceUUID)
	if err != nil {
		return nil, err
	}
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{char: chars[0]}, nil
}

// Disconnect closes the link. The callback set with OnDisconnect is not run.
func (c *tinyGoConnection) Disconnect() error {
	released := c.adapter.release(c)
	if err := c.device.Disconnect(); err != nil {
		if released {
			c.adapter.unrelease(c)
		}
		return err
	}
	return nil
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Write sends a write command; replies arrive as notifications.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttributeSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(cb)
}
