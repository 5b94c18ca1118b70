// Package ble connects to Ready for Sky appliances over Bluetooth Low Energy.
// It exposes the notification based GATT transport the protocol session runs
// on, appliance discovery, and the adapter abstraction that keeps the
// hardware out of tests.
package ble

import "context"

// Ready for Sky (Nordic UART style) GATT UUIDs.
const (
	ServiceUUID      = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CommandCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	ResponseCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	GenericAccessUUID  = "00001800-0000-1000-8000-00805f9b34fb"
	DeviceNameCharUUID = "00002a00-0000-1000-8000-00805f9b34fb"
)

// Adapter is the host Bluetooth controller. TinyGoAdapter is the hardware
// implementation; tests substitute an in-memory one.
type Adapter interface {
	Enable() error
	// Scan returns the peripherals advertising serviceUUID seen before ctx
	// is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	Connect(ctx context.Context, mac string) (Connection, error)
}

// Device is a scan result.
type Device struct {
	Name string
	MAC  string
	RSSI int
}

// Connection is an open link to one appliance.
type Connection interface {
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	Disconnect() error
	// OnDisconnect sets the callback run when the link drops without a
	// Disconnect call.
	OnDisconnect(callback func())
}

// Characteristic is a GATT characteristic of an open connection. Commands
// are written to one characteristic and replies arrive as notifications on
// another.
type Characteristic interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Subscribe(callback func(data []byte)) error
}
