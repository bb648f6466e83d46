// Package ble forwards finished transcripts to a paired Bluetooth Low Energy
// peripheral. Text is split into frames that fit one write, each sealed with
// AES-256-GCM under a key derived from the pairing secret.
package ble

import "context"

// Default GATT profile of the receiver firmware.
const (
	DefaultServiceUUID = "19b10000-e8f2-537e-4f6c-d104768a1214"
	DefaultTXCharUUID  = "6856e119-2c7b-455a-bf42-cf7ddd2c5907"
)

// Profile names the service and the write characteristic on the peripheral.
type Profile struct {
	Service string
	TX      string
}

// DefaultProfile returns the receiver firmware's UUIDs.
func DefaultProfile() Profile {
	return Profile{Service: DefaultServiceUUID, TX: DefaultTXCharUUID}
}

// Characteristic is a writable GATT characteristic.
type Characteristic interface {
	Write(data []byte) error
}

// Device is a discovered peripheral. Address is a MAC on Linux and Windows
// and a CoreBluetooth UUID on macOS.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection is an open link to a peripheral.
type Connection interface {
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the host radio.
type Adapter interface {
	Enable() error
	// Scan returns peripherals advertising serviceUUID until ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	Connect(ctx context.Context, address string) (Connection, error)
}
