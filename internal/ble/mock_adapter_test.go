package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// mockCharacteristic records writes.
type mockCharacteristic struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *mockCharacteristic) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// mockConnection simulates a BLE link.
type mockConnection struct {
	mu           sync.Mutex
	tx           *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{tx: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != DefaultServiceUUID || charUUID != DefaultTXCharUUID {
		return nil, fmt.Errorf("mock: unknown characteristic %s/%s", serviceUUID, charUUID)
	}
	return c.tx, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter hands out a new connection per Connect call. failures makes
// that many Connect calls fail first.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	connection *mockConnection
	failures   int
	connects   int
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.failures > 0 {
		a.failures--
		return nil, errors.New("mock: peripheral unreachable")
	}
	a.connection = newMockConnection()
	return a.connection, nil
}

// latestConnection returns the most recently created connection.
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) connectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}
