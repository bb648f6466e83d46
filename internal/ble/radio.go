package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Radio is the Adapter backed by the host's default Bluetooth adapter.
type Radio struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	links map[string]*radioLink // keyed by normalized address
}

var _ Adapter = (*Radio)(nil)

// NewRadio wraps bluetooth.DefaultAdapter.
func NewRadio() *Radio {
	return &Radio{
		adapter: bluetooth.DefaultAdapter,
		links:   make(map[string]*radioLink),
	}
}

// Enable powers the adapter and routes disconnect notifications to the
// matching link.
func (r *Radio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable radio: %w", err)
	}
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := device.Address.String()
		r.mu.Lock()
		link, ok := r.links[key]
		delete(r.links, key)
		r.mu.Unlock()
		if ok {
			link.dropped()
		}
	})
	return nil
}

func (r *Radio) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var (
		mu      sync.Mutex
		devices []Device
		seen    = make(map[string]bool)
	)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = r.adapter.StopScan()
		case <-done:
		}
	}()

	err = r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{Name: result.LocalName(), Address: addr, RSSI: int(result.RSSI)})
	})
	close(done)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// Connect dials address. The underlying call cannot be cancelled, so a
// cancelled ctx only stops the wait.
func (r *Radio) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{d, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		link := &radioLink{device: &res.device}
		r.mu.Lock()
		r.links[res.device.Address.String()] = link
		r.mu.Unlock()
		return link, nil
	}
}

type radioLink struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (l *radioLink) dropped() {
	l.mu.Lock()
	cb := l.disconnectCb
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (l *radioLink) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	chr, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	svcs, err := l.device.DiscoverServices([]bluetooth.UUID{svc})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chr})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &radioChar{char: &chars[0]}, nil
}

func (l *radioLink) Disconnect() error {
	return l.device.Disconnect()
}

func (l *radioLink) OnDisconnect(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectCb = cb
}

type radioChar struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *radioChar) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
