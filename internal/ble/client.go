package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("ble: client closed")

// ClientOptions configures the forwarding client.
type ClientOptions struct {
	QueueSize       int           // messages held while disconnected
	ReconnectMax    int           // reconnect backoff cap in seconds
	InterChunkDelay time.Duration // pause between frame writes
	Profile         Profile
	Logger          *slog.Logger
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		QueueSize:       64,
		ReconnectMax:    30,
		InterChunkDelay: 20 * time.Millisecond,
		Profile:         DefaultProfile(),
	}
}

// Client keeps a link to one peripheral and forwards text to it. Text sent
// while the link is down is queued and flushed after reconnecting.
type Client struct {
	adapter Adapter
	address string
	sealer  *Sealer
	opts    ClientOptions
	logger  *slog.Logger

	mu        sync.Mutex
	conn      Connection
	tx        Characteristic
	connected bool
	queue     []string

	packet    atomic.Uint32
	closed    chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

// NewClient returns a client for the peripheral at address.
func NewClient(adapter Adapter, address string, secret []byte, opts ClientOptions) (*Client, error) {
	sealer, err := NewSealer(secret)
	if err != nil {
		return nil, err
	}
	def := DefaultClientOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	if opts.InterChunkDelay < 0 {
		opts.InterChunkDelay = 0
	}
	if opts.Profile.Service == "" {
		opts.Profile.Service = def.Profile.Service
	}
	if opts.Profile.TX == "" {
		opts.Profile.TX = def.Profile.TX
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		adapter: adapter,
		address: address,
		sealer:  sealer,
		opts:    opts,
		logger:  logger.With("component", "ble", "address", address),
		closed:  make(chan struct{}),
	}, nil
}

// Connect establishes the first link. Later drops are repaired in the
// background until Close.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	conn, err := c.adapter.Connect(ctx, c.address)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", c.address, err)
	}
	if err := c.attach(conn); err != nil {
		_ = conn.Disconnect()
		return err
	}
	c.logger.Info("[BLE] connected")
	c.flushQueue()
	return nil
}

// attach records conn as the live link and watches it for drops.
func (c *Client) attach(conn Connection) error {
	tx, err := conn.DiscoverCharacteristic(c.opts.Profile.Service, c.opts.Profile.TX)
	if err != nil {
		return fmt.Errorf("ble: discover TX characteristic: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.tx = tx
	c.connected = true
	c.mu.Unlock()

	conn.OnDisconnect(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != conn {
			return
		}
		c.connected = false
		c.conn = nil
		c.tx = nil
		if c.isClosed() {
			return
		}
		c.logger.Warn("[BLE] disconnected, reconnecting")
		c.loops.Add(1)
		go c.reconnectLoop()
	})
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send seals and writes text, or queues it while disconnected.
func (c *Client) Send(text string) error {
	if text == "" {
		return nil
	}
	if c.isClosed() {
		return ErrClosed
	}

	c.mu.Lock()
	if !c.connected {
		c.enqueue(text)
		c.mu.Unlock()
		return nil
	}
	tx := c.tx
	c.mu.Unlock()

	return c.write(tx, text)
}

func (c *Client) write(tx Characteristic, text string) error {
	chunks := splitText(text, MaxChunkBytes)
	if len(chunks) > maxChunks {
		c.logger.Warn("[BLE] message truncated", "chunks", len(chunks))
		chunks = chunks[:maxChunks]
	}
	packet := c.packet.Add(1)
	for i, chunk := range chunks {
		frame, err := c.sealer.Seal(Header{Packet: packet, Index: uint8(i), Count: uint8(len(chunks))}, chunk)
		if err != nil {
			return err
		}
		if err := tx.Write(frame); err != nil {
			return fmt.Errorf("ble: write frame %d/%d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 && c.opts.InterChunkDelay > 0 {
			time.Sleep(c.opts.InterChunkDelay)
		}
	}
	return nil
}

// enqueue adds text to the queue, dropping the oldest entry when full.
// Caller holds mu.
func (c *Client) enqueue(text string) {
	if len(c.queue) >= c.opts.QueueSize {
		c.logger.Warn("[BLE] queue full, dropping oldest message")
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, text)
}

// QueueLen returns the number of queued messages.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// flushQueue sends queued messages. Failed messages are dropped.
func (c *Client) flushQueue() {
	c.mu.Lock()
	if !c.connected || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	queued := c.queue
	c.queue = nil
	tx := c.tx
	c.mu.Unlock()

	for _, text := range queued {
		if err := c.write(tx, text); err != nil {
			c.logger.Error("[BLE] failed to flush queued message", "err", err)
		}
	}
}

// backoffDelay returns the reconnect delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt, maxSeconds int) time.Duration {
	limit := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return limit
	}
	return min(time.Duration(1<<attempt)*time.Second, limit)
}

func (c *Client) reconnectLoop() {
	defer c.loops.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.opts.ReconnectMax)
			c.logger.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		conn, err := c.adapter.Connect(ctx, c.address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("[BLE] reconnect failed", "err", err, "attempt", attempt+1)
			continue
		}
		if ctx.Err() != nil {
			_ = conn.Disconnect()
			return
		}
		if err := c.attach(conn); err != nil {
			_ = conn.Disconnect()
			c.logger.Warn("[BLE] reconnect discovery failed", "err", err, "attempt", attempt+1)
			continue
		}
		c.logger.Info("[BLE] reconnected")
		c.flushQueue()
		return
	}
}

// Close disconnects and stops reconnecting. Queued messages are discarded.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		if n := len(c.queue); n > 0 {
			c.logger.Warn("[BLE] closing with unsent messages", "count", n)
		}
		conn := c.conn
		c.conn = nil
		c.tx = nil
		c.connected = false
		c.mu.Unlock()

		if conn != nil {
			err = conn.Disconnect()
		}
		c.loops.Wait()
	})
	return err
}
