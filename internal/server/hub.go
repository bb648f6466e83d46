package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

const (
	// subscriberQueue is the number of encoded events buffered per client.
	subscriberQueue = 64
	writeTimeout    = 5 * time.Second
)

type subscriber struct {
	msgs    chan []byte
	dropped atomic.Int64
}

// Hub is a realtime.Sink that broadcasts every event as a JSON text message
// to connected WebSocket clients. A slow client loses events instead of
// stalling the session that emitted them.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "hub"),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Emit implements realtime.Sink.
func (h *Hub) Emit(e realtime.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("[hub] encode event failed", "type", e.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.msgs <- data:
		default:
			if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
				h.logger.Warn("[hub] client too slow, dropping events", "dropped", n)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{msgs: make(chan []byte, subscriberQueue)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("[hub] websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := h.subscribe()
	defer h.unsubscribe(sub)
	h.logger.Debug("[hub] client connected", "remote", r.RemoteAddr)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-sub.msgs:
			if err := h.write(ctx, conn, data); err != nil {
				h.logger.Debug("[hub] client write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
