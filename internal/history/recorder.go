package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

const (
	recorderQueue = 32
	saveTimeout   = 5 * time.Second
)

// Recorder is a realtime.Sink saving each finished job to a Store. Saves run
// on a background goroutine so a slow store never delays a session.
type Recorder struct {
	store  Store
	logger *slog.Logger
	asm    *realtime.Assembler

	mu     sync.Mutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// NewRecorder starts a recorder. Call Close to flush pending saves.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger.With("component", "history"),
		queue:  make(chan Entry, recorderQueue),
		done:   make(chan struct{}),
	}
	r.asm = realtime.NewAssembler(r.onFinal)
	go r.run()
	return r
}

// Emit implements realtime.Sink.
func (r *Recorder) Emit(e realtime.Event) {
	r.asm.Emit(e)
}

func (r *Recorder) onFinal(e realtime.Event, t *realtime.Transcript) {
	text := t.Text()
	if text == "" {
		r.logger.Debug("[history] skipping empty transcript", "context", e.ContextID, "job", e.JobID)
		return
	}
	entry := Entry{
		ContextID:       e.ContextID,
		JobID:           e.JobID,
		Text:            text,
		Segments:        t.Segments(),
		RecordingTimeMs: t.RecordingTimeMs(),
		Code:            e.Payload.Code,
	}
	if p := e.Payload.IsStoppedByAction; p != nil {
		entry.StoppedByAction = *p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("[history] recorder closed, dropping transcript", "job", e.JobID)
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("[history] save queue full, dropping transcript", "job", e.JobID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		id, err := r.store.Save(ctx, entry)
		cancel()
		if err != nil {
			r.logger.Error("[history] save failed", "job", entry.JobID, "err", err)
			continue
		}
		r.logger.Debug("[history] saved transcript", "id", id, "job", entry.JobID, "chars", len(entry.Text))
	}
}

// Close stops accepting transcripts and waits for queued saves.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
