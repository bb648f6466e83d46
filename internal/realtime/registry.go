package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Registry owns every Session and allocates their ids.
type Registry struct {
	engine Engine
	opener DeviceOpener
	opts   []Option
	st     settings

	nextID atomic.Uint64

	mu       sync.RWMutex
	sessions map[ContextID]*Session
}

// NewRegistry returns an empty registry. opts apply to every session.
func NewRegistry(engine Engine, opener DeviceOpener, opts ...Option) *Registry {
	return &Registry{
		engine:   engine,
		opener:   opener,
		opts:     opts,
		st:       buildSettings(opts),
		sessions: make(map[ContextID]*Session),
	}
}

// Create loads modelPath and registers a new session for it.
func (r *Registry) Create(modelPath string) (*Session, error) {
	h, err := r.engine.CreateContext(modelPath)
	if err != nil {
		return nil, fmt.Errorf("realtime: create context: %w", err)
	}
	id := ContextID(r.nextID.Add(1))
	s := NewSession(id, h, r.engine, r.opener, r.opts...)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.st.metrics.ActiveContexts.Add(context.Background(), 1)
	r.st.logger.Info("[realtime] context created", "context_id", uint64(id), "model", modelPath)
	return s, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id ContextID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrContextNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Release stops and frees one session. The id is unusable afterwards.
func (r *Registry) Release(id ContextID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrContextNotFound
	}

	r.st.metrics.ActiveContexts.Add(context.Background(), -1)
	if err := s.Release(); err != nil {
		return fmt.Errorf("realtime: release context %d: %w", id, err)
	}
	return nil
}

// ReleaseAll stops every session and only then frees their handles, so no
// background goroutine can touch a handle while another is being freed. It
// waits for the sessions to quiesce until ctx is done. Handles of sessions
// still busy at that point stay allocated and ctx's error is returned along
// with any free failure.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if len(sessions) == 0 {
		return nil
	}

	r.engine.AbortAllJobs()

	quiesced := make(chan *Session, len(sessions))
	for _, s := range sessions {
		go func() {
			s.quiesce()
			quiesced <- s
		}()
	}

	ready := make([]*Session, 0, len(sessions))
	var waitErr error
wait:
	for len(ready) < len(sessions) {
		select {
		case s := <-quiesced:
			ready = append(ready, s)
		case <-ctx.Done():
			waitErr = fmt.Errorf("realtime: release: %w", ctx.Err())
			r.st.logger.Warn("[realtime] release timed out, leaving busy contexts allocated",
				"busy", len(sessions)-len(ready), "err", ctx.Err())
			break wait
		}
	}

	var g errgroup.Group
	for _, s := range ready {
		g.Go(func() error {
			if err := s.free(); err != nil {
				r.st.logger.Warn("[realtime] free context", "context_id", uint64(s.id), "err", err)
				return fmt.Errorf("realtime: free context %d: %w", s.id, err)
			}
			return nil
		})
		r.st.metrics.ActiveContexts.Add(context.WithoutCancel(ctx), -1)
	}
	freeErr := g.Wait()

	r.st.logger.Info("[realtime] released all contexts", "freed", len(ready), "count", len(sessions))
	return errors.Join(waitErr, freeErr)
}
