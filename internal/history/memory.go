package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	next    int64
	entries []Entry
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Save(_ context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	e.ID = m.next
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	e.Segments = slices.Clone(e.Segments)
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(limit, len(m.entries))
	out := make([]Entry, 0, n)
	for i := len(m.entries) - 1; i >= len(m.entries)-n; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) Close() {}
