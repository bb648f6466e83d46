package realtime

import (
	"fmt"
	"sync"
)

// SliceBuffer keeps the sample count of every slice of a streaming job.
// It holds counts only; the samples themselves live in the engine.
type SliceBuffer struct {
	perSlice int
	total    int

	mu     sync.Mutex
	counts []int
	sum    int
}

// NewSliceBuffer returns a buffer with one empty slice.
func NewSliceBuffer(perSlice, total int) *SliceBuffer {
	return &SliceBuffer{
		perSlice: perSlice,
		total:    total,
		counts:   []int{0},
	}
}

// NeedsRoll reports whether incoming samples would overflow the current slice.
func (b *SliceBuffer) NeedsRoll(incoming int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[len(b.counts)-1]+incoming > b.perSlice
}

// Roll starts a new empty slice. It fails unless incoming samples would
// overflow the current slice.
func (b *SliceBuffer) Roll(incoming int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.counts[len(b.counts)-1]
	if cur+incoming <= b.perSlice {
		return fmt.Errorf("realtime: roll not needed: %d+%d fits slice of %d", cur, incoming, b.perSlice)
	}
	b.counts = append(b.counts, 0)
	return nil
}

// Append adds n samples to the current slice.
func (b *SliceBuffer) Append(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := len(b.counts) - 1
	if b.counts[i]+n > b.perSlice {
		return fmt.Errorf("realtime: slice %d overflow: %d+%d > %d", i, b.counts[i], n, b.perSlice)
	}
	if b.sum+n > b.total {
		return fmt.Errorf("realtime: capture bound exceeded: %d+%d > %d", b.sum, n, b.total)
	}
	b.counts[i] += n
	b.sum += n
	return nil
}

// Fits reports whether n more samples stay within the total capture bound.
func (b *SliceBuffer) Fits(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum+n <= b.total
}

// Index is the slice currently being filled.
func (b *SliceBuffer) Index() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.counts) - 1
}

// Current is the sample count of the slice being filled.
func (b *SliceBuffer) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[len(b.counts)-1]
}

// TotalSamples is the sum of all slice counts.
func (b *SliceBuffer) TotalSamples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum
}

// SamplesAt returns the count of slice i, or 0 when i is out of range.
func (b *SliceBuffer) SamplesAt(i int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.counts) {
		return 0
	}
	return b.counts[i]
}

// Counts returns a copy of every slice count.
func (b *SliceBuffer) Counts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.counts...)
}
