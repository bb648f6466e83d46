package realtime

import (
	"strings"
	"sync"
)

// Transcript merges per-slice results of one streaming job. Segment times of
// each slice are shifted by the end time of the last segment of the previous
// slice, so the merged segment list reads as one timeline.
type Transcript struct {
	mu      sync.Mutex
	slices  []Payload
	current int
	offset  int64
	single  *Payload
}

// Add records a result payload. Payloads without segments or text (progress,
// empty terminal payloads) only update bookkeeping.
func (t *Transcript) Add(p Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !p.UsesSlices {
		if p.Segments != nil || p.Text != "" || t.single == nil {
			cp := p
			t.single = &cp
		}
		return
	}

	if p.SliceIndex != t.current {
		if t.current < len(t.slices) {
			segs := t.slices[t.current].Segments
			if len(segs) > 0 {
				t.offset = segs[len(segs)-1].EndMs
			}
		}
		t.current = p.SliceIndex
	}
	for len(t.slices) <= p.SliceIndex {
		t.slices = append(t.slices, Payload{SliceIndex: len(t.slices), UsesSlices: true})
	}
	if p.Segments == nil && p.Text == "" && t.slices[p.SliceIndex].Segments != nil {
		return
	}

	shifted := p
	shifted.Segments = make([]Segment, len(p.Segments))
	for i, s := range p.Segments {
		s.StartMs += t.offset
		s.EndMs += t.offset
		shifted.Segments[i] = s
	}
	t.slices[p.SliceIndex] = shifted
}

// Text joins the text of every slice.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.single != nil {
		return strings.TrimSpace(t.single.Text)
	}
	parts := make([]string, 0, len(t.slices))
	for _, s := range t.slices {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Segments returns the merged segment list.
func (t *Transcript) Segments() []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.single != nil {
		return append([]Segment(nil), t.single.Segments...)
	}
	var out []Segment
	for _, s := range t.slices {
		out = append(out, s.Segments...)
	}
	return out
}

// RecordingTimeMs sums the recording time of every slice.
func (t *Transcript) RecordingTimeMs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.single != nil {
		return t.single.RecordingTimeMs
	}
	var total int64
	for _, s := range t.slices {
		total += s.RecordingTimeMs
	}
	return total
}

type jobKey struct {
	ctx ContextID
	job JobID
}

// Assembler is a Sink that builds a Transcript per job and hands it to
// onFinal when the job's terminal event arrives.
type Assembler struct {
	onFinal func(Event, *Transcript)

	mu   sync.Mutex
	jobs map[jobKey]*Transcript
}

// NewAssembler returns an Assembler calling onFinal once per finished job.
func NewAssembler(onFinal func(Event, *Transcript)) *Assembler {
	return &Assembler{onFinal: onFinal, jobs: make(map[jobKey]*Transcript)}
}

func (a *Assembler) Emit(e Event) {
	switch e.Type {
	case EventInterimResult, EventFinalResult:
	default:
		return
	}

	key := jobKey{e.ContextID, e.JobID}
	a.mu.Lock()
	t, ok := a.jobs[key]
	if !ok {
		t = &Transcript{}
		a.jobs[key] = t
	}
	if e.Terminal() {
		delete(a.jobs, key)
	}
	a.mu.Unlock()

	t.Add(e.Payload)
	if e.Terminal() && a.onFinal != nil {
		a.onFinal(e, t)
	}
}
