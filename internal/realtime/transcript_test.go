package realtime

import (
	"slices"
	"testing"
)

func TestTranscriptMergesSlices(t *testing.T) {
	var tr Transcript
	tr.Add(Payload{UsesSlices: true, SliceIndex: 0, Text: "hello", RecordingTimeMs: 3000,
		Segments: []Segment{{Text: "hello", StartMs: 0, EndMs: 2800}}})
	tr.Add(Payload{UsesSlices: true, SliceIndex: 1, Text: "wor", RecordingTimeMs: 500,
		Segments: []Segment{{Text: "wor", StartMs: 0, EndMs: 400}}})
	tr.Add(Payload{UsesSlices: true, SliceIndex: 1, Text: "world", RecordingTimeMs: 1000,
		Segments: []Segment{{Text: "world", StartMs: 100, EndMs: 900}}})
	tr.Add(Payload{UsesSlices: true, SliceIndex: 2, Text: "again", RecordingTimeMs: 200,
		Segments: []Segment{{Text: "again", StartMs: 0, EndMs: 150}}})

	if got := tr.Text(); got != "hello world again" {
		t.Errorf("Text() = %q", got)
	}
	var starts []int64
	for _, s := range tr.Segments() {
		starts = append(starts, s.StartMs)
	}
	if want := []int64{0, 2900, 3700}; !slices.Equal(starts, want) {
		t.Errorf("segment starts = %v, want %v", starts, want)
	}
	if got := tr.RecordingTimeMs(); got != 4200 {
		t.Errorf("RecordingTimeMs() = %d, want 4200", got)
	}
}

func TestTranscriptEmptyTerminalKeepsResult(t *testing.T) {
	var tr Transcript
	tr.Add(Payload{Text: "done", Segments: []Segment{{Text: "done", EndMs: 500}}, RecordingTimeMs: 800})
	tr.Add(Payload{RecordingTimeMs: 800})

	if tr.Text() != "done" {
		t.Errorf("Text() = %q, want done", tr.Text())
	}
	if len(tr.Segments()) != 1 {
		t.Errorf("Segments() = %v", tr.Segments())
	}
}

func TestAssembler(t *testing.T) {
	var got []string
	a := NewAssembler(func(e Event, tr *Transcript) {
		got = append(got, tr.Text())
	})

	a.Emit(Event{Type: EventSessionStart, ContextID: 1, JobID: 1})
	a.Emit(Event{Type: EventInterimResult, ContextID: 1, JobID: 1, Payload: Payload{Text: "one"}})
	a.Emit(Event{Type: EventInterimResult, ContextID: 2, JobID: 1, Payload: Payload{Text: "other"}})
	a.Emit(Event{Type: EventFinalResult, ContextID: 1, JobID: 1, Payload: Payload{}})
	a.Emit(Event{Type: EventFinalResult, ContextID: 2, JobID: 1, Payload: Payload{Text: "other job"}})

	if want := []string{"one", "other job"}; !slices.Equal(got, want) {
		t.Errorf("finals = %v, want %v", got, want)
	}
}
