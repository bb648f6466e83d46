package realtime

// EventType names an event delivered to a Sink.
type EventType string

const (
	EventSessionStart  EventType = "sessionStart"
	EventInterimResult EventType = "interimResult"
	EventFinalResult   EventType = "finalResult"
	EventProgress      EventType = "progress"
	EventNewSegments   EventType = "newSegments"
)

// ContextID identifies a Session inside a Registry.
type ContextID uint64

// Event is delivered to sinks in emission order per session.
type Event struct {
	Type      EventType `json:"type"`
	ContextID ContextID `json:"contextId"`
	JobID     JobID     `json:"jobId"`
	Payload   Payload   `json:"payload"`
}

// Terminal reports whether e ends its streaming job.
func (e Event) Terminal() bool {
	return e.Type == EventFinalResult
}

// Payload carries a slice result or a progress update.
type Payload struct {
	Code              int       `json:"code"`
	ProcessTimeMs     int64     `json:"processTimeMs"`
	RecordingTimeMs   int64     `json:"recordingTimeMs"`
	SliceIndex        int       `json:"sliceIndex"`
	UsesSlices        bool      `json:"usesSlices"`
	Text              string    `json:"text,omitempty"`
	Segments          []Segment `json:"segments,omitempty"`
	IsCapturing       bool      `json:"isCapturing"`
	IsStoppedByAction *bool     `json:"isStoppedByAction,omitempty"`
	Error             string    `json:"error,omitempty"`

	Progress  int `json:"progress,omitempty"`
	NNew      int `json:"nNew,omitempty"`
	TotalNNew int `json:"totalNNew,omitempty"`
}

// Sink receives session events. Emit is called from session goroutines and
// must not call back into the Session that emitted the event.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
