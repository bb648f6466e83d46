package realtime

// Handle identifies a loaded model inside an Engine.
type Handle uint64

// JobID identifies one streaming or one-shot request. Callers should keep
// ids unique across contexts because abort is keyed by job id alone.
type JobID int

// Engine status codes.
const (
	StatusOK      = 0
	StatusAborted = -999
)

// IsAborted reports whether code is one of the engine's abort statuses.
func IsAborted(code int) bool {
	return code == StatusAborted || code == -StatusAborted
}

// Segment is one decoded text segment. Times are relative to the start of the
// audio passed to the engine call that produced it.
type Segment struct {
	Text        string `json:"text"`
	StartMs     int64  `json:"startMs"`
	EndMs       int64  `json:"endMs"`
	SpeakerTurn bool   `json:"speakerTurn,omitempty"`
}

// OneShotCallbacks are invoked from inside RunFullInferenceOneShot, on the
// goroutine running inference. They must not call back into the Engine.
type OneShotCallbacks struct {
	// OnProgress receives a percentage in [0,100].
	OnProgress func(progress int)
	// OnNewSegments receives the segments decoded since the previous call.
	OnNewSegments func(segs []Segment)
}

// Engine is the inference boundary. Implementations must tolerate calls for
// job ids they do not know (for example PushSamples after FinishStreamingJob)
// by ignoring them.
type Engine interface {
	CreateContext(modelPath string) (Handle, error)
	FreeContext(h Handle) error

	// CreateStreamingJob allocates job-scoped sample storage. opts is normalized.
	CreateStreamingJob(job JobID, h Handle, opts Options) error
	// FinishStreamingJob releases job-scoped state. sliceCounts holds the
	// final sample count of every slice.
	FinishStreamingJob(job JobID, h Handle, sliceCounts []int) error

	// RunFullInference transcribes the first n samples of slice sliceIndex.
	RunFullInference(job JobID, h Handle, sliceIndex, n int) int
	// RunFullInferenceOneShot transcribes samples in a single call.
	RunFullInferenceOneShot(job JobID, h Handle, samples []float32, opts Options, cb OneShotCallbacks) int

	// PushSamples stores samples at offset prior of slice sliceIndex.
	PushSamples(job JobID, samples []int16, sliceIndex, prior, n int)
	// DetectVoiceActivity evaluates the slice window ending at prior+n.
	DetectVoiceActivity(job JobID, sliceIndex, prior, n int) bool

	AbortJob(job JobID)
	AbortAllJobs()

	SegmentCount(h Handle) int
	Segment(h Handle, i int) Segment
}

// Device is the capture capability. Read blocks until at least one sample is
// available and returns io.EOF when the source has no more audio.
type Device interface {
	Start() error
	Read(buf []int16) (int, error)
	Stop() error
	Close() error
}

// DeviceOpener opens a fresh capture device for one streaming job.
type DeviceOpener func() (Device, error)
