// Package transcribe implements the realtime inference boundary on top of
// the whisper.cpp Go bindings. One Engine owns every loaded model and every
// job's sample storage.
package transcribe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// StatusFailed is returned when whisper fails for a reason other than abort.
const StatusFailed = -1

var errUnknownHandle = errors.New("transcribe: unknown context handle")

// model is one loaded whisper model. mu serializes inference on it and
// guards the segments of the last result.
type model struct {
	path  string
	model decoder

	mu       sync.Mutex
	segments []realtime.Segment
}

// job holds the PCM slices of one streaming job, or only the abort flag of a
// one-shot job.
type job struct {
	handle  realtime.Handle
	opts    realtime.Options
	aborted atomic.Bool

	mu     sync.Mutex
	slices [][]int16
}

// Engine is the whisper backed realtime.Engine.
type Engine struct {
	logger *slog.Logger
	load   func(path string) (decoder, error)

	mu     sync.Mutex
	next   realtime.Handle
	models map[realtime.Handle]*model
	jobs   map[realtime.JobID]*job
}

var _ realtime.Engine = (*Engine)(nil)

// NewEngine returns an Engine with no models loaded.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger.With("component", "transcribe"),
		load:   loadNative,
		models: make(map[realtime.Handle]*model),
		jobs:   make(map[realtime.JobID]*job),
	}
}

// CreateContext loads the model at modelPath.
func (e *Engine) CreateContext(modelPath string) (realtime.Handle, error) {
	m, err := e.load(modelPath)
	if err != nil {
		return 0, fmt.Errorf("transcribe: load whisper model %q: %w", modelPath, err)
	}

	e.mu.Lock()
	e.next++
	h := e.next
	e.models[h] = &model{path: modelPath, model: m}
	e.mu.Unlock()

	e.logger.Info("[transcribe] model loaded", "handle", uint64(h), "path", modelPath)
	return h, nil
}

// FreeContext closes the model. It waits for an inference on h to finish.
func (e *Engine) FreeContext(h realtime.Handle) error {
	e.mu.Lock()
	m, ok := e.models[h]
	delete(e.models, h)
	e.mu.Unlock()
	if !ok {
		return errUnknownHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.model.Close(); err != nil {
		return fmt.Errorf("transcribe: close model %q: %w", m.path, err)
	}
	return nil
}

func (e *Engine) lookup(h realtime.Handle) (*model, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.models[h]
	return m, ok
}

func (e *Engine) job(id realtime.JobID) (*job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	return j, ok
}

// CreateStreamingJob registers id with empty slice storage.
func (e *Engine) CreateStreamingJob(id realtime.JobID, h realtime.Handle, opts realtime.Options) error {
	if _, ok := e.lookup(h); !ok {
		return errUnknownHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.jobs[id]; dup {
		return fmt.Errorf("transcribe: job %d already active", id)
	}
	e.jobs[id] = &job{handle: h, opts: opts}
	return nil
}

// FinishStreamingJob drops the job's samples, first writing them to the
// configured audio output path.
func (e *Engine) FinishStreamingJob(id realtime.JobID, h realtime.Handle, sliceCounts []int) error {
	e.mu.Lock()
	j, ok := e.jobs[id]
	delete(e.jobs, id)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if j.opts.AudioOutputPath == "" {
		return nil
	}

	j.mu.Lock()
	var pcm []int16
	for i, n := range sliceCounts {
		if i >= len(j.slices) {
			break
		}
		pcm = append(pcm, j.slices[i][:min(n, len(j.slices[i]))]...)
	}
	j.mu.Unlock()

	if err := audio.WriteWAV(j.opts.AudioOutputPath, pcm, j.opts.SampleRate); err != nil {
		return fmt.Errorf("transcribe: write job %d audio: %w", id, err)
	}
	e.logger.Info("[transcribe] audio saved", "job_id", int(id), "path", j.opts.AudioOutputPath, "samples", len(pcm))
	return nil
}

// PushSamples copies n samples into slice sliceIndex at offset prior.
func (e *Engine) PushSamples(id realtime.JobID, samples []int16, sliceIndex, prior, n int) {
	j, ok := e.job(id)
	if !ok {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for len(j.slices) <= sliceIndex {
		j.slices = append(j.slices, make([]int16, 0, j.opts.SliceSamples()))
	}
	s := j.slices[sliceIndex]
	if len(s) < prior+n {
		s = append(s, make([]int16, prior+n-len(s))...)
	}
	copy(s[prior:prior+n], samples[:n])
	j.slices[sliceIndex] = s
}

// pcm returns samples [from, to) of a slice scaled to [-1, 1).
func (j *job) pcm(sliceIndex, from, to int) []float32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if sliceIndex >= len(j.slices) {
		return nil
	}
	s := j.slices[sliceIndex]
	to = min(to, len(s))
	if from >= to {
		return nil
	}
	out := make([]float32, to-from)
	for i, v := range s[from:to] {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// DetectVoiceActivity runs the energy detector over the window ending at
// prior+n. A disabled detector always reports speech.
func (e *Engine) DetectVoiceActivity(id realtime.JobID, sliceIndex, prior, n int) bool {
	j, ok := e.job(id)
	if !ok {
		return false
	}
	if !j.opts.VAD.Enabled {
		return true
	}
	window := j.opts.SampleRate * j.opts.VAD.WindowMs / 1000
	if prior+n <= window {
		return false
	}
	return DetectVoice(j.pcm(sliceIndex, prior+n-window, prior+n), j.opts.SampleRate, j.opts.VAD)
}

// AbortJob flags a running job. A decode in progress polls the flag and
// stops at the next graph computation.
func (e *Engine) AbortJob(id realtime.JobID) {
	if j, ok := e.job(id); ok {
		j.aborted.Store(true)
	}
}

// AbortAllJobs flags every registered job.
func (e *Engine) AbortAllJobs() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		j.aborted.Store(true)
	}
}

// SegmentCount returns the number of segments of the last result on h.
func (e *Engine) SegmentCount(h realtime.Handle) int {
	m, ok := e.lookup(h)
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.segments)
}

// Segment returns segment i of the last result on h.
func (e *Engine) Segment(h realtime.Handle, i int) realtime.Segment {
	m, ok := e.lookup(h)
	if !ok {
		return realtime.Segment{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.segments) {
		return realtime.Segment{}
	}
	return m.segments[i]
}
