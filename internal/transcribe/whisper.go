package transcribe

import (
	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// RunFullInference transcribes the first n samples of a streaming slice.
func (e *Engine) RunFullInference(id realtime.JobID, h realtime.Handle, sliceIndex, n int) int {
	j, ok := e.job(id)
	if !ok {
		e.logger.Warn("[transcribe] inference for unknown job", "job_id", int(id))
		return StatusFailed
	}
	if j.aborted.Load() {
		return realtime.StatusAborted
	}
	return e.infer(j, h, j.pcm(sliceIndex, 0, n), j.opts, realtime.OneShotCallbacks{})
}

// RunFullInferenceOneShot transcribes samples in a single call. The job is
// registered for the duration of the call so AbortJob can reach it.
func (e *Engine) RunFullInferenceOneShot(id realtime.JobID, h realtime.Handle, samples []float32, opts realtime.Options, cb realtime.OneShotCallbacks) int {
	j := &job{handle: h, opts: opts}
	e.mu.Lock()
	if _, dup := e.jobs[id]; dup {
		e.mu.Unlock()
		e.logger.Warn("[transcribe] one-shot job id already active", "job_id", int(id))
		return StatusFailed
	}
	e.jobs[id] = j
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.jobs, id)
		e.mu.Unlock()
	}()
	return e.infer(j, h, samples, opts, cb)
}

// infer holds the model lock for the whole decode. Callbacks in cb run on
// this goroutine with the lock held and receive their segments directly.
func (e *Engine) infer(j *job, h realtime.Handle, samples []float32, opts realtime.Options, cb realtime.OneShotCallbacks) int {
	m, ok := e.lookup(h)
	if !ok {
		e.logger.Warn("[transcribe] inference on unknown handle", "handle", uint64(h))
		return StatusFailed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = m.segments[:0]

	hooks := decodeHooks{
		abort:    j.aborted.Load,
		progress: cb.OnProgress,
	}
	if cb.OnNewSegments != nil {
		hooks.segments = func(raw []rawSegment) {
			if len(raw) > 0 {
				cb.OnNewSegments(convertSegments(raw))
			}
		}
	}

	req := decodeRequest{DecodeOptions: opts.Decode, SpeakerTurns: opts.SpeakerTurnDetection}
	raw, err := m.model.Full(samples, req, hooks)
	if j.aborted.Load() {
		return realtime.StatusAborted
	}
	if err != nil {
		e.logger.Error("[transcribe] process", "samples", len(samples), "err", err)
		return StatusFailed
	}
	m.segments = append(m.segments, convertSegments(raw)...)
	return realtime.StatusOK
}
