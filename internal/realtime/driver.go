package realtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chaz8081/gostt-stream/internal/observe"
)

// drive runs transcription passes until no continuation is needed. Once
// capture has stopped it keeps draining backlog slices in capture order.
func (j *streamJob) drive(forced bool) {
	defer j.s.state.endTranscribing(j.epoch)
	for j.pass(forced) {
		forced = true
	}
}

// pass transcribes the backlog slice once and reports whether another pass
// must follow immediately.
func (j *streamJob) pass(forced bool) bool {
	idx, _ := j.cursor()
	n := j.slices.SamplesAt(idx)
	if !j.capturing() && !forced {
		return false
	}

	j.curMu.Lock()
	j.tSamples = n
	j.curMu.Unlock()

	ctx, span := observe.StartSpan(context.Background(), "realtime.slice",
		attribute.Int("job_id", int(j.id)),
		attribute.Int("slice", idx),
		attribute.Int("samples", n),
	)
	started := time.Now()
	code := j.s.engine.RunFullInference(j.id, j.s.handle, idx, n)
	elapsed := time.Since(started)
	span.End()
	j.s.metrics.RecordInference(ctx, "slice", statusLabel(code), elapsed)

	p := Payload{
		Code:            code,
		ProcessTimeMs:   elapsed.Milliseconds(),
		RecordingTimeMs: j.recordingMs(n),
		SliceIndex:      idx,
		UsesSlices:      j.opts.UsesSlices(),
	}
	switch {
	case code == StatusOK:
		p.Segments = j.s.collectSegments(j.opts)
		p.Text = joinText(p.Segments)
	case !IsAborted(code):
		p.Error = (&EngineError{Code: code}).Error()
		j.logger.Warn("[realtime] slice transcription failed", "slice", idx, "code", code)
	}

	latest := j.slices.SamplesAt(idx)
	capturing := j.capturing()
	captureIdx := j.slices.Index()
	byAction := j.stoppedByAction()
	stopped := byAction || (!capturing && n == latest && captureIdx == idx)

	transcribed := n
	if n == latest && idx != captureIdx {
		j.curMu.Lock()
		j.tIndex++
		j.tSamples = 0
		j.curMu.Unlock()
		transcribed = 0
	}
	continueNeeded := !capturing && !byAction && transcribed != latest && !IsAborted(code)

	if stopped && !continueNeeded {
		j.finish(p)
		return false
	}
	// An aborted pass without an explicit stop is reported as interim. The
	// stop or release that follows reports the terminal result.
	p.IsCapturing = true
	j.s.emit(j.epoch, Event{Type: EventInterimResult, JobID: j.id, Payload: p})
	return continueNeeded
}
