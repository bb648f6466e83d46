package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// maxConsecutiveReadErrors ends capture when the device keeps failing.
const maxConsecutiveReadErrors = 50

// streamJob is the state of one streaming job. The capture goroutine owns
// the device; the driver goroutine owns the transcribe cursor.
type streamJob struct {
	s      *Session
	id     JobID
	epoch  uint64
	opts   Options
	device Device
	slices *SliceBuffer
	gate   *Gate
	logger *slog.Logger

	curMu    sync.Mutex
	tIndex   int // transcribeSliceIndex
	tSamples int // samples of tIndex covered by the last pass

	driverWG   sync.WaitGroup
	finishOnce sync.Once
	finished   atomic.Bool
	done       chan struct{}
}

func newStreamJob(s *Session, id JobID, epoch uint64, opts Options, dev Device) *streamJob {
	j := &streamJob{
		s:      s,
		id:     id,
		epoch:  epoch,
		opts:   opts,
		device: dev,
		slices: NewSliceBuffer(opts.SliceSamples(), opts.TotalSamples()),
		logger: s.logger.With("job_id", int(id)),
		done:   make(chan struct{}),
	}
	j.gate = &Gate{
		engine:     s.engine,
		job:        id,
		sampleRate: opts.SampleRate,
		minSeconds: opts.MinDurationSeconds,
		inFlight:   j.transcribing,
	}
	return j
}

func (j *streamJob) capturing() bool       { return j.s.state.has(j.epoch, flagCapturing) }
func (j *streamJob) transcribing() bool    { return j.s.state.has(j.epoch, flagTranscribing) }
func (j *streamJob) stoppedByAction() bool { return j.s.state.has(j.epoch, flagStopped) }

func (j *streamJob) cursor() (index, samples int) {
	j.curMu.Lock()
	defer j.curMu.Unlock()
	return j.tIndex, j.tSamples
}

// capture reads chunks until capture is cleared, the bound is reached or the
// device runs dry.
func (j *streamJob) capture() {
	defer close(j.done)

	buf := make([]int16, j.opts.ChunkSamples)
	failures := 0
	for j.capturing() {
		n, err := j.device.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				j.logger.Info("[realtime] capture source drained")
				if j.capturing() {
					j.endOfCapture()
				}
				break
			}
			failures++
			j.s.metrics.ReadErrors.Add(context.Background(), 1)
			j.logger.Warn("[realtime] read failed", "err", err, "consecutive", failures)
			if failures >= maxConsecutiveReadErrors {
				j.logger.Error("[realtime] giving up on capture device", "err", err)
				j.endOfCapture()
				break
			}
			continue
		}
		failures = 0
		if n == 0 {
			continue
		}
		if !j.capturing() {
			break
		}
		if !j.slices.Fits(n) {
			j.endOfCapture()
			break
		}
		j.onChunk(buf[:n])
	}

	j.afterCapture()
}

// onChunk stores one chunk and launches a driver pass when the gate allows.
func (j *streamJob) onChunk(samples []int16) {
	n := len(samples)
	if j.slices.NeedsRoll(n) {
		if err := j.slices.Roll(n); err != nil {
			j.logger.Warn("[realtime] slice roll", "err", err)
			return
		}
		j.s.metrics.SliceRolls.Add(context.Background(), 1)
		j.logger.Debug("[realtime] next slice", "slice", j.slices.Index())
	}

	idx := j.slices.Index()
	prior := j.slices.Current()
	j.s.engine.PushSamples(j.id, samples, idx, prior, n)
	speech := j.gate.IsSpeech(idx, prior, n)
	if err := j.slices.Append(n); err != nil {
		j.logger.Warn("[realtime] append samples", "err", err)
		return
	}
	j.s.metrics.CapturedSamples.Add(context.Background(), int64(n))

	cur := prior + n
	if !j.gate.HasMinimumDuration(cur) || !speech {
		return
	}
	if cur > j.opts.SampleRate/2 && j.s.state.tryBeginTranscribing(j.epoch) {
		j.driverWG.Add(1)
		go func() {
			defer j.driverWG.Done()
			j.drive(false)
		}()
	}
}

// endOfCapture handles the capture bound or end of input: stop capturing and
// either finish, leave the drain to an in-flight driver, or force one last
// pass over the tail.
func (j *streamJob) endOfCapture() {
	j.s.state.stopCapturing(j.epoch)
	if j.transcribing() || j.stoppedByAction() {
		return
	}

	idx, n := j.slices.Index(), j.slices.Current()
	tIdx, tN := j.cursor()
	if idx == tIdx && n == tN {
		j.finish(j.idlePayload())
		return
	}
	if !j.gate.HasMinimumDuration(n) || !j.gate.IsSpeech(idx, n, 0) {
		j.finish(j.idlePayload())
		return
	}
	if j.s.state.tryBeginTranscribing(j.epoch) {
		j.drive(true)
	}
}

// afterCapture joins the driver and makes sure the job reaches its terminal
// event before the device is released. Backlog left by a driver that raced
// with the end of capture is drained here unless the stop was explicit.
func (j *streamJob) afterCapture() {
	j.driverWG.Wait()

	if !j.finished.Load() {
		if !j.stoppedByAction() && j.hasBacklog() && j.s.state.tryBeginTranscribing(j.epoch) {
			j.drive(true)
		}
		j.finish(j.idlePayload())
	}
	j.s.closeDevice(j.device)
}

func (j *streamJob) hasBacklog() bool {
	tIdx, tN := j.cursor()
	return tIdx != j.slices.Index() || tN != j.slices.SamplesAt(tIdx)
}

// idlePayload describes the job when no inference result accompanies the
// terminal event.
func (j *streamJob) idlePayload() Payload {
	tIdx, _ := j.cursor()
	return Payload{
		Code:            StatusOK,
		SliceIndex:      tIdx,
		UsesSlices:      j.opts.UsesSlices(),
		RecordingTimeMs: j.recordingMs(j.slices.SamplesAt(tIdx)),
	}
}

func (j *streamJob) recordingMs(n int) int64 {
	return int64(n) * 1000 / int64(j.opts.SampleRate)
}

// finish emits the terminal event and releases job-scoped engine state.
// Only the first call has any effect.
func (j *streamJob) finish(p Payload) {
	j.finishOnce.Do(func() {
		stopped := j.stoppedByAction()
		p.IsCapturing = false
		p.IsStoppedByAction = &stopped
		j.s.emit(j.epoch, Event{Type: EventFinalResult, JobID: j.id, Payload: p})

		if err := j.s.engine.FinishStreamingJob(j.id, j.s.handle, j.slices.Counts()); err != nil {
			j.logger.Warn("[realtime] finish job", "err", err)
		}
		j.s.state.finish(j.epoch)
		j.finished.Store(true)
		j.s.metrics.ActiveSessions.Add(context.Background(), -1)
		j.logger.Info("[realtime] streaming finished",
			"stopped_by_action", stopped,
			"slices", j.slices.Index()+1,
			"samples", j.slices.TotalSamples(),
		)
	})
}
