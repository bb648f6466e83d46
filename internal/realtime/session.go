package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/observe"
)

// Option configures a Session or a Registry.
type Option func(*settings)

type settings struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	sink    Sink
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithSink sets the event sink. Default: events are discarded.
func WithSink(sink Sink) Option {
	return func(s *settings) { s.sink = sink }
}

func buildSettings(opts []Option) settings {
	s := settings{}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.sink == nil {
		s.sink = discardSink{}
	}
	return s
}

// Result is the outcome of a one-shot transcription.
type Result struct {
	Code      int
	Text      string
	Segments  []Segment
	IsAborted bool
	Elapsed   time.Duration
}

// Session coordinates capture and transcription for one model context. At
// most one job, streaming or one-shot, is active at a time.
//
// Control methods may be called from any goroutine. Background goroutines
// never take mu, so control methods may block on them while holding it.
type Session struct {
	id     ContextID
	handle Handle
	engine Engine
	opener DeviceOpener

	logger  *slog.Logger
	metrics *observe.Metrics
	sink    Sink

	state  stateWord
	emitMu sync.Mutex

	mu       sync.Mutex
	stream   *streamJob
	oneShot  *oneShotJob
	released bool

	freeOnce sync.Once
	freeErr  error
}

type oneShotJob struct {
	id    JobID
	epoch uint64
	done  chan struct{}
}

// NewSession wraps an already created engine handle.
func NewSession(id ContextID, h Handle, engine Engine, opener DeviceOpener, opts ...Option) *Session {
	st := buildSettings(opts)
	return &Session{
		id:      id,
		handle:  h,
		engine:  engine,
		opener:  opener,
		logger:  st.logger.With("component", "realtime", "context_id", uint64(id)),
		metrics: st.metrics,
		sink:    st.sink,
	}
}

// ID returns the context id.
func (s *Session) ID() ContextID { return s.id }

// IsCapturing reports whether a streaming job is reading from its device.
func (s *Session) IsCapturing() bool {
	f, _ := s.state.load()
	return f&flagCapturing != 0
}

// IsTranscribing reports whether an engine call is in flight.
func (s *Session) IsTranscribing() bool {
	f, _ := s.state.load()
	return f&flagTranscribing != 0
}

// State returns the collapsed session state.
func (s *Session) State() SessionState {
	return s.state.view()
}

// Start begins a streaming job and returns once capture is running.
func (s *Session) Start(ctx context.Context, jobID JobID, opts Options) error {
	norm, err := opts.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrContextNotFound
	}
	if s.state.busy() {
		return ErrSessionBusy
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.waitPrevious()

	dev, err := s.opener()
	if err != nil {
		return &DeviceInitError{Err: err}
	}
	if err := dev.Start(); err != nil {
		if cerr := dev.Close(); cerr != nil {
			s.logger.Warn("[realtime] closing failed device", "err", cerr)
		}
		return &DeviceInitError{Err: err}
	}

	epoch, ok := s.state.begin(flagCapturing)
	if !ok {
		s.closeDevice(dev)
		return ErrSessionBusy
	}

	if err := s.engine.CreateStreamingJob(jobID, s.handle, norm); err != nil {
		s.state.finish(epoch)
		s.closeDevice(dev)
		return err
	}

	j := newStreamJob(s, jobID, epoch, norm, dev)
	s.stream = j
	s.metrics.ActiveSessions.Add(ctx, 1)

	s.emit(epoch, Event{
		Type:  EventSessionStart,
		JobID: jobID,
		Payload: Payload{
			SliceIndex:  0,
			UsesSlices:  norm.UsesSlices(),
			IsCapturing: true,
		},
	})
	s.logger.Info("[realtime] streaming started",
		"job_id", int(jobID),
		"total_s", norm.TotalCaptureSeconds,
		"slice_s", norm.SliceSeconds,
		"min_s", norm.MinDurationSeconds,
	)

	go j.capture()
	return nil
}

// Stop aborts jobID and waits for its goroutines to exit. Stopping a job
// that is not active only forwards the abort to the engine.
func (s *Session) Stop(jobID JobID) {
	var wait []<-chan struct{}
	s.mu.Lock()
	if j := s.stream; j != nil && j.id == jobID {
		s.state.markStopped(j.epoch)
		wait = append(wait, j.done)
	}
	if o := s.oneShot; o != nil && o.id == jobID {
		s.state.markStopped(o.epoch)
		wait = append(wait, o.done)
	}
	s.mu.Unlock()

	// The stop flag is set before the abort so a driver woken by the abort
	// already sees it and reports the terminal result.
	s.engine.AbortJob(jobID)
	for _, ch := range wait {
		<-ch
	}
}

// OneShot transcribes samples in one engine call on the calling goroutine.
// Stop(jobID) from another goroutine aborts it.
func (s *Session) OneShot(ctx context.Context, jobID JobID, samples []float32, opts Options) (*Result, error) {
	norm, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrContextNotFound
	}
	if s.state.busy() {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.waitPrevious()
	epoch, ok := s.state.begin(flagTranscribing)
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	o := &oneShotJob{id: jobID, epoch: epoch, done: make(chan struct{})}
	s.oneShot = o
	s.mu.Unlock()

	defer func() {
		s.state.finish(epoch)
		s.mu.Lock()
		if s.oneShot == o {
			s.oneShot = nil
		}
		s.mu.Unlock()
		close(o.done)
	}()

	ctx, span := observe.StartSpan(ctx, "realtime.oneshot")
	defer span.End()

	totalNNew := 0
	cb := OneShotCallbacks{}
	if norm.EmitProgress {
		cb.OnProgress = func(progress int) {
			s.emit(epoch, Event{Type: EventProgress, JobID: jobID, Payload: Payload{Progress: progress}})
		}
	}
	if norm.EmitIncrementalSegments {
		cb.OnNewSegments = func(segs []Segment) {
			segs = markSpeakerTurns(segs, norm)
			totalNNew += len(segs)
			s.emit(epoch, Event{Type: EventNewSegments, JobID: jobID, Payload: Payload{
				NNew:      len(segs),
				TotalNNew: totalNNew,
				Text:      joinText(segs),
				Segments:  segs,
			}})
		}
	}

	started := time.Now()
	code := s.engine.RunFullInferenceOneShot(jobID, s.handle, samples, norm, cb)
	elapsed := time.Since(started)
	s.metrics.RecordInference(ctx, "oneshot", statusLabel(code), elapsed)

	if code != StatusOK && !IsAborted(code) {
		s.logger.Warn("[realtime] one-shot failed", "job_id", int(jobID), "code", code)
		return nil, &EngineError{Code: code}
	}

	res := &Result{
		Code:      code,
		IsAborted: IsAborted(code) || s.state.has(epoch, flagStopped),
		Elapsed:   elapsed,
	}
	if code == StatusOK || IsAborted(code) {
		res.Segments = s.collectSegments(norm)
		res.Text = joinText(res.Segments)
	}
	s.logger.Info("[realtime] one-shot done",
		"job_id", int(jobID),
		"code", code,
		"aborted", res.IsAborted,
		"segments", len(res.Segments),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// Release stops any active job, joins its goroutines and frees the engine
// handle. Further calls return the first result.
func (s *Session) Release() error {
	s.quiesce()
	return s.free()
}

// quiesce rejects new jobs and waits for the active one to exit.
func (s *Session) quiesce() {
	s.mu.Lock()
	s.released = true
	var ids []JobID
	if s.stream != nil {
		ids = append(ids, s.stream.id)
	}
	if s.oneShot != nil {
		ids = append(ids, s.oneShot.id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}

	s.mu.Lock()
	s.waitPrevious()
	s.mu.Unlock()
}

func (s *Session) free() error {
	s.freeOnce.Do(func() {
		s.freeErr = s.engine.FreeContext(s.handle)
	})
	return s.freeErr
}

// waitPrevious blocks until the last streaming job's goroutine has exited.
// Callers hold mu.
func (s *Session) waitPrevious() {
	if s.stream != nil {
		<-s.stream.done
	}
}

// emit delivers e unless epoch is no longer the live epoch.
func (s *Session) emit(epoch uint64, e Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if _, live := s.state.load(); live != epoch {
		return
	}
	e.ContextID = s.id
	s.metrics.RecordEvent(context.Background(), string(e.Type))
	s.sink.Emit(e)
}

func (s *Session) closeDevice(dev Device) {
	if err := dev.Stop(); err != nil {
		s.logger.Warn("[realtime] stopping device", "err", err)
	}
	if err := dev.Close(); err != nil {
		s.logger.Warn("[realtime] closing device", "err", err)
	}
}

// collectSegments reads every segment from the engine for the current
// handle, marking speaker turns when enabled.
func (s *Session) collectSegments(opts Options) []Segment {
	n := s.engine.SegmentCount(s.handle)
	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		segs = append(segs, s.engine.Segment(s.handle, i))
	}
	return markSpeakerTurns(segs, opts)
}

// markSpeakerTurns returns a copy of segs with the speaker turn marker
// appended where enabled.
func markSpeakerTurns(segs []Segment, opts Options) []Segment {
	out := make([]Segment, len(segs))
	for i, seg := range segs {
		if opts.SpeakerTurnDetection && seg.SpeakerTurn {
			seg.Text += " [SPEAKER_TURN]"
		}
		out[i] = seg
	}
	return out
}

func joinText(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return strings.TrimSpace(b.String())
}

func statusLabel(code int) string {
	switch {
	case code == StatusOK:
		return "ok"
	case IsAborted(code):
		return "aborted"
	default:
		return "error"
	}
}
