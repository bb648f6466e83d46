package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/chaz8081/gostt-stream/internal/observe"
)

type inferCall struct {
	job   JobID
	slice int
	n     int
}

// fakeEngine records every boundary call. Inference returns code immediately
// unless block is set, in which case it waits for block to close or the job
// to be aborted.
type fakeEngine struct {
	mu        sync.Mutex
	next      Handle
	live      map[Handle]bool
	freed     map[Handle]int
	jobs      map[JobID][]int
	aborts    map[JobID]chan struct{}
	calls     []inferCall
	finished  map[JobID][]int
	log       []string
	segments  []Segment
	speech    bool
	code      int
	block     chan struct{}
	started   chan inferCall
	oneShotFn func(samples []float32, cb OneShotCallbacks) int

	inflight    atomic.Int32
	maxInflight atomic.Int32

	// tailGate, when set, holds the end of capture VAD check (n == 0) until
	// closed and then reports speech. tailReached is signalled on entry.
	tailGate    chan struct{}
	tailReached chan struct{}

	// inCallback is set while oneShotFn runs; reentered counts segment
	// reads made from inside it.
	inCallback atomic.Bool
	reentered  atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		live:     make(map[Handle]bool),
		freed:    make(map[Handle]int),
		jobs:     make(map[JobID][]int),
		aborts:   make(map[JobID]chan struct{}),
		finished: make(map[JobID][]int),
		speech:   true,
	}
}

func (e *fakeEngine) record(format string, args ...any) {
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) CreateContext(path string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if path == "" {
		return 0, fs.ErrNotExist
	}
	e.next++
	e.live[e.next] = true
	return e.next, nil
}

func (e *fakeEngine) FreeContext(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("free:%d inflight=%d", h, e.inflight.Load())
	e.freed[h]++
	delete(e.live, h)
	return nil
}

func (e *fakeEngine) abortCh(job JobID) chan struct{} {
	ch, ok := e.aborts[job]
	if !ok {
		ch = make(chan struct{})
		e.aborts[job] = ch
	}
	return ch
}

func (e *fakeEngine) CreateStreamingJob(job JobID, h Handle, opts Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs[job] = nil
	e.abortCh(job)
	e.record("create:%d", job)
	return nil
}

func (e *fakeEngine) FinishStreamingJob(job JobID, h Handle, counts []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished[job] = counts
	e.record("finish:%d", job)
	return nil
}

func (e *fakeEngine) enter() {
	n := e.inflight.Add(1)
	for {
		m := e.maxInflight.Load()
		if n <= m || e.maxInflight.CompareAndSwap(m, n) {
			return
		}
	}
}

func (e *fakeEngine) RunFullInference(job JobID, h Handle, slice, n int) int {
	e.enter()
	defer e.inflight.Add(-1)

	c := inferCall{job: job, slice: slice, n: n}
	e.mu.Lock()
	e.calls = append(e.calls, c)
	abort := e.abortCh(job)
	block, started, code := e.block, e.started, e.code
	e.mu.Unlock()

	if started != nil {
		select {
		case started <- c:
		default:
		}
	}
	select {
	case <-abort:
		return StatusAborted
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-abort:
			return StatusAborted
		}
	}
	return code
}

func (e *fakeEngine) RunFullInferenceOneShot(job JobID, h Handle, samples []float32, opts Options, cb OneShotCallbacks) int {
	e.enter()
	defer e.inflight.Add(-1)

	e.mu.Lock()
	abort := e.abortCh(job)
	fn, block := e.oneShotFn, e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-abort:
			return StatusAborted
		}
	}
	if fn != nil {
		e.inCallback.Store(true)
		defer e.inCallback.Store(false)
		return fn(samples, cb)
	}
	return e.code
}

func (e *fakeEngine) PushSamples(job JobID, samples []int16, slice, prior, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := e.jobs[job]
	for len(counts) <= slice {
		counts = append(counts, 0)
	}
	counts[slice] = prior + n
	e.jobs[job] = counts
}

func (e *fakeEngine) DetectVoiceActivity(job JobID, slice, prior, n int) bool {
	e.mu.Lock()
	gate, reached, speech := e.tailGate, e.tailReached, e.speech
	e.mu.Unlock()
	if n == 0 && gate != nil {
		select {
		case reached <- struct{}{}:
		default:
		}
		<-gate
		return true
	}
	return speech
}

func (e *fakeEngine) AbortJob(job JobID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.abortCh(job)
	select {
	case <-ch:
	default:
		close(ch)
	}
	e.record("abort:%d", job)
}

func (e *fakeEngine) AbortAllJobs() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.aborts {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	e.record("abortAll")
}

func (e *fakeEngine) SegmentCount(h Handle) int {
	if e.inCallback.Load() {
		e.reentered.Add(1)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.segments)
}

func (e *fakeEngine) Segment(h Handle, i int) Segment {
	if e.inCallback.Load() {
		e.reentered.Add(1)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.segments[i]
}

func (e *fakeEngine) inferCalls() []inferCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]inferCall(nil), e.calls...)
}

func (e *fakeEngine) finishedCounts(job JobID) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished[job]
}

func (e *fakeEngine) freedCount(h Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freed[h]
}

func (e *fakeEngine) entries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// fakeDevice hands out chunks fed by the test. Read returns 0 samples after
// a short wait when nothing is queued, and io.EOF once feed is closed.
type fakeDevice struct {
	feed     chan []int16
	startErr error

	reads   atomic.Int64
	stopped atomic.Bool
	closed  atomic.Bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{feed: make(chan []int16, 1024)}
}

func (d *fakeDevice) Start() error { return d.startErr }

func (d *fakeDevice) Read(buf []int16) (int, error) {
	select {
	case c, ok := <-d.feed:
		if !ok {
			return 0, io.EOF
		}
		d.reads.Add(1)
		return copy(buf, c), nil
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func (d *fakeDevice) Stop() error  { d.stopped.Store(true); return nil }
func (d *fakeDevice) Close() error { d.closed.Store(true); return nil }

// push queues count chunks of size samples.
func (d *fakeDevice) push(count, size int) {
	for i := 0; i < count; i++ {
		d.feed <- make([]int16, size)
	}
}

func (d *fakeDevice) opener(opened *atomic.Int32) DeviceOpener {
	return func() (Device, error) {
		if opened != nil {
			opened.Add(1)
		}
		return d, nil
	}
}

// flakyDevice fails its first failures reads before delegating.
type flakyDevice struct {
	*fakeDevice
	failures atomic.Int32
	failed   atomic.Int32
}

func (d *flakyDevice) Read(buf []int16) (int, error) {
	if d.failures.Add(-1) >= 0 {
		d.failed.Add(1)
		return 0, errors.New("device read failed")
	}
	return d.fakeDevice.Read(buf)
}

func (d *flakyDevice) opener() DeviceOpener {
	return func() (Device, error) { return d, nil }
}

// eventLog is a Sink that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 1024)}
}

func (l *eventLog) Emit(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) ofType(t EventType) []Event {
	var out []Event
	for _, e := range l.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// waitFinal blocks until n terminal events were seen.
func (l *eventLog) waitFinal(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := l.ofType(EventFinalResult); len(got) >= n {
			return got
		}
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d final events, have %d", n, len(l.ofType(EventFinalResult)))
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testOptions(t *testing.T, sink Sink) []Option {
	return []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMetrics(testMetrics(t)),
		WithSink(sink),
	}
}
