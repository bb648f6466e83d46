// Package hotkey turns a global key combination into push-to-talk events.
// In "hold" mode the session runs while the keys are held; in "toggle" mode
// each press flips it on or off.
package hotkey

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether a streaming session should start or stop.
type EventType int

const (
	EventStart EventType = iota
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
	At   time.Time
}

// latch converts raw key transitions into start/stop events. Key repeat
// while held produces repeated downs; only state changes are reported.
type latch struct {
	mu     sync.Mutex
	toggle bool
	active bool
}

// down handles a key press and reports the event to emit, if any.
func (l *latch) down() (EventType, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.toggle {
		l.active = !l.active
		if l.active {
			return EventStart, true
		}
		return EventStop, true
	}
	if l.active {
		return 0, false
	}
	l.active = true
	return EventStart, true
}

// up handles a key release.
func (l *latch) up() (EventType, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.toggle || !l.active {
		return 0, false
	}
	l.active = false
	return EventStop, true
}

// Listener watches a global hotkey.
type Listener struct {
	keys  []string
	latch *latch
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// NewListener creates a Listener for keys (lowercase names such as
// "ctrl", "shift", "r"). mode is "hold" or "toggle".
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys:  keys,
		latch: &latch{toggle: mode == "toggle"},
		ch:    make(chan Event, 16),
		done:  make(chan struct{}),
	}
}

// Events returns the event channel. It is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

func (l *Listener) emit(t EventType, ok bool) {
	if !ok {
		return
	}
	select {
	case l.ch <- Event{Type: t, At: time.Now()}:
	default:
	}
}

// Start listens until Stop is called. It blocks; run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.emit(l.latch.down()) })
	if !l.latch.toggle {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.emit(l.latch.up()) })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the listener. It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
