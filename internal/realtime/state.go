package realtime

import "sync/atomic"

// SessionState is the public view of a session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCapturing
	StateTranscribing
	StateCapturingAndTranscribing
	StateStoppedByAction
	StateFinished
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateTranscribing:
		return "transcribing"
	case StateCapturingAndTranscribing:
		return "capturing+transcribing"
	case StateStoppedByAction:
		return "stopped"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Flag bits of the packed state word. The epoch occupies the bits above
// epochShift and is bumped on every Start and OneShot.
const (
	flagCapturing uint64 = 1 << iota
	flagTranscribing
	flagStopped
	flagFinished

	epochShift = 8
	flagMask   = 1<<epochShift - 1
)

// stateWord packs the session flags and the epoch into one atomic value so
// readers never see a torn combination.
type stateWord struct {
	v atomic.Uint64
}

func split(w uint64) (flags, epoch uint64) {
	return w & flagMask, w >> epochShift
}

func pack(flags, epoch uint64) uint64 {
	return epoch<<epochShift | flags&flagMask
}

func (s *stateWord) load() (flags, epoch uint64) {
	return split(s.v.Load())
}

func (s *stateWord) busy() bool {
	f, _ := s.load()
	return f&(flagCapturing|flagTranscribing) != 0
}

// begin moves an idle or finished session into a new epoch with the given
// flags set. It fails if the session is busy.
func (s *stateWord) begin(flags uint64) (uint64, bool) {
	for {
		old := s.v.Load()
		f, e := split(old)
		if f&(flagCapturing|flagTranscribing) != 0 {
			return 0, false
		}
		next := e + 1
		if s.v.CompareAndSwap(old, pack(flags, next)) {
			return next, true
		}
	}
}

// update applies fn to the flags if epoch is still live. fn returns the new
// flags and whether a change is wanted.
func (s *stateWord) update(epoch uint64, fn func(uint64) (uint64, bool)) bool {
	for {
		old := s.v.Load()
		f, e := split(old)
		if e != epoch {
			return false
		}
		nf, ok := fn(f)
		if !ok {
			return false
		}
		if s.v.CompareAndSwap(old, pack(nf, e)) {
			return true
		}
	}
}

func (s *stateWord) has(epoch, flag uint64) bool {
	f, e := s.load()
	return e == epoch && f&flag != 0
}

// tryBeginTranscribing sets the transcribing flag unless it is already set.
func (s *stateWord) tryBeginTranscribing(epoch uint64) bool {
	return s.update(epoch, func(f uint64) (uint64, bool) {
		if f&(flagTranscribing|flagFinished) != 0 {
			return f, false
		}
		return f | flagTranscribing, true
	})
}

func (s *stateWord) endTranscribing(epoch uint64) {
	s.update(epoch, func(f uint64) (uint64, bool) {
		return f &^ flagTranscribing, f&flagTranscribing != 0
	})
}

func (s *stateWord) stopCapturing(epoch uint64) {
	s.update(epoch, func(f uint64) (uint64, bool) {
		return f &^ flagCapturing, f&flagCapturing != 0
	})
}

// markStopped records an explicit stop on a job that has not finished. This
// includes the window between the end of capture and the tail pass, when
// neither activity flag is set.
func (s *stateWord) markStopped(epoch uint64) bool {
	return s.update(epoch, func(f uint64) (uint64, bool) {
		if f&flagFinished != 0 {
			return f, false
		}
		return (f | flagStopped) &^ flagCapturing, true
	})
}

// finish clears the activity flags and marks the epoch finished. The stopped
// bit is kept so the final state still reports an explicit stop.
func (s *stateWord) finish(epoch uint64) {
	s.update(epoch, func(f uint64) (uint64, bool) {
		return f&flagStopped | flagFinished, true
	})
}

func (s *stateWord) view() SessionState {
	f, _ := s.load()
	capturing := f&flagCapturing != 0
	transcribing := f&flagTranscribing != 0
	switch {
	case f&flagStopped != 0:
		return StateStoppedByAction
	case capturing && transcribing:
		return StateCapturingAndTranscribing
	case capturing:
		return StateCapturing
	case transcribing:
		return StateTranscribing
	case f&flagFinished != 0:
		return StateFinished
	default:
		return StateIdle
	}
}
