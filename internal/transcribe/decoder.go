package transcribe

import (
	"strings"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// speakerTurnToken is emitted by tinydiarize models at a change of speaker.
const speakerTurnToken = "[_SOLM_]"

// decoder is one loaded whisper model. Full is never called concurrently on
// the same decoder.
type decoder interface {
	// Full decodes samples and returns every segment of the result. Hooks run
	// synchronously on the calling goroutine while Full is in progress.
	Full(samples []float32, req decodeRequest, hooks decodeHooks) ([]rawSegment, error)
	Close() error
}

// decodeRequest carries the per-call whisper parameters.
type decodeRequest struct {
	realtime.DecodeOptions
	SpeakerTurns bool
}

type decodeHooks struct {
	// abort is polled before encoding and between graph computations.
	abort    func() bool
	// segments receives each batch of newly decoded segments.
	segments func([]rawSegment)
	progress func(int)
}

// rawSegment is a segment as read back from whisper. T0 and T1 are in
// centiseconds.
type rawSegment struct {
	Text   string
	T0, T1 int64
	Tokens []string
}

func convertSegment(seg rawSegment) realtime.Segment {
	out := realtime.Segment{
		Text:    seg.Text,
		StartMs: seg.T0 * 10,
		EndMs:   seg.T1 * 10,
	}
	for _, tok := range seg.Tokens {
		if tok == speakerTurnToken {
			out.SpeakerTurn = true
			out.Text = strings.ReplaceAll(out.Text, speakerTurnToken, "")
			break
		}
	}
	return out
}

func convertSegments(raw []rawSegment) []realtime.Segment {
	out := make([]realtime.Segment, len(raw))
	for i, s := range raw {
		out[i] = convertSegment(s)
	}
	return out
}
