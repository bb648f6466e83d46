package transcribe

/*
#include <whisper.h>

bool gosttAbort(void * user_data);
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/cgo"
	"unsafe"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go"
)

var (
	errModelLoad           = errors.New("transcribe: unable to load model")
	errNotMultilingual     = errors.New("transcribe: model is not multilingual")
	errUnsupportedLanguage = errors.New("transcribe: unsupported language")
)

// nativeDecoder drives whisper_full through the low level bindings so the
// abort and tinydiarize parameters can be set.
type nativeDecoder struct {
	ctx *whisper.Context
}

func loadNative(path string) (decoder, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	ctx := whisper.Whisper_init(path)
	if ctx == nil {
		return nil, errModelLoad
	}
	return &nativeDecoder{ctx: ctx}, nil
}

func (d *nativeDecoder) Close() error {
	if d.ctx != nil {
		d.ctx.Whisper_free()
		d.ctx = nil
	}
	return nil
}

func (d *nativeDecoder) params(req decodeRequest) (whisper.Params, error) {
	strategy := whisper.SAMPLING_GREEDY
	if req.BeamSize > 1 {
		strategy = whisper.SAMPLING_BEAM_SEARCH
	}
	p := d.ctx.Whisper_full_default_params(strategy)
	p.SetPrintSpecial(false)
	p.SetPrintProgress(false)
	p.SetPrintRealtime(false)
	p.SetPrintTimestamps(false)
	p.SetNoContext(true)

	threads := runtime.NumCPU()
	if req.Threads > 0 {
		threads = req.Threads
	}
	p.SetThreads(threads)
	p.SetTranslate(req.Translate)
	if req.BeamSize > 1 {
		p.SetBeamSize(req.BeamSize)
	}
	if req.Temperature > 0 {
		p.SetTemperature(float32(req.Temperature))
	}
	if req.Prompt != "" {
		p.SetInitialPrompt(req.Prompt)
	}
	if req.MaxLen > 0 {
		p.SetMaxSegmentLength(req.MaxLen)
		p.SetSplitOnWord(true)
	}
	p.SetTokenTimestamps(req.TokenTimestamps)

	if req.Language == "" {
		return p, nil
	}
	multilingual := d.ctx.Whisper_is_multilingual() != 0
	switch {
	case req.Language == "auto" && multilingual:
		_ = p.SetLanguage(-1)
	case req.Language == "en" && !multilingual:
	case !multilingual:
		return p, fmt.Errorf("%w: %q", errNotMultilingual, req.Language)
	default:
		id := d.ctx.Whisper_lang_id(req.Language)
		if id < 0 {
			return p, fmt.Errorf("%w: %q", errUnsupportedLanguage, req.Language)
		}
		if err := p.SetLanguage(id); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (d *nativeDecoder) Full(samples []float32, req decodeRequest, hooks decodeHooks) ([]rawSegment, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	p, err := d.params(req)
	if err != nil {
		return nil, err
	}

	cp := (*C.struct_whisper_full_params)(unsafe.Pointer(&p))
	cp.tdrz_enable = C.bool(req.SpeakerTurns)

	encoderBegin := func() bool { return true }
	if hooks.abort != nil {
		handle := cgo.NewHandle(hooks.abort)
		defer handle.Delete()
		cp.abort_callback = (C.ggml_abort_callback)(C.gosttAbort)
		cp.abort_callback_user_data = unsafe.Pointer(&handle)
		encoderBegin = func() bool { return !hooks.abort() }
	}

	var onNew func(int)
	if hooks.segments != nil {
		onNew = func(nNew int) {
			n := d.ctx.Whisper_full_n_segments()
			hooks.segments(d.segments(max(n-nNew, 0), n))
		}
	}

	if err := d.ctx.Whisper_full(p, samples, encoderBegin, onNew, hooks.progress); err != nil {
		return nil, err
	}
	return d.segments(0, d.ctx.Whisper_full_n_segments()), nil
}

func (d *nativeDecoder) segments(from, to int) []rawSegment {
	out := make([]rawSegment, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		seg := rawSegment{
			Text: d.ctx.Whisper_full_get_segment_text(i),
			T0:   d.ctx.Whisper_full_get_segment_t0(i),
			T1:   d.ctx.Whisper_full_get_segment_t1(i),
		}
		for j := range d.ctx.Whisper_full_n_tokens(i) {
			seg.Tokens = append(seg.Tokens, d.ctx.Whisper_full_get_token_text(i, j))
		}
		out = append(out, seg)
	}
	return out
}

//export gosttAbort
func gosttAbort(userData unsafe.Pointer) C.bool {
	return C.bool(pollAbort(userData))
}

// pollAbort resolves the cgo.Handle behind userData and calls its poll func.
func pollAbort(userData unsafe.Pointer) bool {
	if userData == nil {
		return false
	}
	h := *(*cgo.Handle)(userData)
	if h == 0 {
		return false
	}
	poll, ok := h.Value().(func() bool)
	return ok && poll()
}
