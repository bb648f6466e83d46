package realtime

import (
	"math"
)

const (
	DefaultSampleRate          = 16000
	DefaultChunkSamples        = 1024
	DefaultTotalCaptureSeconds = 30
	DefaultMinDurationSeconds  = 1

	// minDurationFloor is the smallest accepted MinDurationSeconds.
	minDurationFloor = 0.5
)

// VAD defaults for the energy detector.
const (
	DefaultVADWindowMs      = 2000
	DefaultVADLastMs        = 1000
	DefaultVADThreshold     = 0.6
	DefaultVADFreqThreshold = 100
)

// Options configure one streaming or one-shot job.
type Options struct {
	// TotalCaptureSeconds bounds the whole streaming job. Default 30.
	TotalCaptureSeconds float64
	// SliceSeconds bounds one slice. Values <= 0 or >= total mean one slice.
	SliceSeconds float64
	// MinDurationSeconds is the minimum slice length before inference.
	// Default 1, accepted range [0.5, SliceSeconds].
	MinDurationSeconds float64

	SpeakerTurnDetection    bool
	EmitProgress            bool
	EmitIncrementalSegments bool

	SampleRate   int
	ChunkSamples int

	VAD    VADOptions
	Decode DecodeOptions

	// AudioOutputPath, when set, receives the captured audio as a WAV file
	// once the streaming job finishes.
	AudioOutputPath string
}

// VADOptions configure the engine's energy based voice activity detector.
type VADOptions struct {
	Enabled       bool
	WindowMs      int
	LastMs        int
	Threshold     float64
	FreqThreshold float64
}

// DecodeOptions are passed through to whisper.
type DecodeOptions struct {
	Language        string
	Translate       bool
	Threads         int
	BeamSize        int
	Temperature     float64
	Prompt          string
	MaxLen          int
	TokenTimestamps bool
}

// Normalize validates o and fills defaults. Malformed values (negative, NaN,
// infinite, thresholds outside [0,1]) return a *ConfigurationError. Values
// that are well formed but out of range fall back to defaults.
func (o Options) Normalize() (Options, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"realtimeTotalCaptureSeconds", o.TotalCaptureSeconds},
		{"realtimeSliceSeconds", o.SliceSeconds},
		{"realtimeMinDurationSeconds", o.MinDurationSeconds},
		{"decode.temperature", o.Decode.Temperature},
		{"vad.freqThreshold", o.VAD.FreqThreshold},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return o, &ConfigurationError{Field: f.name, Reason: "must be a finite number"}
		}
		if f.v < 0 {
			return o, &ConfigurationError{Field: f.name, Reason: "must not be negative"}
		}
	}
	if o.SampleRate < 0 {
		return o, &ConfigurationError{Field: "sampleRate", Reason: "must not be negative"}
	}
	if o.ChunkSamples < 0 {
		return o, &ConfigurationError{Field: "chunkSamples", Reason: "must not be negative"}
	}
	if o.VAD.WindowMs < 0 || o.VAD.LastMs < 0 {
		return o, &ConfigurationError{Field: "vad", Reason: "window sizes must not be negative"}
	}
	if math.IsNaN(o.VAD.Threshold) || o.VAD.Threshold < 0 || o.VAD.Threshold > 1 {
		return o, &ConfigurationError{Field: "vad.threshold", Reason: "must be within [0,1]"}
	}
	if o.Decode.Threads < 0 || o.Decode.BeamSize < 0 || o.Decode.MaxLen < 0 {
		return o, &ConfigurationError{Field: "decode", Reason: "counts must not be negative"}
	}

	if o.SampleRate == 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.ChunkSamples == 0 {
		o.ChunkSamples = DefaultChunkSamples
	}
	if o.TotalCaptureSeconds == 0 {
		o.TotalCaptureSeconds = DefaultTotalCaptureSeconds
	}
	if o.SliceSeconds <= 0 || o.SliceSeconds >= o.TotalCaptureSeconds {
		o.SliceSeconds = o.TotalCaptureSeconds
	}
	if o.MinDurationSeconds < minDurationFloor || o.MinDurationSeconds > o.SliceSeconds {
		o.MinDurationSeconds = math.Min(DefaultMinDurationSeconds, o.SliceSeconds)
	}

	if o.VAD.WindowMs == 0 {
		o.VAD.WindowMs = DefaultVADWindowMs
	}
	if o.VAD.LastMs == 0 {
		o.VAD.LastMs = DefaultVADLastMs
	}
	if o.VAD.Threshold == 0 {
		o.VAD.Threshold = DefaultVADThreshold
	}
	if o.VAD.FreqThreshold == 0 {
		o.VAD.FreqThreshold = DefaultVADFreqThreshold
	}

	if o.SliceSamples() < o.ChunkSamples {
		return o, &ConfigurationError{
			Field:  "realtimeSliceSeconds",
			Reason: "slice must hold at least one capture chunk",
		}
	}
	return o, nil
}

// TotalSamples is the capture bound in samples.
func (o Options) TotalSamples() int {
	return int(o.TotalCaptureSeconds * float64(o.SampleRate))
}

// SliceSamples is the per-slice bound in samples.
func (o Options) SliceSamples() int {
	return int(o.SliceSeconds * float64(o.SampleRate))
}

// UsesSlices reports whether capture is split into more than one slice.
func (o Options) UsesSlices() bool {
	return o.SliceSeconds < o.TotalCaptureSeconds
}
