package realtime

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Options
		wantTotal  float64
		wantSlice  float64
		wantMin    float64
		wantSlices bool
	}{
		{"defaults", Options{}, 30, 30, 1, false},
		{"slice within total", Options{TotalCaptureSeconds: 60, SliceSeconds: 25}, 60, 25, 1, true},
		{"slice equal to total", Options{TotalCaptureSeconds: 10, SliceSeconds: 10}, 10, 10, 1, false},
		{"slice above total", Options{TotalCaptureSeconds: 10, SliceSeconds: 20}, 10, 10, 1, false},
		{"min in range", Options{SliceSeconds: 5, TotalCaptureSeconds: 10, MinDurationSeconds: 2.5}, 10, 5, 2.5, true},
		{"min at floor", Options{MinDurationSeconds: 0.5}, 30, 30, 0.5, false},
		{"min below floor", Options{MinDurationSeconds: 0.2}, 30, 30, 1, false},
		{"min above slice", Options{TotalCaptureSeconds: 10, SliceSeconds: 3, MinDurationSeconds: 4}, 10, 3, 1, true},
		{"short slice caps default min", Options{TotalCaptureSeconds: 10, SliceSeconds: 0.8}, 10, 0.8, 0.8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got.TotalCaptureSeconds != tt.wantTotal || got.SliceSeconds != tt.wantSlice || got.MinDurationSeconds != tt.wantMin {
				t.Errorf("Normalize() = total %v slice %v min %v, want %v %v %v",
					got.TotalCaptureSeconds, got.SliceSeconds, got.MinDurationSeconds,
					tt.wantTotal, tt.wantSlice, tt.wantMin)
			}
			if got.UsesSlices() != tt.wantSlices {
				t.Errorf("UsesSlices() = %v, want %v", got.UsesSlices(), tt.wantSlices)
			}
			if got.SampleRate != DefaultSampleRate || got.ChunkSamples != DefaultChunkSamples {
				t.Errorf("audio defaults = %d/%d", got.SampleRate, got.ChunkSamples)
			}
		})
	}
}

func TestNormalizeVADDefaults(t *testing.T) {
	got, err := Options{}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if got.VAD.WindowMs != 2000 || got.VAD.LastMs != 1000 || got.VAD.Threshold != 0.6 || got.VAD.FreqThreshold != 100 {
		t.Errorf("VAD defaults = %+v", got.VAD)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		in   Options
	}{
		{"negative total", Options{TotalCaptureSeconds: -1}},
		{"negative slice", Options{SliceSeconds: -3}},
		{"nan min", Options{MinDurationSeconds: math.NaN()}},
		{"infinite total", Options{TotalCaptureSeconds: math.Inf(1)}},
		{"negative sample rate", Options{SampleRate: -16000}},
		{"vad threshold above one", Options{VAD: VADOptions{Threshold: 1.5}}},
		{"negative threads", Options{Decode: DecodeOptions{Threads: -2}}},
		{"slice smaller than chunk", Options{TotalCaptureSeconds: 10, SliceSeconds: 0.01, ChunkSamples: 1024}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Normalize()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Normalize() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestTotalAndSliceSamples(t *testing.T) {
	o, err := Options{TotalCaptureSeconds: 10, SliceSeconds: 3}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if o.TotalSamples() != 160000 || o.SliceSamples() != 48000 {
		t.Errorf("samples = %d/%d, want 160000/48000", o.TotalSamples(), o.SliceSamples())
	}
}
