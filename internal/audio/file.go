package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// File replays a 16-bit mono WAV file as a capture device. With realtime
// pacing each Read is delayed to match the audio's wall clock duration.
type File struct {
	samples    []int16
	sampleRate int
	paced      bool

	mu      sync.Mutex
	pos     int
	started time.Time
	stopped bool
}

// OpenFile decodes path. The file must be mono and sampled at sampleRate.
func OpenFile(path string, sampleRate int, paced bool) (*File, error) {
	samples, rate, err := readPCM(path)
	if err != nil {
		return nil, err
	}
	if rate != sampleRate {
		return nil, fmt.Errorf("audio: %s is sampled at %d Hz, want %d", path, rate, sampleRate)
	}
	return &File{samples: samples, sampleRate: rate, paced: paced}, nil
}

func (f *File) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = time.Now()
	return nil
}

// Read copies the next samples into buf and returns io.EOF at the end of the
// file or after Stop.
func (f *File) Read(buf []int16) (int, error) {
	f.mu.Lock()
	if f.stopped || f.pos >= len(f.samples) {
		f.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(buf, f.samples[f.pos:])
	f.pos += n
	due := f.started.Add(time.Duration(f.pos) * time.Second / time.Duration(f.sampleRate))
	f.mu.Unlock()

	if f.paced {
		time.Sleep(time.Until(due))
	}
	return n, nil
}

func (f *File) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *File) Close() error { return f.Stop() }

// Len returns the number of samples in the file.
func (f *File) Len() int { return len(f.samples) }

// LoadWAV decodes a mono 16-bit WAV file into float32 samples in [-1, 1).
func LoadWAV(path string) ([]float32, int, error) {
	pcm, rate, err := readPCM(path)
	if err != nil {
		return nil, 0, err
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out, rate, nil
}

func readPCM(path string) ([]int16, int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer func() { _ = fh.Close() }()

	buf, err := wav.NewDecoder(fh).FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, 0, errors.New("audio: only mono WAV files are supported")
	}
	if buf.SourceBitDepth != 16 {
		return nil, 0, fmt.Errorf("audio: %s has %d-bit samples, want 16", path, buf.SourceBitDepth)
	}
	pcm := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		pcm[i] = int16(s)
	}
	return pcm, buf.Format.SampleRate, nil
}
