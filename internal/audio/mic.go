// Package audio provides capture devices for realtime sessions: the default
// microphone through malgo and WAV file replay, plus WAV helpers.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// micQueue is the number of callback buffers held before the oldest is
// dropped.
const micQueue = 256

// Mic captures 16-bit PCM from the default microphone. Multi-channel input
// is averaged down to mono. A Mic serves one streaming job: Start once,
// Read until io.EOF, then Close.
type Mic struct {
	logger     *slog.Logger
	sampleRate uint32
	channels   uint32

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames  chan []int16
	done    chan struct{}
	pending []int16
	dropped atomic.Int64

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewMic initializes the audio backend. Call Close when done.
func NewMic(sampleRate, channels uint32, logger *slog.Logger) (*Mic, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Mic{
		logger:     logger.With("component", "audio"),
		sampleRate: sampleRate,
		channels:   max(channels, 1),
		ctx:        ctx,
		frames:     make(chan []int16, micQueue),
		done:       make(chan struct{}),
	}, nil
}

// Start begins capturing from the default microphone.
func (m *Mic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("audio: microphone already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = m.channels
	cfg.SampleRate = m.sampleRate

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		return fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting capture device: %w", err)
	}
	m.device = device
	m.started = true
	m.logger.Debug("[audio] microphone started", "sample_rate", m.sampleRate, "channels", m.channels)
	return nil
}

// Read blocks until captured samples are available and copies them into
// buf. It returns io.EOF once the microphone is stopped.
func (m *Mic) Read(buf []int16) (int, error) {
	if len(m.pending) == 0 {
		select {
		case f := <-m.frames:
			m.pending = f
		case <-m.done:
			return 0, io.EOF
		}
	}
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Stop ends the capture. Pending Reads return io.EOF.
func (m *Mic) Stop() error {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		if m.device != nil {
			m.device.Uninit()
			m.device = nil
		}
		m.mu.Unlock()
		if d := m.dropped.Load(); d > 0 {
			m.logger.Warn("[audio] capture buffers dropped", "count", d)
		}
	})
	return nil
}

// Close stops the device and releases the audio context.
func (m *Mic) Close() error {
	_ = m.Stop()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	if err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	return nil
}

// onData is the malgo callback. pSample holds interleaved little-endian
// int16 frames.
func (m *Mic) onData(_, pSample []byte, frameCount uint32) {
	samples := downmix(pSample, frameCount, m.channels)
	if len(samples) == 0 {
		return
	}
	select {
	case m.frames <- samples:
	default:
		select {
		case <-m.frames:
		default:
		}
		m.dropped.Add(1)
		select {
		case m.frames <- samples:
		default:
		}
	}
}

// downmix converts interleaved int16 frames to mono by averaging channels.
func downmix(data []byte, frameCount, channels uint32) []int16 {
	frames := min(int(frameCount), len(data)/(2*int(channels)))
	out := make([]int16, frames)
	for i := range out {
		var sum int32
		for c := 0; c < int(channels); c++ {
			off := (i*int(channels) + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
