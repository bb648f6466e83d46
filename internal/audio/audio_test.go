package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"
)

func TestNewMicAndClose(t *testing.T) {
	m, err := NewMic(16000, 2, nil)
	if err != nil {
		t.Skipf("no audio backend: %v", err)
	}
	if m.sampleRate != 16000 || m.channels != 2 {
		t.Errorf("mic = %d Hz, %d channels", m.sampleRate, m.channels)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMicReadAfterStop(t *testing.T) {
	m := &Mic{frames: make(chan []int16, 4), done: make(chan struct{})}
	m.frames <- []int16{1, 2, 3}

	buf := make([]int16, 2)
	if n, err := m.Read(buf); n != 2 || err != nil {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if n, err := m.Read(buf); n != 1 || err != nil || buf[0] != 3 {
		t.Fatalf("Read() = %d, %v, buf %v", n, err, buf)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Read(buf)
		done <- err
	}()
	close(m.done)
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Read() after stop = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() still blocked after stop")
	}
}

func TestMicDropsOldestWhenFull(t *testing.T) {
	m := &Mic{frames: make(chan []int16, 1), done: make(chan struct{}), channels: 1}
	frame := func(v int16) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b
	}
	m.onData(nil, frame(1), 1)
	m.onData(nil, frame(2), 1)

	if got := <-m.frames; got[0] != 2 {
		t.Errorf("queued frame = %v, want the newest", got)
	}
	if m.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", m.dropped.Load())
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		frames   uint32
		channels uint32
		want     []int16
	}{
		{"mono", []int16{1, -2, 3}, 3, 1, []int16{1, -2, 3}},
		{"stereo", []int16{100, 200, -100, -300}, 2, 2, []int16{150, -200}},
		{"short buffer", []int16{5, 6, 7}, 4, 2, []int16{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, 2*len(tt.samples))
			for i, s := range tt.samples {
				binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
			}
			got := downmix(data, tt.frames, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("downmix() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("downmix()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteWAVAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.wav")
	samples := []int16{0, 1000, -1000, 32767, -32768, 7}
	if err := WriteWAV(path, samples, 16000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	f, err := OpenFile(path, 16000, false)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if f.Len() != len(samples) {
		t.Fatalf("Len() = %d, want %d", f.Len(), len(samples))
	}
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}

	var got []int16
	buf := make([]int16, 4)
	for {
		n, err := f.Read(buf)
		got = append(got, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}
	if len(got) != len(samples) {
		t.Fatalf("replayed %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}

	floats, rate, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV() error = %v", err)
	}
	if rate != 16000 || len(floats) != len(samples) || floats[1] != 1000.0/32768 {
		t.Errorf("LoadWAV() = %d Hz, %v", rate, floats)
	}
}

func TestFileStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := WriteWAV(path, make([]int16, 100), 16000); err != nil {
		t.Fatal(err)
	}
	f, err := OpenFile(path, 16000, false)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Start()
	_ = f.Stop()
	if _, err := f.Read(make([]int16, 10)); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after Stop = %v, want io.EOF", err)
	}
}

func TestFilePacedRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paced.wav")
	if err := WriteWAV(path, make([]int16, 1600), 16000); err != nil {
		t.Fatal(err)
	}
	f, err := OpenFile(path, 16000, true)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Start()
	begin := time.Now()
	if _, err := f.Read(make([]int16, 1600)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(begin); elapsed < 90*time.Millisecond {
		t.Errorf("paced read of 100ms of audio returned after %v", elapsed)
	}
}

func TestOpenFileErrors(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.wav"), 16000, false); err == nil {
		t.Error("OpenFile() accepted a missing file")
	}
	path := filepath.Join(t.TempDir(), "8k.wav")
	if err := WriteWAV(path, make([]int16, 10), 8000); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path, 16000, false); err == nil {
		t.Error("OpenFile() accepted a mismatched sample rate")
	}
}
