package transcribe

import (
	"math"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// DetectVoice reports whether the tail of window carries speech. The window
// is high-pass filtered at opts.FreqThreshold, then the mean energy of the
// last opts.LastMs is compared against opts.Threshold times the mean energy
// of the whole window. It returns true when the tail is quiet, i.e. the
// speaker paused after talking.
func DetectVoice(window []float32, sampleRate int, opts realtime.VADOptions) bool {
	n := len(window)
	last := sampleRate * opts.LastMs / 1000
	if n == 0 || last >= n {
		return false
	}

	data := make([]float64, n)
	for i, v := range window {
		data[i] = float64(v)
	}
	if opts.FreqThreshold > 0 {
		highPass(data, opts.FreqThreshold, float64(sampleRate))
	}

	var all, tail float64
	for i, v := range data {
		a := math.Abs(v)
		all += a
		if i >= n-last {
			tail += a
		}
	}
	all /= float64(n)
	tail /= float64(last)

	return tail <= opts.Threshold*all
}

// highPass applies a first order RC high-pass filter in place.
func highPass(data []float64, cutoff, sampleRate float64) {
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / sampleRate
	alpha := dt / (rc + dt)

	y := data[0]
	for i := 1; i < len(data); i++ {
		y = alpha * (y + data[i] - data[i-1])
		data[i] = y
	}
}
