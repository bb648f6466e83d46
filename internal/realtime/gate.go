package realtime

// Gate decides whether captured audio justifies an inference call.
type Gate struct {
	engine     Engine
	job        JobID
	sampleRate int
	minSeconds float64
	inFlight   func() bool
}

// IsSpeech reports speech for the window ending at prior+n of slice
// sliceIndex. While a transcription is in flight it always reports true.
func (g *Gate) IsSpeech(sliceIndex, prior, n int) bool {
	if g.inFlight != nil && g.inFlight() {
		return true
	}
	return g.engine.DetectVoiceActivity(g.job, sliceIndex, prior, n)
}

// HasMinimumDuration reports whether n samples reach the minimum duration.
func (g *Gate) HasMinimumDuration(n int) bool {
	return float64(n) >= g.minSeconds*float64(g.sampleRate)
}
