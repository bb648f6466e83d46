package inject

import (
	"log/slog"
	"strings"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// NewSink returns a realtime.Sink that delivers the merged transcript of
// every finished streaming or one-shot job. A trailing space keeps
// consecutive dictations apart.
func NewSink(inj TextInjector, logger *slog.Logger) realtime.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "inject")
	return realtime.NewAssembler(func(e realtime.Event, t *realtime.Transcript) {
		text := strings.TrimSpace(t.Text())
		if text == "" {
			return
		}
		if err := inj.Inject(text + " "); err != nil {
			logger.Error("[inject] deliver transcript", "context_id", uint64(e.ContextID), "job_id", int(e.JobID), "err", err)
			return
		}
		logger.Debug("[inject] delivered", "job_id", int(e.JobID), "chars", len(text))
	})
}
