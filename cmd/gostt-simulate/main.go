// Command gostt-simulate replays a WAV file through a streaming session as if
// it were a microphone and prints every event. With -reference it scores the
// merged transcript against the expected text.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/realtime"
	"github.com/chaz8081/gostt-stream/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in defaults)")
	modelPath := flag.String("model", "", "override model_path from the config")
	paced := flag.Bool("paced", true, "deliver audio at real-time speed")
	stopAfter := flag.Duration("stop-after", 0, "stop the job after this long (0 lets the file run out)")
	slice := flag.Float64("slice", 0, "override realtime.slice_seconds")
	reference := flag.String("reference", "", "expected transcript; prints the word error rate")
	asJSON := flag.Bool("json", false, "print events as JSON lines")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: gostt-simulate [flags] file.wav")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *slice > 0 {
		cfg.Realtime.SliceSeconds = *slice
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config validation:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	text, err := simulate(ctx, cfg, flag.Arg(0), *paced, *stopAfter, *asJSON, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
	fmt.Println("Transcript:", text)

	if *reference != "" {
		score := transcribe.ScoreTranscript(*reference, text)
		fmt.Printf("WER: %.2f%% (S=%d I=%d D=%d, %d reference words)\n",
			score.Rate*100, score.Substitutions, score.Insertions, score.Deletions, score.Reference)
	}
}

func simulate(ctx context.Context, cfg *config.Config, path string, paced bool, stopAfter time.Duration, asJSON bool, logger *slog.Logger) (string, error) {
	opts := cfg.RealtimeOptions()

	// Probe the file once so a bad path fails before the model loads.
	probe, err := audio.OpenFile(path, opts.SampleRate, false)
	if err != nil {
		return "", err
	}
	fmt.Printf("Replaying %s (%.1fs)\n", path, float64(probe.Len())/float64(opts.SampleRate))
	_ = probe.Close()

	opener := func() (realtime.Device, error) {
		f, err := audio.OpenFile(path, opts.SampleRate, paced)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	var transcript string
	done := make(chan struct{})
	assembler := realtime.NewAssembler(func(_ realtime.Event, t *realtime.Transcript) {
		transcript = t.Text()
		close(done)
	})
	printer := realtime.SinkFunc(func(e realtime.Event) { printEvent(e, asJSON) })

	registry := realtime.NewRegistry(transcribe.NewEngine(logger), opener,
		realtime.WithLogger(logger),
		realtime.WithSink(realtime.MultiSink{printer, assembler}),
	)
	defer func() {
		if err := registry.ReleaseAll(context.Background()); err != nil {
			logger.Warn("release contexts", "err", err)
		}
	}()

	sess, err := registry.Create(cfg.ModelPath)
	if err != nil {
		return "", err
	}
	const job realtime.JobID = 1
	if err := sess.Start(ctx, job, opts); err != nil {
		return "", err
	}

	var timeout <-chan time.Time
	if stopAfter > 0 {
		timer := time.NewTimer(stopAfter)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		sess.Stop(job)
	case <-ctx.Done():
		sess.Stop(job)
	}
	<-done
	return transcript, nil
}

func printEvent(e realtime.Event, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}
	p := e.Payload
	switch e.Type {
	case realtime.EventSessionStart:
		fmt.Printf("[start]   job=%d slices=%v\n", e.JobID, p.UsesSlices)
	case realtime.EventInterimResult, realtime.EventFinalResult:
		tag := "[interim]"
		if e.Terminal() {
			tag = "[final]  "
		}
		if p.Error != "" {
			fmt.Printf("%s slice=%d code=%d error=%s\n", tag, p.SliceIndex, p.Code, p.Error)
			return
		}
		fmt.Printf("%s slice=%d rec=%dms proc=%dms capturing=%v %q\n",
			tag, p.SliceIndex, p.RecordingTimeMs, p.ProcessTimeMs, p.IsCapturing, strings.TrimSpace(p.Text))
	}
}
