package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/chaz8081/gostt-stream/internal/ble"
	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/history"
	"github.com/chaz8081/gostt-stream/internal/hotkey"
	"github.com/chaz8081/gostt-stream/internal/inject"
	"github.com/chaz8081/gostt-stream/internal/models"
	"github.com/chaz8081/gostt-stream/internal/observe"
	"github.com/chaz8081/gostt-stream/internal/realtime"
	"github.com/chaz8081/gostt-stream/internal/server"
	"github.com/chaz8081/gostt-stream/internal/transcribe"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-stream/config.yaml)")
	filePath := flag.String("file", "", "transcribe a 16-bit mono WAV file in one shot and exit")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	bleScan := flag.Bool("ble-scan", false, "list nearby BLE receivers and exit")
	downloadModel := flag.String("download-model", "", "download a whisper model (e.g. base.en) next to model_path and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write config", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *downloadModel != "" {
		path, err := models.Download(ctx, *downloadModel, filepath.Dir(cfg.ModelPath), os.Stdout)
		if err != nil {
			fatal("download model", err)
		}
		fmt.Println("Model ready at", path)
		return
	}

	if *bleScan {
		if err := scanBLE(ctx, cfg); err != nil {
			fatal("ble scan", err)
		}
		return
	}

	if *filePath != "" {
		if err := transcribeFile(ctx, cfg, *filePath, logger); err != nil {
			fatal("transcribe file", err)
		}
		return
	}

	printBanner(cfg)
	if err := run(ctx, cfg, logger); err != nil {
		fatal("gostt-stream", err)
	}
	logger.Info("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	os.Exit(0)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("metrics shutdown", "err", err)
			}
		}()
	}

	store, checks, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	recorder := history.NewRecorder(store, logger)
	defer recorder.Close()

	hub := server.NewHub(logger)
	sinks := realtime.MultiSink{logSink(logger), hub, recorder}

	injector, closeInjector, err := openInjector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeInjector()
	if injector != nil {
		sinks = append(sinks, inject.NewSink(injector, logger))
	}
	logger.Info("Text injector ready", "method", cfg.Inject.Method)

	logger.Info("Loading whisper model...", "path", cfg.ModelPath)
	modelStart := time.Now()
	registry := realtime.NewRegistry(transcribe.NewEngine(logger), micOpener(cfg, logger),
		realtime.WithLogger(logger),
		realtime.WithSink(sinks),
	)
	sess, err := registry.Create(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("%w\n\nCheck that the model file exists at: %s\nRun 'gostt-stream -download-model base.en' to download it", err, cfg.ModelPath)
	}
	logger.Info("Model loaded", "elapsed", time.Since(modelStart).Round(time.Millisecond))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Addr != "" {
		srv := server.New(hub, server.Options{
			Addr:    cfg.Server.Addr,
			Metrics: cfg.Metrics.Enabled,
			Checks:  append([]server.Check{server.ContextsLoaded(registry)}, checks...),
			Logger:  logger,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
	go listener.Start()
	logger.Info("Ready! Press " + strings.Join(cfg.Hotkey.Keys, "+") + " to dictate. Ctrl+C to quit.")

	g.Go(func() error {
		dictate(gctx, sess, listener.Events(), cfg.RealtimeOptions(), logger)
		return nil
	})

	<-gctx.Done()
	logger.Info("Shutting down...")

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := registry.ReleaseAll(releaseCtx); err != nil {
		logger.Warn("Release incomplete", "err", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dictate maps hotkey events onto streaming jobs of sess until ctx ends.
func dictate(ctx context.Context, sess *realtime.Session, events <-chan hotkey.Event, opts realtime.Options, logger *slog.Logger) {
	var job realtime.JobID
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Info("Hotkey listener stopped")
				return
			}
			switch ev.Type {
			case hotkey.EventStart:
				job++
				if err := sess.Start(ctx, job, opts); err != nil {
					logger.Error("failed to start streaming", "job_id", int(job), "err", err)
					continue
				}
				logger.Info("Recording...", "job_id", int(job))
			case hotkey.EventStop:
				// Stop waits for the final inference; keep reading hotkeys.
				go sess.Stop(job)
			}
		}
	}
}

func micOpener(cfg *config.Config, logger *slog.Logger) realtime.DeviceOpener {
	return func() (realtime.Device, error) {
		mic, err := audio.NewMic(cfg.Audio.SampleRate, cfg.Audio.Channels, logger)
		if err != nil {
			return nil, fmt.Errorf("%w (ensure microphone access is granted)", err)
		}
		return mic, nil
	}
}

// logSink prints results as they arrive.
func logSink(logger *slog.Logger) realtime.Sink {
	return realtime.SinkFunc(func(e realtime.Event) {
		switch e.Type {
		case realtime.EventInterimResult, realtime.EventFinalResult:
			p := e.Payload
			if p.Error != "" {
				logger.Warn("transcription failed", "job_id", int(e.JobID), "slice", p.SliceIndex, "err", p.Error)
				return
			}
			logger.Info(string(e.Type),
				"job_id", int(e.JobID),
				"slice", p.SliceIndex,
				"capturing", p.IsCapturing,
				"process_ms", p.ProcessTimeMs,
				"text", strings.TrimSpace(p.Text),
			)
		}
	})
}

func openHistory(ctx context.Context, cfg *config.Config) (history.Store, []server.Check, error) {
	if cfg.History.DSN == "" {
		return history.NewMemory(), nil, nil
	}
	pg, err := history.NewPostgres(ctx, cfg.History.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, []server.Check{{Name: "history", Fn: pg.Ping}}, nil
}

func openInjector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (inject.TextInjector, func(), error) {
	switch cfg.Inject.Method {
	case "none":
		return nil, func() {}, nil
	case "ble":
		b := cfg.Inject.BLE
		secret, err := b.Secret()
		if err != nil {
			return nil, nil, err
		}
		opts := ble.DefaultClientOptions()
		if b.QueueSize > 0 {
			opts.QueueSize = b.QueueSize
		}
		if b.ReconnectMax > 0 {
			opts.ReconnectMax = b.ReconnectMax
		}
		if b.ServiceUUID != "" {
			opts.Profile.Service = b.ServiceUUID
		}
		if b.TXCharUUID != "" {
			opts.Profile.TX = b.TXCharUUID
		}
		opts.Logger = logger
		client, err := ble.NewClient(ble.NewRadio(), b.DeviceAddress, secret, opts)
		if err != nil {
			return nil, nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := client.Connect(cctx); err != nil {
			return nil, nil, fmt.Errorf("ble connect %s: %w", b.DeviceAddress, err)
		}
		return inject.NewBLEInjector(client), func() { _ = client.Close() }, nil
	default:
		return inject.NewInjector(cfg.Inject.Method), func() {}, nil
	}
}

func scanBLE(ctx context.Context, cfg *config.Config) error {
	radio := ble.NewRadio()
	if err := radio.Enable(); err != nil {
		return err
	}
	service := cfg.Inject.BLE.ServiceUUID
	if service == "" {
		service = ble.DefaultProfile().Service
	}
	fmt.Println("Scanning for 10s...")
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	devices, err := radio.Scan(sctx, service)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No receivers found.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %-20s %s  (RSSI %d)\n", d.Name, d.Address, d.RSSI)
	}
	return nil
}

func transcribeFile(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) error {
	samples, rate, err := audio.LoadWAV(path)
	if err != nil {
		return err
	}
	opts := cfg.RealtimeOptions()
	if rate != opts.SampleRate {
		return fmt.Errorf("%s: sample rate %d Hz, want %d Hz", path, rate, opts.SampleRate)
	}

	registry := realtime.NewRegistry(transcribe.NewEngine(logger), nil, realtime.WithLogger(logger))
	defer func() {
		if err := registry.ReleaseAll(context.Background()); err != nil {
			logger.Warn("release contexts", "err", err)
		}
	}()
	sess, err := registry.Create(cfg.ModelPath)
	if err != nil {
		return err
	}

	res, err := sess.OneShot(ctx, 1, samples, opts)
	if err != nil {
		return err
	}
	if res.IsAborted {
		return errors.New("transcription aborted")
	}
	if res.Code != realtime.StatusOK {
		return fmt.Errorf("transcription failed with code %d", res.Code)
	}
	logger.Info("Transcribed", "elapsed", res.Elapsed.Round(time.Millisecond), "segments", len(res.Segments))
	fmt.Println(res.Text)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func printBanner(cfg *config.Config) {
	opts, _ := cfg.RealtimeOptions().Normalize()
	fmt.Println("=== gostt-stream ===")
	fmt.Printf("  Model:   %s\n", cfg.ModelPath)
	fmt.Printf("  Hotkey:  %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Audio:   %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Slices:  %.0fs of %.0fs (min %.1fs)\n", opts.SliceSeconds, opts.TotalCaptureSeconds, opts.MinDurationSeconds)
	fmt.Printf("  VAD:     %v\n", cfg.Realtime.VAD.Enabled)
	fmt.Printf("  Inject:  %s\n", cfg.Inject.Method)
	if cfg.Server.Addr != "" {
		fmt.Printf("  Server:  http://%s/events\n", cfg.Server.Addr)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
