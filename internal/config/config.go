// Package config loads the YAML configuration of gostt-stream.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// Config holds all application configuration.
type Config struct {
	ModelPath string         `yaml:"model_path"`
	Audio     AudioConfig    `yaml:"audio"`
	Realtime  RealtimeConfig `yaml:"realtime"`
	Whisper   WhisperConfig  `yaml:"whisper"`
	Hotkey    HotkeyConfig   `yaml:"hotkey"`
	Inject    InjectConfig   `yaml:"inject"`
	Server    ServerConfig   `yaml:"server"`
	History   HistoryConfig  `yaml:"history"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	LogLevel  string         `yaml:"log_level"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate   uint32 `yaml:"sample_rate"`
	Channels     uint32 `yaml:"channels"`
	ChunkSamples int    `yaml:"chunk_samples"`
}

// RealtimeConfig holds the streaming job options.
type RealtimeConfig struct {
	TotalCaptureSeconds     float64   `yaml:"total_capture_seconds"`
	SliceSeconds            float64   `yaml:"slice_seconds"`
	MinDurationSeconds      float64   `yaml:"min_duration_seconds"`
	SpeakerTurnDetection    bool      `yaml:"speaker_turn_detection"`
	EmitProgress            bool      `yaml:"emit_progress"`
	EmitIncrementalSegments bool      `yaml:"emit_incremental_segments"`
	VAD                     VADConfig `yaml:"vad"`
	AudioOutputPath         string    `yaml:"audio_output_path"`
}

// VADConfig holds energy detector settings.
type VADConfig struct {
	Enabled       bool    `yaml:"enabled"`
	WindowMs      int     `yaml:"window_ms"`
	LastMs        int     `yaml:"last_ms"`
	Threshold     float64 `yaml:"threshold"`
	FreqThreshold float64 `yaml:"freq_threshold"`
}

// WhisperConfig holds decoding settings passed to whisper.
type WhisperConfig struct {
	Language        string  `yaml:"language"`
	Translate       bool    `yaml:"translate"`
	Threads         int     `yaml:"threads"`
	BeamSize        int     `yaml:"beam_size"`
	Temperature     float64 `yaml:"temperature"`
	Prompt          string  `yaml:"prompt"`
	MaxLen          int     `yaml:"max_len"`
	TokenTimestamps bool    `yaml:"token_timestamps"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// InjectConfig holds transcript delivery settings.
type InjectConfig struct {
	Method string    `yaml:"method"` // "type", "paste", "ble" or "none"
	BLE    BLEConfig `yaml:"ble"`
}

// BLEConfig holds the paired BLE receiver.
type BLEConfig struct {
	DeviceAddress string `yaml:"device_address"`
	SharedSecret  string `yaml:"shared_secret"` // 64 hex characters
	ServiceUUID   string `yaml:"service_uuid"`
	TXCharUUID    string `yaml:"tx_char_uuid"`
	QueueSize     int    `yaml:"queue_size"`
	ReconnectMax  int    `yaml:"reconnect_max"` // seconds
}

// ServerConfig holds the event stream and health endpoint listener.
type ServerConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// HistoryConfig holds transcript persistence settings.
type HistoryConfig struct {
	DSN string `yaml:"dsn"` // Postgres DSN; empty keeps history in memory
}

// MetricsConfig toggles the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-stream")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ModelPath: "models/ggml-base.en.bin",
		Audio: AudioConfig{
			SampleRate:   realtime.DefaultSampleRate,
			Channels:     1,
			ChunkSamples: realtime.DefaultChunkSamples,
		},
		Realtime: RealtimeConfig{
			TotalCaptureSeconds: realtime.DefaultTotalCaptureSeconds,
			SliceSeconds:        25,
			MinDurationSeconds:  realtime.DefaultMinDurationSeconds,
			VAD: VADConfig{
				WindowMs:      realtime.DefaultVADWindowMs,
				LastMs:        realtime.DefaultVADLastMs,
				Threshold:     realtime.DefaultVADThreshold,
				FreqThreshold: realtime.DefaultVADFreqThreshold,
			},
		},
		Whisper: WhisperConfig{
			Language: "en",
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
			Mode: "hold",
		},
		Inject: InjectConfig{
			Method: "type",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelPath = expandTilde(cfg.ModelPath)
	cfg.Realtime.AudioOutputPath = expandTilde(cfg.Realtime.AudioOutputPath)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path must not be empty")
	}
	if c.Audio.SampleRate == 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return errors.New("audio.channels must be > 0")
	}
	if _, err := c.RealtimeOptions().Normalize(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}

	if len(c.Hotkey.Keys) == 0 {
		return errors.New("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.Inject.Method {
	case "type", "paste", "none":
	case "ble":
		if c.Inject.BLE.DeviceAddress == "" {
			return errors.New("inject.ble.device_address is required when inject.method is \"ble\"")
		}
		if _, err := c.Inject.BLE.Secret(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("inject.method must be \"type\", \"paste\", \"ble\" or \"none\", got %q", c.Inject.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// Secret decodes the shared secret.
func (b BLEConfig) Secret() ([]byte, error) {
	if len(b.SharedSecret) != 64 {
		return nil, fmt.Errorf("inject.ble.shared_secret must be 64 hex characters, got %d", len(b.SharedSecret))
	}
	key, err := hex.DecodeString(b.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("inject.ble.shared_secret is not valid hex: %w", err)
	}
	return key, nil
}

// RealtimeOptions maps the config onto streaming job options. The result
// is not normalized.
func (c *Config) RealtimeOptions() realtime.Options {
	r := c.Realtime
	return realtime.Options{
		TotalCaptureSeconds:     r.TotalCaptureSeconds,
		SliceSeconds:            r.SliceSeconds,
		MinDurationSeconds:      r.MinDurationSeconds,
		SpeakerTurnDetection:    r.SpeakerTurnDetection,
		EmitProgress:            r.EmitProgress,
		EmitIncrementalSegments: r.EmitIncrementalSegments,
		SampleRate:              int(c.Audio.SampleRate),
		ChunkSamples:            c.Audio.ChunkSamples,
		VAD: realtime.VADOptions{
			Enabled:       r.VAD.Enabled,
			WindowMs:      r.VAD.WindowMs,
			LastMs:        r.VAD.LastMs,
			Threshold:     r.VAD.Threshold,
			FreqThreshold: r.VAD.FreqThreshold,
		},
		Decode: realtime.DecodeOptions{
			Language:        c.Whisper.Language,
			Translate:       c.Whisper.Translate,
			Threads:         c.Whisper.Threads,
			BeamSize:        c.Whisper.BeamSize,
			Temperature:     c.Whisper.Temperature,
			Prompt:          c.Whisper.Prompt,
			MaxLen:          c.Whisper.MaxLen,
			TokenTimestamps: c.Whisper.TokenTimestamps,
		},
		AudioOutputPath: r.AudioOutputPath,
	}
}

// ParseLogLevel maps a config level name to a slog level. Unknown names
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const header = "# gostt-stream configuration\n"

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
