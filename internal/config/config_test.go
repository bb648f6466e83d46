package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ModelPath == "" {
		t.Error("ModelPath should not be empty")
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if len(cfg.Hotkey.Keys) != 3 {
		t.Errorf("Hotkey.Keys length = %d, want 3", len(cfg.Hotkey.Keys))
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkSamples != 1024 {
		t.Errorf("Audio.ChunkSamples = %d, want 1024", cfg.Audio.ChunkSamples)
	}
	if cfg.Realtime.TotalCaptureSeconds != 30 || cfg.Realtime.SliceSeconds != 25 {
		t.Errorf("Realtime = %+v", cfg.Realtime)
	}
	if cfg.Realtime.VAD.Enabled {
		t.Error("VAD should be disabled by default")
	}
	if cfg.Inject.Method != "type" {
		t.Errorf("Inject.Method = %q, want %q", cfg.Inject.Method, "type")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
model_path: /tmp/test-model.bin
audio:
  sample_rate: 16000
  channels: 2
  chunk_samples: 512
realtime:
  total_capture_seconds: 60
  slice_seconds: 20
  min_duration_seconds: 2
  speaker_turn_detection: true
  vad:
    enabled: true
    threshold: 0.5
  audio_output_path: /tmp/out.wav
whisper:
  language: de
  translate: true
  threads: 4
  beam_size: 5
hotkey:
  keys: ["alt", "d"]
  mode: toggle
inject:
  method: paste
server:
  addr: ":9000"
history:
  dsn: postgres://localhost/gostt
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ModelPath != "/tmp/test-model.bin" {
		t.Errorf("ModelPath = %q, want %q", cfg.ModelPath, "/tmp/test-model.bin")
	}
	if cfg.Audio.Channels != 2 || cfg.Audio.ChunkSamples != 512 {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Hotkey.Mode != "toggle" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "toggle")
	}
	if len(cfg.Hotkey.Keys) != 2 || cfg.Hotkey.Keys[0] != "alt" || cfg.Hotkey.Keys[1] != "d" {
		t.Errorf("Hotkey.Keys = %v, want [alt d]", cfg.Hotkey.Keys)
	}
	if cfg.Inject.Method != "paste" {
		t.Errorf("Inject.Method = %q, want %q", cfg.Inject.Method, "paste")
	}
	if cfg.Server.Addr != ":9000" || cfg.History.DSN != "postgres://localhost/gostt" {
		t.Errorf("Server = %+v, History = %+v", cfg.Server, cfg.History)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled default was lost")
	}

	opts := cfg.RealtimeOptions()
	if opts.TotalCaptureSeconds != 60 || opts.SliceSeconds != 20 || opts.MinDurationSeconds != 2 {
		t.Errorf("RealtimeOptions() bounds = %v/%v/%v", opts.TotalCaptureSeconds, opts.SliceSeconds, opts.MinDurationSeconds)
	}
	if !opts.SpeakerTurnDetection || !opts.VAD.Enabled || opts.VAD.Threshold != 0.5 || opts.VAD.WindowMs != 2000 {
		t.Errorf("RealtimeOptions() VAD = %+v", opts.VAD)
	}
	if opts.Decode.Language != "de" || !opts.Decode.Translate || opts.Decode.Threads != 4 || opts.Decode.BeamSize != 5 {
		t.Errorf("RealtimeOptions() Decode = %+v", opts.Decode)
	}
	if opts.ChunkSamples != 512 || opts.SampleRate != 16000 || opts.AudioOutputPath != "/tmp/out.wav" {
		t.Errorf("RealtimeOptions() = %+v", opts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeConfig(t, `
model_path: ~/models/test.bin
realtime:
  audio_output_path: ~/captures/last.wav
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "models/test.bin"); cfg.ModelPath != want {
		t.Errorf("ModelPath = %q, want %q", cfg.ModelPath, want)
	}
	if want := filepath.Join(home, "captures/last.wav"); cfg.Realtime.AudioOutputPath != want {
		t.Errorf("AudioOutputPath = %q, want %q", cfg.Realtime.AudioOutputPath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "hotkey: [unterminated")); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty model path",
			modify:  func(c *Config) { c.ModelPath = "" },
			wantErr: true,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid inject method",
			modify:  func(c *Config) { c.Inject.Method = "invalid" },
			wantErr: true,
		},
		{
			name:    "inject disabled",
			modify:  func(c *Config) { c.Inject.Method = "none" },
			wantErr: false,
		},
		{
			name:    "empty hotkey keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: true,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			modify:  func(c *Config) { c.Audio.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "negative slice seconds",
			modify:  func(c *Config) { c.Realtime.SliceSeconds = -1 },
			wantErr: true,
		},
		{
			name:    "vad threshold above one",
			modify:  func(c *Config) { c.Realtime.VAD.Threshold = 2 },
			wantErr: true,
		},
		{
			name:    "slice shorter than a chunk",
			modify:  func(c *Config) { c.Realtime.SliceSeconds = 0.01 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "ble without device",
			modify:  func(c *Config) { c.Inject.Method = "ble" },
			wantErr: true,
		},
		{
			name: "ble paired",
			modify: func(c *Config) {
				c.Inject.Method = "ble"
				c.Inject.BLE.DeviceAddress = "AA:BB:CC:DD:EE:FF"
				c.Inject.BLE.SharedSecret = testSecret
			},
			wantErr: false,
		},
		{
			name: "ble secret too short",
			modify: func(c *Config) {
				c.Inject.Method = "ble"
				c.Inject.BLE.DeviceAddress = "AA:BB:CC:DD:EE:FF"
				c.Inject.BLE.SharedSecret = "not-hex"
			},
			wantErr: true,
		},
		{
			name: "ble secret invalid hex",
			modify: func(c *Config) {
				c.Inject.Method = "ble"
				c.Inject.BLE.DeviceAddress = "AA:BB:CC:DD:EE:FF"
				c.Inject.BLE.SharedSecret = strings.Repeat("zz", 32)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBLEConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
inject:
  method: ble
  ble:
    device_address: "AA:BB:CC:DD:EE:FF"
    shared_secret: "`+testSecret+`"
    queue_size: 32
    reconnect_max: 15
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ble := cfg.Inject.BLE
	if ble.DeviceAddress != "AA:BB:CC:DD:EE:FF" || ble.QueueSize != 32 || ble.ReconnectMax != 15 {
		t.Errorf("Inject.BLE = %+v", ble)
	}
	key, err := ble.Secret()
	if err != nil {
		t.Fatalf("Secret() error = %v", err)
	}
	if len(key) != 32 || key[0] != 0x01 || key[1] != 0x23 {
		t.Errorf("Secret() = %x", key)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gostt-stream", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# gostt-stream") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("written config Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if cfg.Realtime.VAD.Threshold != 0.6 {
		t.Errorf("written config VAD.Threshold = %v, want 0.6", cfg.Realtime.VAD.Threshold)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "gostt-stream")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existing := []byte("model_path: /custom/model.bin\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existing, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existing) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
