package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Format != "flac" || cfg.Recognizer.Locale != "en-US" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Recognizer.FallbackConfidence != 0.8 {
		t.Fatalf("expected fallback confidence 0.8, got %v", cfg.Recognizer.FallbackConfidence)
	}
	if cfg.Session.TickInterval() != time.Second {
		t.Fatalf("expected 1s tick, got %v", cfg.Session.TickInterval())
	}
	if cfg.Session.WaveformInterval() != time.Second/60 {
		t.Fatalf("expected 60 Hz waveform, got %v", cfg.Session.WaveformInterval())
	}
	if cfg.Bus.Enabled {
		t.Fatal("bus should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxcoach.yaml")
	data := `
audio:
  format: wav
  device: USB Mic
recognizer:
  locale: de-DE
  backoff_max_ms: 8000
session:
  exercise: Tongue Twisters
bus:
  enabled: true
  servers: [nats://bus:4222]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Format != "wav" || cfg.Audio.Device != "USB Mic" {
		t.Fatalf("audio = %+v", cfg.Audio)
	}
	if cfg.Recognizer.Locale != "de-DE" || cfg.Recognizer.BackoffMax() != 8*time.Second {
		t.Fatalf("recognizer = %+v", cfg.Recognizer)
	}
	// unset keys keep their defaults
	if cfg.Recognizer.BackoffMinMS != 250 || cfg.Bus.SubjectPrefix != "voxcoach.session" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if !cfg.Bus.Enabled || cfg.Bus.Servers[0] != "nats://bus:4222" {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("audio: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXCOACH_AUDIO_FORMAT", "wav")
	t.Setenv("VOXCOACH_RECOGNIZER_PROVIDER", "fake")
	t.Setenv("VOXCOACH_RECOGNIZER_FALLBACK_CONFIDENCE", "0.6")
	t.Setenv("VOXCOACH_SESSION_TICK_INTERVAL_MS", "0")
	t.Setenv("VOXCOACH_BUS_ENABLED", "true")
	t.Setenv("VOXCOACH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXCOACH_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("VOXCOACH_UI_CLIPBOARD", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Format != "wav" || cfg.Recognizer.Provider != "fake" {
		t.Fatalf("expected audio/recognizer overrides, got %+v", cfg)
	}
	if cfg.Recognizer.FallbackConfidence != 0.6 {
		t.Fatalf("expected fallback override, got %v", cfg.Recognizer.FallbackConfidence)
	}
	if cfg.Session.TickInterval() != 0 {
		t.Fatalf("expected tick disabled, got %v", cfg.Session.TickInterval())
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Timeout() != 5*time.Second {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	if cfg.UI.Clipboard {
		t.Fatal("expected clipboard disabled")
	}
}

func TestEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("VOXCOACH_AUDIO_STALL_TIMEOUT_MS", "soon")
	t.Setenv("VOXCOACH_UI_HOTKEY", "maybe")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.StallTimeoutMS != 3000 || cfg.UI.Hotkey {
		t.Fatalf("malformed values applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"format", func(c *Config) { c.Audio.Format = "mp3" }},
		{"provider", func(c *Config) { c.Recognizer.Provider = "whisper" }},
		{"fallback", func(c *Config) { c.Recognizer.FallbackConfidence = 1.5 }},
		{"backoff", func(c *Config) { c.Recognizer.BackoffMaxMS = 10 }},
		{"exercise", func(c *Config) { c.Session.Exercise = "juggling" }},
		{"waveform", func(c *Config) { c.Session.WaveformHz = 0 }},
		{"bus servers", func(c *Config) { c.Bus.Enabled = true; c.Bus.Servers = nil }},
		{"bus port", func(c *Config) { c.Bus.Enabled = true; c.Bus.Embedded = true; c.Bus.Port = 0 }},
		{"bus prefix", func(c *Config) { c.Bus.Enabled = true; c.Bus.SubjectPrefix = "a.*" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
