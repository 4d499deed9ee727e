package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxcoach/exercise"
)

type AudioConfig struct {
	Device string `yaml:"device"`
	Format string `yaml:"format"`
	// StallTimeoutMS fails a session whose microphone stops delivering
	// audio; zero disables the check.
	StallTimeoutMS int `yaml:"stall_timeout_ms"`
}

type RecognizerConfig struct {
	Provider           string  `yaml:"provider"` // deepgram, fake
	Model              string  `yaml:"model"`
	Locale             string  `yaml:"locale"`
	FallbackConfidence float64 `yaml:"fallback_confidence"`
	FinalizeTimeoutMS  int     `yaml:"finalize_timeout_ms"`
	DrainTimeoutMS     int     `yaml:"drain_timeout_ms"`
	BackoffMinMS       int     `yaml:"backoff_min_ms"`
	BackoffMaxMS       int     `yaml:"backoff_max_ms"`
}

type SessionConfig struct {
	Exercise       string `yaml:"exercise"`
	TickIntervalMS int    `yaml:"tick_interval_ms"`
	WaveformHz     int    `yaml:"waveform_hz"`
	SaveDir        string `yaml:"save_dir"`
	// JitterSeed fixes the score jitter; zero seeds from the clock.
	JitterSeed uint64 `yaml:"jitter_seed"`
	NoJitter   bool   `yaml:"no_jitter"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type UIConfig struct {
	Hotkey    bool `yaml:"hotkey"`
	Clipboard bool `yaml:"clipboard"`
	Cues      bool `yaml:"cues"`
}

type Config struct {
	LogPath    string           `yaml:"log_path"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Session    SessionConfig    `yaml:"session"`
	Bus        BusConfig        `yaml:"bus"`
	UI         UIConfig         `yaml:"ui"`
}

func Default() Config {
	return Config{
		Audio: AudioConfig{
			Format:         "flac",
			StallTimeoutMS: 3000,
		},
		Recognizer: RecognizerConfig{
			Provider:           "deepgram",
			Model:              "nova-3",
			Locale:             "en-US",
			FallbackConfidence: 0.8,
			FinalizeTimeoutMS:  3000,
			DrainTimeoutMS:     2000,
			BackoffMinMS:       250,
			BackoffMaxMS:       4000,
		},
		Session: SessionConfig{
			Exercise:       string(exercise.Default),
			TickIntervalMS: 1000,
			WaveformHz:     60,
		},
		Bus: BusConfig{
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			SubjectPrefix:  "voxcoach.session",
			ConnectTimeout: 2000,
		},
		UI: UIConfig{
			Clipboard: true,
			Cues:      true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LogPath, "VOXCOACH_LOG_PATH")
	overrideString(&cfg.Audio.Device, "VOXCOACH_AUDIO_DEVICE")
	overrideString(&cfg.Audio.Format, "VOXCOACH_AUDIO_FORMAT")
	overrideInt(&cfg.Audio.StallTimeoutMS, "VOXCOACH_AUDIO_STALL_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Provider, "VOXCOACH_RECOGNIZER_PROVIDER")
	overrideString(&cfg.Recognizer.Model, "VOXCOACH_RECOGNIZER_MODEL")
	overrideString(&cfg.Recognizer.Locale, "VOXCOACH_RECOGNIZER_LOCALE")
	overrideFloat(&cfg.Recognizer.FallbackConfidence, "VOXCOACH_RECOGNIZER_FALLBACK_CONFIDENCE")
	overrideInt(&cfg.Recognizer.FinalizeTimeoutMS, "VOXCOACH_RECOGNIZER_FINALIZE_TIMEOUT_MS")
	overrideInt(&cfg.Recognizer.DrainTimeoutMS, "VOXCOACH_RECOGNIZER_DRAIN_TIMEOUT_MS")
	overrideInt(&cfg.Recognizer.BackoffMinMS, "VOXCOACH_RECOGNIZER_BACKOFF_MIN_MS")
	overrideInt(&cfg.Recognizer.BackoffMaxMS, "VOXCOACH_RECOGNIZER_BACKOFF_MAX_MS")
	overrideString(&cfg.Session.Exercise, "VOXCOACH_SESSION_EXERCISE")
	overrideInt(&cfg.Session.TickIntervalMS, "VOXCOACH_SESSION_TICK_INTERVAL_MS")
	overrideInt(&cfg.Session.WaveformHz, "VOXCOACH_SESSION_WAVEFORM_HZ")
	overrideString(&cfg.Session.SaveDir, "VOXCOACH_SESSION_SAVE_DIR")
	overrideBool(&cfg.Session.NoJitter, "VOXCOACH_SESSION_NO_JITTER")
	overrideBool(&cfg.Bus.Enabled, "VOXCOACH_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXCOACH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXCOACH_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXCOACH_BUS_SERVERS")
	overrideString(&cfg.Bus.SubjectPrefix, "VOXCOACH_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.Username, "VOXCOACH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXCOACH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXCOACH_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXCOACH_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.UI.Hotkey, "VOXCOACH_UI_HOTKEY")
	overrideBool(&cfg.UI.Clipboard, "VOXCOACH_UI_CLIPBOARD")
	overrideBool(&cfg.UI.Cues, "VOXCOACH_UI_CUES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func (cfg Config) Validate() error {
	switch cfg.Audio.Format {
	case "flac", "wav":
	default:
		return errors.New("audio.format must be one of flac|wav")
	}
	if cfg.Audio.StallTimeoutMS < 0 {
		return errors.New("audio.stall_timeout_ms must be >= 0")
	}
	switch cfg.Recognizer.Provider {
	case "deepgram", "fake":
	default:
		return errors.New("recognizer.provider must be one of deepgram|fake")
	}
	if c := cfg.Recognizer.FallbackConfidence; c <= 0 || c > 1 {
		return errors.New("recognizer.fallback_confidence must be in (0, 1]")
	}
	if cfg.Recognizer.FinalizeTimeoutMS <= 0 || cfg.Recognizer.DrainTimeoutMS <= 0 {
		return errors.New("recognizer timeouts must be positive")
	}
	if cfg.Recognizer.BackoffMinMS <= 0 {
		return errors.New("recognizer.backoff_min_ms must be positive")
	}
	if cfg.Recognizer.BackoffMaxMS < cfg.Recognizer.BackoffMinMS {
		return errors.New("recognizer.backoff_max_ms must be >= backoff_min_ms")
	}
	if _, err := exercise.Lookup(cfg.Session.Exercise); err != nil {
		return fmt.Errorf("session.exercise: %w", err)
	}
	if cfg.Session.TickIntervalMS < 0 {
		return errors.New("session.tick_interval_ms must be >= 0")
	}
	if cfg.Session.WaveformHz <= 0 || cfg.Session.WaveformHz > 240 {
		return errors.New("session.waveform_hz must be between 1 and 240")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" || strings.ContainsAny(cfg.Bus.SubjectPrefix, " *>") {
			return errors.New("bus.subject_prefix must be a literal subject")
		}
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c AudioConfig) StallTimeout() time.Duration { return ms(c.StallTimeoutMS) }

func (c RecognizerConfig) FinalizeTimeout() time.Duration { return ms(c.FinalizeTimeoutMS) }
func (c RecognizerConfig) DrainTimeout() time.Duration    { return ms(c.DrainTimeoutMS) }
func (c RecognizerConfig) BackoffMin() time.Duration      { return ms(c.BackoffMinMS) }
func (c RecognizerConfig) BackoffMax() time.Duration      { return ms(c.BackoffMaxMS) }

func (c SessionConfig) TickInterval() time.Duration { return ms(c.TickIntervalMS) }

func (c SessionConfig) WaveformInterval() time.Duration {
	return time.Second / time.Duration(c.WaveformHz)
}

func (c BusConfig) Timeout() time.Duration { return ms(c.ConnectTimeout) }
