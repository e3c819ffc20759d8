package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known session backend names.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"gemini-live", "openai-realtime"}

// Defaults applied by [Load] for fields left empty in the file.
const (
	DefaultInputRate      = 16000
	DefaultOutputRate     = 24000
	DefaultFrameSize      = 4096
	DefaultPlaybackVolume = 80
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the audio parameters and log level for fields left
// at their zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.InputRate == 0 {
		cfg.Audio.InputRate = DefaultInputRate
	}
	if cfg.Audio.OutputRate == 0 {
		cfg.Audio.OutputRate = DefaultOutputRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.PlaybackVolume == 0 {
		cfg.Audio.PlaybackVolume = DefaultPlaybackVolume
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidBackendNames, cfg.Provider.Name) {
		slog.Warn("unknown session backend name, may be a typo or a third-party backend",
			"name", cfg.Provider.Name,
			"known", ValidBackendNames,
		)
	}
	if cfg.Provider.APIKey == "" && cfg.Provider.APIKeyEnv == "" {
		slog.Warn("neither provider.api_key nor provider.api_key_env is set; the session dial will likely be rejected")
	}

	// Audio
	if cfg.Audio.InputRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_rate %d must be positive", cfg.Audio.InputRate))
	}
	if cfg.Audio.OutputRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must be positive", cfg.Audio.OutputRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.PlaybackVolume < 0 || cfg.Audio.PlaybackVolume > 100 {
		errs = append(errs, fmt.Errorf("audio.playback_volume %d is out of range [0, 100]", cfg.Audio.PlaybackVolume))
	}

	return errors.Join(errs...)
}

// ResolveAPIKey returns the backend API key: APIKey when set, otherwise the
// value of the environment variable named by APIKeyEnv.
func (p ProviderEntry) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}
