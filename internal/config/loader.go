package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Stream endpoint
	if cfg.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url is required"))
	} else if u, err := url.Parse(cfg.Stream.URL); err != nil {
		errs = append(errs, fmt.Errorf("stream.url %q is not a valid URL: %w", cfg.Stream.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("stream.url scheme %q is invalid; must be ws or wss", u.Scheme))
	}
	if cfg.Stream.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.connect_timeout %v must not be negative", cfg.Stream.ConnectTimeout))
	}
	if cfg.Stream.Token == "" {
		slog.Warn("stream.token is empty; connecting without authentication")
	}

	// Audio
	if cfg.Audio.Source != "" && !SourceRegistered(cfg.Audio.Source) {
		slog.Warn("unknown audio source — may be a typo or unavailable on this platform",
			"name", cfg.Audio.Source,
			"known", RegisteredSources(),
		)
	}
	if cfg.Audio.NativeRate != 0 && cfg.Audio.NativeRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.native_rate %d is below the 8000 Hz wire rate", cfg.Audio.NativeRate))
	}
	if cfg.Audio.PlaybackQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_queue %d must not be negative", cfg.Audio.PlaybackQueue))
	}
	if cfg.Audio.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("audio.lookahead %v must not be negative", cfg.Audio.Lookahead))
	}
	if cfg.Audio.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("audio.batch_size %d must not be negative", cfg.Audio.BatchSize))
	}

	// Reconnect
	if cfg.Reconnect.Base < 0 {
		errs = append(errs, fmt.Errorf("reconnect.base %v must not be negative", cfg.Reconnect.Base))
	}
	if cfg.Reconnect.Max < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max %v must not be negative", cfg.Reconnect.Max))
	}
	if cfg.Reconnect.Base > 0 && cfg.Reconnect.Max > 0 && cfg.Reconnect.Max < cfg.Reconnect.Base {
		errs = append(errs, fmt.Errorf("reconnect.max %v is below reconnect.base %v", cfg.Reconnect.Max, cfg.Reconnect.Base))
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}

	// Turn heuristic
	if cfg.Turn.SpeechThreshold < 0 || cfg.Turn.SpeechThreshold >= 1 {
		errs = append(errs, fmt.Errorf("turn.speech_threshold %.4f is out of range [0, 1)", cfg.Turn.SpeechThreshold))
	}
	if cfg.Turn.HangTime < 0 {
		errs = append(errs, fmt.Errorf("turn.hang_time %v must not be negative", cfg.Turn.HangTime))
	}

	// Dial collaborator
	if cfg.Dial.BaseURL != "" {
		if u, err := url.Parse(cfg.Dial.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("dial.base_url %q is not a valid URL: %w", cfg.Dial.BaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("dial.base_url scheme %q is invalid; must be http or https", u.Scheme))
		}
		if cfg.Dial.AuthToken == "" {
			slog.Warn("dial.base_url is configured but dial.auth_token is empty; REST calls will be unauthenticated")
		}
	}

	return errors.Join(errs...)
}
