package config_test

import (
	"testing"
	"time"

	"github.com/voicelink/voicelink/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Turn:      config.TurnConfig{SpeechThreshold: 0.015, HangTime: 1200 * time.Millisecond},
		Reconnect: config.ReconnectConfig{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.TurnChanged || d.ReconnectChanged {
		t.Error("unrelated sections flagged as changed")
	}
}

func TestDiff_TurnChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Turn: config.TurnConfig{SpeechThreshold: 0.015}}
	new := &config.Config{Turn: config.TurnConfig{SpeechThreshold: 0.02}}

	d := config.Diff(old, new)
	if !d.TurnChanged {
		t.Error("expected TurnChanged=true")
	}
	if d.NewTurn.SpeechThreshold != 0.02 {
		t.Errorf("NewTurn.SpeechThreshold = %v, want 0.02", d.NewTurn.SpeechThreshold)
	}
}

func TestDiff_ReconnectChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Reconnect: config.ReconnectConfig{MaxAttempts: 5}}
	new := &config.Config{Reconnect: config.ReconnectConfig{MaxAttempts: 8}}

	d := config.Diff(old, new)
	if !d.ReconnectChanged {
		t.Error("expected ReconnectChanged=true")
	}
	if d.NewReconnect.MaxAttempts != 8 {
		t.Errorf("NewReconnect.MaxAttempts = %d, want 8", d.NewReconnect.MaxAttempts)
	}
	if !d.Any() {
		t.Error("Any() = false, want true")
	}
}
