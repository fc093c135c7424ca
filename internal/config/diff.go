package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; endpoint, audio
// pipeline, and dial settings require a restart.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	TurnChanged      bool
	NewTurn          TurnConfig
	ReconnectChanged bool
	NewReconnect     ReconnectConfig
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TurnChanged || d.ReconnectChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
		d.NewTurn = new.Turn
	}

	if old.Reconnect != new.Reconnect {
		d.ReconnectChanged = true
		d.NewReconnect = new.Reconnect
	}

	return d
}
