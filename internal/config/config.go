// Package config provides the configuration schema, loader, source registry,
// and file watcher for the Voicelink session engine.
package config

import "time"

// LogLevel controls log verbosity for the Voicelink server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voicelink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Audio     AudioConfig     `yaml:"audio"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Turn      TurnConfig      `yaml:"turn"`
	Dial      DialConfig      `yaml:"dial"`
}

// ServerConfig holds network and logging settings for the local admin
// endpoint (metrics, health, session control).
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StreamConfig describes the remote media peer.
type StreamConfig struct {
	// URL is the ws:// or wss:// endpoint of the media peer.
	URL string `yaml:"url"`

	// Token is an optional Bearer credential for the connection handshake.
	Token string `yaml:"token"`

	// ConnectTimeout bounds the socket dial and handshake. Default 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Peer identifies the two parties of a session.
	Peer PeerConfig `yaml:"peer"`
}

// PeerConfig holds the session-identifying metadata sent in the start event.
type PeerConfig struct {
	// AccountSid is the telephony account identifier.
	AccountSid string `yaml:"account_sid"`

	// From is the caller address (e.g., an E.164 number).
	From string `yaml:"from"`

	// To is the callee address.
	To string `yaml:"to"`

	// Extra holds free-form correlation metadata forwarded opaquely to the
	// remote peer.
	Extra map[string]any `yaml:"extra"`
}

// AudioConfig tunes the capture and playback pipelines.
type AudioConfig struct {
	// Source selects the registered capture source implementation
	// (e.g., "tone"). Empty means no local capture source is started.
	Source string `yaml:"source"`

	// NativeRate is the capture source's sample rate in Hz. Default 48000.
	NativeRate int `yaml:"native_rate"`

	// PlaybackQueue caps the number of pending playback chunks before the
	// oldest is evicted. Default 64.
	PlaybackQueue int `yaml:"playback_queue"`

	// Lookahead is how far in the future the first chunk of a playback
	// burst is placed. Default 100ms.
	Lookahead time.Duration `yaml:"lookahead"`

	// BatchSize is the number of chunks handed to the renderer per
	// scheduling wake-up. Default 5.
	BatchSize int `yaml:"batch_size"`
}

// ReconnectConfig tunes the bounded exponential backoff applied after
// unexpected disconnects.
type ReconnectConfig struct {
	// Base is the delay before the first retry. Default 1s.
	Base time.Duration `yaml:"base"`

	// Max caps the exponential delay growth. Default 30s.
	Max time.Duration `yaml:"max"`

	// MaxAttempts is the number of consecutive failures tolerated before
	// the session gives up. Default 5.
	MaxAttempts int `yaml:"max_attempts"`
}

// TurnConfig tunes the turn/activity heuristic driving UI status.
type TurnConfig struct {
	// SpeechThreshold is the normalized RMS level above which a capture
	// block counts as speech. Default 0.015.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// HangTime is how long the level must stay below the threshold after
	// speech before the turn is considered ended. Default 1200ms.
	HangTime time.Duration `yaml:"hang_time"`
}

// DialConfig describes the telephony REST API used to place and terminate
// calls linked to a stream. When BaseURL is empty, dialing is disabled.
type DialConfig struct {
	// BaseURL is the REST API root (e.g., "https://telephony.example.com").
	BaseURL string `yaml:"base_url"`

	// AccountSid is the telephony account identifier sent with each request.
	AccountSid string `yaml:"account_sid"`

	// AuthToken authenticates REST requests via basic auth.
	AuthToken string `yaml:"auth_token"`

	// Timeout bounds each REST call. Default 10s.
	Timeout time.Duration `yaml:"timeout"`
}
