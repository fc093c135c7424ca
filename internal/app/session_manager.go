package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/dial"
	"github.com/voicelink/voicelink/internal/observe"
	"github.com/voicelink/voicelink/internal/stream"
	"github.com/voicelink/voicelink/pkg/audio/capture"
	"github.com/voicelink/voicelink/pkg/audio/playback"
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// StreamSid is the active stream identifier (possibly server-assigned).
	StreamSid string

	// From and To identify the two parties.
	From string
	To   string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// CallSid is the linked telephony call, empty when no call was placed.
	CallSid string

	// State is the session's lifecycle state at the time of the query.
	State string

	// Turn is the activity heuristic's classification.
	Turn string
}

// SessionManager manages the lifecycle of voice sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	active  bool
	session *stream.Session
	source  capture.Source
	call    dial.Call
	started time.Time
	from    string
	to      string

	// closers are called in reverse order during Stop.
	closers []func() error

	// Dependencies injected at construction.
	cfg      *config.Config
	dialer   *dial.Client
	registry *config.Registry
	sink     playback.Sink
	onChange func(stream.Snapshot)
	metrics  *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config *config.Config

	// Dialer places and terminates telephony calls. Nil disables dialing.
	Dialer *dial.Client

	// Registry resolves the configured capture source. Nil uses the
	// default registry.
	Registry *config.Registry

	// Sink renders inbound audio. Nil discards it.
	Sink playback.Sink

	// OnChange observes session snapshots for UI consumers.
	OnChange func(stream.Snapshot)

	// Metrics overrides the default metrics instance, for tests.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	reg := cfg.Registry
	if reg == nil {
		reg = config.DefaultRegistry
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:      cfg.Config,
		dialer:   cfg.Dialer,
		registry: reg,
		sink:     cfg.Sink,
		onChange: cfg.OnChange,
		metrics:  m,
	}
}

// Start begins a new voice session: it opens the media stream, optionally
// places a telephony call linked to the stream, starts the configured capture
// source, and arms capture.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, from, to string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("app: a session is already active (stream_sid=%s)", sm.session.StreamSid())
	}
	if from == "" {
		from = sm.cfg.Stream.Peer.From
	}
	if to == "" {
		to = sm.cfg.Stream.Peer.To
	}

	sess, err := stream.New(stream.Config{
		URL:            sm.cfg.Stream.URL,
		Token:          sm.cfg.Stream.Token,
		ConnectTimeout: sm.cfg.Stream.ConnectTimeout,
		NativeRate:     sm.cfg.Audio.NativeRate,
		Peer: stream.PeerContext{
			AccountSid: sm.cfg.Stream.Peer.AccountSid,
			From:       from,
			To:         to,
			Extra:      sm.cfg.Stream.Peer.Extra,
		},
		Backoff: stream.BackoffConfig{
			Base:        sm.cfg.Reconnect.Base,
			Max:         sm.cfg.Reconnect.Max,
			MaxAttempts: sm.cfg.Reconnect.MaxAttempts,
		},
		Turn: stream.TurnConfig{
			SpeechThreshold: sm.cfg.Turn.SpeechThreshold,
			HangTime:        sm.cfg.Turn.HangTime,
		},
		Playback: stream.PlaybackConfig{
			MaxQueue:  sm.cfg.Audio.PlaybackQueue,
			Lookahead: sm.cfg.Audio.Lookahead,
			BatchSize: sm.cfg.Audio.BatchSize,
		},
		Sink:     sm.sink,
		OnChange: sm.onChange,
		Metrics:  sm.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: create session: %w", err)
	}

	var closers []func() error
	fail := func(err error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return err
	}
	closers = append(closers, func() error { return sess.Stop(context.Background()) })

	if err := sess.Connect(ctx); err != nil {
		return fail(fmt.Errorf("app: connect stream: %w", err))
	}

	// Link a telephony call when dialing is configured.
	var call dial.Call
	if sm.dialer != nil && to != "" {
		call, err = sm.dialer.Dial(ctx, from, to, sess.StreamSid())
		if err != nil {
			return fail(fmt.Errorf("app: place call: %w", err))
		}
		slog.Info("call placed", "call_sid", call.CallSid, "to", to)
	}

	// Start the configured capture source feeding the pipeline.
	var src capture.Source
	if sm.cfg.Audio.Source != "" {
		src, err = sm.registry.CreateSource(sm.cfg.Audio)
		if err != nil {
			return fail(fmt.Errorf("app: create capture source: %w", err))
		}
		if err := src.Start(ctx, sess.Capture().Submit); err != nil {
			return fail(fmt.Errorf("app: start capture source: %w", err))
		}
		closers = append(closers, src.Close)
	}

	if err := sess.ArmCapture(); err != nil {
		// The stream may still be connecting or reconnecting; streaming
		// starts on the next explicit arm instead.
		slog.Warn("capture not armed at session start", "err", err)
	}

	sm.active = true
	sm.session = sess
	sm.source = src
	sm.call = call
	sm.started = time.Now().UTC()
	sm.from = from
	sm.to = to
	sm.closers = closers
	sm.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("session started",
		"stream_sid", sess.StreamSid(),
		"from", from,
		"to", to,
		"call_sid", call.CallSid,
	)
	return nil
}

// Stop gracefully ends the active session: capture stops, the stream closes
// deliberately, and the linked telephony call (if any) is terminated.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return fmt.Errorf("app: no active session to stop")
	}

	sid := sm.session.StreamSid()

	// Run closers in reverse order (source before session).
	for i := len(sm.closers) - 1; i >= 0; i-- {
		if err := sm.closers[i](); err != nil {
			slog.Warn("session closer error", "stream_sid", sid, "index", i, "err", err)
		}
	}

	// Terminate the linked call after the stream said goodbye.
	if sm.dialer != nil && sm.call.CallSid != "" {
		if err := sm.dialer.Terminate(ctx, sm.call, sid); err != nil {
			slog.Warn("call termination failed", "call_sid", sm.call.CallSid, "err", err)
		}
	}

	sm.metrics.ActiveSessions.Add(ctx, -1)

	// Clear state.
	sm.active = false
	sm.session = nil
	sm.source = nil
	sm.call = dial.Call{}
	sm.closers = nil
	sm.from = ""
	sm.to = ""

	slog.Info("session stopped", "stream_sid", sid)
	return nil
}

// ManualReconnect resets the active session's reconnection state and dials
// immediately. It is the recovery path after automatic attempts are
// exhausted.
func (sm *SessionManager) ManualReconnect() error {
	sm.mu.Lock()
	sess := sm.session
	sm.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("app: no active session to reconnect")
	}
	return sess.ManualReconnect()
}

// UpdateTuning applies hot-reloaded turn and reconnect settings. Sessions
// started after the call use the new values; the active session keeps the
// tuning it was created with.
func (sm *SessionManager) UpdateTuning(turn config.TurnConfig, rec config.ReconnectConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg.Turn = turn
	sm.cfg.Reconnect = rec
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return SessionInfo{}
	}
	snap := sm.session.SnapshotNow()
	return SessionInfo{
		StreamSid: snap.StreamSid,
		From:      sm.from,
		To:        sm.to,
		StartedAt: sm.started,
		CallSid:   sm.call.CallSid,
		State:     snap.State.String(),
		Turn:      snap.Turn.String(),
	}
}

// Healthy reports an error while the active session is in the failed state.
// Used by the readiness probe; an idle manager is healthy.
func (sm *SessionManager) Healthy(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return nil
	}
	if snap := sm.session.SnapshotNow(); snap.State == stream.StateFailed {
		return fmt.Errorf("session %s failed: %s", snap.StreamSid, snap.LastError)
	}
	return nil
}
