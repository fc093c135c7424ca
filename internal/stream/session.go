package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicelink/voicelink/internal/observe"
	"github.com/voicelink/voicelink/pkg/audio/capture"
	"github.com/voicelink/voicelink/pkg/audio/pcm"
	"github.com/voicelink/voicelink/pkg/audio/playback"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateDisconnected
	StateReconnecting
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ErrSessionStopped is returned by operations on a session that has been
// torn down.
var ErrSessionStopped = errors.New("stream: session is stopped")

// Snapshot is the read-only view of session state handed to observers. The
// UI consumes these; nothing outside the session mutates its state.
type Snapshot struct {
	State     State
	StreamSid string
	Streaming bool
	Attempts  int
	Level     float64
	Turn      TurnState
	LastError string
}

// Config holds the parameters for a [Session]. URL is required; zero-value
// durations and nested configs get defaults.
type Config struct {
	// URL is the wss endpoint of the remote media peer.
	URL string

	// Token is the bearer credential attached to the connection handshake.
	// It travels in the HTTP upgrade headers, not in the event protocol.
	Token string

	// Peer identifies the two parties; immutable for the session lifetime.
	Peer PeerContext

	// ConnectTimeout bounds the socket dial and handshake. Default 10 s.
	ConnectTimeout time.Duration

	// NativeRate is the capture source's sample rate in Hz. Default 48000.
	NativeRate int

	// Backoff tunes the reconnection controller.
	Backoff BackoffConfig

	// Turn tunes the activity heuristic.
	Turn TurnConfig

	// Playback tunes the inbound scheduling pipeline.
	Playback PlaybackConfig

	// Sink renders inbound audio. Required for playback; a nil sink
	// discards inbound frames after decoding.
	Sink playback.Sink

	// Clock overrides the playback timeline, for tests.
	Clock playback.Clock

	// OnChange receives a state snapshot after every transition. Called
	// synchronously without internal locks held; it must not block.
	OnChange func(Snapshot)

	// Metrics overrides the default metrics instance, for tests.
	Metrics *observe.Metrics
}

// PlaybackConfig tunes the inbound playback scheduler. Zero values fall back
// to the scheduler's defaults.
type PlaybackConfig struct {
	// MaxQueue caps the number of pending chunks before the oldest is
	// evicted.
	MaxQueue int

	// Lookahead is how far in the future the first chunk of a burst is
	// placed.
	Lookahead time.Duration

	// BatchSize is the number of chunks handed to the sink per scheduling
	// wake-up.
	BatchSize int
}

// Session is one logical voice conversation. It owns zero or one active
// transport connection, the capture and playback pipelines, and the
// reconnection controller. All exported methods are safe for concurrent use.
type Session struct {
	cfg     Config
	metrics *observe.Metrics

	capture *capture.Pipeline
	player  *playback.Scheduler
	turn    *TurnDetector
	rec     *Reconnector

	mu      sync.Mutex
	state   State
	sid     string
	tr      *transport
	armed   bool
	stopped bool
	level   float64
	lastErr string
}

// discardSink drops decoded audio when no sink is configured.
type discardSink struct{}

func (discardSink) PlayAt([]float32, int, time.Duration) {}

// New creates a Session in the Idle state with a freshly generated stream id.
// Connect must be called to open the transport.
func New(cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream: URL must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.NativeRate <= 0 {
		cfg.NativeRate = 48000
	}
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		cfg:     cfg,
		metrics: cfg.Metrics,
		state:   StateIdle,
		sid:     uuid.NewString(),
	}

	s.turn = NewTurnDetector(cfg.Turn, func(TurnState) { s.notify() })
	s.rec = NewReconnector(cfg.Backoff, s.redial)

	s.player = playback.New(playback.Config{
		Sink:       cfg.Sink,
		Clock:      cfg.Clock,
		MaxQueue:   cfg.Playback.MaxQueue,
		Lookahead:  cfg.Playback.Lookahead,
		BatchSize:  cfg.Playback.BatchSize,
		OnActivity: func(playing bool) { s.turn.ObservePlayback(playing) },
		OnDrop:     s.metrics.PlaybackDrop,
	})

	pipe, err := capture.New(capture.Config{
		NativeRate: cfg.NativeRate,
		Emitter:    mediaEmitter{s: s},
		OnLevel:    s.observeLevel,
	})
	if err != nil {
		return nil, err
	}
	s.capture = pipe

	return s, nil
}

// Capture returns the session's capture pipeline. Frame sources push sample
// blocks into it; frames flow to the transport only while streaming is armed.
func (s *Session) Capture() *capture.Pipeline { return s.capture }

// StreamSid returns the currently active stream id. The server may override
// the client-generated id in its start acknowledgement.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the transport: dial, handshake, and the start envelope. On
// failure the session transitions per the reconnection policy rather than
// returning transient dial errors to the caller; the returned error is
// non-nil only for programmer errors (stopped session, bad peer context).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.tr != nil {
		s.mu.Unlock()
		return errors.New("stream: already connected")
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify()

	return s.connect(ctx)
}

// connect performs one connection attempt. Failures feed the reconnection
// controller.
func (s *Session) connect(ctx context.Context) error {
	start, err := s.startEnvelope()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	began := time.Now()
	tr, err := dialTransport(dialCtx, s.cfg.URL, s.cfg.Token, start)
	if err != nil {
		s.handleFailure(err.Error())
		return nil
	}
	s.metrics.RecordConnect(time.Since(began))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		tr.closeQuiet()
		return ErrSessionStopped
	}
	s.tr = tr
	s.state = StateConnected
	// Start the loops before releasing the lock so a concurrent Stop can
	// only observe a transport whose writer hand-over works.
	tr.start(s.handleMessage, func(err error) { s.onTransportClosed(tr, err) })
	s.mu.Unlock()

	s.rec.Success()
	s.notify()

	slog.Info("stream connected", "stream_sid", s.StreamSid(), "url", s.cfg.URL)
	return nil
}

// startEnvelope builds the outbound start message for the current stream id.
func (s *Session) startEnvelope() (Envelope, error) {
	s.mu.Lock()
	sid := s.sid
	s.mu.Unlock()

	payload, err := s.cfg.Peer.startPayload(sid)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: EventStart, StreamSid: sid, Start: payload}, nil
}

// redial is the reconnection controller's dial target.
func (s *Session) redial() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	// A manual reconnect can arrive while a transport is still open;
	// release it so its socket and goroutines do not outlive the dial.
	old := s.tr
	s.tr = nil
	s.state = StateConnecting
	s.mu.Unlock()

	if old != nil {
		old.closeQuiet()
	}
	s.notify()

	_ = s.connect(context.Background())
}

// ArmCapture transitions the session to Streaming: capture frames begin
// flowing to the transport. Connection alone never implies streaming.
func (s *Session) ArmCapture() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.tr == nil || (s.state != StateConnected && s.state != StateStreaming) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("stream: cannot arm capture in state %s", state)
	}
	s.armed = true
	s.state = StateStreaming
	s.mu.Unlock()
	s.notify()
	return nil
}

// DisarmCapture stops sending capture frames without closing the connection.
func (s *Session) DisarmCapture() {
	s.mu.Lock()
	s.armed = false
	if s.state == StateStreaming {
		s.state = StateConnected
	}
	s.mu.Unlock()
	s.notify()
}

// ManualReconnect cancels any pending automatic attempt, resets the attempt
// counter, and dials immediately. It is the only recovery from the Failed
// state.
func (s *Session) ManualReconnect() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.mu.Unlock()

	s.rec.Manual()
	return nil
}

// Stop tears the session down: capture stops producing frames, playback
// stops scheduling, reconnection state is cleared, and if the connection
// is still open a stop envelope is sent before the deliberate close.
// Idempotent: calling Stop twice produces no error and no duplicate stop
// message.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.armed = false
	tr := s.tr
	s.tr = nil
	sid := s.sid
	s.state = StateIdle
	s.mu.Unlock()

	_ = s.capture.Close()
	_ = s.player.Close()
	s.rec.Cancel()
	s.turn.Reset()

	if tr != nil {
		tr.closeDeliberate(Envelope{Event: EventStop, StreamSid: sid})
	}

	s.notify()
	slog.Info("stream session stopped", "stream_sid", sid)
	return nil
}

// ---- outbound media ----

// mediaEmitter adapts the session's send path to capture.Emitter.
type mediaEmitter struct {
	s *Session
}

func (e mediaEmitter) Send(payload string) bool { return e.s.emitMedia(payload) }

// emitMedia queues one encoded frame for sending. Frames are dropped, never
// buffered, when the session is not armed or the transport is unavailable.
func (s *Session) emitMedia(payload string) bool {
	s.mu.Lock()
	tr := s.tr
	sid := s.sid
	ok := s.armed && tr != nil && !s.stopped
	s.mu.Unlock()

	if !ok {
		s.metrics.FrameDropped("not_streaming")
		return false
	}

	env := Envelope{
		Event:     EventMedia,
		StreamSid: sid,
		Media:     &MediaPayload{Payload: payload},
	}
	if !tr.send(env) {
		s.metrics.FrameDropped("send_buffer_full")
		return false
	}
	s.metrics.FrameSent()
	return true
}

// observeLevel records the capture level for snapshots and feeds the turn
// heuristic.
func (s *Session) observeLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
	s.turn.ObserveLevel(level)
}

// ---- inbound events ----

// handleMessage parses and dispatches one inbound wire message. It runs on
// the transport's read goroutine, so per-connection event ordering is
// inherent: a server start override is always applied before later media.
func (s *Session) handleMessage(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.metrics.MalformedFrame()
		slog.Warn("stream: undecodable inbound message", "err", err)
		return
	}

	switch env.Event {
	case EventConnected:
		slog.Debug("stream: peer acknowledged connection")

	case EventStart:
		sid := env.StreamSid
		if sid == "" && env.Start != nil {
			sid = env.Start.StreamSid
		}
		if sid != "" {
			s.mu.Lock()
			old := s.sid
			s.sid = sid
			s.mu.Unlock()
			if old != sid {
				slog.Info("stream: server assigned stream id", "stream_sid", sid)
			}
			s.notify()
		}

	case EventMedia:
		s.handleMedia(env)

	case EventStop:
		s.onRemoteStop()

	case EventError:
		s.mu.Lock()
		s.lastErr = env.Message
		s.mu.Unlock()
		slog.Warn("stream: peer reported error", "message", env.Message)
		s.notify()

	default:
		slog.Debug("stream: ignoring unrecognized event", "event", env.Event)
	}
}

// handleMedia decodes one inbound frame and hands it to the playback
// scheduler. Malformed payloads are dropped and counted; they never end the
// session. Frames tagged with a stale stream id are discarded.
func (s *Session) handleMedia(env Envelope) {
	if env.Media == nil {
		s.metrics.MalformedFrame()
		return
	}
	if env.StreamSid != "" && env.StreamSid != s.StreamSid() {
		slog.Debug("stream: dropping media for stale stream id", "stream_sid", env.StreamSid)
		return
	}

	samples, err := pcm.Decode(env.Media.Payload)
	if err != nil {
		s.metrics.MalformedFrame()
		slog.Warn("stream: dropping malformed inbound frame", "err", err)
		return
	}
	s.player.Enqueue(pcm.ToFloat(samples))
}

// onRemoteStop handles server-initiated termination: capture tears down and
// the session stays Disconnected without reconnecting.
func (s *Session) onRemoteStop() {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.armed = false
	s.state = StateDisconnected
	s.mu.Unlock()

	_ = s.capture.Close()
	s.rec.Cancel()
	if tr != nil {
		tr.closeQuiet()
	}

	slog.Info("stream: remote peer ended the session", "stream_sid", s.StreamSid())
	s.notify()
}

// onTransportClosed runs when the socket closes for any reason. Deliberate
// local closes were already handled; everything else feeds the reconnection
// controller.
func (s *Session) onTransportClosed(tr *transport, err error) {
	if tr.deliberate.Load() {
		return
	}

	s.mu.Lock()
	if s.tr != tr || s.stopped {
		// A stale transport's close races a newer connection; ignore it.
		s.mu.Unlock()
		return
	}
	s.tr = nil
	s.armed = false
	s.state = StateDisconnected
	s.mu.Unlock()
	s.notify()

	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	s.handleFailure(reason)
}

// handleFailure records one connection failure with the reconnection
// controller and transitions to Reconnecting or Failed.
func (s *Session) handleFailure(reason string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.lastErr = reason
	s.mu.Unlock()

	s.metrics.ReconnectAttempt()
	delay, err := s.rec.Failure(reason)
	s.mu.Lock()
	if errors.Is(err, ErrReconnectExhausted) {
		s.state = StateFailed
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()
	s.notify()

	if err == nil {
		slog.Warn("stream disconnected, reconnecting",
			"reason", reason, "delay", delay, "attempt", s.rec.Attempts())
	}
}

// notify delivers a snapshot to the observer callback, if any.
func (s *Session) notify() {
	cb := s.cfg.OnChange
	if cb == nil {
		return
	}
	cb(s.SnapshotNow())
}

// SnapshotNow returns a point-in-time read-only view of the session.
func (s *Session) SnapshotNow() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		StreamSid: s.sid,
		Streaming: s.armed,
		Attempts:  s.rec.Attempts(),
		Level:     s.level,
		Turn:      s.turn.State(),
		LastError: s.lastErr,
	}
}
