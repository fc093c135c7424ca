// Package app wires all Voicelink subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the admin HTTP endpoint until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithRegistry, WithSink). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/dial"
	"github.com/voicelink/voicelink/internal/health"
	"github.com/voicelink/voicelink/internal/observe"
	"github.com/voicelink/voicelink/internal/stream"
	"github.com/voicelink/voicelink/pkg/audio/playback"
)

// shutdownTimeout bounds the HTTP server's graceful drain during Shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes: the session manager, the dial client,
// and the admin HTTP server (metrics, health, session control).
type App struct {
	cfg      *config.Config
	sessions *SessionManager
	dialer   *dial.Client
	registry *config.Registry
	sink     playback.Sink
	metrics  *observe.Metrics

	server *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a dial client instead of creating one from config.
func WithDialer(c *dial.Client) Option {
	return func(a *App) { a.dialer = c }
}

// WithRegistry injects a capture source registry instead of the default.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSink injects the playback renderer.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.dialer == nil && cfg.Dial.BaseURL != "" {
		d, err := dial.New(dial.Config{
			BaseURL:    cfg.Dial.BaseURL,
			AccountSid: cfg.Dial.AccountSid,
			AuthToken:  cfg.Dial.AuthToken,
			Timeout:    cfg.Dial.Timeout,
			Metrics:    a.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("app: create dial client: %w", err)
		}
		a.dialer = d
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:   cfg,
		Dialer:   a.dialer,
		Registry: a.registry,
		Sink:     a.sink,
		Metrics:  a.metrics,
		OnChange: func(snap stream.Snapshot) {
			slog.Debug("session state",
				"state", snap.State.String(),
				"turn", snap.Turn.String(),
				"streaming", snap.Streaming,
				"attempts", snap.Attempts,
			)
		},
	})

	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.buildHandler(),
	}

	return a, nil
}

// Sessions returns the session manager, for the CLI and tests.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the admin HTTP handler, for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// buildHandler assembles the admin mux: Prometheus metrics, health probes,
// and session control, all behind the observability middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())

	checkers := []health.Checker{
		health.FuncChecker("session", a.sessions.Healthy),
	}
	if a.dialer != nil {
		checkers = append(checkers, health.HTTPChecker("dial", nil, a.dialer.BaseURL()+"/v1/health"))
	}
	health.New(checkers...).Register(mux)

	mux.HandleFunc("POST /v1/session/start", a.handleSessionStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /v1/session/reconnect", a.handleSessionReconnect)
	mux.HandleFunc("GET /v1/session", a.handleSessionInfo)

	return observe.Middleware(a.metrics)(mux)
}

// sessionStartRequest is the optional body for POST /v1/session/start.
// Empty fields fall back to the configured peer.
type sessionStartRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	if err := a.sessions.Start(r.Context(), req.From, req.To); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.sessions.Info())
}

func (a *App) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Stop(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *App) handleSessionReconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.ManualReconnect(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconnecting"})
}

func (a *App) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if !a.sessions.IsActive() {
		writeError(w, http.StatusNotFound, errors.New("no active session"))
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Run serves the admin endpoint and blocks until ctx is cancelled or the
// server fails. A cancelled context is a clean exit.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("admin server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems: the active session (if any) stops with
// a deliberate close, then the HTTP server drains.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.sessions.IsActive() {
			if err := a.sessions.Stop(ctx); err != nil {
				slog.Warn("session stop during shutdown", "err", err)
			}
		}

		shutCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr = err
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
