package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrReconnectExhausted is the terminal failure after the maximum number of
// consecutive automatic reconnection attempts. Recovery requires an explicit
// manual reconnect, which resets the attempt counter.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// BackoffConfig holds the reconnection tuning knobs. Zero-value fields are
// replaced with defaults.
type BackoffConfig struct {
	// Base is the delay before the first retry. Default 1 s.
	Base time.Duration

	// Max caps the exponential delay growth. Default 30 s.
	Max time.Duration

	// MaxAttempts is the number of consecutive failures tolerated before
	// the controller stops scheduling retries. Default 5.
	MaxAttempts int
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Delay returns the backoff delay before attempt n (1-indexed):
// min(Base * 2^(n-1), Max).
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.withDefaults()
	if n < 1 {
		n = 1
	}
	d := c.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.Max {
			return c.Max
		}
	}
	if d > c.Max {
		return c.Max
	}
	return d
}

// Reconnector drives bounded exponential-backoff reconnection. It observes
// transport failures via [Reconnector.Failure] and invokes the dial function
// after the computed delay. Safe for concurrent use.
type Reconnector struct {
	cfg  BackoffConfig
	dial func()

	mu         sync.Mutex
	attempts   int
	pending    *time.Timer
	exhausted  bool
	lastReason string
}

// NewReconnector creates a controller that calls dial for each scheduled
// attempt. dial runs on a timer goroutine and must not block indefinitely.
func NewReconnector(cfg BackoffConfig, dial func()) *Reconnector {
	return &Reconnector{cfg: cfg.withDefaults(), dial: dial}
}

// Failure records one connection failure. Unless the attempt budget is
// exhausted it schedules the next dial and returns the delay chosen. At the
// cap it schedules nothing and returns [ErrReconnectExhausted]; the caller
// surfaces the terminal state.
func (r *Reconnector) Failure(reason string) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastReason = reason
	if r.exhausted {
		return 0, ErrReconnectExhausted
	}

	r.attempts++
	if r.attempts >= r.cfg.MaxAttempts {
		r.exhausted = true
		slog.Warn("reconnect attempts exhausted",
			"attempts", r.cfg.MaxAttempts, "reason", reason)
		return 0, ErrReconnectExhausted
	}

	delay := r.cfg.Delay(r.attempts)
	slog.Info("scheduling reconnect",
		"attempt", r.attempts, "delay", delay, "reason", reason)

	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(delay, r.dial)
	return delay, nil
}

// Success resets the controller after a successful connection: the attempt
// counter returns to zero and the next failure starts again from Base.
func (r *Reconnector) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.exhausted = false
	r.lastReason = ""
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

// Cancel stops any pending scheduled attempt and clears all reconnection
// state. Used on deliberate local disconnects, which must never retry.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.attempts = 0
	r.exhausted = false
	r.lastReason = ""
}

// Manual performs a user-initiated reconnect: it cancels any pending
// automatic attempt, resets the attempt counter, and dials immediately on
// the caller's goroutine.
func (r *Reconnector) Manual() {
	r.mu.Lock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.attempts = 0
	r.exhausted = false
	dial := r.dial
	r.mu.Unlock()

	dial()
}

// Attempts returns the current consecutive-failure count.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Exhausted reports whether the controller has hit the attempt cap and is
// waiting for a manual reconnect.
func (r *Reconnector) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}

// HasPending reports whether an automatic attempt is currently scheduled.
func (r *Reconnector) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// LastReason returns the most recent failure reason, for UI display.
func (r *Reconnector) LastReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReason
}
