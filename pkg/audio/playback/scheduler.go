// Package playback schedules decoded inbound audio chunks for gapless,
// strictly ordered playback against a monotonic audio clock.
//
// Chunks arrive in irregular network bursts; the [Scheduler] queues them and
// places each one exactly where the previous one ends, using an accumulating
// next-play-time cursor. The cursor is never recomputed from the current
// time once playback has started, which prevents cumulative drift and
// overlap. A bounded queue drops the oldest chunks if playback falls behind.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicelink/voicelink/pkg/audio"
)

// Clock provides the monotonic playback timeline. Now is an offset from an
// arbitrary fixed origin; it must never go backwards.
type Clock interface {
	Now() time.Duration
}

// Sink receives audio to be rendered. PlayAt schedules samples to begin at
// the given clock offset; implementations own the actual audio output and
// must not block.
type Sink interface {
	PlayAt(samples []float32, sampleRate int, at time.Duration)
}

// Chunk is one decoded inbound frame awaiting playback.
type Chunk struct {
	Samples    []float32
	EnqueuedAt time.Time
}

// State is the scheduler's play state.
type State int

const (
	// Idle means the queue is empty and nothing is scheduled.
	Idle State = iota

	// Playing means scheduled audio exists or chunks are queued.
	Playing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Config holds the parameters for a [Scheduler]. Zero-value fields are
// replaced with defaults.
type Config struct {
	// Sink renders the scheduled audio. Required.
	Sink Sink

	// Clock supplies the playback timeline. Default: wall-clock monotonic
	// time from scheduler creation.
	Clock Clock

	// SampleRate of enqueued chunks in Hz. Default: the wire rate.
	SampleRate int

	// Lookahead is how far in the future the first chunk of a burst is
	// placed, absorbing scheduling jitter. Default 100 ms.
	Lookahead time.Duration

	// MaxQueue caps the number of queued chunks; the oldest are dropped
	// beyond it. Default 64.
	MaxQueue int

	// BatchSize is the maximum number of chunks scheduled per step.
	// Default 5.
	BatchSize int

	// RearmLead is how long before the scheduled audio runs out the next
	// schedule step fires. Default 20 ms.
	RearmLead time.Duration

	// OnActivity, when set, is invoked after each Idle/Playing transition
	// with the new playing flag. Called without internal locks held.
	OnActivity func(playing bool)

	// OnDrop, when set, is invoked once per chunk discarded by the
	// overflow policy. Called without internal locks held.
	OnDrop func()
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	// Queued is the current queue depth.
	Queued int

	// Scheduled counts chunks handed to the sink.
	Scheduled uint64

	// Dropped counts chunks discarded by the overflow policy.
	Dropped uint64
}

// Scheduler owns the playback queue. The transport appends via [Enqueue];
// no other component mutates the queue. Safe for concurrent use.
type Scheduler struct {
	sink       Sink
	clock      Clock
	rate       int
	lookahead  time.Duration
	maxQueue   int
	batchSize  int
	rearmLead  time.Duration
	onActivity func(bool)
	onDrop     func()

	mu        sync.Mutex
	queue     []Chunk
	state     State
	cursor    time.Duration
	timer     *time.Timer
	scheduled uint64
	dropped   uint64
	closed    bool

	warnedOverflow sync.Once
}

// wallClock is the default Clock: monotonic time since creation.
type wallClock struct {
	start time.Time
}

func (c wallClock) Now() time.Duration { return time.Since(c.start) }

// New creates a Scheduler. cfg.Sink must be non-nil.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = wallClock{start: time.Now()}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.WireRate
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 100 * time.Millisecond
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 64
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.RearmLead <= 0 {
		cfg.RearmLead = 20 * time.Millisecond
	}
	return &Scheduler{
		sink:       cfg.Sink,
		clock:      cfg.Clock,
		rate:       cfg.SampleRate,
		lookahead:  cfg.Lookahead,
		maxQueue:   cfg.MaxQueue,
		batchSize:  cfg.BatchSize,
		rearmLead:  cfg.RearmLead,
		onActivity: cfg.OnActivity,
		onDrop:     cfg.OnDrop,
	}
}

// Enqueue appends one chunk of decoded samples to the playback queue in
// arrival order. If the queue is at capacity the oldest chunk is dropped;
// overflow is a recoverable degradation, not an error. Enqueue after Close
// is a no-op.
func (s *Scheduler) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	overflowed := false
	if len(s.queue) >= s.maxQueue {
		n := copy(s.queue, s.queue[1:])
		s.queue = s.queue[:n]
		s.dropped++
		overflowed = true
		s.warnedOverflow.Do(func() {
			slog.Warn("playback queue overflow, dropping oldest chunks",
				"max_queue", s.maxQueue)
		})
	}
	s.queue = append(s.queue, Chunk{Samples: samples, EnqueuedAt: time.Now()})

	// While Playing the armed timer drains the queue in batches; only an
	// Idle scheduler starts a fresh timeline here.
	became := false
	if s.state == Idle {
		s.state = Playing
		s.cursor = s.clock.Now() + s.lookahead
		became = true
		s.stepLocked()
	}
	cb := s.onActivity
	dropCb := s.onDrop
	s.mu.Unlock()

	if overflowed && dropCb != nil {
		dropCb()
	}
	if became && cb != nil {
		cb(true)
	}
}

// stepLocked schedules up to one batch of queued chunks back-to-back from
// the cursor and re-arms the timer. Must be called with s.mu held.
func (s *Scheduler) stepLocked() {
	n := len(s.queue)
	if n > s.batchSize {
		n = s.batchSize
	}
	for _, c := range s.queue[:n] {
		s.sink.PlayAt(c.Samples, s.rate, s.cursor)
		s.cursor += time.Duration(len(c.Samples)) * time.Second / time.Duration(s.rate)
		s.scheduled++
	}
	s.queue = s.queue[n:]

	// Fire again shortly before the scheduled audio is consumed so the
	// loop stays keyed to playback progress, not a free-running timer.
	wait := s.cursor - s.rearmLead - s.clock.Now()
	if len(s.queue) == 0 {
		// Nothing left to schedule; wake when the scheduled audio ends to
		// either pick up late arrivals or go idle.
		wait = s.cursor - s.clock.Now()
	}
	if wait < 0 {
		wait = 0
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(wait, s.tick)
}

// tick is the timer callback driving the schedule loop.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if len(s.queue) > 0 {
		s.stepLocked()
		s.mu.Unlock()
		return
	}

	if s.clock.Now() < s.cursor {
		// Scheduled audio still draining; check back at its end.
		wait := s.cursor - s.clock.Now()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(wait, s.tick)
		s.mu.Unlock()
		return
	}

	wasPlaying := s.state == Playing
	s.state = Idle
	cb := s.onActivity
	s.mu.Unlock()

	if wasPlaying && cb != nil {
		cb(false)
	}
}

// State returns the current play state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the queue counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Queued: len(s.queue), Scheduled: s.scheduled, Dropped: s.dropped}
}

// Close stops scheduling and clears the queue. Audio already handed to the
// sink may finish naturally. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
	s.state = Idle
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}
