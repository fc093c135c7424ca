package stream

import (
	"sync"
	"time"
)

// TurnState is the UI-facing classification of conversational activity.
// It is derived heuristically from capture energy and playback activity and
// is advisory only; it never gates or delays the audio path.
type TurnState int

const (
	// TurnIdle: no speech detected and nothing playing.
	TurnIdle TurnState = iota

	// TurnListening: capture energy above the speech threshold.
	TurnListening

	// TurnThinking: brief pulse between the user's speech ending and the
	// response starting to play.
	TurnThinking

	// TurnSpeaking: synthesized audio is playing.
	TurnSpeaking
)

// String returns the human-readable name of the state.
func (s TurnState) String() string {
	switch s {
	case TurnListening:
		return "listening"
	case TurnThinking:
		return "thinking"
	case TurnSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

// TurnConfig holds the heuristic thresholds. Zero-value fields are replaced
// with defaults.
type TurnConfig struct {
	// SpeechThreshold is the normalized RMS level above which a block
	// counts as speech. Default 0.015.
	SpeechThreshold float64

	// HangTime is how long the level must stay below the threshold after
	// speech before the turn is considered ended. Default 1200 ms.
	HangTime time.Duration
}

func (c TurnConfig) withDefaults() TurnConfig {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.015
	}
	if c.HangTime <= 0 {
		c.HangTime = 1200 * time.Millisecond
	}
	return c
}

// TurnDetector derives a coarse conversational state from two independent
// signals: capture level observations and playback busy/idle edges. Safe for
// concurrent use; the observe methods never block.
type TurnDetector struct {
	cfg      TurnConfig
	onChange func(TurnState)
	now      func() time.Time

	mu          sync.Mutex
	state       TurnState
	inSpeech    bool
	lastSpeech  time.Time
	speechEnded bool
	playing     bool
}

// NewTurnDetector creates a detector. onChange, when non-nil, is invoked for
// every state transition (including the transient thinking pulse) without
// internal locks held; it must not block.
func NewTurnDetector(cfg TurnConfig, onChange func(TurnState)) *TurnDetector {
	return &TurnDetector{
		cfg:      cfg.withDefaults(),
		onChange: onChange,
		now:      time.Now,
	}
}

// ObserveLevel feeds one capture level sample into the heuristic.
func (d *TurnDetector) ObserveLevel(level float64) {
	d.mu.Lock()

	var fire []TurnState
	if level > d.cfg.SpeechThreshold {
		d.lastSpeech = d.now()
		d.inSpeech = true
		d.speechEnded = false
		if !d.playing && d.state != TurnListening {
			d.state = TurnListening
			fire = append(fire, d.state)
		}
	} else if d.inSpeech && d.now().Sub(d.lastSpeech) >= d.cfg.HangTime {
		// Silence held for the full hang time: the user's turn is over.
		d.inSpeech = false
		d.speechEnded = true
		if !d.playing && d.state != TurnIdle {
			d.state = TurnIdle
			fire = append(fire, d.state)
		}
	}

	cb := d.onChange
	d.mu.Unlock()

	d.notify(cb, fire)
}

// ObservePlayback feeds a playback busy/idle edge into the heuristic.
func (d *TurnDetector) ObservePlayback(active bool) {
	d.mu.Lock()

	var fire []TurnState
	switch {
	case active && !d.playing:
		d.playing = true
		if d.speechEnded {
			// Response to a finished turn: pulse thinking, then speaking.
			d.speechEnded = false
			fire = append(fire, TurnThinking)
		}
		d.state = TurnSpeaking
		fire = append(fire, d.state)

	case !active && d.playing:
		d.playing = false
		d.speechEnded = false
		if d.state != TurnIdle {
			d.state = TurnIdle
			fire = append(fire, d.state)
		}
	}

	cb := d.onChange
	d.mu.Unlock()

	d.notify(cb, fire)
}

// State returns the current turn state.
func (d *TurnDetector) State() TurnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset clears all heuristic state, for session teardown.
func (d *TurnDetector) Reset() {
	d.mu.Lock()
	d.state = TurnIdle
	d.inSpeech = false
	d.speechEnded = false
	d.playing = false
	d.mu.Unlock()
}

func (d *TurnDetector) notify(cb func(TurnState), states []TurnState) {
	if cb == nil {
		return
	}
	for _, s := range states {
		cb(s)
	}
}
