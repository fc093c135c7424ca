// Package capture turns a live stream of native-rate audio samples into a
// steady sequence of encoded 8 kHz wire frames.
//
// The pipeline is push-driven and platform-free: a frame source (microphone
// backend, file reader, synthetic tone) calls [Pipeline.Submit] with blocks of
// float samples at the device's native rate. The pipeline decimates to the
// wire rate, slices the result into fixed 80-sample frames, encodes each
// frame, and hands it to an [Emitter]. Frames the emitter cannot take are
// dropped and counted; capture never blocks on network state.
package capture

import (
	"fmt"
	"sync"

	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/audio/pcm"
)

// Emitter forwards one encoded frame payload towards the transport.
type Emitter interface {
	// Send forwards the payload. It must not block; it returns false when
	// the frame was dropped (transport not ready, or its buffer is full).
	Send(payload string) bool
}

// Config holds the parameters for a capture [Pipeline].
type Config struct {
	// NativeRate is the sample rate of the blocks passed to Submit, in Hz.
	// Must be at least the wire rate; equal rates make decimation a no-op.
	NativeRate int

	// Emitter receives encoded frames. A nil emitter drops every frame
	// (still counted), which is useful for level-only monitoring.
	Emitter Emitter

	// OnLevel, when set, is invoked once per submitted block with the
	// current normalized level in [0, 1]. It is called from inside Submit
	// and must not block.
	OnLevel func(level float64)
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	// Emitted counts frames accepted by the emitter.
	Emitted uint64

	// Dropped counts frames generated while the emitter was absent, not
	// ready, or full.
	Dropped uint64
}

// Pipeline decimates native-rate audio to the wire rate and emits fixed-size
// encoded frames. Create one per session with [New]; all methods are safe for
// concurrent use, though a single source normally calls Submit sequentially.
type Pipeline struct {
	ratio   float64
	emitter Emitter
	onLevel func(float64)

	mu      sync.Mutex
	acc     float64
	hold    []int16
	level   levelMeter
	emitted uint64
	dropped uint64
	closed  bool
}

// New creates a capture pipeline for the given configuration.
func New(cfg Config) (*Pipeline, error) {
	if cfg.NativeRate < audio.WireRate {
		return nil, fmt.Errorf("capture: native rate %d Hz is below the %d Hz wire rate", cfg.NativeRate, audio.WireRate)
	}
	return &Pipeline{
		ratio:   float64(cfg.NativeRate) / float64(audio.WireRate),
		emitter: cfg.Emitter,
		onLevel: cfg.OnLevel,
		hold:    make([]int16, 0, audio.FrameSamples),
		level:   newLevelMeter(levelWindowBlocks),
	}, nil
}

// Submit feeds one block of native-rate float samples in [-1, 1] into the
// pipeline. Decimation is nearest-neighbor: a fractional counter advances by
// one per native sample and a sample is retained each time it crosses the
// native/wire ratio. Aliasing is an accepted tradeoff of this scheme.
//
// Submit after Close is a no-op.
func (p *Pipeline) Submit(block []float32) {
	if len(block) == 0 {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	// Level is computed on the raw block, independent of whether any frame
	// is actually sent.
	p.level.observe(block)
	level := p.level.value()
	cb := p.onLevel

	for _, s := range block {
		p.acc++
		if p.acc < p.ratio {
			continue
		}
		// Subtracting (not zeroing) keeps the fractional remainder so
		// non-integer ratios hold the exact wire rate over time.
		p.acc -= p.ratio
		p.hold = append(p.hold, pcm.Saturate(s))
		if len(p.hold) < audio.FrameSamples {
			continue
		}

		payload, err := pcm.EncodeInt16(p.hold)
		p.hold = p.hold[:0]
		if err != nil {
			// Unreachable with a full hold buffer; counted as a drop.
			p.dropped++
			continue
		}
		if p.emitter != nil && p.emitter.Send(payload) {
			p.emitted++
		} else {
			p.dropped++
		}
	}
	p.mu.Unlock()

	if cb != nil {
		cb(level)
	}
}

// Level returns the current normalized RMS level in [0, 1], averaged over a
// short window of recent blocks.
func (p *Pipeline) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level.value()
}

// Stats returns a snapshot of the frame counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Emitted: p.emitted, Dropped: p.dropped}
}

// Close stops the pipeline synchronously. Buffered partial-frame samples are
// discarded and no frame is emitted after Close returns. Safe to call more
// than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.hold = p.hold[:0]
	return nil
}
