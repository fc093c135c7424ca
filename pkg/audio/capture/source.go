package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrPermissionDenied is returned by a microphone-backed [Source] when the
// user refuses device access. It is fatal to starting capture and requires
// new user action; callers must not retry automatically.
var ErrPermissionDenied = errors.New("capture: audio device permission denied")

// Source is a platform audio input. Implementations push blocks of native-rate
// float samples into the pipeline via the submit callback until Close is
// called or ctx is cancelled.
type Source interface {
	// Start begins capture. It returns once capture is running (or fails to
	// start, e.g. with [ErrPermissionDenied]); blocks are delivered from a
	// source-owned goroutine.
	Start(ctx context.Context, submit func(block []float32)) error

	// Close releases the underlying device. Safe to call more than once.
	Close() error
}

// ToneSource is a synthetic [Source] producing a continuous sine tone. It is
// used by the demo binary and by tests that need a deterministic signal
// without an audio device.
type ToneSource struct {
	// Rate is the native sample rate in Hz. Default 48000.
	Rate int

	// Freq is the tone frequency in Hz. Default 440.
	Freq float64

	// Amplitude is the peak sample value in [0, 1]. Default 0.5.
	Amplitude float64

	// BlockSize is the number of samples per submitted block. Default is
	// 20 ms worth of samples.
	BlockSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	phase  float64
}

// Start launches the tone generator goroutine. Blocks are delivered at real
// time pace (one block per BlockSize/Rate seconds) until Close or ctx done.
func (t *ToneSource) Start(ctx context.Context, submit func(block []float32)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.New("capture: tone source already started")
	}
	if t.Rate <= 0 {
		t.Rate = 48000
	}
	if t.Freq <= 0 {
		t.Freq = 440
	}
	if t.Amplitude <= 0 {
		t.Amplitude = 0.5
	}
	if t.BlockSize <= 0 {
		t.BlockSize = t.Rate / 50
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	interval := time.Duration(t.BlockSize) * time.Second / time.Duration(t.Rate)

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				submit(t.nextBlock())
			}
		}
	}()
	return nil
}

// nextBlock generates one block of sine samples, continuing the phase from
// the previous block.
func (t *ToneSource) nextBlock() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	block := make([]float32, t.BlockSize)
	step := 2 * math.Pi * t.Freq / float64(t.Rate)
	for i := range block {
		block[i] = float32(t.Amplitude * math.Sin(t.phase))
		t.phase += step
	}
	// Keep the phase bounded.
	t.phase = math.Mod(t.phase, 2*math.Pi)
	return block
}

// Close stops the generator and waits for its goroutine to exit.
func (t *ToneSource) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
