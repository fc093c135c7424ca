package capture_test

import (
	"math"
	"testing"

	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/audio/capture"
	"github.com/voicelink/voicelink/pkg/audio/pcm"
)

// collectEmitter records every payload offered to it.
type collectEmitter struct {
	payloads []string
	ready    bool
}

func (e *collectEmitter) Send(payload string) bool {
	if !e.ready {
		return false
	}
	e.payloads = append(e.payloads, payload)
	return true
}

func TestSubmit_DecimationRatio48k(t *testing.T) {
	em := &collectEmitter{ready: true}
	p, err := capture.New(capture.Config{NativeRate: 48000, Emitter: em})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 48000 Hz → 8000 Hz is 6:1 decimation. One frame needs 80 retained
	// samples = 480 native samples. Submit exactly ten frames' worth.
	block := make([]float32, 4800)
	p.Submit(block)

	if len(em.payloads) != 10 {
		t.Fatalf("got %d frames from 4800 native samples, want 10", len(em.payloads))
	}
	st := p.Stats()
	if st.Emitted != 10 || st.Dropped != 0 {
		t.Errorf("stats = %+v, want 10 emitted, 0 dropped", st)
	}
}

func TestSubmit_RetainsEverySixthSample(t *testing.T) {
	em := &collectEmitter{ready: true}
	p, err := capture.New(capture.Config{NativeRate: 48000, Emitter: em})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Encode the native sample index into the sample value so retained
	// positions are visible after the round trip.
	block := make([]float32, 480)
	for i := range block {
		block[i] = float32(i) / 32768
	}
	p.Submit(block)

	if len(em.payloads) != 1 {
		t.Fatalf("got %d frames, want 1", len(em.payloads))
	}
	samples, err := pcm.Decode(em.payloads[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(samples) != audio.FrameSamples {
		t.Fatalf("frame has %d samples, want %d", len(samples), audio.FrameSamples)
	}
	// The counter crosses the ratio on native samples 5, 11, 17, ...
	for k, s := range samples {
		want := int16(6*k + 5)
		if s != want {
			t.Fatalf("retained sample %d: got %d, want %d", k, s, want)
		}
	}
}

func TestSubmit_FractionalRatio(t *testing.T) {
	// 44100 Hz → ratio 5.5125, which exercises the fractional accumulator.
	em := &collectEmitter{ready: true}
	p, err := capture.New(capture.Config{NativeRate: 44100, Emitter: em})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	native := 44100 // one second
	p.Submit(make([]float32, native))

	// The fractional accumulator retains exactly 8000 samples per second,
	// so one second of input yields exactly 100 frames.
	if got := len(em.payloads); got != 100 {
		t.Errorf("got %d frames from 1 s of 44.1 kHz audio, want 100", got)
	}
}

func TestSubmit_DropsWhenEmitterNotReady(t *testing.T) {
	em := &collectEmitter{ready: false}
	p, err := capture.New(capture.Config{NativeRate: 8000, Emitter: em})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.Submit(make([]float32, audio.FrameSamples*3))

	st := p.Stats()
	if st.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", st.Dropped)
	}
	if st.Emitted != 0 {
		t.Errorf("emitted = %d, want 0", st.Emitted)
	}
	if len(em.payloads) != 0 {
		t.Errorf("emitter received %d payloads, want 0", len(em.payloads))
	}
}

func TestSubmit_LevelComputedWhileDropping(t *testing.T) {
	var levels []float64
	p, err := capture.New(capture.Config{
		NativeRate: 8000,
		OnLevel:    func(l float64) { levels = append(levels, l) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A full-scale sine has RMS ~0.707.
	block := make([]float32, 800)
	for i := range block {
		block[i] = float32(math.Sin(2 * math.Pi * float64(i) / 80))
	}
	p.Submit(block)

	if len(levels) != 1 {
		t.Fatalf("OnLevel called %d times, want 1", len(levels))
	}
	if levels[0] < 0.6 || levels[0] > 0.8 {
		t.Errorf("level = %v, want near 0.707", levels[0])
	}
	if p.Level() != levels[0] {
		t.Errorf("Level() = %v, callback saw %v", p.Level(), levels[0])
	}
}

func TestClose_NoFramesAfterClose(t *testing.T) {
	em := &collectEmitter{ready: true}
	p, err := capture.New(capture.Config{NativeRate: 8000, Emitter: em})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	p.Submit(make([]float32, 800))
	if len(em.payloads) != 0 {
		t.Errorf("emitter received %d payloads after Close, want 0", len(em.payloads))
	}
}

func TestNew_RejectsLowNativeRate(t *testing.T) {
	if _, err := capture.New(capture.Config{NativeRate: 4000}); err == nil {
		t.Error("expected error for native rate below wire rate")
	}
}
