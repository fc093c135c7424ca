package stream_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicelink/voicelink/internal/stream"
)

func TestBackoffDelayDoubles(t *testing.T) {
	cfg := stream.BackoffConfig{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	cfg := stream.BackoffConfig{
		Base:        time.Second,
		Max:         5 * time.Second,
		MaxAttempts: 10,
	}
	if got := cfg.Delay(4); got != 5*time.Second {
		t.Errorf("Delay(4) = %v, want 5s", got)
	}
	// Large attempt numbers must not overflow past the cap.
	if got := cfg.Delay(64); got != 5*time.Second {
		t.Errorf("Delay(64) = %v, want 5s", got)
	}
}

func TestFailureSchedulesDial(t *testing.T) {
	var dials atomic.Int32
	r := stream.NewReconnector(stream.BackoffConfig{
		Base:        time.Millisecond,
		Max:         10 * time.Millisecond,
		MaxAttempts: 5,
	}, func() { dials.Add(1) })
	defer r.Cancel()

	delay, err := r.Failure("socket closed")
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if delay != time.Millisecond {
		t.Errorf("delay = %v, want 1ms", delay)
	}
	if got := r.Attempts(); got != 1 {
		t.Errorf("Attempts = %d, want 1", got)
	}

	deadline := time.Now().Add(time.Second)
	for dials.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dials.Load() != 1 {
		t.Fatalf("dials = %d, want 1", dials.Load())
	}
}

func TestSuccessResetsAttempts(t *testing.T) {
	r := stream.NewReconnector(stream.BackoffConfig{
		Base:        time.Hour,
		Max:         time.Hour,
		MaxAttempts: 5,
	}, func() {})
	defer r.Cancel()

	if _, err := r.Failure("one"); err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if _, err := r.Failure("two"); err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if got := r.Attempts(); got != 2 {
		t.Fatalf("Attempts = %d, want 2", got)
	}

	r.Success()
	if got := r.Attempts(); got != 0 {
		t.Errorf("Attempts after Success = %d, want 0", got)
	}
	if r.Exhausted() {
		t.Error("Exhausted after Success, want false")
	}

	// The next failure starts over at the base delay.
	delay, err := r.Failure("three")
	if err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if delay != time.Hour {
		t.Errorf("delay after reset = %v, want 1h", delay)
	}
}

func TestExhaustionStopsScheduling(t *testing.T) {
	var dials atomic.Int32
	r := stream.NewReconnector(stream.BackoffConfig{
		Base:        time.Millisecond,
		Max:         time.Millisecond,
		MaxAttempts: 3,
	}, func() { dials.Add(1) })
	defer r.Cancel()

	for i := 0; i < 2; i++ {
		if _, err := r.Failure("transient"); err != nil {
			t.Fatalf("Failure %d: %v", i+1, err)
		}
		// Wait out the scheduled dial so attempts stay consecutive.
		deadline := time.Now().Add(time.Second)
		for dials.Load() != int32(i+1) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	_, err := r.Failure("final")
	if !errors.Is(err, stream.ErrReconnectExhausted) {
		t.Fatalf("third failure err = %v, want ErrReconnectExhausted", err)
	}
	if !r.Exhausted() {
		t.Error("Exhausted = false, want true")
	}

	// No further dial may fire.
	time.Sleep(20 * time.Millisecond)
	if got := dials.Load(); got != 2 {
		t.Errorf("dials after exhaustion = %d, want 2", got)
	}
}

func TestManualResetsAndDialsImmediately(t *testing.T) {
	var dials atomic.Int32
	r := stream.NewReconnector(stream.BackoffConfig{
		Base:        time.Millisecond,
		Max:         time.Millisecond,
		MaxAttempts: 1,
	}, func() { dials.Add(1) })
	defer r.Cancel()

	if _, err := r.Failure("down"); !errors.Is(err, stream.ErrReconnectExhausted) {
		t.Fatalf("Failure err = %v, want ErrReconnectExhausted", err)
	}

	r.Manual()
	if got := dials.Load(); got != 1 {
		t.Fatalf("dials after Manual = %d, want 1", got)
	}
	if r.Exhausted() {
		t.Error("Exhausted after Manual, want false")
	}
	if got := r.Attempts(); got != 0 {
		t.Errorf("Attempts after Manual = %d, want 0", got)
	}
}

func TestCancelStopsPendingDial(t *testing.T) {
	var dials atomic.Int32
	r := stream.NewReconnector(stream.BackoffConfig{
		Base:        20 * time.Millisecond,
		Max:         20 * time.Millisecond,
		MaxAttempts: 5,
	}, func() { dials.Add(1) })

	if _, err := r.Failure("down"); err != nil {
		t.Fatalf("Failure: %v", err)
	}
	if !r.HasPending() {
		t.Fatal("HasPending = false, want true")
	}
	r.Cancel()

	time.Sleep(40 * time.Millisecond)
	if got := dials.Load(); got != 0 {
		t.Errorf("dials after Cancel = %d, want 0", got)
	}
	if r.HasPending() {
		t.Error("HasPending after Cancel, want false")
	}
}
