package port

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestNextBackoffDelayFixedByDefault(t *testing.T) {
	cfg := DefaultBackoff()
	for attempt := 1; attempt <= 10; attempt++ {
		if d := NextBackoffDelay(cfg, attempt, nil); d != 2*time.Second {
			t.Fatalf("attempt %d: delay=%v, want 2s", attempt, d)
		}
	}
}

func TestNextBackoffDelayExponentialWhenConfigured(t *testing.T) {
	cfg := BackoffConfig{Interval: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	if d := NextBackoffDelay(cfg, 1, nil); d != 100*time.Millisecond {
		t.Fatalf("attempt 1: %v", d)
	}
	if d := NextBackoffDelay(cfg, 2, nil); d != 200*time.Millisecond {
		t.Fatalf("attempt 2: %v", d)
	}
	if d := NextBackoffDelay(cfg, 3, nil); d != 400*time.Millisecond {
		t.Fatalf("attempt 3: %v", d)
	}
	if d := NextBackoffDelay(cfg, 10, nil); d != time.Second {
		t.Fatalf("attempt 10 should cap at max: %v", d)
	}
}

func TestNextBackoffDelayJitterBounded(t *testing.T) {
	cfg := BackoffConfig{Interval: 100 * time.Millisecond, Multiplier: 1.0, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := NextBackoffDelay(cfg, 2, rng)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestNextBackoffDelayZeroInterval(t *testing.T) {
	if d := NextBackoffDelay(BackoffConfig{}, 5, nil); d != 0 {
		t.Fatalf("delay=%v, want 0", d)
	}
}

func TestSleepCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if sleepCtx(ctx, 5*time.Second) {
		t.Fatalf("sleep survived cancellation")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancel not observed promptly")
	}
}

func TestSleepCtxCompletes(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatalf("sleep failed without cancellation")
	}
}
