package port

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry delay behavior between serial sessions.
// The default is a fixed interval: physically reattached radios do not
// benefit from exponential growth, and nothing shared is being hammered.
type BackoffConfig struct {
	Interval   time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Interval:   2 * time.Second,
		Multiplier: 1.0,
	}
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.Interval
	}
	if cfg.Interval <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.Interval) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// sleepCtx waits for d or until the context is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
