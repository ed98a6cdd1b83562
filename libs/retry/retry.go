package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter adds up to this fraction of the delay at random, spreading out contenders that
	// failed together.
	Jitter float64
	// OnRetry is called before sleeping after a failed attempt.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0.5,
	}
}

// Do runs fn until it succeeds, returns an error retryable rejects, or MaxAttempts is reached.
// The error of the last attempt is returned unchanged so callers can classify it; a cancelled
// context returns ctx.Err().
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func(attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil || attempt >= cfg.MaxAttempts || (retryable != nil && !retryable(err)) {
			return err
		}

		wait := delay
		if cfg.Jitter > 0 && wait > 0 {
			wait += time.Duration(rand.Float64() * cfg.Jitter * float64(wait))
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if cfg.BackoffFactor > 0 {
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
