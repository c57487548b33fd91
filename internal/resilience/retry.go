package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
)

// RetryConfig bounds the exponential backoff applied between attempts.
type RetryConfig struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, 0..1
}

// DefaultRetryConfig returns the default policy: three attempts with jittered
// exponential backoff between one and ten seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		MinWait:     time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
	}
}

func (cfg RetryConfig) nextDelay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(cfg.MinWait)
	if base <= 0 {
		base = float64(time.Second)
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if cfg.Jitter > 0 {
		j := cfg.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	if delay < float64(cfg.MinWait) {
		delay = float64(cfg.MinWait)
	}
	if cfg.MaxWait > 0 && delay > float64(cfg.MaxWait) {
		delay = float64(cfg.MaxWait)
	}
	return time.Duration(delay)
}

// Retry runs operation up to MaxAttempts times, sleeping a jittered
// exponential backoff between attempts. Only errors the pipeline classifies
// as retryable are retried; a circuit-open error aborts immediately.
func Retry(ctx context.Context, cfg RetryConfig, operation func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.nextDelay(attempt-1, rand.Float64())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, scanerrors.ErrCircuitOpen) {
			return lastErr
		}
		if !scanerrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
