package util

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls how a call is retried. Different call classes use
// different policies: reads retry fast and often, order submissions barely
// at all.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64       // backoff factor between attempts, >= 1
	MaxDelay    time.Duration // cap on any single delay, 0 for no cap
	Jitter      float64       // fraction of the delay randomised, 0..1
}

// DefaultRetryPolicy suits idempotent reads: five quick attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Retry calls fn up to p.MaxAttempts times with exponential backoff. It
// returns nil on the first successful call, or the last error if all
// attempts fail. If shouldRetry is non-nil and returns false for an error,
// Retry stops immediately and returns that error. Context cancellation is
// respected between attempts.
func Retry(ctx context.Context, p RetryPolicy, shouldRetry func(error) bool, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < p.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered(delay, p.Jitter)):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return err
}

// jittered spreads d by up to frac in either direction so concurrent
// retriers do not synchronise.
func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * frac
	return time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
}
