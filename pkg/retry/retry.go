package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop with exponential backoff
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewPolicy builds a policy from millisecond config values.
func NewPolicy(maxAttempts, initialMs, maxMs int) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Duration(initialMs) * time.Millisecond,
		MaxBackoff:     time.Duration(maxMs) * time.Millisecond,
	}
}

// Backoff is the wait before attempt+1, doubling from InitialBackoff and
// capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, attempts run out or ctx ends. onRetry, if
// set, sees every failed attempt that will be retried. It returns the number
// of attempts made and the last error.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			return attempt, err
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(wait):
		}
	}
	return maxAttempts, err
}
