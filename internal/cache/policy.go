package cache

import (
	"context"
	"time"

	"protosignal/domain/core"
)

// RetryPolicy is a bounded exponential backoff policy for store reads.
// Expressed as an explicit object so callers can tune and tests can verify
// it, rather than burying timing constants in the call sites.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before the given attempt (0-based). Doubles each
// attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Do runs fn with retries. Only retryable errors (store unavailability) are
// retried; anything else surfaces immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !core.IsRetryableError(err) {
			return err
		}
	}
	return err
}

// Policy collects the cache's tunables.
type Policy struct {
	// TTL after which a READY entry is considered STALE.
	TTL time.Duration
	// ComputeTimeout caps one recomputation so a runaway pattern or
	// forecast step cannot block the single-flight queue.
	ComputeTimeout time.Duration
	// Retry governs data point store reads.
	Retry RetryPolicy
}

// DefaultPolicy returns the documented defaults: 5 minute TTL, a few seconds
// of compute budget, three store attempts.
func DefaultPolicy() Policy {
	return Policy{
		TTL:            5 * time.Minute,
		ComputeTimeout: 3 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
}
