package database

import (
	"context"
	"fmt"
	"time"
)

type RetryPolicy struct {
	MaxAttempts   int
	Interval      time.Duration
	BackoffFactor float64
	MaxInterval   time.Duration
}

func (p RetryPolicy) next(delay time.Duration) time.Duration {
	if p.BackoffFactor <= 1 {
		return delay
	}
	delay = time.Duration(float64(delay) * p.BackoffFactor)
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}

// WithRetry calls fn until it succeeds or the attempt budget is spent.
// onFailure, if set, observes each failed attempt (1-based).
func WithRetry(ctx context.Context, p RetryPolicy, fn func(context.Context) error, onFailure func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.Interval

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		delay = p.next(delay)
	}

	return fmt.Errorf("%w after %d attempt(s): %v", ErrStoreUnavailable, attempts, lastErr)
}
