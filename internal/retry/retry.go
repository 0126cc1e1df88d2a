// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrCancelled is returned when the context ends while waiting between attempts.
var ErrCancelled = errors.New("retry cancelled")

// Policy bounds the number of attempts. Attempts counts the first try, so
// Attempts=3 means at most three calls. Values below 1 mean a single attempt.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// MaxAttempts returns the effective attempt bound.
func (p Policy) MaxAttempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Do calls fn with attempt numbers starting at 1 until it returns nil or the
// policy is exhausted. onRetry, if set, is called before each wait. It returns
// the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, onRetry func(attempt int, err error), fn func(attempt int) error) (int, error) {
	max := p.MaxAttempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == max {
			return attempt, lastErr
		}

		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return attempt, errors.Join(lastErr, err)
		}
	}
	return max, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-t.C:
		return nil
	}
}
