package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoAlwaysFailing(t *testing.T) {
	calls := 0
	retried := 0
	attempts, err := Do(context.Background(), Policy{Attempts: 3},
		func(int, error) { retried++ },
		func(int) error {
			calls++
			return errBoom
		})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		calls := 0
		attempts, err := Do(context.Background(), Policy{Attempts: 3}, nil, func(attempt int) error {
			calls++
			assert.Equal(t, calls, attempt)
			if calls <= k {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, k+1, attempts)
		assert.Equal(t, k+1, calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{Attempts: 0}, nil, func(int) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoWaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	_, _ = Do(context.Background(), Policy{Attempts: 3, Delay: 20 * time.Millisecond}, nil, func(int) error {
		return errBoom
	})
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDoCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := Do(ctx, Policy{Attempts: 5, Delay: time.Hour}, func(int, error) { cancel() }, func(int) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
