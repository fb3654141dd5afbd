package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt_SucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Attempt(t.Context(), DefaultRetryPolicy(), func(context.Context, int) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestAttempt_RetriesRetryableUpToCap(t *testing.T) {
	var attempts []int
	var retried []int
	p := DefaultRetryPolicy()
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	_, err := Attempt(t.Context(), p, func(_ context.Context, attempt int) (int, error) {
		attempts = append(attempts, attempt)
		return 0, Retryable("upload part", 2, errors.New("503 SlowDown"))
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []int{1, 2}, retried)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsRetryable(err), "exhausted retries stay resumable")
	assert.Equal(t, uint64(2), partOf(err))
}

func TestAttempt_RecoversWithinCap(t *testing.T) {
	calls := 0
	v, err := Attempt(t.Context(), DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		calls++
		if calls < 3 {
			return 0, Retryable("get range", 1, errors.New("reset"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestAttempt_UnrecoverableShortCircuits(t *testing.T) {
	calls := 0
	_, err := Attempt(t.Context(), DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		calls++
		return 0, Unrecoverable("open source", 1, errors.New("permission denied"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsUnrecoverable(err))
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestAttempt_UnclassifiedIsNotRetried(t *testing.T) {
	calls := 0
	_, err := Attempt(t.Context(), DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		calls++
		return 0, errors.New("mystery")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAttempt_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	_, err := Attempt(ctx, DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, Retryable("upload part", 1, context.Canceled)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsRetryable(err))
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestAttempt_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	calls := 0
	_, err := Attempt(ctx, DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		calls++
		return 0, nil
	})
	require.Error(t, err)
	assert.Zero(t, calls)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttempt_NoBackoffByDefault(t *testing.T) {
	start := time.Now()
	_, _ = Attempt(t.Context(), DefaultRetryPolicy(), func(context.Context, int) (int, error) {
		return 0, Retryable("x", 0, errors.New("fail"))
	})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAttempt_BackoffWaits(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Backoff: 20 * time.Millisecond}
	start := time.Now()
	_, _ = Attempt(t.Context(), p, func(context.Context, int) (int, error) {
		return 0, Retryable("x", 0, errors.New("fail"))
	})
	// Jitter keeps the first delay within [0.5, 1.5] of the base.
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestAttempt_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	p := RetryPolicy{MaxAttempts: 3, Backoff: time.Hour}
	p.OnRetry = func(int, error) { cancel() }

	calls := 0
	_, err := Attempt(ctx, p, func(context.Context, int) (int, error) {
		calls++
		return 0, Retryable("x", 0, errors.New("fail"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 0}.Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 3, Backoff: -time.Second}.Validate())
}
