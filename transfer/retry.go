package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts is the number of attempts per part, first included.
const DefaultMaxAttempts = 3

// defaultMaxBackoff caps the delay between attempts when backoff is on.
const defaultMaxBackoff = 30 * time.Second

// RetryPolicy bounds how often one operation is attempted.
//
// With a zero Backoff a retryable failure is retried immediately. A
// positive Backoff enables jittered exponential delays starting at that
// value.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns three immediate attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("retry backoff must be >= 0, got %s", p.Backoff)
	}
	return nil
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.Multiplier = 2
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultMaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Attempt runs op until it succeeds, fails unrecoverably, or MaxAttempts
// attempts have failed.
//
// Unrecoverable errors are returned as is after a single attempt. Once the
// cap is reached the last error is returned wrapped in ErrRetriesExhausted
// and stays retryable. If ctx is cancelled no further attempt is started
// and the result is retryable so the transfer can be resumed.
func Attempt[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	b := p.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Retryable("interrupted", 0, err)
		}

		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if IsUnrecoverable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, b.NextBackOff()); err != nil {
			return zero, Retryable("interrupted", 0, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
