// Package adapter defines the notification boundary for finished transfers.
//
// Adapters publish a TransferCompletedEvent to a downstream system once a
// transfer command reaches an outcome. Publishing is best effort: the CLI
// logs adapter failures and never changes a transfer's exit code because of
// them.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pithecene-io/persevere/types"
)

// DefaultRetries is the default number of retry attempts after the first.
const DefaultRetries = 3

// initialBackoff is the wait before the first retry. Each later wait doubles.
const initialBackoff = 500 * time.Millisecond

// Adapter publishes transfer completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *types.TransferCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// ErrPermanent marks a publish error that must not be retried.
var ErrPermanent = errors.New("non-retriable error")

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	return backoff.Permanent(fmt.Errorf("%w: %w", ErrPermanent, err))
}

// Retry runs op once plus up to retries more times, doubling the wait
// between attempts from 500ms. It returns the last error, annotated with
// the attempt count, once attempts run out.
func Retry(ctx context.Context, retries int, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(fmt.Errorf("context canceled: %w", err))
		}
		attempts++
		return op(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
