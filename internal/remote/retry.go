package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts bounds every record-store call.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the delay before the first retry; each
	// further retry doubles it (2^attempt seconds).
	DefaultInitialBackoff = 2 * time.Second
)

// Executor retries transient record-store failures with exponential backoff.
// Terminal failures pass through immediately without consuming attempts; it
// is a pure control-flow combinator with no side effects of its own.
type Executor struct {
	maxAttempts     uint
	initialInterval time.Duration
	notify          backoff.Notify
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithNotify registers a callback invoked with the error and the upcoming
// delay before each retry sleep.
func WithNotify(n func(err error, next time.Duration)) ExecutorOption {
	return func(e *Executor) {
		e.notify = n
	}
}

// NewExecutor creates an executor performing at most maxAttempts attempts,
// sleeping initialInterval before the first retry and doubling from there.
func NewExecutor(maxAttempts uint, initialInterval time.Duration, opts ...ExecutorOption) *Executor {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialInterval <= 0 {
		initialInterval = DefaultInitialBackoff
	}
	e := &Executor{
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op, retrying transient failures until success or attempts are
// exhausted, in which case the last transient error is returned. Backoff
// sleeps respect ctx cancellation.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !IsTransient(err) {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return v, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = time.Hour

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.maxAttempts),
	}
	if e.notify != nil {
		opts = append(opts, backoff.WithNotify(e.notify))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}
