// Package util holds small cross-cutting helpers.
package util

import (
	"context"
	"time"

	"hawser/pkg/helper/errors"
)

// RetryOptions configures the retry behavior.
type RetryOptions struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Factor      float64
	Retryable   func(error) bool
}

// DefaultRetryOptions returns sensible defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:  3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     15 * time.Second,
		Factor:      2.0,
		Retryable:   func(error) bool { return true },
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// RetryWithContext retries fn with exponential backoff until it succeeds, the
// retry budget is exhausted, or the context is done.
func RetryWithContext(ctx context.Context, fn RetryableFunc, opts RetryOptions) error {
	var err error
	wait := opts.InitialWait

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return errors.Canceledf("retry aborted: %v", ctx.Err())
			}

			wait = time.Duration(float64(wait) * opts.Factor)
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return err
		}
	}

	return err
}

// RetryWithBackoff retries fn with exponential backoff using the key knobs
// and defaults for the rest.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialWait, maxWait time.Duration, fn RetryableFunc) error {
	return RetryWithContext(ctx, fn, RetryOptions{
		MaxRetries:  maxRetries,
		InitialWait: initialWait,
		MaxWait:     maxWait,
		Factor:      2.0,
		Retryable:   func(error) bool { return true },
	})
}
