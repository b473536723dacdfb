// Package retry provides a generic executor for unreliable operations with bounded
// retries, exponential backoff, and a per-attempt timeout.
//
// Only failures classified as transient are retried. An operation that fails with a
// structural error (bad input, unparsable response) is returned immediately, since
// retrying cannot change the outcome. Callers classify their own errors with
// Transient and Permanent; a per-attempt context deadline is always transient.
//
// A permanently failing transient operation makes exactly MaxRetries+1 attempts
// (one initial plus MaxRetries retries) before surfacing an ExhaustedError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config controls retry behavior for one Do call.
type Config struct {
	MaxRetries        int           // Retries after the initial attempt
	DelayBase         time.Duration // Backoff before attempt i (i>=2) is DelayBase * 2^(i-2)
	PerAttemptTimeout time.Duration // Deadline applied to each attempt; 0 disables

	// Sleep is overridable for tests; nil means time.Sleep (interruptible by ctx).
	Sleep func(time.Duration)
}

// ExhaustedError reports that all attempts failed with transient errors.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// transientError marks an error as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// permanentError marks an error as not retryable, overriding any wrapped transient mark.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient wraps err so that Do will retry it. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent wraps err so that Do will never retry it. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err should be retried. A Permanent mark wins over a
// Transient one; an attempt timeout is transient; anything unmarked is not retried.
func IsTransient(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var trans *transientError
	if errors.As(err, &trans) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do runs op with the configured retry policy and returns its result.
//
// Each attempt receives a context bounded by PerAttemptTimeout. Cancellation of the
// parent ctx stops further attempts; its error is surfaced wrapped in ExhaustedError
// only if at least one attempt already failed, otherwise directly.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		}
	}

	attempts := cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			sleep(cfg.DelayBase << (attempt - 2))
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &ExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return zero, err
		}

		attemptCtx := ctx
		cancel := func() {}
		if cfg.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
		}
		v, err := op(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		// The parent deadline, not the per-attempt one, ends the whole session.
		if ctx.Err() != nil {
			return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}
