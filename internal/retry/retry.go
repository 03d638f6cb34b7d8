// Package retry implements the bounded backoff used for remote calls.
// Transient failures are retried with exponential delays; anything the
// callee marks permanent fails immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAttempts covers the initial call plus three retries.
const DefaultAttempts = 4

// BaseDelay is the first backoff delay; it doubles per retry: 2s, 4s, 8s.
// A variable so tests can shrink it.
var BaseDelay = 2 * time.Second

// Transient is implemented by errors that are worth retrying. Errors
// without the method are treated as permanent.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether any error in the chain marks itself
// retryable. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var tr Transient
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	return false
}

// Do runs fn up to attempts times, sleeping 2s, 4s, 8s... between tries.
// It returns nil on the first success, the error immediately when it is not
// transient, and the last error when all attempts are exhausted.
func Do(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var err error
	delay := BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay *= 2
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}
