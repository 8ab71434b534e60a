package accessor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds transport retries: at most Attempts tries, each
// under Timeout, with Backoff doubling between tries.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// DefaultRetryPolicy is the stock transport budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Timeout:  5 * time.Second,
		Backoff:  200 * time.Millisecond,
	}
}

// RetryableError reports a transport call that failed every attempt in
// its budget. The carrying job should be requeued, not failed.
type RetryableError struct {
	Attempts int
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("transport failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries an exhausted transport
// budget.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// withRetry runs fn under the policy. Context cancellation stops the
// loop immediately; any other failure backs off and retries until the
// attempt budget runs out.
func withRetry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	backoff := p.Backoff
	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == p.Attempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return &RetryableError{Attempts: p.Attempts, Err: lastErr}
}
