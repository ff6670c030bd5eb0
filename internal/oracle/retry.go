package oracle

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a generation step is attempted. It knows
// nothing about prompts.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the delay after the first failure; it doubles per attempt
	// up to MaxBackoff. Zero disables waiting.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy makes three attempts with a short backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 250 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error // last attempt's error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn with attempt numbers starting at 1 until it succeeds, the
// attempts run out, or ctx is done. Cancellation is returned wrapped around
// the context error so callers can tell it from exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err, last)
		}
		if last = fn(attempt); last == nil {
			return nil
		}
		if attempt == max {
			break
		}
		if d := p.delay(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return cancelled(ctx.Err(), last)
			case <-t.C:
			}
		}
	}
	return &ExhaustedError{Attempts: max, Err: last}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff << (attempt - 1)
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	return d
}

func cancelled(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last attempt: %v)", ctxErr, last)
}
