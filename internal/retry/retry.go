// Package retry provides the bounded retry policy shared by navigation,
// control location and extraction.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backoff returns the delay before the given attempt (attempt >= 2).
type Backoff func(attempt int) time.Duration

// Exponential doubles base for every attempt after the second.
func Exponential(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 2 {
			return 0
		}
		return base * time.Duration(1<<uint(attempt-2))
	}
}

// Constant waits the same delay between attempts.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Policy holds the parameters of a retry strategy.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Logger      zerolog.Logger
}

// Once runs an operation exactly one time.
var Once = Policy{MaxAttempts: 1, Logger: zerolog.Nop()}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes fn until it succeeds, returns a permanent error, the context
// ends, or MaxAttempts is reached. The last error is wrapped with op.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(0)
			if p.Backoff != nil {
				delay = p.Backoff(attempt)
			}
			p.Logger.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying")
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return fmt.Errorf("%s: %w", op, ctx.Err())
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
	}

	if attempts == 1 {
		return fmt.Errorf("%s: %w", op, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
