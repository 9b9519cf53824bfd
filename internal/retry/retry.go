// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Strategy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
	MaxDelay time.Duration
}

// Permanent marks err so Do returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The returned error is the last one fn produced,
// unwrapped from Permanent so callers can match it with errors.Is/As.
func Do(ctx context.Context, s Strategy, fn func(context.Context) error) error {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := s.Backoff
	if backoff < 1 {
		backoff = 2
	}

	delay := s.Delay
	var last error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var p permanentError
			errors.As(err, &p)
			return p.err
		}
		last = err
		if i == attempts-1 {
			break
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", i+1, errors.Join(last, ctx.Err()))
			case <-t.C:
			}
		}
		delay = time.Duration(float64(delay) * backoff)
		if s.MaxDelay > 0 && delay > s.MaxDelay {
			delay = s.MaxDelay
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, last)
}
