// Package retry repeats an operation that fails transiently, such as
// accepting on a listener that is out of file descriptors.
package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultDelay is the pause used when Fixed.Delay is unset.
const DefaultDelay = 250 * time.Millisecond

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that [Fixed.Do] returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Fixed retries with the same pause after every failure, for as long
// as the context allows.
type Fixed struct {
	Delay time.Duration

	// OnRetry, when set, is called after a failed attempt with the
	// wait that precedes the next one.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it returns nil, a permanent error or ctx is done.
// A permanent error is returned unwrapped.  attempt is 1-based.
func (f *Fixed) Do(ctx context.Context, fn func(attempt int) error) error {
	wait := f.Delay
	if wait <= 0 {
		wait = DefaultDelay
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if f.OnRetry != nil {
			f.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
