package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt of a policy failed
var ErrExhausted = errors.New("retry budget exhausted")

// Backoff returns the delay before the attempt following attempt n (n starts at 1)
type Backoff interface {
	Delay(n int) time.Duration
}

// Constant waits the same duration between attempts
type Constant time.Duration

func (c Constant) Delay(int) time.Duration {
	return time.Duration(c)
}

// Exponential doubles Base after every attempt, capped at Max
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) Delay(n int) time.Duration {
	d := e.Base
	for i := 1; i < n; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Policy bounds how often a single remote call is attempted
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// NotifyFunc observes each failed attempt. next is zero when no attempt follows.
type NotifyFunc func(attempt int, err error, next time.Duration)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it without spending the remaining budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the budget runs out or ctx ends.
// On exhaustion the returned error wraps both ErrExhausted and the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, notify NotifyFunc) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			if notify != nil {
				notify(attempt, perm.err, 0)
			}
			return perm.err
		}

		var delay time.Duration
		if attempt < maxAttempts && p.Backoff != nil {
			delay = p.Backoff.Delay(attempt)
		}
		if notify != nil {
			next := delay
			if attempt == maxAttempts {
				next = 0
			}
			notify(attempt, err, next)
		}
		if attempt == maxAttempts || delay <= 0 {
			continue
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-t.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}
