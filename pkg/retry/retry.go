// Package retry implements the bounded reconnect policy used by the
// signaling transport. Delays follow a fixed doubling schedule: a given
// policy always produces the same timing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retried operation. The delay after the nth failure is
// Base doubled n times, capped at Max.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// SignalingPolicy is the dial policy for the signaling channel. Three tries
// spaced 250ms then 500ms keep the worst case well inside the discovery
// window of even the mobile timeout profile.
func SignalingPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     250 * time.Millisecond,
		Max:      2 * time.Second,
	}
}

type abortError struct {
	err error
}

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort wraps err so Do returns it immediately instead of burning the
// remaining attempts. For failures more tries cannot mend, such as a
// rejected session token.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Do runs fn up to p.Attempts times, sleeping p.delay between failures.
// It returns nil on the first success, the unwrapped cause on Abort, and
// the last error once the attempts are spent. Context cancellation wins
// over any pending sleep.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var abort *abortError
		if errors.As(err, &abort) {
			return abort.err
		}
		if attempt == p.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.Attempts, lastErr)
}

// delay is the wait after the given zero-based failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if p.Max > 0 && (d > p.Max || d < p.Base) {
		d = p.Max
	}
	return d
}
