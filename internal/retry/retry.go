// Package retry provides bounded polling for chain confirmations.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is returned when a poll runs out of attempts without success.
var ErrExhausted = errors.New("retry budget exhausted")

var errNotReady = errors.New("not ready")

// Policy bounds a poll to Attempts calls spaced Interval apart.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// Budget is the worst-case wall time spent sleeping between attempts.
func (p Policy) Budget() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

// Poll calls fn until it reports done. A non-nil error from fn stops the poll
// immediately and is returned unchanged.
func Poll(ctx context.Context, p Policy, fn func(ctx context.Context) (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}

	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(interval))
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if !done {
			return goretry.RetryableError(errNotReady)
		}
		return nil
	})
	if errors.Is(err, errNotReady) {
		return ErrExhausted
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
