// Package wait holds the single polling primitive every readiness and
// detection check in the suite goes through, plus the caller-invoked retry
// wrapper.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	kwait "k8s.io/apimachinery/pkg/util/wait"
)

// DefaultInterval is used when Options.Interval is zero or negative.
const DefaultInterval = time.Second

// Predicate reads live page state and reports whether a condition holds.
// A returned error means the state could not be read this tick (the page was
// navigating, a node detached) and is treated as "not yet".
type Predicate func(ctx context.Context) (bool, error)

// Options bounds a Poll call.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Outcome describes how a Poll call ended.
type Outcome struct {
	Satisfied bool
	Attempts  int
	Elapsed   time.Duration
	// LastErr is the most recent predicate error, kept for diagnostics only.
	LastErr error
}

// TimedOut reports whether the deadline (or parent context) ended the poll
// before the predicate held.
func (o Outcome) TimedOut() bool { return !o.Satisfied }

// Poll invokes pred immediately and then every opts.Interval until it returns
// true or opts.Timeout elapses. Each invocation receives a context bounded by
// the remaining budget, so a predicate honoring its context cannot hold Poll
// past the deadline. Poll never returns an error; a timeout is an Outcome.
func Poll(ctx context.Context, pred Predicate, opts Options) Outcome {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var out Outcome
	start := time.Now()
	err := kwait.PollUntilContextTimeout(ctx, interval, opts.Timeout, true, func(pctx context.Context) (bool, error) {
		out.Attempts++
		ok, err := pred(pctx)
		if err != nil {
			out.LastErr = err
			return false, nil
		}
		return ok, nil
	})
	out.Elapsed = time.Since(start)
	out.Satisfied = err == nil
	return out
}

// Retry runs op up to attempts times, sleeping delay between tries, and
// returns nil on the first success. When every attempt fails the last error
// is returned wrapped. Cancellation of ctx stops retrying early.
func Retry(ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var (
		tried   int
		lastErr error
	)
	backoff := kwait.Backoff{Duration: delay, Factor: 1, Steps: attempts}
	err := kwait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		tried++
		if err := op(ctx); err != nil {
			lastErr = err
			return false, nil
		}
		return true, nil
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		// Cancelled before the first attempt ran.
		return fmt.Errorf("retry aborted before first attempt: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("aborted after %d attempts: %w", tried, errors.Join(lastErr, err))
	}
	return fmt.Errorf("failed after %d attempts: %w", tried, lastErr)
}

// Sleep pauses for d, returning early with ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
