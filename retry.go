package makeparallel

import (
	"context"
	"time"
)

// ─── Retry ──────────────────────────────────────────────────────────────────

// Backoff yields the delay before retry attempt n (n starts at 1, the
// delay before the second try).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles (or scales by Factor) the delay each
// attempt, capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64 // defaults to 2
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// LinearBackoff grows the delay by Initial each attempt, capped at Max.
type LinearBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay implements Backoff.
func (b LinearBackoff) Delay(attempt int) time.Duration {
	d := time.Duration(attempt) * b.Initial
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ConstantBackoff waits the same delay between every attempt.
type ConstantBackoff struct {
	Interval time.Duration
}

// Delay implements Backoff.
func (b ConstantBackoff) Delay(int) time.Duration { return b.Interval }

// Retry runs fn up to attempts times with no delay between tries,
// returning the first success or the last error.
func Retry[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error)) (T, error) {
	return RetryBackoff(ctx, attempts, ConstantBackoff{}, fn)
}

// RetryBackoff runs fn up to attempts times, sleeping b.Delay(n)
// before retry n. Cancelling ctx aborts the wait and returns ctx.Err.
func RetryBackoff[T any](ctx context.Context, attempts int, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if d := b.Delay(attempt - 1); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}
