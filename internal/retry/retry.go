// Package retry provides a bounded retry policy for network-calling components.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxBackoff = time.Hour

// BackoffFunc returns the wait before the next attempt, given the attempt that just failed (1-based).
type BackoffFunc func(attempt int) time.Duration

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int                  // total attempts including the first (default 3)
	Backoff     BackoffFunc          // wait between attempts (default Exponential(1s, 2))
	Retryable   func(err error) bool // nil means every error is retryable
	Sleep       func(ctx context.Context, d time.Duration) error
	OnRetry     func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy returns 3 attempts with 1s, 2s, 4s... backoff, retrying every error.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second, 2.0),
	}
}

// Exponential returns a backoff of base * multiplier^(attempt-1), capped at one hour.
func Exponential(base time.Duration, multiplier float64) BackoffFunc {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return func(attempt int) time.Duration {
		b := &backoff.ExponentialBackOff{
			InitialInterval: base,
			Multiplier:      multiplier,
			MaxInterval:     maxBackoff,
		}
		b.Reset()
		d := base
		for i := 0; i < attempt; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Do runs op until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// The returned error wraps the last error from op; a non-retryable error is returned as is.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	next := p.Backoff
	if next == nil {
		next = Exponential(time.Second, 2.0)
	}

	var (
		attempt   int
		lastErr   error
		permanent bool
	)

	var b backoff.BackOff = &funcBackOff{next: next}
	var sleeper *sleepingBackOff
	if p.Sleep != nil {
		sleeper = &sleepingBackOff{BackOff: b, ctx: ctx, sleep: p.Sleep}
		b = sleeper
	}

	operation := func() (struct{}, error) {
		attempt++
		lastErr = op(ctx, attempt)
		if lastErr != nil && p.Retryable != nil && !p.Retryable(lastErr) {
			permanent = true
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if sleeper != nil {
				wait = sleeper.last
			}
			if p.OnRetry != nil {
				p.OnRetry(attempt, wait, err)
			}
		}),
	)

	switch {
	case err == nil:
		return nil
	case permanent:
		return lastErr
	case attempt < maxAttempts:
		return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, lastErr)
	default:
		return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
	}
}

// funcBackOff adapts a BackoffFunc to backoff.BackOff
type funcBackOff struct {
	next    BackoffFunc
	attempt int
}

func (b *funcBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.next(b.attempt)
}

func (b *funcBackOff) Reset() { b.attempt = 0 }

// sleepingBackOff waits through Policy.Sleep itself and hands a zero wait to the retry loop
// A failed sleep stops the retries
type sleepingBackOff struct {
	backoff.BackOff
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	last  time.Duration
}

func (b *sleepingBackOff) NextBackOff() time.Duration {
	b.last = b.BackOff.NextBackOff()
	if err := b.sleep(b.ctx, b.last); err != nil {
		return backoff.Stop
	}
	return 0
}
