package http

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential retry policy with full jitter.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	MaxRetries int
	// Sleep waits for d or until ctx ends. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before retry number attempt (0-based). A
// server-requested delay wins when it is longer.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	d := b.Min
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if d > 0 {
		d = d/2 + rand.N(d/2+1)
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget runs out. onRetry, when set, observes every scheduled retry.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsRetryable(err) || attempt >= b.MaxRetries {
			return err
		}
		wait := b.Delay(attempt, RetryAfterOf(err))
		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
