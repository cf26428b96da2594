package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a set of token buckets keyed by name, one per upstream API.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*bucket
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{m: make(map[string]*bucket), now: time.Now, sleep: sleepCtx}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.refill(key, capacity, refillPerSec)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Reserve takes one token for key and returns how long the caller must wait
// before using it. The bucket may go into debt, so waiters queue fairly.
func (l *Limiter) Reserve(key string, capacity, refillPerSec float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.refill(key, capacity, refillPerSec)
	b.tokens--
	if b.tokens >= 0 || b.refillRate <= 0 {
		return 0
	}
	return time.Duration(-b.tokens / b.refillRate * float64(time.Second))
}

// Wait blocks until a token for key is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string, capacity, refillPerSec float64) error {
	d := l.Reserve(key, capacity, refillPerSec)
	if d <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, d)
}

func (l *Limiter) refill(key string, capacity, refillPerSec float64) *bucket {
	now := l.now()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	return b
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
