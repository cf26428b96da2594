package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v   V
	exp time.Time
}

// TTLCache is a process-local cache with per-entry expiry. When full, the
// entry closest to expiry is dropped first.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	m     map[string]entry[V]
	limit int
	now   func() time.Time
}

// NewTTLCache creates a cache holding at most limit entries (0 means no cap).
func NewTTLCache[V any](limit int) *TTLCache[V] {
	return &TTLCache[V]{m: make(map[string]entry[V]), limit: limit, now: time.Now}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	var zero V
	if !ok {
		return zero, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return zero, false
	}
	return e.v, true
}

func (c *TTLCache[V]) Set(key string, v V, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.limit > 0 && len(c.m) >= c.limit {
		c.evictLocked()
	}
	c.m[key] = entry[V]{v: v, exp: exp}
}

// Len reports the number of stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *TTLCache[V]) evictLocked() {
	var victim string
	var victimExp time.Time
	first := true
	for k, e := range c.m {
		// Entries without expiry sort last.
		exp := e.exp
		if exp.IsZero() {
			exp = time.Unix(1<<62, 0)
		}
		if first || exp.Before(victimExp) {
			victim, victimExp, first = k, exp, false
		}
	}
	if !first {
		delete(c.m, victim)
	}
}
