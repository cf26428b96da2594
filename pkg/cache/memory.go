package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryItem stores an encoded value with expiration.
type MemoryItem struct {
	Value    []byte
	ExpireAt time.Time
}

func (m *MemoryItem) expired(now time.Time) bool {
	return !m.ExpireAt.IsZero() && now.After(m.ExpireAt)
}

// MemoryCache implements Service in process memory with LRU eviction.
// It backs the "memory" study backend and tests; state dies with the process.
type MemoryCache struct {
	data    map[string]*MemoryItem
	access  map[string]time.Time
	mutex   sync.Mutex
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize: 1000,
		Now:     time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &MemoryCache{
		data:    make(map[string]*MemoryItem),
		access:  make(map[string]time.Time),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	mc.putLocked(key, data, expiration)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item, ok := mc.liveLocked(key)
	if ok {
		mc.access[key] = mc.now()
	}
	mc.mutex.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return decodeValue(item.Value, dest)
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		if _, ok := mc.liveLocked(key); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, ok := mc.liveLocked(key); ok {
		return false, nil
	}
	mc.putLocked(key, []byte(token), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, token string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.liveLocked(key)
	if !ok {
		return ErrCacheMiss
	}
	if string(item.Value) != token {
		return ErrLockHeld
	}
	delete(mc.data, key)
	delete(mc.access, key)
	return nil
}

func (mc *MemoryCache) Refresh(_ context.Context, key, token string, ttl time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.liveLocked(key)
	if !ok {
		return ErrCacheMiss
	}
	if string(item.Value) != token {
		return ErrLockHeld
	}
	if ttl > 0 {
		item.ExpireAt = mc.now().Add(ttl)
	}
	mc.access[key] = mc.now()
	return nil
}

// Close is a no-op; it satisfies Service.
func (mc *MemoryCache) Close() error {
	return nil
}

func (mc *MemoryCache) putLocked(key string, data []byte, expiration time.Duration) {
	item := &MemoryItem{Value: append([]byte(nil), data...)}
	if expiration > 0 {
		item.ExpireAt = mc.now().Add(expiration)
	}
	mc.data[key] = item
	mc.access[key] = mc.now()
}

func (mc *MemoryCache) liveLocked(key string) (*MemoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return nil, false
	}
	if item.expired(mc.now()) {
		delete(mc.data, key)
		delete(mc.access, key)
		return nil, false
	}
	return item, true
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}
