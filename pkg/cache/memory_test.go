package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	type rec struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	if err := mc.Set(ctx, "study:a", rec{Name: "a", Value: 1.5}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got rec
	if err := mc.Get(ctx, "study:a", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "a" || got.Value != 1.5 {
		t.Fatalf("unexpected value: %+v", got)
	}

	var raw string
	if err := mc.Get(ctx, "study:a", &raw); err != nil || raw == "" {
		t.Fatalf("raw get: %q %v", raw, err)
	}

	if err := mc.Get(ctx, "study:missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryClock(clk.now))

	_ = mc.Set(ctx, "k", "v", time.Minute)
	if ok, _ := mc.Exists(ctx, "k"); !ok {
		t.Fatalf("expected key to exist")
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	ok, err := mc.TryLock(ctx, "lock:s", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	ok, _ = mc.TryLock(ctx, "lock:s", "owner-2", time.Minute)
	if ok {
		t.Fatalf("second lock must fail while held")
	}
	if err := mc.Unlock(ctx, "lock:s", "owner-2"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := mc.Unlock(ctx, "lock:s", "owner-1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, _ = mc.TryLock(ctx, "lock:s", "owner-2", time.Minute)
	if !ok {
		t.Fatalf("lock should be free after unlock")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clk.now))

	for _, k := range []string{"study:a", "study:b", "study:c"} {
		_ = mc.Set(ctx, k, "1", 0)
		clk.t = clk.t.Add(time.Second)
	}
	if ok, _ := mc.Exists(ctx, "study:a"); ok {
		t.Fatalf("oldest key should be evicted")
	}
	if ok, _ := mc.Exists(ctx, "study:b", "study:c"); !ok {
		t.Fatalf("newer keys should survive")
	}
}

func TestMemoryCacheRefreshKeepsLockAlive(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryClock(clk.now))

	if ok, _ := mc.TryLock(ctx, "lock:s", "owner-1", time.Minute); !ok {
		t.Fatalf("lock should be free")
	}
	for i := 0; i < 3; i++ {
		clk.t = clk.t.Add(50 * time.Second)
		if err := mc.Refresh(ctx, "lock:s", "owner-1", time.Minute); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if ok, _ := mc.TryLock(ctx, "lock:s", "owner-2", time.Minute); ok {
		t.Fatalf("refreshed lock must stay held")
	}
	if err := mc.Refresh(ctx, "lock:s", "owner-2", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld for a foreign token, got %v", err)
	}

	clk.t = clk.t.Add(2 * time.Minute)
	if err := mc.Refresh(ctx, "lock:s", "owner-1", time.Minute); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after expiry, got %v", err)
	}
}
