package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[[]int](0)
	c.now = func() time.Time { return now }

	c.Set("a", []int{1, 2}, time.Minute)
	c.Set("b", []int{3}, 0)
	if v, ok := c.Get("a"); !ok || len(v) != 2 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expiry")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("entries without ttl never expire")
	}
}

func TestTTLCacheEvictsSoonestExpiry(t *testing.T) {
	c := NewTTLCache[string](2)
	c.Set("long", "x", time.Hour)
	c.Set("short", "y", time.Minute)
	c.Set("new", "z", time.Hour)
	if c.Len() != 2 {
		t.Fatalf("expected cap of 2, got %d", c.Len())
	}
	if _, ok := c.Get("short"); ok {
		t.Fatalf("entry closest to expiry should be evicted")
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("long-lived entry should survive")
	}
}
