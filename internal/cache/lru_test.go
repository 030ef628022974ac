// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets expiry tests run without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newClockedCache(capacity int, ttl time.Duration) (*LRUCache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(capacity, ttl)
	c.now = clk.Now
	return c, clk
}

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)
	ev := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	cache.Add("7|a", ev)
	cache.Add("7|b", ev)
	cache.Add("8|a", ev)

	got, found := cache.Get("7|a")
	if !found || !got.Equal(ev) {
		t.Errorf("Get(7|a) = %v, %v", got, found)
	}
	if cache.Len() != 3 {
		t.Errorf("Expected len 3, got %d", cache.Len())
	}
	if !cache.Remove("7|b") || cache.Remove("7|b") {
		t.Error("Remove should report presence exactly once")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)
	now := time.Now()

	cache.Add("a", now)
	cache.Add("b", now)
	cache.Add("c", now)

	// Touch 'a' so 'b' becomes least recently used.
	cache.Get("a")
	cache.Add("d", now)

	if _, found := cache.Get("b"); found {
		t.Error("Expected 'b' to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, found := cache.Get(k); !found {
			t.Errorf("Expected %q to be present", k)
		}
	}
}

func TestLRUCache_ContainsDoesNotRefresh(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)
	now := time.Now()

	cache.Add("a", now)
	cache.Add("b", now)
	if !cache.Contains("a") {
		t.Fatal("Expected 'a' present")
	}
	cache.Add("c", now)

	if cache.Contains("a") {
		t.Error("Contains must not move 'a' to the front")
	}
}

func TestLRUCache_TTLExpiration(t *testing.T) {
	cache, clk := newClockedCache(10, time.Minute)

	cache.Add("a", clk.Now())
	if !cache.Contains("a") {
		t.Fatal("Expected 'a' immediately after Add")
	}

	clk.Advance(61 * time.Second)
	if cache.Contains("a") {
		t.Error("Expected 'a' expired")
	}
	if _, found := cache.Get("a"); found {
		t.Error("Get should drop the expired entry")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry", cache.Len())
	}
}

func TestLRUCache_AddRefreshesTTL(t *testing.T) {
	cache, clk := newClockedCache(10, time.Minute)

	cache.Add("a", clk.Now())
	clk.Advance(50 * time.Second)
	cache.Add("a", clk.Now())
	clk.Advance(50 * time.Second)

	if !cache.Contains("a") {
		t.Error("re-Add should extend the TTL")
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	cache, clk := newClockedCache(10, time.Minute)

	cache.Add("old1", clk.Now())
	cache.Add("old2", clk.Now())
	clk.Advance(30 * time.Second)
	cache.Add("fresh", clk.Now())
	clk.Advance(45 * time.Second)

	if n := cache.CleanupExpired(); n != 2 {
		t.Errorf("CleanupExpired = %d, want 2", n)
	}
	if !cache.Contains("fresh") {
		t.Error("fresh entry should survive")
	}
}

func TestLRUCache_StatsAndClear(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	cache.Add("a", time.Now())
	cache.Get("a")
	cache.Get("missing")

	hits, misses, size := cache.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats = %d/%d/%d", hits, misses, size)
	}

	cache.Clear()
	if cache.Len() != 0 || cache.Contains("a") {
		t.Error("Clear should empty the cache")
	}
	cache.Add("b", time.Now())
	if !cache.Contains("b") {
		t.Error("cache should be usable after Clear")
	}
}

func TestLRUCache_Defaults(t *testing.T) {
	cache := NewLRUCache(0, 0)
	if cache.capacity != 10000 || cache.ttl != 24*time.Hour {
		t.Errorf("defaults = %d, %v", cache.capacity, cache.ttl)
	}
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d|%d", g, i)
				cache.Add(key, time.Now())
				cache.Contains(key)
				cache.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() > 100 {
		t.Errorf("Len = %d exceeds capacity", cache.Len())
	}
}
