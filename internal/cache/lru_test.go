// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	c.Add("k1", "v1")
	if got, ok := c.Get("k1"); !ok || got != "v1" {
		t.Errorf("Get(k1) = (%q, %v), want (v1, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}

	c.Add("k1", "v2")
	if got, _ := c.Get("k1"); got != "v2" {
		t.Errorf("Get(k1) after update = %q, want v2", got)
	}

	if !c.Remove("k1") {
		t.Error("Remove(k1) = false, want true")
	}
	if c.Remove("k1") {
		t.Error("second Remove(k1) = true, want false")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	c.Add("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestLRUExpiresEntries(t *testing.T) {
	c := NewLRU[string](10, 10*time.Millisecond)

	c.Add("k", "v")
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry reported as hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after lazy expiry, want 0", c.Len())
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	c.Add("k", "v")
	c.Get("k")
	c.Get("absent")

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats() = (%d, %d, %d), want (1, 1, 1)", hits, misses, size)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[int](100, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%50)
				c.Add(key, n)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}

func TestDedupeSeen(t *testing.T) {
	d := NewDedupe(10, time.Minute)

	if d.Seen("evt1") {
		t.Error("first Seen(evt1) = true, want false")
	}
	if !d.Seen("evt1") {
		t.Error("second Seen(evt1) = false, want true")
	}
	if d.Seen("evt2") {
		t.Error("Seen(evt2) = true for fresh key")
	}
}

func TestDedupeExpiry(t *testing.T) {
	d := NewDedupe(10, 10*time.Millisecond)

	d.Seen("evt")
	time.Sleep(25 * time.Millisecond)
	if d.Seen("evt") {
		t.Error("Seen(evt) = true after TTL elapsed")
	}
}
