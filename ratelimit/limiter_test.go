package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestAllow_Unlimited(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow("sub-1", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l := New(newClock().now)
	key := "sub-limited"

	// Bucket starts full with two tokens.
	if !l.Allow(key, 2) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow(key, 2) {
		t.Fatal("second call should be allowed")
	}
	if l.Allow(key, 2) {
		t.Fatal("third call should be denied")
	}
}

func TestAllow_Refills(t *testing.T) {
	clock := newClock()
	l := New(clock.now)
	key := "sub-refill"

	for i := 0; i < 10; i++ {
		l.Allow(key, 10)
	}
	if l.Allow(key, 10) {
		t.Fatal("should be denied after exhausting bucket")
	}

	clock.advance(200 * time.Millisecond)

	if !l.Allow(key, 10) {
		t.Fatal("should be allowed after refill")
	}
}

func TestAllow_BurstCapped(t *testing.T) {
	clock := newClock()
	l := New(clock.now)

	l.Allow("sub", 1)
	clock.advance(time.Hour)

	if !l.Allow("sub", 1) {
		t.Fatal("should be allowed after refill")
	}
	if l.Allow("sub", 1) {
		t.Fatal("refill must not exceed one second's worth of tokens")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(newClock().now)

	if !l.Allow("sub-a", 1) {
		t.Fatal("sub-a first call should be allowed")
	}
	if l.Allow("sub-a", 1) {
		t.Fatal("sub-a second call should be denied")
	}
	if !l.Allow("sub-b", 1) {
		t.Fatal("sub-b should have its own bucket")
	}
}

func TestReset(t *testing.T) {
	l := New(newClock().now)
	l.Allow("sub", 1)
	if l.Allow("sub", 1) {
		t.Fatal("should be denied before reset")
	}
	l.Reset("sub")
	if !l.Allow("sub", 1) {
		t.Fatal("should be allowed after reset")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(newClock().now)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("sub", 5) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("allowed = %d, want 5", allowed)
	}
}
