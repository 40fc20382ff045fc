package session

import (
	"testing"
	"time"
)

func TestValidityCachePositiveRoundTrip(t *testing.T) {
	c := NewValidityCache(time.Minute, nil)
	defer c.Stop()

	if _, ok := c.Get("u1"); ok {
		t.Fatalf("empty cache returned an entry")
	}

	c.MarkLive("u1")
	live, ok := c.Get("u1")
	if !ok || !live {
		t.Fatalf("Get after MarkLive = (%v, %v), want (true, true)", live, ok)
	}

	if _, ok := c.Get("u2"); ok {
		t.Fatalf("foreign user hit the cache")
	}
}

func TestValidityCacheInvalidate(t *testing.T) {
	c := NewValidityCache(time.Minute, nil)
	defer c.Stop()

	c.MarkLive("u1")
	c.Invalidate("u1")
	if _, ok := c.Get("u1"); ok {
		t.Fatalf("entry survived Invalidate")
	}

	// Invalidating an absent key is a no-op.
	c.Invalidate("u1")
}

func TestValidityCacheEntriesExpire(t *testing.T) {
	c := NewValidityCache(20*time.Millisecond, nil)
	defer c.Stop()

	c.MarkLive("u1")
	if _, ok := c.Get("u1"); !ok {
		t.Fatalf("fresh entry missing")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("u1"); ok {
		t.Fatalf("entry readable past its TTL")
	}
}

func TestValidityCacheMarkLiveRefreshesTTL(t *testing.T) {
	c := NewValidityCache(50*time.Millisecond, nil)
	defer c.Stop()

	c.MarkLive("u1")
	time.Sleep(30 * time.Millisecond)
	c.MarkLive("u1")
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first write but only 30ms after the second; the
	// overwrite must have reset the clock.
	if _, ok := c.Get("u1"); !ok {
		t.Fatalf("entry expired despite fresh MarkLive")
	}
}
