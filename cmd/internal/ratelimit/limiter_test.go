package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFixedWindowAdmitsMaxThenRejects(t *testing.T) {
	cases := []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"auth defaults", 15 * time.Minute, 10},
		{"general defaults", 15 * time.Minute, 100},
		{"tiny", time.Second, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(Config{Window: tc.window, Max: tc.max})
			defer l.Stop()

			start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

			for i := 0; i < tc.max; i++ {
				d := l.Allow("k", start.Add(time.Duration(i)*time.Millisecond))
				if !d.OK {
					t.Fatalf("request %d rejected inside quota", i+1)
				}
				if d.Remaining != tc.max-i-1 {
					t.Fatalf("request %d remaining = %d, want %d", i+1, d.Remaining, tc.max-i-1)
				}
			}

			// Request max+1 in the same window must fail with the window
			// remainder as the retry hint.
			at := start.Add(time.Duration(tc.max) * time.Millisecond)
			d := l.Allow("k", at)
			if d.OK {
				t.Fatalf("request %d admitted past quota", tc.max+1)
			}
			wantRetry := start.Add(tc.window).Sub(at)
			if d.RetryAfter != wantRetry {
				t.Fatalf("retry-after = %s, want %s", d.RetryAfter, wantRetry)
			}
		})
	}
}

func TestFreshWindowAdmitsAgain(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 2})
	defer l.Stop()

	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l.Allow("k", start)
	l.Allow("k", start)
	if d := l.Allow("k", start.Add(30*time.Second)); d.OK {
		t.Fatalf("third request admitted inside window")
	}

	// Exactly at the deadline the window is fresh; the count does not carry.
	d := l.Allow("k", start.Add(time.Minute))
	if !d.OK {
		t.Fatalf("first request of new window rejected")
	}
	if d.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", d.Remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 1})
	defer l.Stop()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if d := l.Allow("10.0.0.1", now); !d.OK {
		t.Fatalf("first key rejected")
	}
	if d := l.Allow("10.0.0.1", now); d.OK {
		t.Fatalf("first key over quota admitted")
	}
	if d := l.Allow("10.0.0.2", now); !d.OK {
		t.Fatalf("second key rejected; keys must not share windows")
	}
}

func TestConcurrentAllowNeverOverAdmits(t *testing.T) {
	const max = 50
	const callers = 8
	const perCaller = 25 // 200 attempts against a quota of 50

	l := New(Config{Window: time.Hour, Max: max})
	defer l.Stop()

	now := time.Now().UTC()

	var wg sync.WaitGroup
	admitted := make(chan struct{}, callers*perCaller)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				if l.Allow("shared", now).OK {
					admitted <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != max {
		t.Fatalf("admitted %d requests, want exactly %d", count, max)
	}
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 5, SweepInterval: time.Hour})
	defer l.Stop()

	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("ip-%d", i), start)
	}
	if got := l.Len(); got != 10 {
		t.Fatalf("live windows = %d, want 10", got)
	}

	l.sweep(start.Add(2 * time.Minute))
	if got := l.Len(); got != 0 {
		t.Fatalf("windows after sweep = %d, want 0", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 5})
	l.Stop()
	l.Stop()
}
