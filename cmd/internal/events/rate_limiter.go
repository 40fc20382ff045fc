package events

import (
	"sync"
	"time"
)

// connLimiter is a per-connection sliding-window limiter for inbound frames.
// Connections are independent, so unlike the HTTP limiter it needs no keys.
type connLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// newConnLimiter constructs a connLimiter with safe defaults when inputs are invalid.
func newConnLimiter(limit int, window time.Duration) *connLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &connLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether a frame observed at time "now" should be permitted.
func (l *connLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	dst := l.events[:0]
	for _, t := range l.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	l.events = dst

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
