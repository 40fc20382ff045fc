// Package ratelimit implements tally's fixed-window request limiting.
//
// A Limiter tracks one counting window per key. Windows reset on their
// deadline, not by sliding, so the retry hint handed to clients is exact: the
// remainder of the current window. Two instances exist per process (a narrow
// auth limiter and a general one); both are constructed in app wiring and
// shared nothing globally.
package ratelimit

import (
	"sync"
	"time"
)

// Config sizes a Limiter.
type Config struct {
	// Window is the fixed counting interval.
	Window time.Duration
	// Max is the number of requests admitted per key per window.
	Max int
	// SweepInterval is how often expired windows are removed. Zero means
	// sweep once per Window.
	SweepInterval time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	OK bool
	// Remaining is the quota left in the current window after this request.
	Remaining int
	// RetryAfter is the time until the window resets. Set only on reject.
	RetryAfter time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a mutex-guarded fixed-window counter keyed by caller identity.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Limiter with safe defaults when inputs are invalid and
// starts its background sweeper.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Window
	}

	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow counts a request for key at time now and decides whether it passes.
// The first request after a window deadline starts a fresh window; counts
// never carry across windows.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		return Decision{OK: true, Remaining: l.cfg.Max - 1}
	}

	if w.count >= l.cfg.Max {
		return Decision{RetryAfter: w.resetAt.Sub(now)}
	}

	w.count++
	return Decision{OK: true, Remaining: l.cfg.Max - w.count}
}

// Len reports the number of live windows. For tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Stop halts the background sweeper. Idempotent.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops windows whose deadline passed. Memory stays proportional to
// keys active within the last window, not to all keys ever seen.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
