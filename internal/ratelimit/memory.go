package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often Run evicts expired windows.
const DefaultSweepInterval = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process. It is safe for concurrent use; each check
// is an atomic increment-or-initialise under one lock.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter returns an empty limiter. A nil clock selects time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{windows: make(map[string]*window), now: now}
}

// Check implements Limiter. Blocked requests do not extend the window.
func (l *MemoryLimiter) Check(ctx context.Context, key string, win time.Duration, max int) (Result, error) {
	if err := validate(key, win, max); err != nil {
		return Result{}, err
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(win)}
		l.windows[key] = w
		return Result{Allowed: true, Count: 1, Remaining: remaining(max, 1), ResetAt: w.resetAt}, nil
	}
	if w.count >= max {
		return Result{Allowed: false, Count: w.count, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Result{Allowed: true, Count: w.count, Remaining: remaining(max, w.count), ResetAt: w.resetAt}, nil
}

// Sweep drops windows that have ended and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is done. Keys created faster than one sweep
// interval can still accumulate between sweeps.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}
