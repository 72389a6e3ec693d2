// Package ratelimit counts attempts per key inside fixed windows to slow down brute
// force and abusive clients.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned for non-positive limits or windows.
var ErrInvalidPolicy = errors.New("ratelimit: invalid policy")

// Result reports the state of a key after one check.
type Result struct {
	Allowed   bool
	Count     int
	Remaining int
	// ResetAt is when the current window ends and the key starts over.
	ResetAt time.Time
}

// RetryAfter returns how long a blocked caller should wait, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	wait := r.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

// Limiter counts requests per key. The first request for a key, or the first after
// its window ended, starts a new window with a count of one.
type Limiter interface {
	Check(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// Policy names a limit applied through a Guard.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Validate rejects unusable policies.
func (p Policy) Validate() error {
	if p.Max <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: %s max=%d window=%s", ErrInvalidPolicy, p.Name, p.Max, p.Window)
	}
	return nil
}

// Default policies.
var (
	DefaultLoginPolicy = Policy{Name: "login", Max: 5, Window: 15 * time.Minute}
	DefaultAPIPolicy   = Policy{Name: "api", Max: 100, Window: time.Minute}
)

func validate(key string, window time.Duration, max int) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidPolicy)
	}
	if window <= 0 || max <= 0 {
		return fmt.Errorf("%w: max=%d window=%s", ErrInvalidPolicy, max, window)
	}
	return nil
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}
