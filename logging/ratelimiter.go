package logging

import (
	"sync"
	"time"
)

// RateLimiter gates a burst of events, whatever their content, down to one
// per interval. The
// production logger uses it so a failure storm doesn't flood stdout/log
// aggregation with thousands of identical ERROR lines per second.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

// NewRateLimiter returns a limiter that allows at most one Allow() per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Allow reports whether the caller may proceed, updating internal state if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.last) >= r.interval {
		r.last = now
		return true
	}
	return false
}
