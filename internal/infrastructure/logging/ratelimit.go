package logging

import (
	"sync"
	"time"
)

// RateLimiter suppresses repeats of the same log key inside an interval.
//
// The render loop reports per-tick failures (expression errors, custom blend
// failures, observer push timeouts) that would otherwise flood the log at the
// tick rate. Callers guard the log call with Allow:
//
//	if limiter.Allow("blend:" + scene) {
//	    logger.Error("custom blend failed", "scene", scene, "error", err)
//	}
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewRateLimiter returns a limiter that allows one entry per key per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a log entry for key may be written now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if t, ok := r.last[key]; ok && now.Sub(t) < r.interval {
		return false
	}
	r.last[key] = now

	// Keys are usually scene or expression names; keep the map from growing
	// without bound when names churn.
	if len(r.last) > 1024 {
		for k, t := range r.last {
			if now.Sub(t) >= r.interval {
				delete(r.last, k)
			}
		}
	}
	return true
}
