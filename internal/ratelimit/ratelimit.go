package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type RateLimit interface {
	Allow(addr string) bool
	Stats() (allowed, rejected int64)
}

// SlidingWindowLimiter keeps the timestamps of recent requests per address
// and admits a request only when fewer than maxRequests fall inside the
// trailing window.
type SlidingWindowLimiter struct {
	maxRequests int
	window      time.Duration
	hits        map[string][]time.Time
	mutex       sync.Mutex

	allowed  atomic.Int64
	rejected atomic.Int64
}

func New(maxRequests int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxRequests: maxRequests,
		window:      window,
		hits:        make(map[string][]time.Time),
	}
}

func (rl *SlidingWindowLimiter) Allow(addr string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.hits[addr][:0]
	for _, t := range rl.hits[addr] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxRequests {
		rl.hits[addr] = recent
		rl.rejected.Inc()
		return false
	}

	rl.hits[addr] = append(recent, now)
	rl.allowed.Inc()
	return true
}

func (rl *SlidingWindowLimiter) Stats() (allowed, rejected int64) {
	return rl.allowed.Load(), rl.rejected.Load()
}
