package server

import (
	"sync"
	"time"
)

const rateLimitWindow = time.Minute

// RateLimiter enforces a per-client sliding-window request budget.
type RateLimiter struct {
	maxPerWindow int

	mu          sync.Mutex
	requests    map[string][]time.Time
	stopCleanup chan struct{}
}

// NewRateLimiter creates a limiter allowing maxPerMinute requests per
// client key.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		maxPerWindow: maxPerMinute,
		requests:     make(map[string][]time.Time),
		stopCleanup:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a request for key and reports whether it fits the
// window budget.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := trimWindow(rl.requests[key], now)

	if len(recent) >= rl.maxPerWindow {
		rl.requests[key] = recent
		return false
	}

	rl.requests[key] = append(recent, now)
	return true
}

// RetryAfter returns the seconds until key's oldest in-window request
// expires, rounded up.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := trimWindow(rl.requests[key], time.Now())
	if len(recent) == 0 {
		return 0
	}

	remaining := rateLimitWindow - time.Since(recent[0])
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func trimWindow(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateLimitWindow)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, stamps := range rl.requests {
				if kept := trimWindow(stamps, now); len(kept) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = kept
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}
