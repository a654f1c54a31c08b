package webhook

import (
	"sync"
	"time"
)

// RateLimiter is a per-key sliding-window limiter. Keys are client IPs for
// the automation endpoint.
type RateLimiter struct {
	limits          map[string]*RateLimitState
	maxPerWindow    int
	window          time.Duration
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a limiter allowing maxRequestsPerMinute per key.
// Zero or less disables limiting.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string]*RateLimitState),
		maxPerWindow:    maxRequestsPerMinute,
		window:          time.Minute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.runCleanup()

	return rl
}

// Allow records a request for key and reports whether it is within limits.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.maxPerWindow <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[key]
	if !exists {
		state = &RateLimitState{}
		rl.limits[key] = state
	}
	state.Requests = rl.prune(state.Requests, now)

	if len(state.Requests) >= rl.maxPerWindow {
		return false
	}

	state.Requests = append(state.Requests, now)
	return true
}

// RetryAfter returns seconds until key may send again.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.limits[key]
	if !exists || len(state.Requests) == 0 {
		return 0
	}

	remaining := rl.window.Milliseconds() - (time.Now().UnixMilli() - state.Requests[0])
	if remaining < 0 {
		return 0
	}
	return int((remaining + 999) / 1000)
}

func (rl *RateLimiter) prune(requests []int64, now int64) []int64 {
	windowMs := rl.window.Milliseconds()
	valid := requests[:0]
	for _, t := range requests {
		if now-t < windowMs {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for key, state := range rl.limits {
		state.Requests = rl.prune(state.Requests, now)
		if len(state.Requests) == 0 {
			delete(rl.limits, key)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
