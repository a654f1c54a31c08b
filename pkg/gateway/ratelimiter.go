package gateway

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrTooManyConcurrent = errors.New("too many concurrent requests")
)

// FrameLimiter bounds one client's inbound frames with a sliding window
// and a cap on frames being handled at once.
type FrameLimiter struct {
	mu            sync.Mutex
	perWindow     int
	maxConcurrent int
	window        time.Duration
	stamps        []time.Time
	inFlight      int
}

// NewFrameLimiter creates a limiter allowing perMinute frames per minute.
// A non-positive perMinute disables the window check.
func NewFrameLimiter(perMinute, maxConcurrent int) *FrameLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &FrameLimiter{
		perWindow:     perMinute,
		maxConcurrent: maxConcurrent,
		window:        time.Minute,
	}
}

// Acquire admits a frame. The returned release must be called once the
// frame has been handled.
func (l *FrameLimiter) Acquire() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight >= l.maxConcurrent {
		return nil, ErrTooManyConcurrent
	}

	now := time.Now()
	l.prune(now)
	if l.perWindow > 0 && len(l.stamps) >= l.perWindow {
		return nil, ErrRateLimited
	}

	l.stamps = append(l.stamps, now)
	l.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
		})
	}, nil
}

// Stats returns the frames in the current window and those in flight.
func (l *FrameLimiter) Stats() (recent, inFlight int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(time.Now())
	return len(l.stamps), l.inFlight
}

func (l *FrameLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]
}
