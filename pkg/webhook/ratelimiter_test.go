package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	ip := "192.168.1.1"
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "Request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow(ip), "6th request should be denied")
}

func TestRateLimiterIndependentKeys(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
	}
	assert.False(t, rl.Allow("a"))
	assert.False(t, rl.Allow("b"))
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()

	assert.Equal(t, 0, rl.RetryAfter("ip"))

	rl.Allow("ip")
	rl.Allow("ip")
	assert.False(t, rl.Allow("ip"))

	retry := rl.RetryAfter("ip")
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 60)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()
	rl.window = 50 * time.Millisecond

	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow("ip"))
}

func TestRateLimiterDisabledAndCleanup(t *testing.T) {
	off := NewRateLimiter(0)
	defer off.Stop()
	for i := 0; i < 100; i++ {
		assert.True(t, off.Allow("ip"))
	}

	rl := NewRateLimiter(10)
	rl.window = time.Millisecond
	rl.Allow("old")
	time.Sleep(5 * time.Millisecond)
	rl.cleanup()

	rl.mu.Lock()
	_, exists := rl.limits["old"]
	rl.mu.Unlock()
	assert.False(t, exists)

	rl.Stop()
	rl.Stop()
}
