package webhook

import (
	"sort"
	"sync"
	"time"
)

// MetricsTracker keeps per-target delivery statistics in memory.
type MetricsTracker struct {
	metrics map[string]*DispatchMetrics
	mu      sync.RWMutex
}

// NewMetricsTracker creates a new metrics tracker
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		metrics: make(map[string]*DispatchMetrics),
	}
}

// Track records one delivery attempt to target.
func (mt *MetricsTracker) Track(target string, err error, duration time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	m, exists := mt.metrics[target]
	if !exists {
		m = &DispatchMetrics{Target: target}
		mt.metrics[target] = m
	}

	m.TotalRequests++
	if err == nil {
		m.SuccessCount++
	} else {
		m.FailureCount++
		m.LastError = err.Error()
	}

	durationMs := float64(duration.Microseconds()) / 1000
	m.AverageResponseTime = (m.AverageResponseTime*float64(m.TotalRequests-1) + durationMs) / float64(m.TotalRequests)
	m.LastRequestAt = time.Now().UnixMilli()
}

// GetMetrics returns copies of all targets' metrics, sorted by target.
func (mt *MetricsTracker) GetMetrics() []DispatchMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]DispatchMetrics, 0, len(mt.metrics))
	for _, m := range mt.metrics {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Target < result[j].Target })
	return result
}

// Get returns a copy of target's metrics or nil.
func (mt *MetricsTracker) Get(target string) *DispatchMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	m, exists := mt.metrics[target]
	if !exists {
		return nil
	}
	result := *m
	return &result
}
