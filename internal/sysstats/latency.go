package sysstats

import (
	"slices"
	"sync"
	"time"
)

const maxLatencySamples = 10000

// LatencyTracker tracks latency percentiles over the most recent samples
type LatencyTracker struct {
	samples []time.Duration
	mu      sync.Mutex
}

// NewLatencyTracker creates a latency tracker
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{
		samples: make([]time.Duration, 0, maxLatencySamples),
	}
}

// Record records a latency sample
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples = append(lt.samples, d)
	if len(lt.samples) > maxLatencySamples {
		lt.samples = lt.samples[len(lt.samples)-maxLatencySamples:]
	}
}

// Percentiles returns the 50th, 95th and 99th latency percentiles
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 time.Duration) {
	lt.mu.Lock()
	sorted := slices.Clone(lt.samples)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)

	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	p99 = sorted[len(sorted)*99/100]
	return
}
