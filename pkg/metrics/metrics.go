// Package metrics provides Prometheus instrumentation for aether's pools and
// pipeline stages.
//
// # Overview
//
// The package exposes package-level collectors registered with the default
// Prometheus registry through promauto, plus small helpers that keep label
// usage consistent between call sites:
//
//	// After a stage closes a throughput window
//	metrics.ObserveStageWindow("fft", 1200, 1198.4, 73.5)
//
//	// After a pool checkout or return
//	metrics.ObservePool("frames", available, capacity)
//	metrics.PoolCheckouts.WithLabelValues("frames", metrics.CheckoutHit).Inc()
//
// # Metric Types
//
// Counter: monotonically increasing values (items processed, checkouts)
// Gauge: values that go up and down (throughput, pool availability)
// Histogram: distributions (per-item transform time)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkout result label values for PoolCheckouts.
const (
	CheckoutHit       = "hit"
	CheckoutGrow      = "grow"
	CheckoutExhausted = "exhausted"
	CheckoutPoisoned  = "poisoned"
)

var (
	// StageItemsProcessed counts items that passed through a stage transform.
	// Labels: stage
	StageItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_stage_items_total",
			Help: "Total number of items processed by a pipeline stage",
		},
		[]string{"stage"},
	)

	// StageThroughput is the item rate of the last completed report window.
	StageThroughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aether_stage_throughput",
			Help: "Items per second processed by a stage in the last report window",
		},
		[]string{"stage"},
	)

	// StageUtilization is the share of the last window spent inside the transform.
	StageUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aether_stage_utilization_percent",
			Help: "Percentage of the last report window spent in the stage transform",
		},
		[]string{"stage"},
	)

	// StageState holds the numeric worker state (0 waiting, 1 processing, 2 terminated).
	StageState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aether_stage_state",
			Help: "Current worker state of a pipeline stage",
		},
		[]string{"stage"},
	)

	// StagePanics counts transform panics that terminated a stage.
	StagePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_stage_panics_total",
			Help: "Number of stage transforms that panicked",
		},
		[]string{"stage"},
	)

	// StageProcessingSeconds tracks the distribution of per-item transform time.
	StageProcessingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "aether_stage_processing_seconds",
			Help: "Time spent inside a stage transform per item",
			Buckets: []float64{
				1e-6, // 1μs - vector ops on small frames
				1e-5, // 10μs
				1e-4, // 100μs - FFT sized work
				1e-3, // 1ms
				1e-2, // 10ms
				1e-1, // 100ms
				1,    // 1s
			},
		},
		[]string{"stage"},
	)

	// PoolAvailable is the number of objects currently checked in.
	PoolAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aether_pool_available",
			Help: "Objects currently available in the pool",
		},
		[]string{"pool"},
	)

	// PoolCapacity is the number of objects ever constructed for the pool.
	PoolCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aether_pool_capacity",
			Help: "Objects constructed for the pool (available + checked out)",
		},
		[]string{"pool"},
	)

	// PoolCheckouts counts checkout attempts by result.
	// Labels: pool, result (hit/grow/exhausted/poisoned)
	PoolCheckouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_pool_checkouts_total",
			Help: "Pool checkout attempts by result",
		},
		[]string{"pool", "result"},
	)

	// PoolDiscards counts objects dropped instead of returned because the pool was poisoned.
	PoolDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_pool_discards_total",
			Help: "Objects discarded on release because the pool was poisoned",
		},
		[]string{"pool"},
	)
)

// ObserveStageWindow publishes the figures of a closed stage report window.
func ObserveStageWindow(stage string, items int64, throughput, utilization float64) {
	StageItemsProcessed.WithLabelValues(stage).Add(float64(items))
	StageThroughput.WithLabelValues(stage).Set(throughput)
	StageUtilization.WithLabelValues(stage).Set(utilization)
}

// ObserveStageItem records the transform duration of one item.
func ObserveStageItem(stage string, d time.Duration) {
	StageProcessingSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// SetStageState records the worker state of a stage.
func SetStageState(stage string, state int) {
	StageState.WithLabelValues(stage).Set(float64(state))
}

// ObservePool publishes pool availability and capacity.
func ObservePool(pool string, available, capacity int) {
	PoolAvailable.WithLabelValues(pool).Set(float64(available))
	PoolCapacity.WithLabelValues(pool).Set(float64(capacity))
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the label the timer was created with.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called
// repeatedly; each call measures from the same start.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
