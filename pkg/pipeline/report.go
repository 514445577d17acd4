package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// Report summarizes one throughput window of a stage.
type Report struct {
	Stage string
	// Items processed during the window.
	Items int64
	// Window is the wall time the window covered.
	Window time.Duration
	// Active is the time spent inside the transform during the window.
	Active time.Duration
	// Throughput in items per second.
	Throughput float64
	// Utilization is Active as a percentage of Window.
	Utilization float64
}

// newReport computes throughput and utilization at millisecond precision.
// A window shorter than one millisecond yields zero for both.
func newReport(stage string, items int64, window, active time.Duration) Report {
	r := Report{
		Stage:  stage,
		Items:  items,
		Window: window,
		Active: active,
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return r
	}
	activeMs := active.Milliseconds()
	r.Throughput = float64(items) / float64(windowMs) * 1000
	r.Utilization = float64(activeMs) / float64(windowMs) * 100
	return r
}

// Fields returns the report as zap fields.
func (r Report) Fields() []zap.Field {
	return []zap.Field{
		zap.String("stage", r.Stage),
		zap.Int64("items", r.Items),
		zap.Duration("window", r.Window),
		zap.Float64("items_per_sec", r.Throughput),
		zap.Float64("utilization_pct", r.Utilization),
	}
}

// window accumulates one stage's counters between reports.
type window struct {
	stage    string
	interval time.Duration
	start    time.Time
	items    int64
	active   time.Duration
}

func newWindow(stage string, interval time.Duration, start time.Time) *window {
	return &window{stage: stage, interval: interval, start: start}
}

// observe adds one processed item. When the window has run for at least the
// interval it returns the report and starts a new window at now.
func (w *window) observe(now time.Time, active time.Duration) (Report, bool) {
	w.items++
	w.active += active

	elapsed := now.Sub(w.start)
	if elapsed < w.interval {
		return Report{}, false
	}

	r := newReport(w.stage, w.items, elapsed, w.active)
	w.start = now
	w.items = 0
	w.active = 0
	return r, true
}
