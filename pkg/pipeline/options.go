package pipeline

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/pkg/logger"
)

// DefaultReportInterval is the length of a throughput report window.
const DefaultReportInterval = time.Second

// Option configures a pipeline. Options given to New apply to every stage.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	capacity       int
	reportInterval time.Duration
	reporter       func(Report)
	clock          func() time.Time
	tracer         trace.Tracer
	cpus           []int
	metrics        bool
}

func defaultOptions() *options {
	return &options{
		reportInterval: DefaultReportInterval,
		clock:          time.Now,
		metrics:        true,
	}
}

// WithLogger sets the logger for stage notices and reports.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithChannelCapacity bounds every hand-off channel to n queued items, so a
// slow stage blocks its producer. Zero or less keeps channels unbounded.
func WithChannelCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithReportInterval sets the throughput window length. Non-positive values
// are ignored.
func WithReportInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reportInterval = d
		}
	}
}

// WithReporter registers a callback that receives every throughput report.
// It runs on the stage's thread and must not block.
func WithReporter(fn func(Report)) Option {
	return func(o *options) {
		o.reporter = fn
	}
}

// WithClock replaces time.Now for throughput accounting.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithTracer wraps every transform call in a span.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithCPUAffinity pins stage i's thread to cpus[i%len(cpus)]. Pinning
// failures are logged and otherwise ignored.
func WithCPUAffinity(cpus ...int) Option {
	return func(o *options) {
		o.cpus = append([]int(nil), cpus...)
	}
}

// WithMetrics turns Prometheus stage metrics on or off. They are on by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metrics = enabled
	}
}

func (o *options) resolveLogger() *zap.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logger.Named("pipeline")
}
