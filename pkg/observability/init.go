package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/logger"
)

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
)

// Initialize sets up the global tracer provider. Calling it again replaces
// the previous provider after shutting it down.
func Initialize(config TracingConfig) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create resource")
	}

	var w io.Writer = os.Stdout
	if config.Writer != nil {
		w = config.Writer
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if config.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create stdout exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SamplingRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(config.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		),
	)

	mu.Lock()
	old := provider
	provider = tp
	tracer = tp.Tracer(config.ServiceName)
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = old.Shutdown(ctx)
	}
	return nil
}

// GetTracer returns the tracer of the last Initialize call, or the global
// otel tracer (a no-op until a provider is installed).
func GetTracer() trace.Tracer {
	mu.Lock()
	defer mu.Unlock()
	if tracer == nil {
		return otel.Tracer("aether")
	}
	return tracer
}

func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 {
		return sdktrace.NeverSample()
	} else if rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes pending spans and syncs the global logger.
func Shutdown(ctx context.Context) error {
	var errs []error

	mu.Lock()
	tp := provider
	provider = nil
	tracer = nil
	mu.Unlock()

	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}

	if err := logger.Sync(); err != nil {
		// Ignore sync errors for stdout/stderr/stdin
		// These are common in tests and when output is redirected
		// See: https://github.com/uber-go/zap/issues/328
		errStr := err.Error()
		if !strings.Contains(errStr, "bad file descriptor") &&
			!strings.Contains(errStr, "invalid argument") &&
			!strings.Contains(errStr, "inappropriate ioctl") &&
			!strings.Contains(errStr, "/dev/stdout") &&
			!strings.Contains(errStr, "/dev/stderr") {
			errs = append(errs, fmt.Errorf("failed to sync logger: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Newf(errors.ErrorTypeInternal, "shutdown errors: %v", errs)
	}
	return nil
}
