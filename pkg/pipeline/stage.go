package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/internal/affinity"
	"github.com/ajitpratap0/aether/pkg/channel"
	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/metrics"
)

// State is the worker state of a stage.
type State int32

const (
	// StateWaiting means the stage is blocked receiving its next item.
	StateWaiting State = iota
	// StateProcessing means the stage is running its transform or handing
	// the result downstream.
	StateProcessing
	// StateTerminated means the stage goroutine has exited.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Reason records why a stage terminated.
type Reason int32

const (
	// ReasonNone is reported while the stage is still running.
	ReasonNone Reason = iota
	// ReasonUpstreamClosed means the inbound channel was closed and drained.
	ReasonUpstreamClosed
	// ReasonDownstreamClosed means the outbound receiver was closed.
	ReasonDownstreamClosed
	// ReasonPanic means the transform panicked.
	ReasonPanic
)

// String returns a string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUpstreamClosed:
		return "upstream closed"
	case ReasonDownstreamClosed:
		return "downstream closed"
	case ReasonPanic:
		return "panic"
	default:
		return fmt.Sprintf("unknown(%d)", int32(r))
	}
}

// StageStats are lifetime counters of one stage.
type StageStats struct {
	Items  int64
	Active time.Duration
	State  State
	Reason Reason
}

// StageInfo is a read-only view of a running or terminated stage.
type StageInfo struct {
	name  string
	index int

	state  atomic.Int32
	reason atomic.Int32
	items  atomic.Int64
	active atomic.Int64

	// err is written before done is closed.
	err  error
	done chan struct{}
}

func newStageInfo(name string, index int) *StageInfo {
	return &StageInfo{
		name:  name,
		index: index,
		done:  make(chan struct{}),
	}
}

// Name returns the stage name.
func (s *StageInfo) Name() string { return s.name }

// Index returns the stage position, starting at 0 for the first stage.
func (s *StageInfo) Index() int { return s.index }

// State returns the current worker state.
func (s *StageInfo) State() State { return State(s.state.Load()) }

// Stats returns the lifetime counters.
func (s *StageInfo) Stats() StageStats {
	return StageStats{
		Items:  s.items.Load(),
		Active: time.Duration(s.active.Load()),
		State:  s.State(),
		Reason: Reason(s.reason.Load()),
	}
}

// Done is closed once the stage goroutine has exited.
func (s *StageInfo) Done() <-chan struct{} { return s.done }

// Err returns the panic that terminated the stage, if any. It is only
// meaningful after Done is closed.
func (s *StageInfo) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// worker runs one stage: receive, transform, send.
type worker[I, O any] struct {
	info   *StageInfo
	fn     func(I) O
	in     *channel.Receiver[I]
	out    *channel.Sender[O]
	opts   *options
	logger *zap.Logger
}

// spawnStage starts a stage reading from in and returns its outbound receiver.
func spawnStage[I, O any](info *StageInfo, fn func(I) O, in *channel.Receiver[I], opts *options, log *zap.Logger) *channel.Receiver[O] {
	tx, rx := channel.New[O](opts.capacity)
	w := &worker[I, O]{
		info: info,
		fn:   fn,
		in:   in,
		out:  tx,
		opts: opts,
		logger: log.With(
			zap.String("stage", info.name),
			zap.Int("sequence", info.index),
		),
	}
	go w.run()
	return rx
}

func (w *worker[I, O]) run() {
	runtime.LockOSThread()
	// A pinned thread exits with the goroutine instead of returning to the scheduler.
	if !w.pin() {
		defer runtime.UnlockOSThread()
	}
	defer w.finish()

	w.logger.Info("stage up")

	win := newWindow(w.info.name, w.opts.reportInterval, w.opts.clock())
	for {
		w.setState(StateWaiting)
		item, err := w.in.Recv()
		if err != nil {
			w.info.reason.Store(int32(ReasonUpstreamClosed))
			return
		}

		w.setState(StateProcessing)
		start := w.opts.clock()
		result, err := w.apply(item)
		end := w.opts.clock()
		if err != nil {
			channel.Discard(item)
			w.fail(err)
			return
		}

		elapsed := end.Sub(start)
		w.info.items.Add(1)
		w.info.active.Add(int64(elapsed))
		if w.opts.metrics {
			metrics.ObserveStageItem(w.info.name, elapsed)
		}
		if r, ok := win.observe(end, elapsed); ok {
			w.report(r)
		}

		if err := w.out.Send(result); err != nil {
			channel.Discard(result)
			w.info.reason.Store(int32(ReasonDownstreamClosed))
			return
		}
	}
}

// apply runs the transform, turning a panic into an error.
func (w *worker[I, O]) apply(item I) (result O, err error) {
	var span trace.Span
	if w.opts.tracer != nil {
		_, span = w.opts.tracer.Start(context.Background(), "stage."+w.info.name,
			trace.WithAttributes(
				attribute.String("stage.name", w.info.name),
				attribute.Int("stage.sequence", w.info.index),
			))
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.FromPanic(r, "stage transform panicked").
				WithDetail("stage", w.info.name)
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "transform panicked")
			}
		}
		if span != nil {
			span.End()
		}
	}()

	return w.fn(item), nil
}

func (w *worker[I, O]) fail(err error) {
	w.info.err = err
	w.info.reason.Store(int32(ReasonPanic))
	if w.opts.metrics {
		metrics.StagePanics.WithLabelValues(w.info.name).Inc()
	}
	w.logger.Error("stage transform panicked", zap.Error(err))
}

func (w *worker[I, O]) report(r Report) {
	w.logger.Info("stage throughput", r.Fields()...)
	if w.opts.metrics {
		metrics.ObserveStageWindow(r.Stage, r.Items, r.Throughput, r.Utilization)
	}
	if w.opts.reporter != nil {
		w.opts.reporter(r)
	}
}

// pin applies the configured CPU affinity. It reports whether the thread
// was pinned.
func (w *worker[I, O]) pin() bool {
	if len(w.opts.cpus) == 0 {
		return false
	}
	cpu := w.opts.cpus[w.info.index%len(w.opts.cpus)]
	if err := affinity.Pin(cpu); err != nil {
		w.logger.Warn("failed to pin stage thread", zap.Int("cpu", cpu), zap.Error(err))
		return false
	}
	w.logger.Debug("stage thread pinned", zap.Int("cpu", cpu))
	return true
}

func (w *worker[I, O]) setState(s State) {
	w.info.state.Store(int32(s))
	if w.opts.metrics {
		metrics.SetStageState(w.info.name, int(s))
	}
}

// finish closes both endpoints so shutdown propagates in both directions.
func (w *worker[I, O]) finish() {
	w.in.Close()
	w.out.Close()
	w.setState(StateTerminated)

	stats := w.info.Stats()
	w.logger.Info("stage down",
		zap.Stringer("reason", stats.Reason),
		zap.Int64("items", stats.Items),
		zap.Duration("active", stats.Active),
	)
	close(w.info.done)
}
