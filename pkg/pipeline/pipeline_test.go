package pipeline

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/aether/pkg/channel"
	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/metrics"
	"github.com/ajitpratap0/aether/pkg/pool"
	"github.com/ajitpratap0/aether/pkg/testutil"
)

func testOptions(t *testing.T, extra ...Option) []Option {
	return append([]Option{
		WithLogger(testutil.TestLogger(t)),
		WithMetrics(false),
	}, extra...)
}

// waitStages blocks until every stage has exited so no goroutine logs
// after the test returns.
func waitStages[I, O any](t *testing.T, p *Pipeline[I, O]) {
	t.Helper()
	require.NoError(t, p.Wait(testutil.TestContext(t)), "pipeline did not shut down")
}

func collect[T any](rx *channel.Receiver[T]) []T {
	var out []T
	for v := range rx.All() {
		out = append(out, v)
	}
	return out
}

type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestPipelineOrdering(t *testing.T) {
	const n = 1000

	p := New("negate", func(v int) int { return -v }, testOptions(t)...)
	p2 := Then(p, "format", func(v int) string { return strconv.Itoa(v * 2) })
	in, out := p2.Finish()

	go func() {
		defer in.Close()
		for i := 1; i <= n; i++ {
			if in.Send(i) != nil {
				return
			}
		}
	}()

	got := collect(out)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, strconv.Itoa(-(i+1)*2), v)
	}

	waitStages(t, p2)
	stages := p2.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "negate", stages[0].Name())
	assert.Equal(t, 1, stages[1].Index())
	for _, s := range stages {
		stats := s.Stats()
		assert.Equal(t, int64(n), stats.Items)
		assert.Equal(t, StateTerminated, stats.State)
		assert.Equal(t, ReasonUpstreamClosed, stats.Reason)
		assert.NoError(t, s.Err())
	}
}

func TestPipelineAddStagePreservesType(t *testing.T) {
	p := New("inc", func(v int) int { return v + 1 }, testOptions(t)...).
		AddStage("double", func(v int) int { return v * 2 }).
		AddStage("dec", func(v int) int { return v - 1 })
	in, out := p.Finish()

	for i := 0; i < 5; i++ {
		require.NoError(t, in.Send(i))
	}
	in.Close()

	assert.Equal(t, []int{1, 3, 5, 7, 9}, collect(out))
	waitStages(t, p)
	assert.Len(t, p.Stages(), 3)
}

func TestPipelineShutdownDrainsQueuedItems(t *testing.T) {
	const m = 250

	gate := make(chan struct{})
	p := New("gated", func(v int) int {
		<-gate
		return v
	}, testOptions(t)...).AddStage("identity", func(v int) int { return v })
	in, out := p.Finish()

	for i := 0; i < m; i++ {
		require.NoError(t, in.Send(i))
	}
	in.Close()
	close(gate)

	got := collect(out)
	require.Len(t, got, m)
	for i, v := range got {
		assert.Equal(t, i, v)
	}

	_, err := out.Recv()
	assert.ErrorIs(t, err, channel.ErrDisconnected)
	waitStages(t, p)
}

func TestPipelineClosingOutputStopsUpstream(t *testing.T) {
	p := New("a", func(v int) int { return v }, testOptions(t)...).
		AddStage("b", func(v int) int { return v }).
		AddStage("c", func(v int) int { return v })
	in, out := p.Finish()

	out.Close()

	deadline := time.Now().Add(5 * time.Second)
	var err error
	for i := 0; time.Now().Before(deadline); i++ {
		if err = in.Send(i); err != nil {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
	require.ErrorIs(t, err, channel.ErrDisconnected)
	assert.True(t, in.Disconnected())

	waitStages(t, p)
	for _, s := range p.Stages() {
		assert.Equal(t, ReasonDownstreamClosed, s.Stats().Reason, "stage %s", s.Name())
	}
	in.Close()
}

func TestPipelinePanicIsolation(t *testing.T) {
	p := New("pass", func(v int) int { return v }, testOptions(t)...).
		AddStage("explode", func(v int) int {
			if v == 3 {
				panic("bad sample")
			}
			return v
		}).
		AddStage("tail", func(v int) int { return v * 10 })
	in, out := p.Finish()

	go func() {
		defer in.Close()
		for i := 1; i <= 5; i++ {
			if in.Send(i) != nil {
				return
			}
		}
	}()

	assert.Equal(t, []int{10, 20}, collect(out))
	waitStages(t, p)

	stages := p.Stages()
	explode := stages[1]
	assert.Equal(t, ReasonPanic, explode.Stats().Reason)
	require.Error(t, explode.Err())
	assert.True(t, errors.IsType(explode.Err(), errors.ErrorTypePanic))
	assert.Contains(t, explode.Err().Error(), "bad sample")

	assert.Equal(t, ReasonUpstreamClosed, stages[2].Stats().Reason)
	assert.NoError(t, stages[2].Err())
	assert.Contains(t, []Reason{ReasonUpstreamClosed, ReasonDownstreamClosed}, stages[0].Stats().Reason)
	assert.NoError(t, stages[0].Err())
}

func TestPipelineReporter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0), step: 100 * time.Millisecond}

	var mu sync.Mutex
	var reports []Report
	p := New("probe", func(v int) int { return v }, testOptions(t,
		WithClock(clock.Now),
		WithReporter(func(r Report) {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}),
	)...)
	in, out := p.Finish()

	for i := 0; i < 12; i++ {
		require.NoError(t, in.Send(i))
	}
	in.Close()
	assert.Len(t, collect(out), 12)
	waitStages(t, p)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, "probe", r.Stage)
		assert.Equal(t, int64(5), r.Items)
		assert.Equal(t, time.Second, r.Window)
		assert.Equal(t, 500*time.Millisecond, r.Active)
		assert.InDelta(t, 5.0, r.Throughput, 1e-9)
		assert.InDelta(t, 50.0, r.Utilization, 1e-9)
	}
}

func TestPipelineBoundedChannels(t *testing.T) {
	gate := make(chan struct{})
	p := New("slow", func(v int) int {
		<-gate
		return v
	}, testOptions(t, WithChannelCapacity(2))...)
	in, out := p.Finish()

	var sent atomic.Int32
	go func() {
		defer in.Close()
		for i := 0; i < 10; i++ {
			if in.Send(i) != nil {
				return
			}
			sent.Add(1)
		}
	}()

	// one item held by the stage plus two queued
	assert.Eventually(t, func() bool { return sent.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), sent.Load())

	close(gate)
	assert.Len(t, collect(out), 10)
	waitStages(t, p)
}

func TestPipelineConsumedBuilderPanics(t *testing.T) {
	p := New("first", func(v int) int { return v }, testOptions(t)...)
	next := p.AddStage("second", func(v int) int { return v })

	assert.PanicsWithValue(t, "pipeline: Finish called on a consumed builder", func() {
		p.Finish()
	})
	assert.Panics(t, func() {
		Then(p, "third", func(v int) string { return "" })
	})

	in, out := next.Finish()
	assert.Panics(t, func() { next.Finish() })

	in.Close()
	assert.Empty(t, collect(out))
	waitStages(t, next)
	assert.Equal(t, p.ID(), next.ID())
}

func TestPipelineNilTransformPanics(t *testing.T) {
	assert.PanicsWithValue(t, "pipeline: nil transform", func() {
		New[int, int]("nil", nil, testOptions(t)...)
	})
}

func TestPipelineDone(t *testing.T) {
	p := New("only", func(v int) int { return v }, testOptions(t)...)
	in, out := p.Finish()
	done := p.Done()

	select {
	case <-done:
		t.Fatal("pipeline reported done while running")
	case <-time.After(10 * time.Millisecond):
	}

	in.Close()
	out.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

func TestPipelinePooledFrames(t *testing.T) {
	frames := pool.Make(4,
		func() []float64 { return make([]float64, 8) },
		func(f *[]float64) { clear(*f) },
		pool.WithLogger(testutil.TestLogger(t)),
	)

	scale := func(k float64) func(*pool.Elem[[]float64]) *pool.Elem[[]float64] {
		return func(e *pool.Elem[[]float64]) *pool.Elem[[]float64] {
			for i := range *e.Value() {
				(*e.Value())[i] *= k
			}
			return e
		}
	}

	p := New("x2", scale(2), testOptions(t)...).AddStage("x3", scale(3))
	in, out := p.Finish()

	go func() {
		defer in.Close()
		for i := 0; i < 100; i++ {
			e := frames.MustTakeOrMake()
			(*e.Value())[0] = float64(i)
			if in.Send(e) != nil {
				e.Release()
				return
			}
		}
	}()

	i := 0
	for e := range out.All() {
		assert.Equal(t, float64(i)*6, (*e.Value())[0])
		e.Release()
		i++
	}
	assert.Equal(t, 100, i)
	waitStages(t, p)

	stats := frames.Stats()
	assert.Equal(t, 0, stats.Outstanding)
	assert.Equal(t, stats.Capacity, stats.Available)
}

func TestPipelineThroughput(t *testing.T) {
	testutil.IntegrationTest(t)

	const n = 20000
	frames := pool.Make(32,
		func() []float64 { return make([]float64, 64) },
		func(f *[]float64) { clear(*f) },
		pool.WithLogger(testutil.TestLogger(t)),
	)
	scale := func(k float64) func(*pool.Elem[[]float64]) *pool.Elem[[]float64] {
		return func(e *pool.Elem[[]float64]) *pool.Elem[[]float64] {
			for i := range *e.Value() {
				(*e.Value())[i] *= k
			}
			return e
		}
	}

	testutil.NewPerformanceTest(t, "pooled three-stage pipeline").
		WithThroughputTarget(5000).
		WithMemoryTarget(64 << 20).
		Run(func() (int64, time.Duration) {
			p := New("x2", scale(2), testOptions(t, WithChannelCapacity(64))...).
				AddStage("x3", scale(3)).
				AddStage("x5", scale(5))
			in, out := p.Finish()

			start := time.Now()
			go func() {
				defer in.Close()
				for i := 0; i < n; i++ {
					e := frames.MustTakeOrMake()
					(*e.Value())[0] = 1
					if in.Send(e) != nil {
						e.Release()
						return
					}
				}
			}()

			var items int64
			for e := range out.All() {
				if (*e.Value())[0] != 30 {
					t.Errorf("frame %d scaled to %v", items, (*e.Value())[0])
				}
				e.Release()
				items++
			}
			elapsed := time.Since(start)
			waitStages(t, p)
			return items, elapsed
		})

	stats := frames.Stats()
	assert.Equal(t, 0, stats.Outstanding)
	assert.LessOrEqual(t, stats.Capacity, 32+4*64+8, "pool grew past the frames that can be in flight")
}

func TestPipelineReleasesFramesOnEarlyClose(t *testing.T) {
	frames := pool.Make(0,
		func() []byte { return make([]byte, 4) },
		nil,
		pool.WithLogger(testutil.TestLogger(t)),
	)

	p := New("a", func(e *pool.Elem[[]byte]) *pool.Elem[[]byte] { return e }, testOptions(t)...).
		AddStage("b", func(e *pool.Elem[[]byte]) *pool.Elem[[]byte] { return e })
	in, out := p.Finish()

	for i := 0; i < 10; i++ {
		require.NoError(t, in.Send(frames.MustTakeOrMake()))
	}
	out.Close()
	in.Close()
	waitStages(t, p)

	stats := frames.Stats()
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, 0, stats.Outstanding)
	assert.Equal(t, 10, frames.Len())
}

func TestPipelineTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	p := New("double", func(v int) int { return v * 2 },
		testOptions(t, WithTracer(tp.Tracer("pipeline-test")))...)
	in, out := p.Finish()

	for i := 0; i < 3; i++ {
		require.NoError(t, in.Send(i))
	}
	in.Close()
	assert.Len(t, collect(out), 3)
	waitStages(t, p)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, "stage.double", s.Name())
		assert.Contains(t, s.Attributes(), attribute.String("stage.name", "double"))
		assert.Contains(t, s.Attributes(), attribute.Int("stage.sequence", 0))
	}
}

func TestPipelineMetrics(t *testing.T) {
	p := New("metrics-passthrough", func(v int) int { return v },
		WithLogger(testutil.TestLogger(t))).
		AddStage("metrics-panicking", func(v int) int { panic("boom") })
	in, out := p.Finish()

	require.NoError(t, in.Send(1))
	in.Close()
	assert.Empty(t, collect(out))
	waitStages(t, p)

	assert.Equal(t, float64(StateTerminated), promtest.ToFloat64(metrics.StageState.WithLabelValues("metrics-passthrough")))
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.StagePanics.WithLabelValues("metrics-panicking")))
}

func TestStateAndReasonString(t *testing.T) {
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown(9)", State(9).String())

	assert.Equal(t, "none", ReasonNone.String())
	assert.Equal(t, "upstream closed", ReasonUpstreamClosed.String())
	assert.Equal(t, "downstream closed", ReasonDownstreamClosed.String())
	assert.Equal(t, "panic", ReasonPanic.String())
}

func TestPipelineLogsLifecycle(t *testing.T) {
	log, logs := testutil.ObservedLogger(t, zapcore.InfoLevel)
	p := New("ok", func(v int) int { return v }, WithLogger(log), WithMetrics(false)).
		AddStage("crash", func(v int) int { panic("lifecycle") })
	in, out := p.Finish()

	require.NoError(t, in.Send(1))
	in.Close()
	assert.Empty(t, collect(out))
	waitStages(t, p)

	assert.Equal(t, 2, logs.FilterMessage("stage up").Len())
	assert.Equal(t, 2, logs.FilterMessage("stage down").Len())

	panics := logs.FilterMessage("stage transform panicked").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)
	assert.Equal(t, "crash", panics[0].ContextMap()["stage"])
}
