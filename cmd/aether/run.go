package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/internal/dsp"
	"github.com/ajitpratap0/aether/internal/sysstats"
	"github.com/ajitpratap0/aether/pkg/channel"
	"github.com/ajitpratap0/aether/pkg/config"
	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/json"
	"github.com/ajitpratap0/aether/pkg/logger"
	"github.com/ajitpratap0/aether/pkg/observability"
	"github.com/ajitpratap0/aether/pkg/pipeline"
	"github.com/ajitpratap0/aether/pkg/pool"
)

const (
	outputText = "text"
	outputJSON = "json"

	sampleRate = 48000.0
	toneHz     = 1000.0
)

// RunFlags holds the run command flags
type RunFlags struct {
	Duration    time.Duration
	FrameSize   int
	GainDB      float64
	Capacity    int
	PoolSize    int
	Rate        int
	Pin         bool
	Output      string
	MetricsAddr string
}

type frame = *pool.Elem[dsp.Frame]

func newRunCmd() *cobra.Command {
	var flags RunFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the abs -> gain -> power demo pipeline",
		Long: `Run feeds sine frames from a pool through three stages (abs, gain, power),
drains the output, returns every frame to the pool and prints throughput reports
and a final summary.

Example:
  aether run --duration 5s --frame-size 1024 --capacity 64 --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, &flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if flags.Output != outputText && flags.Output != outputJSON {
				return errors.Newf(errors.ErrorTypeValidation, "unknown output format %q", flags.Output)
			}
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), cfg, &flags)
		},
	}

	cmd.Flags().DurationVar(&flags.Duration, "duration", 3*time.Second, "How long to feed frames")
	cmd.Flags().IntVar(&flags.FrameSize, "frame-size", 0, "Samples per frame (overrides pool.frame_size)")
	cmd.Flags().Float64Var(&flags.GainDB, "gain", 6, "Gain stage amplification in dB")
	cmd.Flags().IntVar(&flags.Capacity, "capacity", 0, "Hand-off channel capacity, 0 for unbounded (overrides pipeline.channel_capacity)")
	cmd.Flags().IntVar(&flags.PoolSize, "pool-size", 0, "Frames constructed up front (overrides pool.initial_size)")
	cmd.Flags().IntVar(&flags.Rate, "rate", 0, "Frames per second fed into the pipeline, 0 for as fast as possible")
	cmd.Flags().BoolVar(&flags.Pin, "pin", false, "Pin each stage thread to a CPU core (overrides pipeline.pin_threads)")
	cmd.Flags().StringVar(&flags.Output, "output", outputText, "Output format (text, json)")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.address)")

	return cmd
}

// applyRunFlags overrides configuration values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *RunFlags) {
	if cmd.Flags().Changed("frame-size") {
		cfg.Pool.FrameSize = flags.FrameSize
	}
	if cmd.Flags().Changed("pool-size") {
		cfg.Pool.InitialSize = flags.PoolSize
	}
	if cmd.Flags().Changed("capacity") {
		cfg.Pipeline.ChannelCapacity = flags.Capacity
	}
	if cmd.Flags().Changed("pin") {
		cfg.Pipeline.PinThreads = flags.Pin
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Enabled = flags.MetricsAddr != ""
		cfg.Metrics.Address = flags.MetricsAddr
	}
}

// runSummary is the final result of a run
type runSummary struct {
	Kind         string                  `json:"kind"`
	RunID        string                  `json:"run_id"`
	Frames       int64                   `json:"frames"`
	Duration     time.Duration           `json:"duration_ns"`
	FramesPerSec float64                 `json:"frames_per_sec"`
	MeanPower    float64                 `json:"mean_power"`
	LatencyP50   time.Duration           `json:"latency_p50_ns"`
	LatencyP95   time.Duration           `json:"latency_p95_ns"`
	LatencyP99   time.Duration           `json:"latency_p99_ns"`
	Pool         poolSummary             `json:"pool"`
	Stages       []stageSummary          `json:"stages"`
	Resources    *sysstats.ResourceUsage `json:"resources,omitempty"`
}

type poolSummary struct {
	Available   int   `json:"available"`
	Capacity    int   `json:"capacity"`
	Outstanding int   `json:"outstanding"`
	Takes       int64 `json:"takes"`
	Grows       int64 `json:"grows"`
}

type stageSummary struct {
	Name   string        `json:"name"`
	Items  int64         `json:"items"`
	Active time.Duration `json:"active_ns"`
	Reason string        `json:"reason"`
}

type reportLine struct {
	Kind        string  `json:"kind"`
	Stage       string  `json:"stage"`
	Items       int64   `json:"items"`
	WindowMs    int64   `json:"window_ms"`
	Throughput  float64 `json:"items_per_sec"`
	Utilization float64 `json:"utilization_pct"`
}

func runPipeline(parent context.Context, out io.Writer, cfg *config.Config, flags *RunFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	runID := uuid.New()
	log := logger.Get().With(
		zap.String("component", "aether-cli"),
		zap.String("run_id", runID.String()),
	)

	if cfg.Metrics.Enabled {
		ms, err := startMetricsServer(cfg.Metrics.Address, log)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to start metrics server")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithChannelCapacity(cfg.Pipeline.ChannelCapacity),
		pipeline.WithReportInterval(cfg.Pipeline.ReportInterval),
		pipeline.WithReporter(reporter(out, flags.Output)),
	}
	if cpus := cfg.Pipeline.PinnedCPUs(); len(cpus) > 0 {
		opts = append(opts, pipeline.WithCPUAffinity(cpus...))
	}
	if cfg.Pipeline.EnableTracing {
		tc := observability.DefaultConfig()
		tc.ServiceName = cfg.Tracing.ServiceName
		tc.SamplingRate = cfg.Tracing.SamplingRate
		tc.ServiceVersion = version
		tc.Writer = os.Stderr
		if err := observability.Initialize(tc); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(ctx); err != nil {
				log.Warn("observability shutdown failed", zap.Error(err))
			}
		}()
		opts = append(opts, pipeline.WithTracer(observability.GetTracer()))
	}

	frames := pool.Make(cfg.Pool.InitialSize,
		dsp.NewFrameFunc(cfg.Pool.FrameSize),
		dsp.ResetFrame,
		pool.WithName("frames"),
		pool.WithLogger(log),
	)

	rect := &dsp.Rectifier{}
	sq := &dsp.Squarer{}
	factor := dsp.DBToLinear(flags.GainDB)

	p := pipeline.New("abs", func(f frame) frame {
		rect.Apply(f.Value().Samples)
		return f
	}, opts...).
		AddStage("gain", func(f frame) frame {
			dsp.Gain(f.Value().Samples, factor)
			return f
		}).
		AddStage("power", func(f frame) frame {
			sq.Apply(f.Value().Samples)
			return f
		})
	in, output := p.Finish()

	monitor, err := sysstats.NewResourceMonitor()
	if err != nil {
		log.Warn("resource monitor unavailable", zap.Error(err))
	} else {
		stop := make(chan struct{})
		defer close(stop)
		go monitor.Sample(cfg.Pipeline.ReportInterval, log, stop)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelFeed := context.WithTimeout(ctx, flags.Duration)
	defer cancelFeed()

	log.Info("starting pipeline",
		zap.String("pipeline_id", p.ID().String()),
		zap.Int("frame_size", cfg.Pool.FrameSize),
		zap.Int("channel_capacity", cfg.Pipeline.ChannelCapacity),
		zap.Duration("duration", flags.Duration))

	start := time.Now()
	go feed(ctx, in, frames, flags.Rate, log)

	latency := sysstats.NewLatencyTracker()
	var count int64
	var power float64
	for f := range output.All() {
		v := f.Value()
		latency.Record(time.Since(v.Created))
		power += dsp.Mean(v.Samples)
		count++
		f.Release()
	}
	elapsed := time.Since(start)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	if err := p.Wait(waitCtx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "pipeline did not shut down")
	}

	summary := summarize(runID, p.Stages(), frames.Stats(), count, elapsed, power, latency)
	if monitor != nil {
		summary.Resources = monitor.Usage()
	}

	log.Info("pipeline completed",
		zap.Int64("frames", count),
		zap.Duration("duration", elapsed),
		zap.Float64("frames_per_second", summary.FramesPerSec))

	for _, s := range p.Stages() {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return printSummary(out, flags.Output, summary)
}

// feed sends sine frames until ctx is done or the pipeline stops accepting.
func feed(ctx context.Context, in *channel.Sender[frame], frames *pool.Pool[dsp.Frame], rate int, log *zap.Logger) {
	defer in.Close()

	var tick <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	var seq uint64
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		f, err := frames.TakeOrMake()
		if err != nil {
			log.Error("frame pool unusable", zap.Error(err))
			return
		}
		v := f.Value()
		v.Seq = seq
		v.Created = time.Now()
		dsp.Sine(v.Samples, seq*uint64(len(v.Samples)), toneHz, sampleRate)
		seq++

		if err := in.Send(f); err != nil {
			f.Release()
			log.Warn("pipeline stopped accepting frames", zap.Error(err))
			return
		}
	}
}

func reporter(out io.Writer, format string) func(pipeline.Report) {
	if format == outputJSON {
		lw := json.NewLineWriter(out)
		return func(r pipeline.Report) {
			_ = lw.Write(reportLine{
				Kind:        "report",
				Stage:       r.Stage,
				Items:       r.Items,
				WindowMs:    r.Window.Milliseconds(),
				Throughput:  r.Throughput,
				Utilization: r.Utilization,
			})
		}
	}

	var mu sync.Mutex
	return func(r pipeline.Report) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%-6s %8d items in %-6s %12.0f items/s %6.1f%% busy\n",
			r.Stage, r.Items, r.Window.Round(time.Millisecond), r.Throughput, r.Utilization)
	}
}

func summarize(runID uuid.UUID, stages []*pipeline.StageInfo, ps pool.Stats, count int64,
	elapsed time.Duration, power float64, latency *sysstats.LatencyTracker) *runSummary {
	s := &runSummary{
		Kind:     "summary",
		RunID:    runID.String(),
		Frames:   count,
		Duration: elapsed,
		Pool: poolSummary{
			Available:   ps.Available,
			Capacity:    ps.Capacity,
			Outstanding: ps.Outstanding,
			Takes:       ps.Takes,
			Grows:       ps.Grows,
		},
	}
	if elapsed > 0 {
		s.FramesPerSec = float64(count) / elapsed.Seconds()
	}
	if count > 0 {
		s.MeanPower = power / float64(count)
	}
	s.LatencyP50, s.LatencyP95, s.LatencyP99 = latency.Percentiles()

	for _, st := range stages {
		stats := st.Stats()
		s.Stages = append(s.Stages, stageSummary{
			Name:   st.Name(),
			Items:  stats.Items,
			Active: stats.Active,
			Reason: stats.Reason.String(),
		})
	}
	return s
}

func printSummary(out io.Writer, format string, s *runSummary) error {
	if format == outputJSON {
		return json.MarshalToWriter(out, s)
	}

	fmt.Fprintf(out, "\nrun %s\n", s.RunID)
	fmt.Fprintf(out, "  frames:     %d in %s (%.0f frames/s)\n", s.Frames, s.Duration.Round(time.Millisecond), s.FramesPerSec)
	fmt.Fprintf(out, "  latency:    p50 %s  p95 %s  p99 %s\n", s.LatencyP50, s.LatencyP95, s.LatencyP99)
	fmt.Fprintf(out, "  pool:       capacity %d, available %d, outstanding %d\n",
		s.Pool.Capacity, s.Pool.Available, s.Pool.Outstanding)
	for _, st := range s.Stages {
		fmt.Fprintf(out, "  stage %-6s %d items, %s active, %s\n",
			st.Name, st.Items, st.Active.Round(time.Microsecond), st.Reason)
	}
	if s.Resources != nil {
		fmt.Fprintf(out, "  resources:  %.1f%% cpu, %d threads, %d MB rss\n",
			s.Resources.CPUPercent, s.Resources.ThreadCount, s.Resources.MemoryRSS>>20)
	}
	return nil
}
