package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/internal/dsp"
	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/json"
	"github.com/ajitpratap0/aether/pkg/logger"
	"github.com/ajitpratap0/aether/pkg/metrics"
	"github.com/ajitpratap0/aether/pkg/pool"
)

// PoolFlags holds the pool command flags
type PoolFlags struct {
	Initial    int
	Workers    int
	Iterations int
	Output     string
}

type poolResult struct {
	Kind       string        `json:"kind"`
	Workers    int           `json:"workers"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration_ns"`
	Checkouts  int64         `json:"checkouts"`
	Exhausted  int64         `json:"exhausted"`
	Capacity   int           `json:"capacity"`
	Available  int           `json:"available"`
	Takes      int64         `json:"takes"`
	Grows      int64         `json:"grows"`
}

func newPoolCmd() *cobra.Command {
	var flags PoolFlags

	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Exercise a frame pool from concurrent workers",
		Long: `Pool starts workers that repeatedly check frames out of one shared pool and
return them. Even workers only take what is available; odd workers grow the pool
when it is empty. The final pool counters are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if flags.Workers <= 0 || flags.Iterations <= 0 || flags.Initial < 0 {
				return errors.New(errors.ErrorTypeValidation, "workers and iterations must be positive, initial non-negative")
			}
			return exercisePool(cmd.OutOrStdout(), cfg.Pool.FrameSize, &flags)
		},
	}

	cmd.Flags().IntVar(&flags.Initial, "initial", 4, "Frames constructed up front")
	cmd.Flags().IntVar(&flags.Workers, "workers", 8, "Concurrent workers")
	cmd.Flags().IntVar(&flags.Iterations, "iterations", 10000, "Checkouts per worker")
	cmd.Flags().StringVar(&flags.Output, "output", outputText, "Output format (text, json)")

	return cmd
}

func exercisePool(out io.Writer, frameSize int, flags *PoolFlags) error {
	log := logger.Named("pool-cmd")
	frames := pool.Make(flags.Initial,
		dsp.NewFrameFunc(frameSize),
		dsp.ResetFrame,
		pool.WithName("exercise"),
		pool.WithLogger(log),
	)

	var checkouts, exhausted atomic.Int64
	var wg sync.WaitGroup
	timer := metrics.NewTimer("pool-exercise")
	for w := 0; w < flags.Workers; w++ {
		wg.Add(1)
		go func(grow bool) {
			defer wg.Done()
			p := frames.Clone()
			for i := 0; i < flags.Iterations; i++ {
				var f *pool.Elem[dsp.Frame]
				if grow {
					f = p.MustTakeOrMake()
				} else {
					var ok bool
					if f, ok = p.Take(); !ok {
						exhausted.Add(1)
						continue
					}
				}
				f.Value().Samples[0] = float64(i)
				checkouts.Add(1)
				f.Release()
			}
		}(w%2 == 1)
	}
	wg.Wait()
	elapsed := timer.Stop()

	stats := frames.Stats()
	if stats.Outstanding != 0 {
		return errors.Newf(errors.ErrorTypeInternal, "%d frames never returned", stats.Outstanding)
	}

	res := poolResult{
		Kind:       "pool",
		Workers:    flags.Workers,
		Iterations: flags.Iterations,
		Duration:   elapsed,
		Checkouts:  checkouts.Load(),
		Exhausted:  exhausted.Load(),
		Capacity:   stats.Capacity,
		Available:  stats.Available,
		Takes:      stats.Takes,
		Grows:      stats.Grows,
	}
	log.Info("pool exercise complete",
		zap.String("timer", timer.Name()),
		zap.Int64("checkouts", res.Checkouts),
		zap.Int("capacity", res.Capacity),
		zap.Duration("duration", elapsed))

	if flags.Output == outputJSON {
		return json.MarshalToWriter(out, res)
	}
	fmt.Fprintf(out, "pool: %d workers x %d iterations in %s\n", res.Workers, res.Iterations, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  checkouts: %d (%d exhausted)\n", res.Checkouts, res.Exhausted)
	fmt.Fprintf(out, "  capacity:  %d, available %d\n", res.Capacity, res.Available)
	fmt.Fprintf(out, "  takes:     %d, grows %d\n", res.Takes, res.Grows)
	return nil
}
