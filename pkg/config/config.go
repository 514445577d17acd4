package config

import (
	"runtime"
	"time"

	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Logging  logger.Config  `yaml:"logging" mapstructure:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Pool     PoolConfig     `yaml:"pool" mapstructure:"pool"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" mapstructure:"tracing"`
}

// PipelineConfig controls stage threads and hand-off channels.
type PipelineConfig struct {
	// ChannelCapacity bounds each hand-off channel. 0 means unbounded.
	ChannelCapacity int `yaml:"channel_capacity" mapstructure:"channel_capacity"`
	// ReportInterval is the throughput report window.
	ReportInterval time.Duration `yaml:"report_interval" mapstructure:"report_interval"`
	// PinThreads pins each stage thread to one CPU.
	PinThreads bool `yaml:"pin_threads" mapstructure:"pin_threads"`
	// CPUs lists the cores stage threads are pinned to, round robin.
	// Empty means every core in order.
	CPUs []int `yaml:"cpus" mapstructure:"cpus"`
	// EnableTracing wraps every transform call in a span.
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`
}

// PoolConfig sizes the sample frame pool.
type PoolConfig struct {
	InitialSize int `yaml:"initial_size" mapstructure:"initial_size"`
	// FrameSize is the number of samples per pooled frame.
	FrameSize int `yaml:"frame_size" mapstructure:"frame_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" mapstructure:"address"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName  string  `yaml:"service_name" mapstructure:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// Default returns a configuration with every section filled in.
func Default() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Pipeline: PipelineConfig{
			ChannelCapacity: 0,
			ReportInterval:  time.Second,
		},
		Pool: PoolConfig{
			InitialSize: 8,
			FrameSize:   1024,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Tracing: TracingConfig{
			ServiceName:  "aether",
			SamplingRate: 1.0,
		},
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Pipeline.ChannelCapacity < 0 {
		return invalid("pipeline.channel_capacity cannot be negative")
	}
	if c.Pipeline.ReportInterval <= 0 {
		return invalid("pipeline.report_interval must be positive")
	}
	for _, cpu := range c.Pipeline.CPUs {
		if cpu < 0 || cpu >= runtime.NumCPU() {
			return invalid("pipeline.cpus contains an unknown core").WithDetail("cpu", cpu)
		}
	}
	if c.Pool.InitialSize < 0 {
		return invalid("pool.initial_size cannot be negative")
	}
	if c.Pool.FrameSize <= 0 {
		return invalid("pool.frame_size must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics.address is required when metrics are enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return invalid("tracing.sampling_rate must be within [0,1]")
	}
	return nil
}

// PinnedCPUs returns the cores stage threads should be pinned to, or nil
// when pinning is off.
func (p *PipelineConfig) PinnedCPUs() []int {
	if !p.PinThreads {
		return nil
	}
	if len(p.CPUs) > 0 {
		return p.CPUs
	}
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

func invalid(msg string) *errors.Error {
	return errors.New(errors.ErrorTypeConfig, msg)
}
