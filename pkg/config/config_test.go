package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/aether/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Pipeline.ReportInterval)
	assert.Zero(t, cfg.Pipeline.ChannelCapacity)
	assert.Nil(t, cfg.Pipeline.PinnedCPUs())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative capacity", func(c *Config) { c.Pipeline.ChannelCapacity = -1 }},
		{"zero report interval", func(c *Config) { c.Pipeline.ReportInterval = 0 }},
		{"unknown cpu", func(c *Config) { c.Pipeline.CPUs = []int{runtime.NumCPU()} }},
		{"negative pool size", func(c *Config) { c.Pool.InitialSize = -3 }},
		{"empty frames", func(c *Config) { c.Pool.FrameSize = 0 }},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}},
		{"sampling above one", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestPinnedCPUs(t *testing.T) {
	p := PipelineConfig{PinThreads: true}
	assert.Len(t, p.PinnedCPUs(), runtime.NumCPU())

	p.CPUs = []int{0}
	assert.Equal(t, []int{0}, p.PinnedCPUs())

	p.PinThreads = false
	assert.Nil(t, p.PinnedCPUs())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
	assert.Equal(t, Default().Pipeline.ReportInterval, cfg.Pipeline.ReportInterval)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_METRICS_ADDR", "127.0.0.1:9999")
	path := writeFile(t, "aether.yaml", `
logging:
  level: debug
pipeline:
  channel_capacity: 32
  report_interval: 250ms
  enable_tracing: true
pool:
  frame_size: 256
metrics:
  enabled: true
  address: ${TEST_METRICS_ADDR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.Equal(t, 32, cfg.Pipeline.ChannelCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.ReportInterval)
	assert.True(t, cfg.Pipeline.EnableTracing)
	assert.Equal(t, 256, cfg.Pool.FrameSize)
	assert.Equal(t, 8, cfg.Pool.InitialSize)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Address)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "aether.json", `{"pool": {"initial_size": 2, "frame_size": 64}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pool.InitialSize)
	assert.Equal(t, 64, cfg.Pool.FrameSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AETHER_PIPELINE_CHANNEL_CAPACITY", "128")
	t.Setenv("AETHER_LOGGING_LEVEL", "warn")
	path := writeFile(t, "aether.yaml", "pipeline:\n  channel_capacity: 4\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Pipeline.ChannelCapacity)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "broken.yaml", "pipeline: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "invalid.yaml", "pool:\n  frame_size: -1\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.ChannelCapacity = 7
	cfg.Pipeline.ReportInterval = 3 * time.Second
	cfg.Pool.FrameSize = 480
	cfg.Tracing.ServiceName = "roundtrip"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipeline.ChannelCapacity, loaded.Pipeline.ChannelCapacity)
	assert.Equal(t, cfg.Pipeline.ReportInterval, loaded.Pipeline.ReportInterval)
	assert.Equal(t, cfg.Pool, loaded.Pool)
	assert.Equal(t, cfg.Tracing, loaded.Tracing)
	assert.Equal(t, cfg.Metrics, loaded.Metrics)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("AETHER_TEST_HOST", "localhost")
	assert.Equal(t, "addr: localhost:9090", substituteEnvVars("addr: ${AETHER_TEST_HOST}:9090"))
	assert.Equal(t, "addr: :9090", substituteEnvVars("addr: ${AETHER_TEST_UNSET_VAR}:9090"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}
