package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/aether/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. AETHER_PIPELINE_CHANNEL_CAPACITY.
const EnvPrefix = "AETHER"

// Load reads the configuration file at path on top of Default, applies
// AETHER_* environment overrides and validates the result. The format
// follows the file extension (yaml, json or toml). An empty path loads
// defaults and environment only. ${VAR_NAME} references in the file are
// replaced with environment values before parsing.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("pipeline.channel_capacity", d.Pipeline.ChannelCapacity)
	v.SetDefault("pipeline.report_interval", d.Pipeline.ReportInterval)
	v.SetDefault("pipeline.pin_threads", d.Pipeline.PinThreads)
	v.SetDefault("pipeline.cpus", d.Pipeline.CPUs)
	v.SetDefault("pipeline.enable_tracing", d.Pipeline.EnableTracing)
	v.SetDefault("pool.initial_size", d.Pool.InitialSize)
	v.SetDefault("pool.frame_size", d.Pool.FrameSize)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	return v
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
