// Package config provides configuration management for aether.
//
// A single Config structure groups every tunable into sections:
//
// - Logging: level, encoding and outputs of the zap logger
// - Pipeline: hand-off channel capacity, report window, thread pinning, tracing
// - Pool: initial size and frame length of the sample frame pool
// - Metrics: Prometheus endpoint
// - Tracing: OpenTelemetry service name and sampling
//
// # Usage
//
// ## Loading
//
//	cfg, err := config.Load("aether.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load starts from Default, merges the file (YAML, JSON or TOML by
// extension) and then AETHER_* environment variables, and validates the
// result. Nested keys map to variables with dots replaced by underscores:
//
//	AETHER_PIPELINE_CHANNEL_CAPACITY=64
//	AETHER_LOGGING_LEVEL=debug
//
// ## Environment Variable Substitution
//
//	# aether.yaml
//	metrics:
//	  enabled: true
//	  address: ${METRICS_ADDR}
//
// ## Programmatic Creation
//
//	cfg := config.Default()
//	cfg.Pipeline.PinThreads = true
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	_ = config.Save("aether.yaml", cfg)
//
// All failures carry errors.ErrorTypeConfig.
package config
