package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/noteably/internal/core/pipeline"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/core/worker"
	"github.com/vietddude/noteably/internal/ingest"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	p := &cfg.Pipeline
	if p.PollInterval == 0 {
		p.PollInterval = pipeline.DefaultConfig.PollInterval
	}
	if p.GenerationConcurrency == 0 {
		p.GenerationConcurrency = pipeline.DefaultConfig.GenerationConcurrency
	}
	if p.Workers == 0 {
		p.Workers = worker.DefaultConfig.Workers
	}
	if p.ClaimInterval == 0 {
		p.ClaimInterval = worker.DefaultConfig.ClaimInterval
	}
	if p.LockTTL == 0 {
		p.LockTTL = worker.DefaultConfig.LockTTL
	}
	if p.BusyDelay == 0 {
		p.BusyDelay = worker.DefaultConfig.BusyDelay
	}
	if p.ReconcileInterval == 0 {
		p.ReconcileInterval = worker.DefaultConfig.ReconcileInterval
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = retry.DefaultConfig.MaxAttempts
	}
	if p.Retry.BaseDelay == 0 {
		p.Retry.BaseDelay = retry.DefaultConfig.BaseDelay
	}
	if p.Retry.MaxDelay == 0 {
		p.Retry.MaxDelay = retry.DefaultConfig.MaxDelay
	}

	if cfg.Ingest.MaxFileSizeMB == 0 {
		cfg.Ingest.MaxFileSizeMB = ingest.DefaultConfig.MaxFileSizeMB
	}
}

// Validate checks values that defaults cannot fix.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	if c.Pipeline.Retry.Jitter < 0 || c.Pipeline.Retry.Jitter > 1 {
		return fmt.Errorf("pipeline.retry.jitter must be within [0, 1], got %v", c.Pipeline.Retry.Jitter)
	}
	if c.Pipeline.Retry.MaxDelay < c.Pipeline.Retry.BaseDelay {
		return fmt.Errorf("pipeline.retry.max_delay (%v) is below base_delay (%v)",
			c.Pipeline.Retry.MaxDelay, c.Pipeline.Retry.BaseDelay)
	}
	if c.Storage.Bucket != "" && c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required when storage.bucket is set")
	}
	return nil
}
