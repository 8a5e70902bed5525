package config

import (
	"time"

	"github.com/vietddude/noteably/internal/core/pipeline"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/core/worker"
	"github.com/vietddude/noteably/internal/infra/generation"
	"github.com/vietddude/noteably/internal/infra/objectstore"
	redisclient "github.com/vietddude/noteably/internal/infra/redis"
	"github.com/vietddude/noteably/internal/infra/storage/postgres"
	"github.com/vietddude/noteably/internal/infra/transcription"
	"github.com/vietddude/noteably/internal/ingest"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig         `yaml:"server"`
	Logging       LoggingConfig        `yaml:"logging"`
	Database      postgres.Config      `yaml:"database"`
	Redis         redisclient.Config   `yaml:"redis"`
	Storage       objectstore.Config   `yaml:"storage"`
	Transcription transcription.Config `yaml:"transcription"`
	Generation    generation.Config    `yaml:"generation"`
	Pipeline      PipelineConfig       `yaml:"pipeline"`
	Ingest        ingest.Config        `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// PipelineConfig holds orchestrator and worker settings.
type PipelineConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	GenerationConcurrency int           `yaml:"generation_concurrency"`
	Workers               int           `yaml:"workers"`
	ClaimInterval         time.Duration `yaml:"claim_interval"`
	LockTTL               time.Duration `yaml:"lock_ttl"`
	BusyDelay             time.Duration `yaml:"busy_delay"`
	ReconcileInterval     time.Duration `yaml:"reconcile_interval"`
	Retry                 retry.Config  `yaml:"retry"`
}

// Orchestrator returns the orchestrator settings.
func (c PipelineConfig) Orchestrator() pipeline.Config {
	return pipeline.Config{
		PollInterval:          c.PollInterval,
		GenerationConcurrency: c.GenerationConcurrency,
	}
}

// Dispatcher returns the worker settings.
func (c PipelineConfig) Dispatcher() worker.Config {
	return worker.Config{
		Workers:           c.Workers,
		ClaimInterval:     c.ClaimInterval,
		LockTTL:           c.LockTTL,
		BusyDelay:         c.BusyDelay,
		ReconcileInterval: c.ReconcileInterval,
	}
}

// UsePostgres reports whether a database is configured. Without one the
// service runs on in-memory storage.
func (c *AppConfig) UsePostgres() bool { return c.Database.URL != "" }

// UseRedis reports whether a Redis queue is configured.
func (c *AppConfig) UseRedis() bool { return c.Redis.URL != "" }
