// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config with defaults; Load layers file and env on top.
// - Validate reports problems wrapped in ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the entity store: memory, sqlite or postgres.
	StoreDriver  string `koanf:"store_driver"`
	SQLitePath   string `koanf:"sqlite_path"`
	PostgresDSN  string `koanf:"postgres_dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`

	// BatchConcurrency bounds employees finalized in parallel within one batch.
	BatchConcurrency int `koanf:"batch_concurrency"`

	// BatchMaxAttempts and BatchRetryBackoffMS govern persistence retries.
	BatchMaxAttempts    int `koanf:"batch_max_attempts"`
	BatchRetryBackoffMS int `koanf:"batch_retry_backoff_ms"`

	// JobQueueSize bounds queued async batch jobs.
	JobQueueSize int `koanf:"job_queue_size"`

	// JobWorkerCount sets the number of async batch workers.
	JobWorkerCount int `koanf:"job_worker_count"`

	// DedupeSize caps remembered batch request ids.
	DedupeSize int `koanf:"dedupe_size"`

	// Archive settings for batch reports.
	ArchiveDriver      string `koanf:"archive_driver"`
	ArchiveFSRoot      string `koanf:"archive_fs_root"`
	ArchiveCompression string `koanf:"archive_compression"`
	ArchiveS3Bucket    string `koanf:"archive_s3_bucket"`
	ArchiveS3Region    string `koanf:"archive_s3_region"`
	ArchiveS3Endpoint  string `koanf:"archive_s3_endpoint"`
	ArchiveS3PathStyle bool   `koanf:"archive_s3_path_style"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		StoreDriver:         StoreSQLite,
		SQLitePath:          "maap.db",
		MaxOpenConns:        8,
		BatchConcurrency:    runtime.NumCPU(),
		BatchMaxAttempts:    3,
		BatchRetryBackoffMS: 50,
		JobQueueSize:        1024,
		JobWorkerCount:      2,
		DedupeSize:          10_000,
		ArchiveDriver:       "none",
		ArchiveFSRoot:       "reports",
		ArchiveCompression:  "zstd",
		ArchiveS3Region:     "us-east-1",
	}
}

// RetryBackoff returns the configured base backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.BatchRetryBackoffMS) * time.Millisecond
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return invalid("addr must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level %q is not recognised", c.LogLevel)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path must not be empty")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn must not be empty")
		}
	default:
		return invalid("store_driver %q is not supported", c.StoreDriver)
	}
	if c.BatchConcurrency <= 0 {
		return invalid("batch_concurrency must be positive")
	}
	if c.BatchMaxAttempts <= 0 {
		return invalid("batch_max_attempts must be positive")
	}
	if c.BatchRetryBackoffMS < 0 {
		return invalid("batch_retry_backoff_ms must not be negative")
	}
	if c.JobQueueSize <= 0 {
		return invalid("job_queue_size must be positive")
	}
	if c.JobWorkerCount <= 0 {
		return invalid("job_worker_count must be positive")
	}
	if c.DedupeSize <= 0 {
		return invalid("dedupe_size must be positive")
	}
	switch c.ArchiveCompression {
	case "none", "zstd":
	default:
		return invalid("archive_compression %q is not supported", c.ArchiveCompression)
	}
	switch c.ArchiveDriver {
	case "none", "memory":
	case "fs":
		if c.ArchiveFSRoot == "" {
			return invalid("archive_fs_root must not be empty")
		}
	case "s3":
		if c.ArchiveS3Bucket == "" {
			return invalid("archive_s3_bucket must not be empty")
		}
	default:
		return invalid("archive_driver %q is not supported", c.ArchiveDriver)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
