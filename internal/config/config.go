// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package config loads Blockstats configuration.
//
// Sources are layered with koanf, later sources overriding earlier ones:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/blockstats/config.yaml)
//  3. Environment variables, through an explicit mapping table
//
// The merged result is checked with validator struct tags and then with the
// cross-field rules in config_validate.go.
package config

import "time"

// Config is the complete application configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	WAL        WALConfig        `koanf:"wal"`
	NATS       NATSConfig       `koanf:"nats"`
	Server     ServerConfig     `koanf:"server"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig selects and tunes the player record database.
type DatabaseConfig struct {
	// Driver is duckdb or sqlite.
	Driver string `koanf:"driver" validate:"oneof=duckdb sqlite"`

	// Path is the database file. ":memory:" is accepted for testing.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory and Threads apply to DuckDB only.
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`

	// BusyTimeout applies to SQLite only.
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gte=0"`

	// OperationTimeout bounds each load or save.
	OperationTimeout time.Duration `koanf:"operation_timeout" validate:"gt=0"`
}

// BreakerConfig configures the circuit breaker in front of the database.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
}

// StageConfig sizes one pipeline queue.
type StageConfig struct {
	Capacity int `koanf:"capacity" validate:"gte=1"`
	Workers  int `koanf:"workers" validate:"gte=1,lte=64"`
}

// PipelineConfig configures the session cache and the queue pipeline.
type PipelineConfig struct {
	// ProxyMode tracks sessions without persisting them.
	ProxyMode bool `koanf:"proxy_mode"`

	AFKThreshold     time.Duration `koanf:"afk_threshold" validate:"gt=0"`
	RefreshInterval  time.Duration `koanf:"refresh_interval" validate:"gt=0"`
	RequeueBackoff   time.Duration `koanf:"requeue_backoff" validate:"gte=0"`
	SaveMaxRetries   int           `koanf:"save_max_retries" validate:"gte=0,lte=20"`
	SaveRetryBackoff time.Duration `koanf:"save_retry_backoff" validate:"gte=0"`
	DrainTimeout     time.Duration `koanf:"drain_timeout" validate:"gt=0"`

	Process StageConfig `koanf:"process"`
	Get     StageConfig `koanf:"get"`
	Save    StageConfig `koanf:"save"`
	Clear   StageConfig `koanf:"clear"`
}

// WALConfig configures the spill log for records that could not be saved.
type WALConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	SyncWrites    bool          `koanf:"sync_writes"`
	ReplayOnStart bool          `koanf:"replay_on_start"`
	ReplayEvery   time.Duration `koanf:"replay_interval" validate:"gte=0"`
	EntryTTL      time.Duration `koanf:"entry_ttl" validate:"gte=0"`
}

// NATSConfig configures gameplay event ingestion.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"gte=0,lte=65535"`
	Subject        string        `koanf:"subject"`
	QueueGroup     string        `koanf:"queue_group"`
	Subscribers    int           `koanf:"subscribers" validate:"gte=1"`
	DedupTTL       time.Duration `koanf:"dedup_ttl" validate:"gte=0"`
	DedupCapacity  int           `koanf:"dedup_capacity" validate:"gte=0"`
	AckWait        time.Duration `koanf:"ack_wait" validate:"gte=0"`
}

// ServerConfig configures the HTTP read API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// CORSOrigins lists dashboard origins allowed to read the API. Empty
	// disallows cross-origin reads.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow per client IP on /api/v1.
	// Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}
