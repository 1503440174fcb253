// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/blockstats/config.yaml",
	"/etc/blockstats/config.yml",
}

// ConfigPathEnvVar names the environment variable holding an explicit config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Driver:           "duckdb",
			Path:             "/data/blockstats.duckdb",
			MaxMemory:        "1GB",
			Threads:          0, // 0 = runtime.NumCPU()
			BusyTimeout:      5 * time.Second,
			OperationTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Pipeline: PipelineConfig{
			AFKThreshold:     3 * time.Minute,
			RefreshInterval:  time.Minute,
			RequeueBackoff:   50 * time.Millisecond,
			SaveMaxRetries:   3,
			SaveRetryBackoff: 500 * time.Millisecond,
			DrainTimeout:     30 * time.Second,
			Process:          StageConfig{Capacity: 50000, Workers: 2},
			Get:              StageConfig{Capacity: 5000, Workers: 1},
			Save:             StageConfig{Capacity: 5000, Workers: 2},
			Clear:            StageConfig{Capacity: 5000, Workers: 1},
		},
		WAL: WALConfig{
			Enabled:       true,
			Path:          "/data/wal",
			SyncWrites:    true,
			ReplayOnStart: true,
			ReplayEvery:   5 * time.Minute,
			EntryTTL:      7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			Host:           "127.0.0.1",
			Port:           4222,
			Subject:        "minecraft.events",
			QueueGroup:     "blockstats",
			Subscribers:    2,
			DedupTTL:       5 * time.Minute,
			DedupCapacity:  100000,
			AckWait:        30 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8804,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,

			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they come from
// the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"db_driver":            "database.driver",
	"db_path":              "database.path",
	"duckdb_path":          "database.path",
	"duckdb_max_memory":    "database.max_memory",
	"duckdb_threads":       "database.threads",
	"sqlite_busy_timeout":  "database.busy_timeout",
	"db_operation_timeout": "database.operation_timeout",

	"breaker_enabled":           "breaker.enabled",
	"breaker_max_requests":      "breaker.max_requests",
	"breaker_interval":          "breaker.interval",
	"breaker_timeout":           "breaker.timeout",
	"breaker_failure_threshold": "breaker.failure_threshold",

	"proxy_mode":                  "pipeline.proxy_mode",
	"afk_threshold":               "pipeline.afk_threshold",
	"session_refresh_interval":    "pipeline.refresh_interval",
	"queue_requeue_backoff":       "pipeline.requeue_backoff",
	"save_max_retries":            "pipeline.save_max_retries",
	"save_retry_backoff":          "pipeline.save_retry_backoff",
	"pipeline_drain_timeout":      "pipeline.drain_timeout",
	"process_queue_capacity":      "pipeline.process.capacity",
	"process_queue_workers":       "pipeline.process.workers",
	"get_queue_capacity":          "pipeline.get.capacity",
	"get_queue_workers":           "pipeline.get.workers",
	"save_queue_capacity":         "pipeline.save.capacity",
	"save_queue_workers":          "pipeline.save.workers",
	"clear_queue_capacity":        "pipeline.clear.capacity",
	"clear_queue_workers":         "pipeline.clear.workers",

	"wal_enabled":         "wal.enabled",
	"wal_path":            "wal.path",
	"wal_sync_writes":     "wal.sync_writes",
	"wal_replay_on_start": "wal.replay_on_start",
	"wal_replay_interval": "wal.replay_interval",
	"wal_entry_ttl":       "wal.entry_ttl",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_host":           "nats.host",
	"nats_port":           "nats.port",
	"nats_subject":        "nats.subject",
	"nats_queue_group":    "nats.queue_group",
	"nats_subscribers":    "nats.subscribers",
	"nats_dedup_ttl":      "nats.dedup_ttl",
	"nats_dedup_capacity": "nats.dedup_capacity",
	"nats_ack_wait":       "nats.ack_wait",

	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_cors_origins":     "server.cors_origins",
	"http_rate_limit":       "server.rate_limit_requests",
	"http_rate_window":      "server.rate_limit_window",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
