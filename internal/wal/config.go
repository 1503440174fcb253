// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package wal

import (
	"fmt"
	"time"

	"github.com/tomtom215/blockstats/internal/config"
)

// Config holds spill log configuration.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// EntryTTL expires pending entries that were never replayed. 0 keeps them forever.
	EntryTTL time.Duration

	// ConfirmedTTL is how long a replayed entry is kept for inspection.
	ConfirmedTTL time.Duration

	// ReplayInterval is the period of the background replay loop.
	ReplayInterval time.Duration

	// MaxAttempts drops an entry after this many failed replays. 0 means unlimited.
	MaxAttempts int

	// BadgerDB tuning.
	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/wal",
		SyncWrites:       true,
		EntryTTL:         7 * 24 * time.Hour,
		ConfirmedTTL:     time.Hour,
		ReplayInterval:   5 * time.Minute,
		MaxAttempts:      100,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		CloseTimeout:     30 * time.Second,
	}
}

// FromConfig builds a Config from the application configuration.
func FromConfig(c config.WALConfig) Config {
	cfg := DefaultConfig()
	cfg.Path = c.Path
	cfg.SyncWrites = c.SyncWrites
	cfg.EntryTTL = c.EntryTTL
	if c.ReplayEvery > 0 {
		cfg.ReplayInterval = c.ReplayEvery
	}
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("wal path is required")
	}
	if c.NumCompactors < 2 {
		return fmt.Errorf("wal num compactors must be at least 2, got %d", c.NumCompactors)
	}
	if c.MemTableSize < 1<<20 {
		return fmt.Errorf("wal memtable size must be at least 1MB, got %d", c.MemTableSize)
	}
	if c.ValueLogFileSize < 1<<20 {
		return fmt.Errorf("wal value log file size must be at least 1MB, got %d", c.ValueLogFileSize)
	}
	if c.ReplayInterval <= 0 {
		return fmt.Errorf("wal replay interval must be positive")
	}
	return nil
}
