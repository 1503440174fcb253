// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package database opens the player record database and owns its schema.
//
// Two embedded engines are supported: DuckDB (the default, CGO) and SQLite via
// the pure-Go modernc driver for hosts where CGO is not available. Both accept
// the same schema and the same upsert syntax, so the storage layer above is
// engine agnostic.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "modernc.org/sqlite"

	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/logging"
)

// Supported drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// DB wraps the SQL connection pool.
type DB struct {
	conn   *sql.DB
	cfg    config.DatabaseConfig
	driver string
}

// Open opens the database described by cfg and creates the schema.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverDuckDB
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg, driver: cfg.Driver}
	db.configureConnectionPool()

	ctx, cancel := schemaContext()
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.createTables(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("driver", cfg.Driver).
		Str("path", cfg.Path).
		Msg("Database opened")
	return db, nil
}

// buildDSN returns the driver-specific connection string.
func buildDSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case DriverDuckDB:
		threads := cfg.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		maxMemory := cfg.MaxMemory
		if maxMemory == "" {
			maxMemory = "1GB"
		}
		path := cfg.Path
		if path == ":memory:" {
			path = ""
		}
		return fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", path, threads, maxMemory), nil
	case DriverSQLite:
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		if cfg.Path == ":memory:" {
			return fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", busy.Milliseconds()), nil
		}
		return fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
			cfg.Path, busy.Milliseconds()), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// configureConnectionPool sets pool limits per engine. SQLite allows a single
// writer, so its pool is pinned to one connection; this also keeps an
// in-memory database alive across calls.
func (db *DB) configureConnectionPool() {
	switch db.driver {
	case DriverSQLite:
		db.conn.SetMaxOpenConns(1)
		db.conn.SetMaxIdleConns(1)
		db.conn.SetConnMaxLifetime(0)
	default:
		db.conn.SetMaxOpenConns(runtime.NumCPU())
		db.conn.SetMaxIdleConns(2)
		db.conn.SetConnMaxLifetime(time.Hour)
		db.conn.SetConnMaxIdleTime(5 * time.Minute)
	}
}

// Conn returns the underlying pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver returns the engine name.
func (db *DB) Driver() string {
	return db.driver
}

// OperationTimeout returns the configured per-operation timeout.
func (db *DB) OperationTimeout() time.Duration {
	if db.cfg.OperationTimeout <= 0 {
		return 30 * time.Second
	}
	return db.cfg.OperationTimeout
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}
