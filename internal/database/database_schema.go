// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

/*
database_schema.go - Database Schema

Tables:
  - players: one row per player identity with lifetime counters
  - nicknames: every name a player has used, with last use
  - geolocations: every resolved location, with last use
  - sessions: closed play sessions
  - world_times: per session time spent in each world and game mode
  - kills: player kills within a session

Times are stored as Unix nanoseconds and durations as nanoseconds in BIGINT
columns, so the same statements run unchanged on DuckDB and SQLite and a
reloaded session is exactly the one that was saved.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// Table names shared with the storage layer.
const (
	TablePlayers      = "players"
	TableNicknames    = "nicknames"
	TableGeolocations = "geolocations"
	TableSessions     = "sessions"
	TableWorldTimes   = "world_times"
	TableKills        = "kills"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) createTables(ctx context.Context) error {
	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	for _, query := range indexQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute index query: %s: %w", query, err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS players (
			uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			registered BIGINT NOT NULL,
			last_seen BIGINT NOT NULL,
			times_logged_in INTEGER NOT NULL DEFAULT 0,
			times_kicked INTEGER NOT NULL DEFAULT 0,
			banned BOOLEAN NOT NULL DEFAULT FALSE,
			operator BOOLEAN NOT NULL DEFAULT FALSE,
			online BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS nicknames (
			uuid TEXT NOT NULL,
			nickname TEXT NOT NULL,
			last_used BIGINT NOT NULL,
			PRIMARY KEY (uuid, nickname)
		)`,
		`CREATE TABLE IF NOT EXISTS geolocations (
			uuid TEXT NOT NULL,
			geolocation TEXT NOT NULL,
			last_used BIGINT NOT NULL,
			PRIMARY KEY (uuid, geolocation)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			uuid TEXT NOT NULL,
			session_start BIGINT NOT NULL,
			session_end BIGINT NOT NULL,
			mob_kills INTEGER NOT NULL DEFAULT 0,
			deaths INTEGER NOT NULL DEFAULT 0,
			afk_time BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS world_times (
			session_id TEXT NOT NULL,
			world_name TEXT NOT NULL,
			game_mode TEXT NOT NULL,
			duration BIGINT NOT NULL,
			PRIMARY KEY (session_id, world_name, game_mode)
		)`,
		`CREATE TABLE IF NOT EXISTS kills (
			session_id TEXT NOT NULL,
			killer_uuid TEXT NOT NULL,
			victim_uuid TEXT NOT NULL,
			victim_name TEXT NOT NULL,
			weapon TEXT NOT NULL,
			kill_date BIGINT NOT NULL
		)`,
	}
}

func indexQueries() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_uuid ON sessions(uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_kills_session ON kills(session_id)`,
	}
}
