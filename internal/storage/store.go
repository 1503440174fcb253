// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package storage is the persistence boundary of the pipeline: load a player
// record, save a player record. SQLStore implements it on DuckDB or SQLite and
// BreakerStore guards any Store with a circuit breaker.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/blockstats/internal/database"
	"github.com/tomtom215/blockstats/internal/models"
)

// ErrRecordNotFound is returned by LoadRecord for a player that has never been saved.
var ErrRecordNotFound = errors.New("player record not found")

// ErrNilRecord is returned by SaveRecord when given nil.
var ErrNilRecord = errors.New("nil player record")

// Store loads and saves durable player records.
type Store interface {
	// LoadRecord returns the stored record for id, or ErrRecordNotFound.
	LoadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error)

	// SaveRecord writes rec. Saving the same record twice is harmless.
	SaveRecord(ctx context.Context, rec *models.PlayerRecord) error
}

// IsRetryable reports whether a load or save that failed with err may succeed
// later: the breaker is open, or the database reported a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return database.IsRetryable(err)
}
