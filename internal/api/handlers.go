// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package api serves the read-only HTTP API: active sessions, stored player
// records with totals, health and Prometheus metrics.
package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/ingest"
	"github.com/tomtom215/blockstats/internal/middleware"
	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/pipeline"
	"github.com/tomtom215/blockstats/internal/wal"
)

// Pipeline is the read side of *pipeline.Pipeline.
type Pipeline interface {
	ActiveSession(id uuid.UUID) (*models.Session, bool)
	AllActiveSessions() map[uuid.UUID]*models.Session
	Record(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error)
	Stats() pipeline.Stats
}

// BreakerStateProvider reports the store circuit breaker state.
type BreakerStateProvider interface {
	State() string
}

// WALStatsProvider reports spill log counters.
type WALStatsProvider interface {
	Stats() wal.Stats
}

// IngestStatsProvider reports ingest consumer counters.
type IngestStatsProvider interface {
	Stats() ingest.Stats
}

// Dependencies are what the handlers read from. Only Pipeline is required.
type Dependencies struct {
	Pipeline Pipeline
	Breaker  BreakerStateProvider
	WAL      WALStatsProvider
	Ingest   IngestStatsProvider
}

// slowRequestThreshold is when a served request is logged as slow.
const slowRequestThreshold = time.Second

// Handler holds the HTTP handlers.
type Handler struct {
	deps      Dependencies
	perf      *middleware.PerformanceMonitor
	now       func() time.Time
	startTime time.Time
}

// NewHandler creates the handlers.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		deps:      deps,
		perf:      middleware.NewPerformanceMonitor(1000, slowRequestThreshold),
		now:       time.Now,
		startTime: time.Now(),
	}
}
