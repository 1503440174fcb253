// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/blockstats/internal/ingest"
	"github.com/tomtom215/blockstats/internal/pipeline"
	"github.com/tomtom215/blockstats/internal/wal"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Pipeline      pipeline.Stats `json:"pipeline"`
	Breaker       string         `json:"breaker,omitempty"`
	WAL           *wal.Stats     `json:"wal,omitempty"`
	Ingest        *ingest.Stats  `json:"ingest,omitempty"`
	Reasons       []string       `json:"reasons,omitempty"`
}

// health gathers component state. A stopped pipeline is unhealthy; an open
// breaker, a stopped consumer or parked records degrade it.
func (h *Handler) health() HealthResponse {
	resp := HealthResponse{
		Status:        StatusHealthy,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Pipeline:      h.deps.Pipeline.Stats(),
	}

	if !resp.Pipeline.Running {
		resp.Status = StatusUnhealthy
		resp.Reasons = append(resp.Reasons, "pipeline not running")
	}

	degrade := func(reason string) {
		if resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
		resp.Reasons = append(resp.Reasons, reason)
	}

	if h.deps.Breaker != nil {
		resp.Breaker = h.deps.Breaker.State()
		if resp.Breaker != "closed" {
			degrade("store circuit breaker " + resp.Breaker)
		}
	}
	if h.deps.WAL != nil {
		s := h.deps.WAL.Stats()
		resp.WAL = &s
		if s.PendingCount > 0 {
			degrade("records waiting in spill log")
		}
	}
	if h.deps.Ingest != nil {
		s := h.deps.Ingest.Stats()
		resp.Ingest = &s
		if !s.Running {
			degrade("ingest consumer not running")
		}
	}
	return resp
}

// Health handles GET /health. It answers 503 only when unhealthy so a
// degraded instance stays in rotation.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.health()
	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	NewResponseWriter(w, r).Status(status, resp)
}

// HealthLive handles GET /health/live: the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /health/ready: the pipeline accepts events.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if !h.deps.Pipeline.Stats().Running {
		rw.ServiceUnavailable("Pipeline not running")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}
