// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package api

import "net/http"

// LatencyStats handles GET /api/v1/stats/latency: per-route latency
// percentiles over the most recent API requests.
func (h *Handler) LatencyStats(w http.ResponseWriter, r *http.Request) {
	stats := h.perf.Stats()
	NewResponseWriter(w, r).SuccessList(stats, len(stats))
}
