// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

/*
Package middleware provides the infrastructure HTTP middleware shared by the
read API.

Key Components:

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request counts, latency and in-flight gauge per chi
    route pattern
  - Compression: gzip for clients that accept it
  - PerformanceMonitor: rolling window of request latencies with percentiles
    and slow request logging

Every middleware has the chi signature func(http.Handler) http.Handler, or is
a method value with that shape, so they compose with r.Use:

	r.Use(middleware.RequestID)
	r.Route("/api/v1", func(r chi.Router) {
	    r.Use(middleware.PrometheusMetrics)
	    r.Use(perfMon.Middleware)
	    r.Use(middleware.Compression)
	    ...
	})

Metrics and the performance monitor key requests by route pattern
(/api/v1/players/{uuid}) rather than raw path, so one player does not create
one series.
*/
package middleware
