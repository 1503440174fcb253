// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package metrics defines the Prometheus instrumentation for Blockstats:
// pipeline queues, the session cache, the player record store, the spill log
// and event ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockstats_queue_depth",
			Help: "Current number of items waiting in a pipeline queue",
		},
		[]string{"stage"}, // process, get, save, clear
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_queue_enqueued_total",
			Help: "Total number of items accepted by a pipeline queue",
		},
		[]string{"stage"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_queue_dropped_total",
			Help: "Total number of items dropped because a pipeline queue was full",
		},
		[]string{"stage"},
	)

	QueueRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_queue_requeued_total",
			Help: "Total number of items put back at the tail of a pipeline queue",
		},
		[]string{"stage"},
	)

	QueueProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_queue_processed_total",
			Help: "Total number of items consumed successfully",
		},
		[]string{"stage"},
	)

	QueueFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_queue_failed_total",
			Help: "Total number of items whose consumer returned an error",
		},
		[]string{"stage"},
	)

	WorkerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_worker_panics_total",
			Help: "Total number of panics recovered in queue workers",
		},
		[]string{"stage"},
	)

	// Session Metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockstats_active_sessions",
			Help: "Current number of active player sessions",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
		[]string{"reason"}, // logout, relog, shutdown
	)

	AFKSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockstats_afk_seconds_total",
			Help: "Total AFK time credited to sessions in seconds",
		},
	)

	// Working Set Metrics
	WorkingSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockstats_working_set_records",
			Help: "Current number of player records resident in memory",
		},
	)

	IdentityMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockstats_identity_mismatches_total",
			Help: "Total number of mutations applied to the wrong player record",
		},
	)

	// Storage Metrics
	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockstats_storage_duration_seconds",
			Help:    "Duration of player record store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // load, save
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_storage_errors_total",
			Help: "Total number of failed player record store operations",
		},
		[]string{"operation"},
	)

	SaveRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockstats_save_retries_total",
			Help: "Total number of save attempts retried after a failure",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockstats_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Spill Log Metrics
	WALSpilled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockstats_wal_spilled_total",
			Help: "Total number of player records written to the spill log",
		},
	)

	WALReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_wal_replayed_total",
			Help: "Total number of spill log entries replayed",
		},
		[]string{"result"}, // replayed, failed, dropped
	)

	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockstats_wal_pending_entries",
			Help: "Current number of spill log entries awaiting replay",
		},
	)

	// Ingest Metrics
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_ingest_messages_total",
			Help: "Total number of gameplay messages received",
		},
		[]string{"result"}, // accepted, dropped, duplicate, invalid, rejected
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockstats_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockstats_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockstats_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)
)

// RecordStorageOperation records the duration and outcome of a store call.
func RecordStorageOperation(operation string, duration time.Duration, err error) {
	StorageDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StorageErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSessionClosed counts a closed session.
func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordAFK credits AFK time.
func RecordAFK(d time.Duration) {
	AFKSeconds.Add(d.Seconds())
}

// RecordWALReplay counts one replayed spill entry by outcome.
func RecordWALReplay(result string) {
	WALReplayed.WithLabelValues(result).Inc()
}

// RecordIngest counts an ingested message by outcome.
func RecordIngest(result string) {
	IngestMessages.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBreakerTransition updates the breaker state gauge and transition counter.
// States follow gobreaker ordering: 0=closed, 1=half-open, 2=open.
func RecordBreakerTransition(name, from, to string, toState int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(toState))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}
