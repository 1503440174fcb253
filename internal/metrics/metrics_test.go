// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStorageOperation(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantErrs  float64
	}{
		{name: "successful load", operation: "test_load", wantErrs: 0},
		{name: "failed save", operation: "test_save", err: errors.New("connection refused"), wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(StorageErrors.WithLabelValues(tt.operation))
			RecordStorageOperation(tt.operation, 5*time.Millisecond, tt.err)
			after := testutil.ToFloat64(StorageErrors.WithLabelValues(tt.operation))

			if after-before != tt.wantErrs {
				t.Errorf("errors delta = %v, want %v", after-before, tt.wantErrs)
			}
		})
	}
}

func TestRecordSessionClosed(t *testing.T) {
	before := testutil.ToFloat64(SessionsClosed.WithLabelValues("test"))
	RecordSessionClosed("test")
	RecordSessionClosed("test")

	if got := testutil.ToFloat64(SessionsClosed.WithLabelValues("test")) - before; got != 2 {
		t.Errorf("sessions closed delta = %v, want 2", got)
	}
}

func TestRecordAFK(t *testing.T) {
	before := testutil.ToFloat64(AFKSeconds)
	RecordAFK(70 * time.Second)

	if got := testutil.ToFloat64(AFKSeconds) - before; got != 70 {
		t.Errorf("afk seconds delta = %v, want 70", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("test-breaker", "closed", "open", 2)

	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("test-breaker", "closed", "open")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/test", "200"))
	RecordAPIRequest("GET", "/test", "200", time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/test", "200")) - before; got != 1 {
		t.Errorf("requests delta = %v, want 1", got)
	}
}
