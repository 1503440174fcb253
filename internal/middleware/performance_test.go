// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNewPerformanceMonitor_Defaults(t *testing.T) {
	pm := NewPerformanceMonitor(0, 0)
	if pm.maxSamples != 1000 {
		t.Errorf("maxSamples = %d, want 1000", pm.maxSamples)
	}
}

func TestPerformanceMonitor_WindowEvictsOldest(t *testing.T) {
	pm := NewPerformanceMonitor(3, 0)
	for i := int64(1); i <= 5; i++ {
		pm.Record(RequestSample{Route: "/r", Method: http.MethodGet, DurationMS: i})
	}

	recent := pm.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(recent))
	}
	if recent[0].DurationMS != 3 || recent[2].DurationMS != 5 {
		t.Errorf("window = %v, want samples 3..5", recent)
	}
	if got := pm.Recent(1); len(got) != 1 || got[0].DurationMS != 5 {
		t.Errorf("Recent(1) = %v", got)
	}
}

func TestPerformanceMonitor_Stats(t *testing.T) {
	pm := NewPerformanceMonitor(100, 0)
	for i := int64(1); i <= 10; i++ {
		pm.Record(RequestSample{Route: "/api/v1/sessions", Method: http.MethodGet, DurationMS: i * 10, StatusCode: http.StatusOK})
	}
	pm.Record(RequestSample{Route: "/api/v1/players/{uuid}", Method: http.MethodGet, DurationMS: 7, StatusCode: http.StatusServiceUnavailable})

	stats := pm.Stats()
	if len(stats) != 2 {
		t.Fatalf("len(Stats) = %d, want 2", len(stats))
	}

	sessions := stats[0]
	if sessions.Endpoint != "GET /api/v1/sessions" || sessions.RequestCount != 10 {
		t.Fatalf("busiest endpoint = %+v", sessions)
	}
	if sessions.MinDuration != 10 || sessions.MaxDuration != 100 {
		t.Errorf("min/max = %d/%d", sessions.MinDuration, sessions.MaxDuration)
	}
	if sessions.AvgDuration != 55 {
		t.Errorf("avg = %v, want 55", sessions.AvgDuration)
	}
	if sessions.P50Duration != 50 || sessions.P95Duration != 90 {
		t.Errorf("p50/p95 = %d/%d, want 50/90", sessions.P50Duration, sessions.P95Duration)
	}

	if stats[1].ErrorCount != 1 {
		t.Errorf("player endpoint errors = %d, want 1", stats[1].ErrorCount)
	}
}

func TestPerformanceMonitor_Middleware(t *testing.T) {
	pm := NewPerformanceMonitor(10, time.Nanosecond)
	handler := pm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	recent := pm.Recent(1)
	if len(recent) != 1 {
		t.Fatal("request was not sampled")
	}
	if recent[0].StatusCode != http.StatusTeapot || recent[0].Route != "/health" {
		t.Errorf("sample = %+v", recent[0])
	}
}

func TestPerformanceMonitor_Concurrent(t *testing.T) {
	pm := NewPerformanceMonitor(50, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pm.Record(RequestSample{Route: "/r", Method: http.MethodGet, DurationMS: int64(j)})
				_ = pm.Stats()
			}
		}()
	}
	wg.Wait()

	if got := len(pm.Recent(1000)); got != 50 {
		t.Errorf("window size = %d, want 50", got)
	}
}

func TestPercentile(t *testing.T) {
	if percentile(nil, 0.5) != 0 {
		t.Error("percentile of empty slice should be 0")
	}
	sorted := []int64{1, 2, 3, 4}
	if got := percentile(sorted, 0.99); got != 3 {
		t.Errorf("p99 = %d, want 3", got)
	}
}
