// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package wal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/models"
)

var errNotFound = errors.New("not found")

// memStore is an in-memory RecordStore.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.PlayerRecord
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]*models.PlayerRecord)}
}

func (m *memStore) LoadRecord(_ context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) SaveRecord(_ context.Context, rec *models.PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[rec.UUID] = rec.Clone()
	return nil
}

func (m *memStore) get(id uuid.UUID) *models.PlayerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func TestReplayer_ReplayOnce(t *testing.T) {
	w := openTestWAL(t)
	store := newMemStore()
	ctx := context.Background()

	rec := testRecord("Steve")
	if _, err := w.Write(ctx, rec, "shutdown"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	result, err := NewReplayer(w, store, errNotFound).ReplayOnce(ctx)
	if err != nil {
		t.Fatalf("ReplayOnce() error = %v", err)
	}
	if result.Replayed != 1 {
		t.Errorf("result = %+v, want 1 replayed", result)
	}
	if got := store.get(rec.UUID); got == nil || got.Deaths() != 1 {
		t.Errorf("stored record = %+v", got)
	}
	if pending, _ := w.GetPending(ctx); len(pending) != 0 {
		t.Errorf("pending after replay = %d", len(pending))
	}
}

func TestReplayer_FailureKeepsEntry(t *testing.T) {
	w := openTestWAL(t)
	store := newMemStore()
	store.saveErr = errors.New("database is locked")
	ctx := context.Background()

	if _, err := w.Write(ctx, testRecord("Steve"), "shutdown"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	result, err := NewReplayer(w, store, errNotFound).ReplayOnce(ctx)
	if err != nil {
		t.Fatalf("ReplayOnce() error = %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", result)
	}
	pending, _ := w.GetPending(ctx)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Fatalf("pending = %+v, want one entry with one attempt", pending)
	}
}

func TestReplayer_DropsAfterMaxAttempts(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.MaxAttempts = 2
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	store := newMemStore()
	store.saveErr = errors.New("permanent")
	ctx := context.Background()
	if _, err := w.Write(ctx, testRecord("Steve"), "shutdown"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r := NewReplayer(w, store, errNotFound)
	first, _ := r.ReplayOnce(ctx)
	second, _ := r.ReplayOnce(ctx)
	if first.Failed != 1 || second.Dropped != 1 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if pending, _ := w.GetPending(ctx); len(pending) != 0 {
		t.Errorf("pending = %d after max attempts, want 0", len(pending))
	}
}

func TestReplayer_OlderSnapshotMergesSessions(t *testing.T) {
	w := openTestWAL(t)
	store := newMemStore()
	ctx := context.Background()

	spilled := testRecord("Steve")
	spilled.TimesLoggedIn = 1

	newer := models.NewPlayerRecord(spilled.UUID, t0)
	newer.AddNickname("Steve2", t0.Add(2*time.Hour))
	newer.TimesLoggedIn = 4
	newer.Seen(t0.Add(3 * time.Hour))
	store.records[newer.UUID] = newer

	if _, err := w.Write(ctx, spilled, "save retries exhausted"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := NewReplayer(w, store, errNotFound).ReplayOnce(ctx); err != nil {
		t.Fatalf("ReplayOnce() error = %v", err)
	}

	got := store.get(spilled.UUID)
	if got.TimesLoggedIn != 4 {
		t.Errorf("TimesLoggedIn = %d, want the newer 4", got.TimesLoggedIn)
	}
	if len(got.Sessions) != 1 {
		t.Errorf("sessions = %d, want the spilled session merged", len(got.Sessions))
	}
	if len(got.Nicknames) != 2 {
		t.Errorf("nicknames = %d, want 2", len(got.Nicknames))
	}
}

func TestReplayer_StartStop(t *testing.T) {
	w := openTestWAL(t)
	store := newMemStore()
	ctx := context.Background()

	rec := testRecord("Steve")
	if _, err := w.Write(ctx, rec, "shutdown"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r := NewReplayer(w, store, errNotFound)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	deadline := time.Now().Add(3 * time.Second)
	for store.get(rec.UUID) == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if store.get(rec.UUID) == nil {
		t.Error("record not replayed by the loop")
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
