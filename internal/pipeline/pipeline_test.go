// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/blockstats/internal/config"
	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/queue"
	"github.com/tomtom215/blockstats/internal/session"
	"github.com/tomtom215/blockstats/internal/storage"
)

var t0 = time.UnixMilli(1_700_000_000_000)

// memStore is an in-memory storage.Store.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.PlayerRecord
	loadErr error
	saveErr error
	saves   int

	// gate, when set, blocks LoadRecord until closed.
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]*models.PlayerRecord)}
}

func (s *memStore) LoadRecord(ctx context.Context, id uuid.UUID) (*models.PlayerRecord, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) SaveRecord(_ context.Context, rec *models.PlayerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[rec.UUID] = rec.Clone()
	return nil
}

func (s *memStore) get(id uuid.UUID) (*models.PlayerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// memSpiller collects spilled records.
type memSpiller struct {
	mu      sync.Mutex
	records []*models.PlayerRecord
	reasons []string
}

func (s *memSpiller) Write(_ context.Context, rec *models.PlayerRecord, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec.Clone())
	s.reasons = append(s.reasons, reason)
	return uuid.NewString(), nil
}

func (s *memSpiller) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testConfig() config.PipelineConfig {
	stage := config.StageConfig{Capacity: 100, Workers: 2}
	return config.PipelineConfig{
		RequeueBackoff:   time.Millisecond,
		SaveMaxRetries:   2,
		SaveRetryBackoff: time.Millisecond,
		Process:          config.StageConfig{Capacity: 100, Workers: 1},
		Get:              stage,
		Save:             stage,
		Clear:            stage,
	}
}

func newTestPipeline(t *testing.T, store storage.Store, spill Spiller) (*Pipeline, *Tracker) {
	t.Helper()
	cache := session.NewCache(nil)
	p := New(testConfig(), store, spill, cache)
	p.now = func() time.Time { return t0.Add(time.Hour) }
	tracker := NewTracker(p, session.NewAFKTracker(time.Minute, cache))
	return p, tracker
}

func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { p.Disable(context.Background()) })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipeline_FirstLoginRoundTrip(t *testing.T) {
	store := newMemStore()
	p, tracker := newTestPipeline(t, store, nil)
	startPipeline(t, p)
	id := uuid.New()

	tracker.Login(events.Login{PlayerID: id, Name: "Steve", World: "world", GameMode: models.GameModeSurvival, Geolocation: "Finland", Time: t0})
	tracker.Kill(events.Kill{PlayerID: id, Time: t0.Add(time.Minute)})
	tracker.Logout(events.Logout{PlayerID: id, Time: t0.Add(30 * time.Minute)})

	waitFor(t, "record with closed session", func() bool {
		rec, ok := store.get(id)
		return ok && len(rec.Sessions) == 1 && !rec.Online
	})
	waitFor(t, "working set eviction", func() bool { return p.Stats().WorkingSet == 0 })

	rec, _ := store.get(id)
	if rec.Name != "Steve" || rec.TimesLoggedIn != 1 {
		t.Errorf("record = %s logged in %d times, want Steve once", rec.Name, rec.TimesLoggedIn)
	}
	if !rec.Registered.Equal(t0) {
		t.Errorf("Registered = %v, want first login %v", rec.Registered, t0)
	}
	if !rec.LastSeen.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("LastSeen = %v, want logout time", rec.LastSeen)
	}
	if rec.PlayTime() != 30*time.Minute || rec.MobKills() != 1 {
		t.Errorf("play time %v, mob kills %d; want 30m, 1", rec.PlayTime(), rec.MobKills())
	}
	if len(rec.GeoInfo) != 1 || rec.GeoInfo[0].Geolocation != "Finland" {
		t.Errorf("geo info = %+v", rec.GeoInfo)
	}
	if _, ok := p.ActiveSession(id); ok {
		t.Error("session still active after logout")
	}
}

func TestPipeline_ContendedPlayerIsRequeued(t *testing.T) {
	store := newMemStore()
	store.gate = make(chan struct{})
	p, _ := newTestPipeline(t, store, nil)
	startPipeline(t, p)
	id := uuid.New()

	for i := 0; i < 3; i++ {
		if r := p.Submit(id, events.Kick{PlayerID: id, Time: t0}, t0); r != queue.Accepted {
			t.Fatalf("Submit() = %v", r)
		}
	}

	waitFor(t, "third item requeued behind the pending load", func() bool {
		return p.Stats().Stages[StageProcess].Requeued > 0
	})
	close(store.gate)

	waitFor(t, "all kicks applied", func() bool {
		rec, ok := store.get(id)
		return ok && rec.TimesKicked == 3
	})
	if got := p.Stats().Stages[StageGet].Processed; got != 1 {
		t.Errorf("loads = %d, want 1 shared load", got)
	}
}

func TestPipeline_LoadFailureDropsPendingMutations(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("disk gone")
	p, _ := newTestPipeline(t, store, nil)
	startPipeline(t, p)
	id := uuid.New()

	p.Submit(id, events.Kick{PlayerID: id, Time: t0}, t0)

	waitFor(t, "failed load", func() bool { return p.Stats().Stages[StageGet].Failed == 1 })
	waitFor(t, "entry forgotten", func() bool { return p.Stats().WorkingSet == 0 })
	if store.saveCount() != 0 {
		t.Errorf("saves = %d after failed load, want 0", store.saveCount())
	}
}

func TestPipeline_SaveFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantSaves int
	}{
		{name: "retryable error is retried", err: gobreaker.ErrOpenState, wantSaves: 3},
		{name: "permanent error is not retried", err: errors.New("constraint violated"), wantSaves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.saveErr = tt.err
			spill := &memSpiller{}
			p, _ := newTestPipeline(t, store, spill)
			startPipeline(t, p)
			id := uuid.New()

			p.Submit(id, events.Kick{PlayerID: id, Time: t0}, t0)

			waitFor(t, "spill", func() bool { return spill.count() == 1 })
			if got := store.saveCount(); got != tt.wantSaves {
				t.Errorf("save attempts = %d, want %d", got, tt.wantSaves)
			}
			if spill.records[0].TimesKicked != 1 || spill.reasons[0] != spillReasonSaveFailed {
				t.Errorf("spilled %+v for %s", spill.records[0], spill.reasons[0])
			}
		})
	}
}

func TestPipeline_IdentityMismatchIsRejected(t *testing.T) {
	store := newMemStore()
	p, _ := newTestPipeline(t, store, nil)
	startPipeline(t, p)

	owner := uuid.New()
	other := uuid.New()
	s := models.NewSession(other, t0, "world", models.GameModeSurvival)
	s.Close(t0.Add(time.Minute))

	before := testutil.ToFloat64(metrics.IdentityMismatches)
	p.SubmitMutation(HandlingInfo{PlayerID: owner, Kind: kindSessionClosed, Timestamp: t0, Mutate: sessionClosed(s)})

	waitFor(t, "mismatch counted", func() bool {
		return testutil.ToFloat64(metrics.IdentityMismatches) == before+1
	})
	if store.saveCount() != 0 {
		t.Errorf("saves = %d, want 0", store.saveCount())
	}
}

func TestPipeline_RecordPrefersResidentCopy(t *testing.T) {
	store := newMemStore()
	p, tracker := newTestPipeline(t, store, nil)
	startPipeline(t, p)
	id := uuid.New()

	if _, err := p.Record(context.Background(), id); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Fatalf("Record() of unknown player error = %v", err)
	}

	tracker.Login(events.Login{PlayerID: id, Name: "Alex", World: "world", GameMode: models.GameModeSurvival, Time: t0})
	waitFor(t, "login applied", func() bool {
		rec, err := p.Record(context.Background(), id)
		return err == nil && rec.Online && rec.Name == "Alex"
	})
}

func TestPipeline_DisableFlushesEverything(t *testing.T) {
	store := newMemStore()
	p, tracker := newTestPipeline(t, store, nil)
	id := uuid.New()

	// Without Start nothing is consumed; Disable must handle it all.
	tracker.Login(events.Login{PlayerID: id, Name: "Steve", World: "world", GameMode: models.GameModeSurvival, Time: t0})

	report := p.Disable(context.Background())
	if report.SessionsClosed != 1 || report.ProcessFlushed != 2 || report.SavesFlushed != 1 {
		t.Errorf("report = %+v, want 1 session, 2 process items, 1 save", report)
	}

	rec, ok := store.get(id)
	if !ok {
		t.Fatal("record not saved during shutdown")
	}
	if len(rec.Sessions) != 1 || rec.Sessions[0].Length() != time.Hour {
		t.Errorf("sessions = %+v, want one 1h session", rec.Sessions)
	}
	if rec.TimesLoggedIn != 1 {
		t.Errorf("TimesLoggedIn = %d, want 1", rec.TimesLoggedIn)
	}

	if r := p.Submit(id, events.Kick{PlayerID: id, Time: t0}, t0); r != queue.Closed {
		t.Errorf("Submit() after Disable = %v, want closed", r)
	}
	if again := p.Disable(context.Background()); again.SessionsClosed != 0 {
		t.Errorf("second Disable() = %+v, want no-op", again)
	}
	if err := p.Start(context.Background()); !errors.Is(err, queue.ErrStopped) {
		t.Errorf("Start() after Disable error = %v, want ErrStopped", err)
	}
	if p.Stats().ActiveSessions != 0 || p.Stats().WorkingSet != 0 {
		t.Errorf("stats after Disable = %+v", p.Stats())
	}
}

func TestPipeline_DisableSpillsWhenStoreIsDown(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("read-only file system")
	spill := &memSpiller{}
	p, tracker := newTestPipeline(t, store, spill)
	id := uuid.New()

	tracker.Login(events.Login{PlayerID: id, Name: "Steve", World: "world", GameMode: models.GameModeSurvival, Time: t0})
	p.Disable(context.Background())

	if spill.count() != 1 {
		t.Fatalf("spilled %d records, want 1", spill.count())
	}
	if spill.reasons[0] != spillReasonShutdown || len(spill.records[0].Sessions) != 1 {
		t.Errorf("spilled %+v for %s", spill.records[0], spill.reasons[0])
	}
}

func TestPipeline_ProxyModeKeepsSessionsOutOfStorage(t *testing.T) {
	store := newMemStore()
	cache := session.NewProxyCache()
	p := New(testConfig(), store, nil, cache)
	tracker := NewTracker(p, session.NewAFKTracker(time.Minute, cache))
	id := uuid.New()

	tracker.Login(events.Login{PlayerID: id, Name: "Steve", World: "world", GameMode: models.GameModeSurvival, Time: t0})
	if _, ok := p.ActiveSession(id); !ok {
		t.Fatal("proxy node should still track the active session")
	}
	tracker.Logout(events.Logout{PlayerID: id, Time: t0.Add(time.Minute)})
	p.Disable(context.Background())

	rec, ok := store.get(id)
	if !ok {
		t.Fatal("login not recorded")
	}
	if len(rec.Sessions) != 0 {
		t.Errorf("proxy node persisted %d sessions", len(rec.Sessions))
	}
}
