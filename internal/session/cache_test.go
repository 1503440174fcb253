// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/models"
)

var t0 = time.UnixMilli(1_700_000_000_000)

// recordingPersister collects persisted sessions.
type recordingPersister struct {
	mu       sync.Mutex
	sessions []*models.Session
}

func (p *recordingPersister) PersistSession(s *models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, s)
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func newTestCache(p Persister, now time.Time) *Cache {
	c := NewCache(p)
	c.now = func() time.Time { return now }
	return c
}

func TestCache_CacheSession_EndsPrevious(t *testing.T) {
	p := &recordingPersister{}
	c := newTestCache(p, t0.Add(time.Hour))
	id := uuid.New()

	first := models.NewSession(id, t0, "world", models.GameModeSurvival)
	second := models.NewSession(id, t0.Add(time.Hour), "world", models.GameModeSurvival)

	c.CacheSession(id, first)
	c.CacheSession(id, second)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	got, ok := c.GetCachedSession(id)
	if !ok || got.ID != second.ID {
		t.Fatalf("active session = %v, want second session", got)
	}
	if p.count() != 1 {
		t.Fatalf("persisted %d sessions, want 1", p.count())
	}
	closed := p.sessions[0]
	if closed.ID != first.ID || closed.IsOpen() {
		t.Errorf("persisted session %v is not the closed first session", closed.ID)
	}
	if closed.Length() != time.Hour {
		t.Errorf("closed length = %v, want 1h", closed.Length())
	}
}

func TestCache_CacheSession_LateRelogDoesNotOverlap(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		wantEnd time.Time
	}{
		{"delivered on time", t0.Add(time.Hour), t0.Add(time.Hour)},
		{"delivered late", t0.Add(2 * time.Hour), t0.Add(time.Hour)},
		{"clock behind event", t0.Add(30 * time.Minute), t0.Add(30 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPersister{}
			c := newTestCache(p, tt.now)
			id := uuid.New()

			c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
			c.CacheSession(id, models.NewSession(id, t0.Add(time.Hour), "world", models.GameModeSurvival))

			if p.count() != 1 {
				t.Fatalf("persisted %d sessions, want 1", p.count())
			}
			closed := p.sessions[0]
			if !closed.End.Equal(tt.wantEnd) {
				t.Errorf("closed end = %v, want %v", closed.End, tt.wantEnd)
			}
			if closed.WorldTimes.Total() != closed.Length() {
				t.Errorf("world time %v != length %v", closed.WorldTimes.Total(), closed.Length())
			}
		})
	}
}

func TestCache_GetCachedSession(t *testing.T) {
	c := newTestCache(&recordingPersister{}, t0)
	id := uuid.New()

	if _, ok := c.GetCachedSession(id); ok {
		t.Fatal("GetCachedSession() found a session that was never cached")
	}
	if c.Len() != 0 {
		t.Error("lookup created a session as a side effect")
	}

	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
	snap, ok := c.GetCachedSession(id)
	if !ok {
		t.Fatal("GetCachedSession() missed a cached session")
	}
	snap.AddDeath()

	again, _ := c.GetCachedSession(id)
	if again.Deaths != 0 {
		t.Error("mutating a snapshot changed the cached session")
	}
}

func TestCache_EndSession(t *testing.T) {
	tests := []struct {
		name          string
		cached        bool
		end           time.Time
		wantEnded     bool
		wantPersisted int
	}{
		{name: "no session", cached: false, end: t0.Add(time.Hour)},
		{name: "end before start", cached: true, end: t0.Add(-time.Second)},
		{name: "valid end", cached: true, end: t0.Add(time.Hour), wantEnded: true, wantPersisted: 1},
		{name: "end at start", cached: true, end: t0, wantEnded: true, wantPersisted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPersister{}
			c := newTestCache(p, t0)
			id := uuid.New()
			if tt.cached {
				c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
			}

			closed, ok := c.EndSession(id, tt.end)
			if ok != tt.wantEnded {
				t.Fatalf("EndSession() ok = %v, want %v", ok, tt.wantEnded)
			}
			if p.count() != tt.wantPersisted {
				t.Errorf("persisted %d, want %d", p.count(), tt.wantPersisted)
			}

			_, stillActive := c.GetCachedSession(id)
			switch {
			case tt.wantEnded:
				if stillActive {
					t.Error("session still cached after EndSession()")
				}
				if !closed.End.Equal(tt.end) {
					t.Errorf("End = %v, want %v", closed.End, tt.end)
				}
			case tt.cached:
				if !stillActive {
					t.Error("stale EndSession() removed the active session")
				}
			}
		})
	}
}

func TestCache_EndSession_PersisterPanics(t *testing.T) {
	c := newTestCache(PersisterFunc(func(*models.Session) { panic("database down") }), t0)
	id := uuid.New()
	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))

	if _, ok := c.EndSession(id, t0.Add(time.Minute)); !ok {
		t.Fatal("EndSession() returned false")
	}
	if c.IsActive(id) {
		t.Error("session left in cache after persister panic")
	}
}

func TestProxyCache_SkipsPersistence(t *testing.T) {
	c := NewProxyCache()
	id := uuid.New()
	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))

	if !c.IsProxy() {
		t.Error("IsProxy() = false")
	}
	if _, ok := c.EndSession(id, t0.Add(time.Minute)); !ok {
		t.Fatal("EndSession() returned false")
	}
	if c.IsActive(id) {
		t.Error("proxy cache kept the session")
	}
}

func TestCache_RefreshActiveSessions(t *testing.T) {
	c := newTestCache(&recordingPersister{}, t0)
	id := uuid.New()
	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))

	c.RefreshActiveSessions(t0.Add(10 * time.Minute))

	s, _ := c.GetCachedSession(id)
	if got := s.WorldTimes.Get("world", models.GameModeSurvival); got != 10*time.Minute {
		t.Errorf("world time = %v, want 10m", got)
	}
	if !s.IsOpen() {
		t.Error("refresh closed the session")
	}
}

func TestCache_EndAllAndClear(t *testing.T) {
	p := &recordingPersister{}
	c := newTestCache(p, t0)
	for i := 0; i < 3; i++ {
		id := uuid.New()
		c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
	}

	if n := c.EndAll(t0.Add(time.Minute)); n != 3 {
		t.Errorf("EndAll() = %d, want 3", n)
	}
	if p.count() != 3 || c.Len() != 0 {
		t.Errorf("persisted %d, remaining %d; want 3, 0", p.count(), c.Len())
	}

	id := uuid.New()
	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
	c.Clear()
	if c.Len() != 0 || p.count() != 3 {
		t.Error("Clear() should drop sessions without persisting")
	}
}

func TestCache_ConcurrentRelogKeepsOneSession(t *testing.T) {
	p := &recordingPersister{}
	c := newTestCache(p, t0.Add(time.Hour))
	id := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.CacheSession(id, models.NewSession(id, t0.Add(time.Duration(i)*time.Second), "world", models.GameModeSurvival))
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if p.count() != 49 {
		t.Errorf("persisted %d replaced sessions, want 49", p.count())
	}
}

func TestProxyCache_IgnoresSetPersister(t *testing.T) {
	p := &recordingPersister{}
	c := NewProxyCache()
	c.SetPersister(p)
	id := uuid.New()
	c.CacheSession(id, models.NewSession(id, t0, "world", models.GameModeSurvival))
	c.EndSession(id, t0.Add(time.Minute))

	if p.count() != 0 {
		t.Errorf("proxy cache persisted %d sessions", p.count())
	}
	if NewCache(nil).IsProxy() {
		t.Error("NewCache(nil).IsProxy() = true")
	}
}
