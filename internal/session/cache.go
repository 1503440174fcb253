// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package session owns the active-session registry and AFK accounting.
//
// Cache is the single in-memory source of truth for "is this player in an
// active session, and what does it look like so far". It is constructed
// explicitly and passed to the components that need it; there is no package
// level instance. All entry points are in-memory map operations guarded by one
// mutex, so they are safe to call from the event path.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// Reasons a session is closed, used for metrics.
const (
	ReasonLogout   = "logout"
	ReasonRelog    = "relog"
	ReasonShutdown = "shutdown"
)

// Persister receives sessions once they are closed. Implementations must not
// block; the pipeline implementation only enqueues work.
type Persister interface {
	PersistSession(s *models.Session)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(s *models.Session)

// PersistSession implements Persister.
func (f PersisterFunc) PersistSession(s *models.Session) { f(s) }

// Cache maps player identity to the active session.
//
// A player has at most one active session. The cache enforces that on every
// entry point:
//
//  1. CacheSession replaces any existing session, closing the old one first
//  2. EndSession closes the session at the logout time, ignoring logouts
//     that predate the session start
//  3. EndAll closes every session at once during shutdown
//
// Closed sessions leave the cache before the Persister sees them, so a slow
// or panicking persister never blocks the event path or leaves a closed
// session behind. A proxy cache tracks sessions the same way but drops them
// on close.
//
// Readers get snapshots: GetCachedSession and AllActive return clones, and
// in-place changes go through Update while the lock is held.
//
// Example usage:
//
//	sessions := session.NewCache(nil)
//	p := pipeline.New(cfg.Pipeline, store, spill, sessions) // installs itself as persister
//	sessions.CacheSession(id, models.NewSession(id, at, "world", models.GameModeSurvival))
//	sessions.Update(id, func(s *models.Session) { s.AddDeath() })
//	sessions.EndSession(id, logoutAt)
type Cache struct {
	mu        sync.Mutex
	active    map[uuid.UUID]*models.Session
	persister Persister
	proxy     bool
	now       func() time.Time
	logger    zerolog.Logger
}

// NewCache creates a cache whose closed sessions are handed to persister.
func NewCache(persister Persister) *Cache {
	return &Cache{
		active:    make(map[uuid.UUID]*models.Session),
		persister: persister,
		now:       time.Now,
		logger:    logging.WithComponent("session-cache"),
	}
}

// NewProxyCache creates a cache for a proxy node. Sessions are tracked but
// never persisted; the backend servers own persistence.
func NewProxyCache() *Cache {
	c := NewCache(nil)
	c.proxy = true
	return c
}

// IsProxy reports whether closed sessions are discarded instead of persisted.
func (c *Cache) IsProxy() bool {
	return c.proxy
}

// SetPersister installs the persister. It exists to break the construction
// cycle between the cache and the pipeline and must be called before use.
// A proxy cache ignores it.
func (c *Cache) SetPersister(p Persister) {
	c.mu.Lock()
	if !c.proxy {
		c.persister = p
	}
	c.mu.Unlock()
}

// CacheSession stores s as the active session for id. An existing active
// session is closed at the current time, or at the start of s when that is
// earlier, so the two sessions never overlap.
func (c *Cache) CacheSession(id uuid.UUID, s *models.Session) {
	c.mu.Lock()
	previous, ok := c.active[id]
	c.active[id] = s
	n := len(c.active)
	c.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	if ok {
		c.logger.Debug().Str("player", id.String()).Msg("Closing stale session on relog")
		end := c.now()
		if s.Start.Before(end) {
			end = s.Start
		}
		previous.Close(end)
		c.persist(previous, ReasonRelog)
	}
}

// GetCachedSession returns a snapshot of the active session for id.
func (c *Cache) GetCachedSession(id uuid.UUID) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// IsActive reports whether id has an active session.
func (c *Cache) IsActive(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

// Update applies fn to the active session for id while holding the cache lock.
// It reports whether a session was found. fn must not call back into the cache.
func (c *Cache) Update(id uuid.UUID, fn func(s *models.Session)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// EndSession closes the active session for id at time at and hands it to the
// persister. Nothing happens when there is no active session or when at is
// before the session start. The returned snapshot is the closed session.
func (c *Cache) EndSession(id uuid.UUID, at time.Time) (*models.Session, bool) {
	return c.endSession(id, at, ReasonLogout)
}

func (c *Cache) endSession(id uuid.UUID, at time.Time, reason string) (*models.Session, bool) {
	c.mu.Lock()
	s, ok := c.active[id]
	if !ok || s.Start.After(at) {
		c.mu.Unlock()
		if ok {
			c.logger.Debug().
				Str("player", id.String()).
				Time("start", s.Start).
				Time("end", at).
				Msg("Ignoring end before session start")
		}
		return nil, false
	}
	delete(c.active, id)
	n := len(c.active)
	c.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	s.Close(at)
	snapshot := s.Clone()
	c.persist(s, reason)
	return snapshot, true
}

// persist hands s to the persister. A panicking persister is logged; the
// session has already left the cache at this point.
func (c *Cache) persist(s *models.Session, reason string) {
	metrics.RecordSessionClosed(reason)

	c.mu.Lock()
	p := c.persister
	c.mu.Unlock()
	if p == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("player", s.PlayerID.String()).
				Str("session", s.ID.String()).
				Msg("Session persister panicked")
		}
	}()
	p.PersistSession(s)
}

// RefreshActiveSessions folds world time up to at for every active session.
func (c *Cache) RefreshActiveSessions(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.active {
		s.Refresh(at)
	}
}

// AllActive returns snapshots of every active session.
func (c *Cache) AllActive() map[uuid.UUID]*models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uuid.UUID]*models.Session, len(c.active))
	for id, s := range c.active {
		out[id] = s.Clone()
	}
	return out
}

// Len returns the number of active sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// EndAll closes every active session at time at, as happens when the server
// stops. It returns the number of sessions closed.
func (c *Cache) EndAll(at time.Time) int {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	closed := 0
	for _, id := range ids {
		if _, ok := c.endSession(id, at, ReasonShutdown); ok {
			closed++
		}
	}
	return closed
}

// Clear drops every active session without persisting anything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.active = make(map[uuid.UUID]*models.Session)
	c.mu.Unlock()
	metrics.ActiveSessions.Set(0)
}
