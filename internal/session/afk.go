// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/metrics"
	"github.com/tomtom215/blockstats/internal/models"
)

// DefaultAFKThreshold is the idle time after which a gap counts as AFK.
const DefaultAFKThreshold = 3 * time.Minute

// SessionUpdater is the part of Cache the AFK tracker needs.
type SessionUpdater interface {
	Update(id uuid.UUID, fn func(s *models.Session)) bool
}

// AFKTracker turns "player did something at T" signals into AFK time on the
// active session.
//
// Once the gap since the previous activity reaches the threshold, the whole
// gap is credited, not only the part beyond the threshold. Timestamps come
// from the caller; the tracker never reads the clock.
type AFKTracker struct {
	mu           sync.Mutex
	threshold    time.Duration
	sessions     SessionUpdater
	lastMovement map[uuid.UUID]time.Time
}

// NewAFKTracker creates a tracker crediting AFK time through sessions.
func NewAFKTracker(threshold time.Duration, sessions SessionUpdater) *AFKTracker {
	if threshold <= 0 {
		threshold = DefaultAFKThreshold
	}
	return &AFKTracker{
		threshold:    threshold,
		sessions:     sessions,
		lastMovement: make(map[uuid.UUID]time.Time),
	}
}

// Threshold returns the configured AFK threshold.
func (t *AFKTracker) Threshold() time.Duration {
	return t.threshold
}

// RecordActivity registers activity by id at time at. It returns the AFK time
// credited by this call.
func (t *AFKTracker) RecordActivity(id uuid.UUID, at time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordActivity(id, at)
}

// recordActivity must be called with t.mu held.
func (t *AFKTracker) recordActivity(id uuid.UUID, at time.Time) time.Duration {
	last, ok := t.lastMovement[id]
	if !ok {
		t.lastMovement[id] = at
		return 0
	}

	elapsed := at.Sub(last)
	if elapsed < 0 {
		return 0
	}
	t.lastMovement[id] = at
	if elapsed < t.threshold {
		return 0
	}

	credited := t.sessions.Update(id, func(s *models.Session) {
		s.AddAFK(elapsed)
	})
	if !credited {
		return 0
	}
	metrics.RecordAFK(elapsed)
	return elapsed
}

// RecordLogout registers a final activity at time at and forgets id.
// Safe to call for a player that was never tracked.
func (t *AFKTracker) RecordLogout(id uuid.UUID, at time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastMovement[id]; !ok {
		return 0
	}
	credited := t.recordActivity(id, at)
	delete(t.lastMovement, id)
	return credited
}

// Forget drops the AFK state for id without crediting anything.
func (t *AFKTracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	delete(t.lastMovement, id)
	t.mu.Unlock()
}

// Tracked returns the number of players with AFK state.
func (t *AFKTracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastMovement)
}

// Clear drops all AFK state.
func (t *AFKTracker) Clear() {
	t.mu.Lock()
	t.lastMovement = make(map[uuid.UUID]time.Time)
	t.mu.Unlock()
}
