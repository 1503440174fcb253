// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/queue"
	"github.com/tomtom215/blockstats/internal/session"
)

// Tracker translates gameplay events into session cache updates, AFK
// accounting and pipeline submissions. Every method is safe to call from the
// event path: none of them block on storage.
type Tracker struct {
	pipeline *Pipeline
	cache    *session.Cache
	afk      *session.AFKTracker
	logger   zerolog.Logger
}

// NewTracker creates a tracker feeding p. afk must credit time through the
// same cache p uses.
func NewTracker(p *Pipeline, afk *session.AFKTracker) *Tracker {
	return &Tracker{
		pipeline: p,
		cache:    p.cache,
		afk:      afk,
		logger:   logging.WithComponent("tracker"),
	}
}

// Handle dispatches ev to the matching handler. The result reports whether
// the durable part of the event reached the pipeline; events with no durable
// effect always report Accepted.
func (t *Tracker) Handle(ev events.Event) (queue.Result, error) {
	switch e := ev.(type) {
	case events.Login:
		return t.Login(e), nil
	case events.Logout:
		return t.Logout(e), nil
	case events.Kick:
		return t.Kick(e), nil
	case events.WorldChange:
		t.WorldChange(e)
	case events.Kill:
		t.Kill(e)
	case events.Death:
		t.Death(e)
	case events.Chat:
		t.Activity(e.PlayerID, e)
	case events.Move:
		t.Activity(e.PlayerID, e)
	default:
		return queue.Dropped, fmt.Errorf("unsupported event type %T", ev)
	}
	return queue.Accepted, nil
}

// Login opens a new session, closing any session the player still had, and
// records the login on the player's record.
func (t *Tracker) Login(e events.Login) queue.Result {
	t.cache.CacheSession(e.PlayerID, models.NewSession(e.PlayerID, e.Time, e.World, e.GameMode))
	t.afk.Forget(e.PlayerID)
	t.afk.RecordActivity(e.PlayerID, e.Time)
	return t.pipeline.Submit(e.PlayerID, e, e.Time)
}

// Logout settles AFK time, closes the session and asks for the working
// record to be evicted once its saves are done.
//
// A logout older than the active session belongs to an earlier connection.
// It leaves both the session and its AFK state alone.
func (t *Tracker) Logout(e events.Logout) queue.Result {
	if s, ok := t.cache.GetCachedSession(e.PlayerID); ok && s.Start.After(e.Time) {
		t.logger.Debug().
			Str("player", e.PlayerID.String()).
			Time("session_start", s.Start).
			Time("logout", e.Time).
			Msg("Stale logout after relog")
	} else {
		t.afk.RecordLogout(e.PlayerID, e.Time)
		t.cache.EndSession(e.PlayerID, e.Time)
	}
	r := t.pipeline.Submit(e.PlayerID, e, e.Time)
	t.pipeline.RequestClear(e.PlayerID)
	return r
}

// Kick counts the kick. The logout that follows closes the session.
func (t *Tracker) Kick(e events.Kick) queue.Result {
	return t.pipeline.Submit(e.PlayerID, e, e.Time)
}

// WorldChange moves the active session to a new world or game mode.
func (t *Tracker) WorldChange(e events.WorldChange) {
	t.cache.Update(e.PlayerID, func(s *models.Session) {
		s.ChangeState(e.World, e.GameMode, e.Time)
	})
	t.afk.RecordActivity(e.PlayerID, e.Time)
}

// Kill credits the killer's session. The victim's death arrives as its own
// event.
func (t *Tracker) Kill(e events.Kill) {
	if e.IsMobKill() {
		t.cache.Update(e.PlayerID, func(s *models.Session) { s.AddMobKill() })
	} else {
		t.cache.Update(e.PlayerID, func(s *models.Session) {
			s.AddKill(models.PlayerKill{
				Killer:     e.PlayerID,
				Victim:     e.Victim,
				VictimName: e.VictimName,
				Weapon:     e.Weapon,
				Time:       e.Time,
			})
		})
	}
	t.afk.RecordActivity(e.PlayerID, e.Time)
}

// Death counts a death on the player's session.
func (t *Tracker) Death(e events.Death) {
	t.cache.Update(e.PlayerID, func(s *models.Session) { s.AddDeath() })
}

// Activity records that id did something, crediting AFK time if they had
// been idle past the threshold.
func (t *Tracker) Activity(id uuid.UUID, ev events.Event) {
	if credited := t.afk.RecordActivity(id, ev.At()); credited > 0 {
		t.logger.Debug().
			Str("player", id.String()).
			Str("kind", string(ev.Kind())).
			Dur("afk", credited).
			Msg("AFK time credited")
	}
}
