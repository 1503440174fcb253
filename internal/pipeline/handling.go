// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/events"
	"github.com/tomtom215/blockstats/internal/models"
)

// ErrIdentityMismatch is returned by a mutation that was handed a record for
// a different player than the one it targets.
var ErrIdentityMismatch = errors.New("mutation applied to wrong player record")

// Mutation applies one unit of work to a player's working record. It reports
// whether the record changed in a way that must reach the database.
type Mutation func(rec *models.PlayerRecord) (persist bool, err error)

// HandlingInfo is one unit of work for the Process stage.
type HandlingInfo struct {
	PlayerID  uuid.UUID
	Kind      string
	Timestamp time.Time
	Mutate    Mutation
}

// Kind used for the mutation that attaches a closed session to its player.
const kindSessionClosed = "session_closed"

// handlingFor builds the Process stage item for ev.
func handlingFor(id uuid.UUID, ev events.Event, at time.Time) HandlingInfo {
	return HandlingInfo{
		PlayerID:  id,
		Kind:      string(ev.Kind()),
		Timestamp: at,
		Mutate:    mutationFor(ev, at),
	}
}

// mutationFor returns the durable effect of ev on its player's record.
// Session-level effects are applied to the session cache by the Tracker;
// events without a durable effect only advance LastSeen.
func mutationFor(ev events.Event, at time.Time) Mutation {
	switch e := ev.(type) {
	case events.Login:
		return func(rec *models.PlayerRecord) (bool, error) {
			rec.AddNickname(e.Name, at)
			rec.AddGeoInfo(e.Geolocation, at)
			rec.TimesLoggedIn++
			rec.Operator = e.Operator
			rec.Banned = e.Banned
			// A login older than the last thing seen was overtaken by a logout.
			if !at.Before(rec.LastSeen) {
				rec.Online = true
			}
			rec.Seen(at)
			return true, nil
		}
	case events.Logout:
		return func(rec *models.PlayerRecord) (bool, error) {
			rec.Banned = e.Banned
			if !at.Before(rec.LastSeen) {
				rec.Online = false
			}
			rec.Seen(at)
			return true, nil
		}
	case events.Kick:
		return func(rec *models.PlayerRecord) (bool, error) {
			rec.TimesKicked++
			rec.Seen(at)
			return true, nil
		}
	default:
		return func(rec *models.PlayerRecord) (bool, error) {
			rec.Seen(at)
			return false, nil
		}
	}
}

// sessionClosed attaches s to its owner's record.
func sessionClosed(s *models.Session) Mutation {
	return func(rec *models.PlayerRecord) (bool, error) {
		if rec.UUID != s.PlayerID {
			return false, fmt.Errorf("%w: session %s belongs to %s, record is %s",
				ErrIdentityMismatch, s.ID, s.PlayerID, rec.UUID)
		}
		if !rec.AddSession(s) {
			return false, nil
		}
		rec.Seen(s.End)
		return true, nil
	}
}
