// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerKill records one player killing another.
type PlayerKill struct {
	Killer     uuid.UUID `json:"killer"`
	Victim     uuid.UUID `json:"victim"`
	VictimName string    `json:"victim_name"`
	Weapon     string    `json:"weapon"`
	Time       time.Time `json:"time"`
}

// Session is one continuous play period for one player.
//
// A session with a zero End is open. Open sessions live in the session cache
// and are only mutated through it; once closed a session is handed to the
// persistence pipeline and never changes again.
type Session struct {
	ID         uuid.UUID     `json:"id"`
	PlayerID   uuid.UUID     `json:"player_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end,omitempty"`
	WorldTimes *WorldTimes   `json:"world_times"`
	Kills      []PlayerKill  `json:"kills"`
	MobKills   int           `json:"mob_kills"`
	Deaths     int           `json:"deaths"`
	AFK        time.Duration `json:"afk"`
}

// NewSession opens a session at start in the given world and game mode.
func NewSession(playerID uuid.UUID, start time.Time, world, gameMode string) *Session {
	return &Session{
		ID:         uuid.New(),
		PlayerID:   playerID,
		Start:      start,
		WorldTimes: NewWorldTimes(world, gameMode, start),
	}
}

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.End.IsZero()
}

// Length returns End-Start for a closed session and zero for an open one.
func (s *Session) Length() time.Duration {
	if s.IsOpen() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// LengthAt returns the session length as observed at now.
func (s *Session) LengthAt(now time.Time) time.Duration {
	if !s.IsOpen() {
		return s.Length()
	}
	if now.Before(s.Start) {
		return 0
	}
	return now.Sub(s.Start)
}

// ActiveTime is the session length minus AFK time.
func (s *Session) ActiveTime() time.Duration {
	return s.Length() - s.AFK
}

// ChangeState moves the player to another world or game mode.
func (s *Session) ChangeState(world, gameMode string, at time.Time) {
	s.worldTimes().UpdateState(world, gameMode, at)
}

// Refresh folds time spent in the current world up to at.
func (s *Session) Refresh(at time.Time) {
	s.worldTimes().UpdateTo(at)
}

// AddKill appends a player kill.
func (s *Session) AddKill(k PlayerKill) {
	s.Kills = append(s.Kills, k)
}

// AddMobKill increments the mob kill counter.
func (s *Session) AddMobKill() {
	s.MobKills++
}

// AddDeath increments the death counter.
func (s *Session) AddDeath() {
	s.Deaths++
}

// AddAFK credits idle time to the session.
func (s *Session) AddAFK(d time.Duration) {
	if d > 0 {
		s.AFK += d
	}
}

// Close finalizes the world time accounting up to end and sets the end time.
// AFK time is capped to the session length.
func (s *Session) Close(end time.Time) {
	if end.Before(s.Start) {
		end = s.Start
	}
	s.worldTimes().UpdateTo(end)
	s.End = end
	if length := s.Length(); s.AFK > length {
		s.AFK = length
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.WorldTimes = s.WorldTimes.Clone()
	if s.Kills != nil {
		out.Kills = make([]PlayerKill, len(s.Kills))
		copy(out.Kills, s.Kills)
	}
	return &out
}

func (s *Session) worldTimes() *WorldTimes {
	if s.WorldTimes == nil {
		s.WorldTimes = NewWorldTimes("", "", s.Start)
	}
	return s.WorldTimes
}
