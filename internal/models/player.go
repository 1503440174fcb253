// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package models defines the player analytics data model: durable player
// records, play sessions, per-world time accounting and kills.
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Nickname is a display name a player has used.
type Nickname struct {
	Name     string    `json:"name"`
	LastUsed time.Time `json:"last_used"`
}

// GeoInfo is a geolocation a player has connected from.
type GeoInfo struct {
	Geolocation string    `json:"geolocation"`
	LastUsed    time.Time `json:"last_used"`
}

// PlayerRecord is the durable per-player aggregate owned by the database.
//
// The pipeline borrows a working copy while it applies events. A record is not
// safe for concurrent use; callers serialize access per player.
type PlayerRecord struct {
	UUID          uuid.UUID  `json:"uuid"`
	Name          string     `json:"name"`
	Registered    time.Time  `json:"registered"`
	LastSeen      time.Time  `json:"last_seen"`
	TimesLoggedIn int        `json:"times_logged_in"`
	TimesKicked   int        `json:"times_kicked"`
	Banned        bool       `json:"banned"`
	Operator      bool       `json:"operator"`
	Online        bool       `json:"online"`
	Nicknames     []Nickname `json:"nicknames"`
	GeoInfo       []GeoInfo  `json:"geo_info"`
	Sessions      []*Session `json:"sessions"`
}

// NewPlayerRecord returns an empty record for a first-time player.
func NewPlayerRecord(id uuid.UUID, registered time.Time) *PlayerRecord {
	return &PlayerRecord{
		UUID:       id,
		Registered: registered,
		LastSeen:   registered,
	}
}

// Seen advances LastSeen, never moving it backwards.
func (r *PlayerRecord) Seen(at time.Time) {
	if at.After(r.LastSeen) {
		r.LastSeen = at
	}
}

// AddNickname records a display name, refreshing LastUsed if already known.
func (r *PlayerRecord) AddNickname(name string, at time.Time) {
	if name == "" {
		return
	}
	r.Name = name
	for i := range r.Nicknames {
		if r.Nicknames[i].Name == name {
			if at.After(r.Nicknames[i].LastUsed) {
				r.Nicknames[i].LastUsed = at
			}
			return
		}
	}
	r.Nicknames = append(r.Nicknames, Nickname{Name: name, LastUsed: at})
}

// AddGeoInfo records a geolocation, refreshing LastUsed if already known.
func (r *PlayerRecord) AddGeoInfo(geolocation string, at time.Time) {
	if geolocation == "" {
		return
	}
	for i := range r.GeoInfo {
		if r.GeoInfo[i].Geolocation == geolocation {
			if at.After(r.GeoInfo[i].LastUsed) {
				r.GeoInfo[i].LastUsed = at
			}
			return
		}
	}
	r.GeoInfo = append(r.GeoInfo, GeoInfo{Geolocation: geolocation, LastUsed: at})
}

// AddSession appends a closed session. A session already present (same ID)
// is left untouched, so replaying a save is harmless.
func (r *PlayerRecord) AddSession(s *Session) bool {
	if s == nil {
		return false
	}
	for _, existing := range r.Sessions {
		if existing.ID == s.ID {
			return false
		}
	}
	r.Sessions = append(r.Sessions, s)
	sort.SliceStable(r.Sessions, func(i, j int) bool {
		return r.Sessions[i].Start.Before(r.Sessions[j].Start)
	})
	return true
}

// PlayTime sums the length of all closed sessions.
func (r *PlayerRecord) PlayTime() time.Duration {
	var total time.Duration
	for _, s := range r.Sessions {
		total += s.Length()
	}
	return total
}

// AFKTime sums the AFK time of all closed sessions.
func (r *PlayerRecord) AFKTime() time.Duration {
	var total time.Duration
	for _, s := range r.Sessions {
		total += s.AFK
	}
	return total
}

// PlayerKills counts player kills across sessions.
func (r *PlayerRecord) PlayerKills() int {
	total := 0
	for _, s := range r.Sessions {
		total += len(s.Kills)
	}
	return total
}

// MobKills counts mob kills across sessions.
func (r *PlayerRecord) MobKills() int {
	total := 0
	for _, s := range r.Sessions {
		total += s.MobKills
	}
	return total
}

// Deaths counts deaths across sessions.
func (r *PlayerRecord) Deaths() int {
	total := 0
	for _, s := range r.Sessions {
		total += s.Deaths
	}
	return total
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (r *PlayerRecord) Clone() *PlayerRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Nicknames != nil {
		out.Nicknames = make([]Nickname, len(r.Nicknames))
		copy(out.Nicknames, r.Nicknames)
	}
	if r.GeoInfo != nil {
		out.GeoInfo = make([]GeoInfo, len(r.GeoInfo))
		copy(out.GeoInfo, r.GeoInfo)
	}
	if r.Sessions != nil {
		out.Sessions = make([]*Session, len(r.Sessions))
		for i, s := range r.Sessions {
			out.Sessions[i] = s.Clone()
		}
	}
	return &out
}
