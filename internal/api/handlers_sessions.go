// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/models"
	"github.com/tomtom215/blockstats/internal/storage"
	"github.com/tomtom215/blockstats/internal/validation"
)

// recentSessions is how many closed sessions a player view includes.
const recentSessions = 10

// SessionView is the JSON form of a session. Durations are milliseconds;
// an open session is measured up to the time of the request.
type SessionView struct {
	ID           uuid.UUID                   `json:"id"`
	PlayerID     uuid.UUID                   `json:"player_id"`
	Start        time.Time                   `json:"start"`
	End          *time.Time                  `json:"end,omitempty"`
	Open         bool                        `json:"open"`
	LengthMs     int64                       `json:"length_ms"`
	AFKMs        int64                       `json:"afk_ms"`
	ActiveMs     int64                       `json:"active_ms"`
	Kills        []models.PlayerKill         `json:"kills"`
	MobKills     int                         `json:"mob_kills"`
	Deaths       int                         `json:"deaths"`
	WorldTimesMs map[string]map[string]int64 `json:"world_times_ms"`
	CurrentWorld string                      `json:"current_world,omitempty"`
	CurrentMode  string                      `json:"current_mode,omitempty"`
}

// PlayerTotals aggregates a player's closed sessions.
type PlayerTotals struct {
	Sessions    int   `json:"sessions"`
	PlayTimeMs  int64 `json:"play_time_ms"`
	AFKTimeMs   int64 `json:"afk_time_ms"`
	ActiveMs    int64 `json:"active_ms"`
	PlayerKills int   `json:"player_kills"`
	MobKills    int   `json:"mob_kills"`
	Deaths      int   `json:"deaths"`
}

// PlayerView is the JSON form of a player record.
type PlayerView struct {
	UUID           uuid.UUID         `json:"uuid"`
	Name           string            `json:"name"`
	Registered     time.Time         `json:"registered"`
	LastSeen       time.Time         `json:"last_seen"`
	TimesLoggedIn  int               `json:"times_logged_in"`
	TimesKicked    int               `json:"times_kicked"`
	Banned         bool              `json:"banned"`
	Operator       bool              `json:"operator"`
	Online         bool              `json:"online"`
	Nicknames      []models.Nickname `json:"nicknames"`
	GeoInfo        []models.GeoInfo  `json:"geo_info"`
	Totals         PlayerTotals      `json:"totals"`
	ActiveSession  *SessionView      `json:"active_session,omitempty"`
	RecentSessions []SessionView     `json:"recent_sessions"`
}

func newSessionView(s *models.Session, now time.Time) SessionView {
	length := s.LengthAt(now)
	v := SessionView{
		ID:           s.ID,
		PlayerID:     s.PlayerID,
		Start:        s.Start,
		Open:         s.IsOpen(),
		LengthMs:     length.Milliseconds(),
		AFKMs:        s.AFK.Milliseconds(),
		ActiveMs:     (length - s.AFK).Milliseconds(),
		Kills:        s.Kills,
		MobKills:     s.MobKills,
		Deaths:       s.Deaths,
		WorldTimesMs: map[string]map[string]int64{},
	}
	if v.Kills == nil {
		v.Kills = []models.PlayerKill{}
	}
	if !s.IsOpen() {
		end := s.End
		v.End = &end
	}

	if wt := s.WorldTimes; wt != nil {
		wt = wt.Clone()
		if s.IsOpen() {
			wt.UpdateTo(now)
		}
		for world, modes := range wt.Times {
			v.WorldTimesMs[world] = make(map[string]int64, len(modes))
			for mode, d := range modes {
				v.WorldTimesMs[world][mode] = d.Milliseconds()
			}
		}
		v.CurrentWorld = wt.CurrentWorld
		v.CurrentMode = wt.CurrentMode
	}
	return v
}

func newPlayerView(rec *models.PlayerRecord, active *models.Session, now time.Time) PlayerView {
	v := PlayerView{
		UUID:          rec.UUID,
		Name:          rec.Name,
		Registered:    rec.Registered,
		LastSeen:      rec.LastSeen,
		TimesLoggedIn: rec.TimesLoggedIn,
		TimesKicked:   rec.TimesKicked,
		Banned:        rec.Banned,
		Operator:      rec.Operator,
		Online:        rec.Online,
		Nicknames:     rec.Nicknames,
		GeoInfo:       rec.GeoInfo,
		Totals: PlayerTotals{
			Sessions:    len(rec.Sessions),
			PlayTimeMs:  rec.PlayTime().Milliseconds(),
			AFKTimeMs:   rec.AFKTime().Milliseconds(),
			ActiveMs:    (rec.PlayTime() - rec.AFKTime()).Milliseconds(),
			PlayerKills: rec.PlayerKills(),
			MobKills:    rec.MobKills(),
			Deaths:      rec.Deaths(),
		},
		RecentSessions: []SessionView{},
	}
	if v.Nicknames == nil {
		v.Nicknames = []models.Nickname{}
	}
	if v.GeoInfo == nil {
		v.GeoInfo = []models.GeoInfo{}
	}
	if active != nil {
		av := newSessionView(active, now)
		v.ActiveSession = &av
		v.Online = true
	}

	// Sessions are kept sorted by start; newest first here.
	for i := len(rec.Sessions) - 1; i >= 0 && len(v.RecentSessions) < recentSessions; i-- {
		v.RecentSessions = append(v.RecentSessions, newSessionView(rec.Sessions[i], now))
	}
	return v
}

// Sessions handles GET /api/v1/sessions: every active session, longest
// first. ?limit=N caps the list.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	params := sessionListParams{Limit: parseIntParam(r.URL.Query().Get("limit"), 0)}
	if err := validation.ValidateStruct(&params); err != nil {
		rw.ValidationError("Invalid query parameters", validationDetails(err))
		return
	}

	now := h.now()
	active := h.deps.Pipeline.AllActiveSessions()
	views := make([]SessionView, 0, len(active))
	for _, s := range active {
		views = append(views, newSessionView(s, now))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Start.Equal(views[j].Start) {
			return views[i].PlayerID.String() < views[j].PlayerID.String()
		}
		return views[i].Start.Before(views[j].Start)
	})
	if params.Limit > 0 && len(views) > params.Limit {
		views = views[:params.Limit]
	}

	rw.SuccessList(views, len(views))
}

// Session handles GET /api/v1/sessions/{uuid}.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := parsePlayerID(chi.URLParam(r, "uuid"))
	if err != nil {
		rw.ValidationError("Invalid player UUID", validationDetails(err))
		return
	}

	s, ok := h.deps.Pipeline.ActiveSession(id)
	if !ok {
		rw.NotFound("No active session for player")
		return
	}
	rw.Success(newSessionView(s, h.now()))
}

// Player handles GET /api/v1/players/{uuid}: the freshest record the
// pipeline can see plus the active session, if any.
func (h *Handler) Player(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := parsePlayerID(chi.URLParam(r, "uuid"))
	if err != nil {
		rw.ValidationError("Invalid player UUID", validationDetails(err))
		return
	}

	active, hasActive := h.deps.Pipeline.ActiveSession(id)
	rec, err := h.deps.Pipeline.Record(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrRecordNotFound) && hasActive:
		// Logged in for the first time and not saved yet.
		rec = models.NewPlayerRecord(id, active.Start)
	case errors.Is(err, storage.ErrRecordNotFound):
		rw.NotFound("Player not found")
		return
	case storage.IsRetryable(err):
		rw.ServiceUnavailable("Player storage is temporarily unavailable")
		return
	case err != nil:
		rw.StorageError(err)
		return
	}

	if !hasActive {
		active = nil
	}
	rw.Success(newPlayerView(rec, active, h.now()))
}
