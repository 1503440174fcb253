// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func TestWorldTimes_UpdateState(t *testing.T) {
	wt := NewWorldTimes("world", GameModeSurvival, t0)

	wt.UpdateState("world_nether", "", t0.Add(10*time.Minute))
	wt.UpdateState("", GameModeCreative, t0.Add(15*time.Minute))
	wt.UpdateTo(t0.Add(20 * time.Minute))

	tests := []struct {
		world, mode string
		want        time.Duration
	}{
		{"world", GameModeSurvival, 10 * time.Minute},
		{"world_nether", GameModeSurvival, 5 * time.Minute},
		{"world_nether", GameModeCreative, 5 * time.Minute},
		{"world", GameModeCreative, 0},
	}
	for _, tt := range tests {
		if got := wt.Get(tt.world, tt.mode); got != tt.want {
			t.Errorf("Get(%s, %s) = %v, want %v", tt.world, tt.mode, got, tt.want)
		}
	}
	if got := wt.Total(); got != 20*time.Minute {
		t.Errorf("Total() = %v, want 20m", got)
	}
	if got := wt.WorldTotal("world_nether"); got != 10*time.Minute {
		t.Errorf("WorldTotal(world_nether) = %v, want 10m", got)
	}
}

func TestWorldTimes_UpdateToIgnoresPast(t *testing.T) {
	wt := NewWorldTimes("world", GameModeSurvival, t0)
	wt.UpdateTo(t0.Add(time.Minute))
	wt.UpdateTo(t0.Add(30 * time.Second))

	if got := wt.Total(); got != time.Minute {
		t.Errorf("Total() = %v, want 1m", got)
	}
	if !wt.LastChange.Equal(t0.Add(time.Minute)) {
		t.Errorf("LastChange moved backwards to %v", wt.LastChange)
	}
}

func TestSession_Close(t *testing.T) {
	t.Run("finalizes world times", func(t *testing.T) {
		s := NewSession(uuid.New(), t0, "world", GameModeSurvival)
		s.Close(t0.Add(time.Hour))

		if s.IsOpen() {
			t.Fatal("session still open after Close")
		}
		if got := s.Length(); got != time.Hour {
			t.Errorf("Length() = %v, want 1h", got)
		}
		if got := s.WorldTimes.Total(); got != time.Hour {
			t.Errorf("world time total = %v, want 1h", got)
		}
	})

	t.Run("caps afk to length", func(t *testing.T) {
		s := NewSession(uuid.New(), t0, "world", GameModeSurvival)
		s.AddAFK(2 * time.Hour)
		s.Close(t0.Add(time.Hour))

		if s.AFK != time.Hour {
			t.Errorf("AFK = %v, want 1h", s.AFK)
		}
		if s.ActiveTime() != 0 {
			t.Errorf("ActiveTime() = %v, want 0", s.ActiveTime())
		}
	})

	t.Run("end before start clamps", func(t *testing.T) {
		s := NewSession(uuid.New(), t0, "world", GameModeSurvival)
		s.Close(t0.Add(-time.Minute))

		if !s.End.Equal(t0) {
			t.Errorf("End = %v, want %v", s.End, t0)
		}
	})
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession(uuid.New(), t0, "world", GameModeSurvival)
	s.AddKill(PlayerKill{Killer: s.PlayerID, Victim: uuid.New(), Time: t0})

	cp := s.Clone()
	cp.AddKill(PlayerKill{Killer: s.PlayerID, Victim: uuid.New(), Time: t0})
	cp.ChangeState("world_the_end", "", t0.Add(time.Minute))
	cp.AddMobKill()

	if len(s.Kills) != 1 {
		t.Errorf("original kills = %d, want 1", len(s.Kills))
	}
	if s.WorldTimes.CurrentWorld != "world" {
		t.Errorf("original world = %s, want world", s.WorldTimes.CurrentWorld)
	}
	if s.MobKills != 0 {
		t.Errorf("original mob kills = %d, want 0", s.MobKills)
	}
}

func TestPlayerRecord_AddSession(t *testing.T) {
	rec := NewPlayerRecord(uuid.New(), t0)

	late := NewSession(rec.UUID, t0.Add(2*time.Hour), "world", GameModeSurvival)
	late.Close(t0.Add(3 * time.Hour))
	early := NewSession(rec.UUID, t0, "world", GameModeSurvival)
	early.AddDeath()
	early.AddMobKill()
	early.AddKill(PlayerKill{Killer: rec.UUID, Victim: uuid.New(), Time: t0})
	early.Close(t0.Add(30 * time.Minute))

	if !rec.AddSession(late) || !rec.AddSession(early) {
		t.Fatal("AddSession() rejected a new session")
	}
	if rec.AddSession(early) {
		t.Error("AddSession() accepted a duplicate session")
	}

	if rec.Sessions[0].ID != early.ID {
		t.Error("sessions not ordered by start")
	}
	if got := rec.PlayTime(); got != 90*time.Minute {
		t.Errorf("PlayTime() = %v, want 90m", got)
	}
	if rec.PlayerKills() != 1 || rec.MobKills() != 1 || rec.Deaths() != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", rec.PlayerKills(), rec.MobKills(), rec.Deaths())
	}
}

func TestPlayerRecord_History(t *testing.T) {
	rec := NewPlayerRecord(uuid.New(), t0)

	rec.AddNickname("Steve", t0)
	rec.AddNickname("Alex", t0.Add(time.Hour))
	rec.AddNickname("Steve", t0.Add(2*time.Hour))
	rec.AddGeoInfo("Finland", t0)
	rec.AddGeoInfo("Finland", t0.Add(time.Hour))
	rec.AddGeoInfo("", t0)

	if len(rec.Nicknames) != 2 {
		t.Fatalf("nicknames = %d, want 2", len(rec.Nicknames))
	}
	if rec.Name != "Steve" {
		t.Errorf("Name = %s, want Steve", rec.Name)
	}
	if !rec.Nicknames[0].LastUsed.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("Steve last used = %v", rec.Nicknames[0].LastUsed)
	}
	if len(rec.GeoInfo) != 1 || !rec.GeoInfo[0].LastUsed.Equal(t0.Add(time.Hour)) {
		t.Errorf("geo info = %+v", rec.GeoInfo)
	}
}

func TestPlayerRecord_CloneIsDeep(t *testing.T) {
	rec := NewPlayerRecord(uuid.New(), t0)
	rec.AddNickname("Steve", t0)
	s := NewSession(rec.UUID, t0, "world", GameModeSurvival)
	s.Close(t0.Add(time.Minute))
	rec.AddSession(s)

	cp := rec.Clone()
	cp.AddNickname("Alex", t0)
	cp.Sessions[0].Deaths = 5
	cp.TimesKicked = 3

	if len(rec.Nicknames) != 1 || rec.Sessions[0].Deaths != 0 || rec.TimesKicked != 0 {
		t.Error("mutating clone changed original")
	}
}
