// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package models

import (
	"sort"
	"time"
)

// Game modes reported by the server bridge.
const (
	GameModeSurvival  = "SURVIVAL"
	GameModeCreative  = "CREATIVE"
	GameModeAdventure = "ADVENTURE"
	GameModeSpectator = "SPECTATOR"
)

// WorldTimes accumulates play time keyed by world name, then game mode.
//
// The accumulator tracks the world and mode the player is currently in and the
// instant of the last state change. Time spent in the current state is folded
// into Times by UpdateState (state switch) or UpdateTo (refresh in place).
type WorldTimes struct {
	Times        map[string]map[string]time.Duration `json:"times"`
	CurrentWorld string                              `json:"current_world,omitempty"`
	CurrentMode  string                              `json:"current_mode,omitempty"`
	LastChange   time.Time                           `json:"last_change,omitempty"`
}

// NewWorldTimes starts an accumulator in the given world and mode.
func NewWorldTimes(world, gameMode string, at time.Time) *WorldTimes {
	return &WorldTimes{
		Times:        make(map[string]map[string]time.Duration),
		CurrentWorld: world,
		CurrentMode:  gameMode,
		LastChange:   at,
	}
}

// UpdateState credits the time spent in the current state up to at and then
// switches to the new world and mode. An empty gameMode keeps the current mode.
func (w *WorldTimes) UpdateState(world, gameMode string, at time.Time) {
	w.UpdateTo(at)
	if world != "" {
		w.CurrentWorld = world
	}
	if gameMode != "" {
		w.CurrentMode = gameMode
	}
}

// UpdateTo credits the time spent in the current state up to at without
// changing state. Timestamps at or before the last change are ignored.
func (w *WorldTimes) UpdateTo(at time.Time) {
	if !at.After(w.LastChange) {
		return
	}
	if w.CurrentWorld != "" {
		w.Add(w.CurrentWorld, w.CurrentMode, at.Sub(w.LastChange))
	}
	w.LastChange = at
}

// Add credits d to the given world and mode.
func (w *WorldTimes) Add(world, gameMode string, d time.Duration) {
	if d <= 0 {
		return
	}
	if w.Times == nil {
		w.Times = make(map[string]map[string]time.Duration)
	}
	modes, ok := w.Times[world]
	if !ok {
		modes = make(map[string]time.Duration)
		w.Times[world] = modes
	}
	modes[gameMode] += d
}

// Get returns the time credited to a world and mode.
func (w *WorldTimes) Get(world, gameMode string) time.Duration {
	return w.Times[world][gameMode]
}

// WorldTotal returns the time credited to a world across all modes.
func (w *WorldTimes) WorldTotal(world string) time.Duration {
	var total time.Duration
	for _, d := range w.Times[world] {
		total += d
	}
	return total
}

// Total returns the time credited across all worlds and modes.
func (w *WorldTimes) Total() time.Duration {
	var total time.Duration
	for _, modes := range w.Times {
		for _, d := range modes {
			total += d
		}
	}
	return total
}

// Worlds returns the world names in sorted order.
func (w *WorldTimes) Worlds() []string {
	worlds := make([]string, 0, len(w.Times))
	for world := range w.Times {
		worlds = append(worlds, world)
	}
	sort.Strings(worlds)
	return worlds
}

// Clone returns a deep copy.
func (w *WorldTimes) Clone() *WorldTimes {
	if w == nil {
		return nil
	}
	out := &WorldTimes{
		Times:        make(map[string]map[string]time.Duration, len(w.Times)),
		CurrentWorld: w.CurrentWorld,
		CurrentMode:  w.CurrentMode,
		LastChange:   w.LastChange,
	}
	for world, modes := range w.Times {
		cp := make(map[string]time.Duration, len(modes))
		for mode, d := range modes {
			cp[mode] = d
		}
		out.Times[world] = cp
	}
	return out
}
