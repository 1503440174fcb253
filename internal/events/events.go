// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package events defines the gameplay events captured from the game server
// and the JSON envelope they travel in.
//
// Events are plain values. Once built they are never modified, so they can be
// handed between goroutines freely.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type.
type Kind string

// Event kinds.
const (
	KindLogin       Kind = "login"
	KindLogout      Kind = "logout"
	KindWorldChange Kind = "world_change"
	KindKill        Kind = "kill"
	KindDeath       Kind = "death"
	KindChat        Kind = "chat"
	KindMove        Kind = "move"
	KindKick        Kind = "kick"
)

// Event is something that happened to a player at a point in time.
type Event interface {
	Kind() Kind
	Player() uuid.UUID
	At() time.Time
}

// Login is fired when a player joins the server.
type Login struct {
	PlayerID    uuid.UUID
	Name        string
	World       string
	GameMode    string
	Geolocation string
	Operator    bool
	Banned      bool
	Time        time.Time
}

// Logout is fired when a player leaves the server.
type Logout struct {
	PlayerID uuid.UUID
	Banned   bool
	Time     time.Time
}

// WorldChange is fired when a player changes world or game mode.
type WorldChange struct {
	PlayerID uuid.UUID
	World    string
	GameMode string
	Time     time.Time
}

// Kill is fired when a player kills something. A nil Victim is a mob kill.
type Kill struct {
	PlayerID   uuid.UUID
	Victim     uuid.UUID
	VictimName string
	Weapon     string
	Time       time.Time
}

// Death is fired when a player dies.
type Death struct {
	PlayerID uuid.UUID
	Time     time.Time
}

// Chat is fired when a player sends a chat message or command.
type Chat struct {
	PlayerID uuid.UUID
	Time     time.Time
}

// Move is fired when a player moves or otherwise interacts with the world.
type Move struct {
	PlayerID uuid.UUID
	Time     time.Time
}

// Kick is fired when a player is kicked.
type Kick struct {
	PlayerID uuid.UUID
	Time     time.Time
}

func (e Login) Kind() Kind        { return KindLogin }
func (e Login) Player() uuid.UUID { return e.PlayerID }
func (e Login) At() time.Time     { return e.Time }

func (e Logout) Kind() Kind        { return KindLogout }
func (e Logout) Player() uuid.UUID { return e.PlayerID }
func (e Logout) At() time.Time     { return e.Time }

func (e WorldChange) Kind() Kind        { return KindWorldChange }
func (e WorldChange) Player() uuid.UUID { return e.PlayerID }
func (e WorldChange) At() time.Time     { return e.Time }

func (e Kill) Kind() Kind        { return KindKill }
func (e Kill) Player() uuid.UUID { return e.PlayerID }
func (e Kill) At() time.Time     { return e.Time }

// IsMobKill reports whether the victim was not a player.
func (e Kill) IsMobKill() bool { return e.Victim == uuid.Nil }

func (e Death) Kind() Kind        { return KindDeath }
func (e Death) Player() uuid.UUID { return e.PlayerID }
func (e Death) At() time.Time     { return e.Time }

func (e Chat) Kind() Kind        { return KindChat }
func (e Chat) Player() uuid.UUID { return e.PlayerID }
func (e Chat) At() time.Time     { return e.Time }

func (e Move) Kind() Kind        { return KindMove }
func (e Move) Player() uuid.UUID { return e.PlayerID }
func (e Move) At() time.Time     { return e.Time }

func (e Kick) Kind() Kind        { return KindKick }
func (e Kick) Player() uuid.UUID { return e.PlayerID }
func (e Kick) At() time.Time     { return e.Time }
