// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/validation"
)

// ErrUnknownKind is returned when an envelope names an unsupported event type.
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form of an event published by the server bridge.
// Time is Unix milliseconds.
type Envelope struct {
	EventID     string `json:"event_id" validate:"required,max=128"`
	Type        Kind   `json:"type" validate:"required,oneof=login logout world_change kill death chat move kick"`
	Player      string `json:"player" validate:"required,uuid"`
	Time        int64  `json:"time" validate:"gt=0"`
	Name        string `json:"name,omitempty" validate:"max=64"`
	World       string `json:"world,omitempty" validate:"max=256"`
	GameMode    string `json:"game_mode,omitempty" validate:"max=32"`
	Geolocation string `json:"geolocation,omitempty" validate:"max=128"`
	Victim      string `json:"victim,omitempty" validate:"omitempty,uuid"`
	VictimName  string `json:"victim_name,omitempty" validate:"max=64"`
	Weapon      string `json:"weapon,omitempty" validate:"max=128"`
	Operator    bool   `json:"operator,omitempty"`
	Banned      bool   `json:"banned,omitempty"`
}

// Decode parses and validates an envelope, returning its event id and event.
func Decode(data []byte) (string, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := validation.ValidateStruct(&env); err != nil {
		return "", nil, fmt.Errorf("validate envelope: %w", err)
	}
	ev, err := env.Event()
	if err != nil {
		return "", nil, err
	}
	return env.EventID, ev, nil
}

// Encode wraps an event in an envelope and marshals it.
func Encode(eventID string, ev Event) ([]byte, error) {
	env, err := NewEnvelope(eventID, ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// NewEnvelope builds the wire form of ev.
func NewEnvelope(eventID string, ev Event) (*Envelope, error) {
	env := &Envelope{
		EventID: eventID,
		Type:    ev.Kind(),
		Player:  ev.Player().String(),
		Time:    ev.At().UnixMilli(),
	}
	switch e := ev.(type) {
	case Login:
		env.Name = e.Name
		env.World = e.World
		env.GameMode = e.GameMode
		env.Geolocation = e.Geolocation
		env.Operator = e.Operator
		env.Banned = e.Banned
	case Logout:
		env.Banned = e.Banned
	case WorldChange:
		env.World = e.World
		env.GameMode = e.GameMode
	case Kill:
		if !e.IsMobKill() {
			env.Victim = e.Victim.String()
		}
		env.VictimName = e.VictimName
		env.Weapon = e.Weapon
	case Death, Chat, Move, Kick:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}
	return env, nil
}

// Event converts the envelope into a typed event.
func (env *Envelope) Event() (Event, error) {
	player, err := uuid.Parse(env.Player)
	if err != nil {
		return nil, fmt.Errorf("parse player: %w", err)
	}
	at := time.UnixMilli(env.Time)

	switch env.Type {
	case KindLogin:
		return Login{
			PlayerID:    player,
			Name:        env.Name,
			World:       env.World,
			GameMode:    env.GameMode,
			Geolocation: env.Geolocation,
			Operator:    env.Operator,
			Banned:      env.Banned,
			Time:        at,
		}, nil
	case KindLogout:
		return Logout{PlayerID: player, Banned: env.Banned, Time: at}, nil
	case KindWorldChange:
		return WorldChange{PlayerID: player, World: env.World, GameMode: env.GameMode, Time: at}, nil
	case KindKill:
		victim := uuid.Nil
		if env.Victim != "" {
			if victim, err = uuid.Parse(env.Victim); err != nil {
				return nil, fmt.Errorf("parse victim: %w", err)
			}
		}
		return Kill{PlayerID: player, Victim: victim, VictimName: env.VictimName, Weapon: env.Weapon, Time: at}, nil
	case KindDeath:
		return Death{PlayerID: player, Time: at}, nil
	case KindChat:
		return Chat{PlayerID: player, Time: at}, nil
	case KindMove:
		return Move{PlayerID: player, Time: at}, nil
	case KindKick:
		return Kick{PlayerID: player, Time: at}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}
