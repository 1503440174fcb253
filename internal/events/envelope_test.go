// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package events

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecode(t *testing.T) {
	player := uuid.MustParse("8667ba71-b85a-4004-af54-457a9734eed7")
	victim := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")

	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{
			name:  "login",
			input: `{"event_id":"e1","type":"login","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1700000000000,"name":"Steve","world":"world","game_mode":"SURVIVAL","geolocation":"Finland"}`,
			want: Login{
				PlayerID: player, Name: "Steve", World: "world", GameMode: "SURVIVAL",
				Geolocation: "Finland", Time: time.UnixMilli(1700000000000),
			},
		},
		{
			name:  "player kill",
			input: `{"event_id":"e2","type":"kill","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1700000000500,"victim":"069a79f4-44e9-4726-a5be-fca90e38aaf5","victim_name":"Alex","weapon":"DIAMOND_SWORD"}`,
			want: Kill{
				PlayerID: player, Victim: victim, VictimName: "Alex", Weapon: "DIAMOND_SWORD",
				Time: time.UnixMilli(1700000000500),
			},
		},
		{
			name:  "mob kill",
			input: `{"event_id":"e3","type":"kill","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1700000000500}`,
			want:  Kill{PlayerID: player, Time: time.UnixMilli(1700000000500)},
		},
		{
			name:  "world change",
			input: `{"event_id":"e4","type":"world_change","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1700000001000,"world":"world_nether"}`,
			want:  WorldChange{PlayerID: player, World: "world_nether", Time: time.UnixMilli(1700000001000)},
		},
		{
			name:    "unknown type",
			input:   `{"event_id":"e5","type":"jump","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1}`,
			wantErr: true,
		},
		{
			name:    "bad player",
			input:   `{"event_id":"e6","type":"chat","player":"not-a-uuid","time":1}`,
			wantErr: true,
		},
		{
			name:    "missing event id",
			input:   `{"type":"chat","player":"8667ba71-b85a-4004-af54-457a9734eed7","time":1}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			input:   `{"type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEncodeDecode_Kick(t *testing.T) {
	ev := Kick{PlayerID: uuid.New(), Time: time.UnixMilli(1700000000000)}

	data, err := Encode("kick-1", ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), `"type":"kick"`) {
		t.Errorf("encoded envelope %s missing type", data)
	}

	id, got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if id != "kick-1" || got != Event(ev) {
		t.Errorf("Decode() = %s %+v, want kick-1 %+v", id, got, ev)
	}
}

type unknownEvent struct{ Chat }

func TestNewEnvelope_UnknownEvent(t *testing.T) {
	_, err := NewEnvelope("x", unknownEvent{})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("NewEnvelope() error = %v, want ErrUnknownKind", err)
	}
}

func TestKill_IsMobKill(t *testing.T) {
	if !(Kill{}).IsMobKill() {
		t.Error("kill without victim should be a mob kill")
	}
	if (Kill{Victim: uuid.New()}).IsMobKill() {
		t.Error("kill with victim should not be a mob kill")
	}
}
