// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"math"
	"time"
)

const (
	maxChatLength    = 512
	maxCommandLength = 256
	maxMetricLength  = 64
	maxNameLength    = 40
	maxPlayerIDLen   = 64

	// Rejects corrupt frames before they can distort aggregates.
	maxStatDeltaMagnitude = 1e9
)

type (
	// Event is a validated record of something that happened on a game
	// server. Immutable once constructed; the router discards it after
	// delivery (no retention).
	Event struct {
		ServerID   string
		Sequence   uint64
		OccurredAt time.Time
		Payload    payload
	}

	// Player identifies a player on a game server.
	Player struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// PlayerJoined is sent when a player connects to a game server.
	PlayerJoined struct {
		Player Player `json:"player"`
	}

	// PlayerLeft is sent when a player disconnects from a game server.
	PlayerLeft struct {
		Player Player `json:"player"`
	}

	// Chat is a player chat message, relayed to the chat gateway.
	Chat struct {
		Sender  Player `json:"sender"`
		Message string `json:"message"`
	}

	// StatDelta is an increment to a per-player metric.
	StatDelta struct {
		Player Player  `json:"player"`
		Metric string  `json:"metric"`
		Delta  float64 `json:"delta"`
	}

	// Heartbeat reports liveness and population of a game server.
	Heartbeat struct {
		Players int `json:"players"`
		Games   int `json:"games"`
	}

	// AdminAction is a privileged command, either reported by a game
	// server or injected from the chat gateway toward one.
	AdminAction struct {
		Sender  string   `json:"sender"`
		Command string   `json:"command"`
		Roles   []string `json:"roles,omitempty"`
	}

	// Handshake is the first frame of a game-server connection.
	// It authenticates the channel and is not forwarded as an Event.
	Handshake struct {
		Server  string `json:"server"`
		Token   string `json:"token"`
		Version string `json:"version,omitempty"`
	}
)

// ValidationError means a decoded frame failed a payload or identity
// check. The frame is dropped and counted; the connection continues.
type ValidationError struct {
	Reason string
}

func (err ValidationError) Error() string {
	return "invalid event: " + err.Reason
}

func invalid(reason string) error {
	return ValidationError{Reason: reason}
}

func (p Player) validate() error {
	if p.ID == "" {
		return invalid("empty player id")
	}
	if len(p.ID) > maxPlayerIDLen {
		return invalid("player id too long")
	}
	if p.Name == "" {
		return invalid("empty player name")
	}
	if len(p.Name) > maxNameLength {
		return invalid("player name too long")
	}
	return nil
}

func (data PlayerJoined) validate() error {
	return data.Player.validate()
}

func (data PlayerLeft) validate() error {
	return data.Player.validate()
}

func (data Chat) validate() error {
	if err := data.Sender.validate(); err != nil {
		return err
	}
	if data.Message == "" {
		return invalid("empty chat message")
	}
	if len(data.Message) > maxChatLength {
		return invalid("chat message too long")
	}
	return nil
}

func (data StatDelta) validate() error {
	if err := data.Player.validate(); err != nil {
		return err
	}
	if data.Metric == "" {
		return invalid("empty metric")
	}
	if len(data.Metric) > maxMetricLength {
		return invalid("metric too long")
	}
	if math.IsNaN(data.Delta) || math.IsInf(data.Delta, 0) {
		return invalid("delta not finite")
	}
	if math.Abs(data.Delta) > maxStatDeltaMagnitude {
		return invalid("delta out of range")
	}
	return nil
}

func (data Heartbeat) validate() error {
	if data.Players < 0 || data.Games < 0 {
		return invalid("negative population")
	}
	return nil
}

func (data AdminAction) validate() error {
	if data.Command == "" {
		return invalid("empty command")
	}
	if len(data.Command) > maxCommandLength {
		return invalid("command too long")
	}
	return nil
}

func (data Handshake) validate() error {
	if data.Server == "" {
		return invalid("empty server id")
	}
	if data.Token == "" {
		return invalid("empty token")
	}
	return nil
}

// Kind returns the wire tag of the event's payload.
func (e *Event) Kind() Kind {
	return kindOf(e.Payload)
}
