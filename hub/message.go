// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"reflect"
	"strings"
)

var (
	// Valid inbound payload types: Kind to type
	inboundPayloadTypes = make(map[Kind]reflect.Type)
	// Valid outbound payload types: to Kind
	outboundPayloadTypes = make(map[reflect.Type]Kind)
	// All payload types: to Kind (for Event.Kind)
	payloadKinds = make(map[reflect.Type]Kind)
)

type (
	// payload is a variant of the event envelope. Validation runs after
	// decode and before the frame reaches the router.
	payload interface {
		validate() error
	}

	// Frame is one wire message on a game-server channel, either
	// direction. Sequence and Server are only meaningful inbound.
	Frame struct {
		Data     interface{}
		Sequence uint64
		Time     int64
		Server   string
	}

	frameJSON struct {
		Data     interface{} `json:"data"`
		Type     Kind        `json:"type"`
		Sequence uint64      `json:"seq,omitempty"`
		Time     int64       `json:"time,omitempty"`
		Server   string      `json:"server,omitempty"`
	}

	Kind string

	// InvalidFrame means an unrecognized frame type from a game server
	// (possibly out of date). NOTE: do not register, otherwise a server
	// could send type "invalidFrame".
	InvalidFrame struct {
		frameType Kind
	}

	// ChatRelay is an outbound chat line written back to a game server.
	ChatRelay struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
	}

	// Command is an outbound privileged command for a game server.
	Command struct {
		Sender  string   `json:"sender"`
		Command string   `json:"command"`
		Roles   []string `json:"roles,omitempty"`
		Silent  bool     `json:"silent,omitempty"`
	}
)

const (
	KindPlayerJoined Kind = "playerJoined"
	KindPlayerLeft   Kind = "playerLeft"
	KindChat         Kind = "chat"
	KindStatDelta    Kind = "statDelta"
	KindHeartbeat    Kind = "heartbeat"
	KindAdminAction  Kind = "adminAction"
)

func uncapitalize(str string) string {
	return strings.ToLower(str[0:1]) + str[1:]
}

func registerInbound(payloads ...payload) {
	for _, in := range payloads {
		val := reflect.ValueOf(in)
		k := Kind(uncapitalize(reflect.Indirect(val).Type().Name()))
		inboundPayloadTypes[k] = val.Type()
		payloadKinds[val.Type()] = k
	}
}

func registerOutbound(payloads ...interface{}) {
	for _, out := range payloads {
		val := reflect.ValueOf(out)
		k := Kind(uncapitalize(reflect.Indirect(val).Type().Name()))
		outboundPayloadTypes[val.Type()] = k
		payloadKinds[val.Type()] = k
	}
}

func init() {
	registerInbound(
		AdminAction{},
		Chat{},
		Handshake{},
		Heartbeat{},
		PlayerJoined{},
		PlayerLeft{},
		StatDelta{},
	)
	registerOutbound(
		ChatRelay{},
		Command{},
	)
}

func kindOf(data interface{}) Kind {
	return payloadKinds[reflect.TypeOf(data)]
}

func (frame Frame) frameJSON() frameJSON {
	typ := reflect.TypeOf(frame.Data)

	k, ok := payloadKinds[typ]
	if !ok {
		// Panic because frames only come from trusted code paths
		panic("invalid frame payload type " + typ.Name())
	}

	return frameJSON{
		Data:     frame.Data,
		Type:     k,
		Sequence: frame.Sequence,
		Time:     frame.Time,
		Server:   frame.Server,
	}
}

// Overridden by jsoniter
func (frame Frame) MarshalJSON() ([]byte, error) {
	panic("unimplemented")
}

// Overridden by jsoniter
func (frame *Frame) UnmarshalJSON([]byte) error {
	panic("unimplemented")
}
