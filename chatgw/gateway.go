// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatgw

// Message is one chat line crossing the gateway in either direction.
// Channel names the game server the line belongs to.
type Message struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
	// Gateway-side roles of the sender, relevant for commands.
	Roles []string `json:"roles,omitempty"`
}

// Session is one live connection to the chat gateway. Read blocks until
// the next inbound message or a transport error; the caller owns
// reconnection.
type Session interface {
	Send(msg Message) error
	Read() (Message, error)
	Close() error
}

// Gateway dials sessions. Reconnection and backoff are the caller's
// responsibility, not the gateway's.
type Gateway interface {
	Dial() (Session, error)
}
