// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"math"
	"strings"
	"testing"
)

func TestValidatePayloads(t *testing.T) {
	alice := Player{ID: "p1", Name: "Alice"}

	valid := []payload{
		PlayerJoined{Player: alice},
		PlayerLeft{Player: alice},
		Chat{Sender: alice, Message: "hi"},
		StatDelta{Player: alice, Metric: "kills", Delta: -2.5},
		Heartbeat{Players: 10, Games: 3},
		AdminAction{Sender: "mod", Command: "stop"},
		Handshake{Server: "lobby-1", Token: "secret"},
	}
	for _, data := range valid {
		if err := data.validate(); err != nil {
			t.Errorf("%T: unexpected error %v", data, err)
		}
	}

	invalid := []payload{
		PlayerJoined{},
		PlayerJoined{Player: Player{ID: "p1"}},
		PlayerJoined{Player: Player{ID: strings.Repeat("x", maxPlayerIDLen+1), Name: "Alice"}},
		Chat{Sender: alice},
		Chat{Sender: alice, Message: strings.Repeat("a", maxChatLength+1)},
		StatDelta{Player: alice, Delta: 1},
		StatDelta{Player: alice, Metric: "kills", Delta: math.NaN()},
		StatDelta{Player: alice, Metric: "kills", Delta: math.Inf(1)},
		StatDelta{Player: alice, Metric: "kills", Delta: maxStatDeltaMagnitude * 2},
		Heartbeat{Players: -1},
		AdminAction{Sender: "mod"},
		Handshake{Server: "lobby-1"},
		Handshake{Token: "secret"},
	}
	for _, data := range invalid {
		if err := data.validate(); err == nil {
			t.Errorf("%T %+v: expected a validation error", data, data)
		}
	}
}

func TestEventKind(t *testing.T) {
	ev := statDelta("lobby-1", 1, "kills", 1)
	if ev.Kind() != KindStatDelta {
		t.Errorf("expected %s, got %s", KindStatDelta, ev.Kind())
	}
}
