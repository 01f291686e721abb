// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"sync"
	"testing"
	"time"
)

func allowAll(serverID, token string) bool {
	return true
}

func statDelta(serverID string, seq uint64, metric string, delta float64) Event {
	return Event{
		ServerID:   serverID,
		Sequence:   seq,
		OccurredAt: time.Now(),
		Payload: StatDelta{
			Player: Player{ID: "p1", Name: "Alice"},
			Metric: metric,
			Delta:  delta,
		},
	}
}

// recorder is an actor that appends everything it receives.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (rec *recorder) run(inbox <-chan Event) {
	for ev := range inbox {
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.mu.Unlock()
	}
}

func (rec *recorder) snapshot() []Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Event(nil), rec.events...)
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// Events from one connection must reach each actor in emission order,
// even interleaved with another connection's traffic.
func TestRouterOrdering(t *testing.T) {
	router := NewRouter(NewRegistry(), allowAll)

	var rec recorder
	router.Subscribe("recorder", 16, BlockWithTimeout, rec.run, KindStatDelta)

	go router.Run()
	defer router.Stop()

	const perServer = 50
	for seq := uint64(1); seq <= perServer; seq++ {
		router.inbound <- statDelta("lobby-1", seq, "kills", 1)
		router.inbound <- statDelta("lobby-2", seq, "kills", 1)
	}

	waitFor(t, "all events", func() bool {
		return len(rec.snapshot()) == 2*perServer
	})

	last := make(map[string]uint64)
	for _, ev := range rec.snapshot() {
		if ev.Sequence <= last[ev.ServerID] {
			t.Fatalf("out of order: %s seq %d after %d", ev.ServerID, ev.Sequence, last[ev.ServerID])
		}
		last[ev.ServerID] = ev.Sequence
	}
}

// A saturated BlockWithTimeout actor delays dispatch up to the deadline,
// then loses the event visibly instead of wedging the router.
func TestRouterDispatchTimeout(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, allowAll)
	router.dispatchTimeout = 10 * time.Millisecond

	// Never reads its inbox.
	router.Subscribe("stuck", 1, BlockWithTimeout, func(inbox <-chan Event) {
		select {}
	}, KindStatDelta)

	go router.Run()
	defer router.Stop()

	for seq := uint64(1); seq <= 3; seq++ {
		router.inbound <- statDelta("lobby-1", seq, "kills", 1)
	}

	// First event fit the buffer; the others must be dropped.
	waitFor(t, "dropped events", func() bool {
		return registry.Metrics.DroppedEvents() == 2
	})
}

// A full DropOldest inbox evicts from the front so the newest events win.
func TestRouterDropOldest(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, allowAll)

	var rec recorder
	gate := make(chan struct{})
	router.Subscribe("lossy", 2, DropOldest, func(inbox <-chan Event) {
		<-gate
		rec.run(inbox)
	}, KindStatDelta)

	go router.Run()
	defer router.Stop()

	for seq := uint64(1); seq <= 4; seq++ {
		router.inbound <- statDelta("lobby-1", seq, "kills", 1)
	}

	waitFor(t, "evictions", func() bool {
		return registry.Metrics.AnalyticsDropped() == 2
	})

	close(gate)
	waitFor(t, "surviving events", func() bool {
		return len(rec.snapshot()) == 2
	})

	events := rec.snapshot()
	if events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Errorf("expected newest events to survive, got seqs %d, %d", events[0].Sequence, events[1].Sequence)
	}
}

// An actor that panics is restarted with its inbox intact.
func TestRouterSupervisorRestarts(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, allowAll)

	var rec recorder
	crashed := false
	router.Subscribe("flaky", 16, BlockWithTimeout, func(inbox <-chan Event) {
		for ev := range inbox {
			if !crashed && ev.Sequence == 2 {
				crashed = true
				panic("transient")
			}
			rec.mu.Lock()
			rec.events = append(rec.events, ev)
			rec.mu.Unlock()
		}
	}, KindStatDelta)

	go router.Run()
	defer router.Stop()

	for seq := uint64(1); seq <= 3; seq++ {
		router.inbound <- statDelta("lobby-1", seq, "kills", 1)
	}

	// Seq 2 is consumed by the panic; 1 and 3 must survive the restart.
	waitFor(t, "events across restart", func() bool {
		return len(rec.snapshot()) == 2
	})

	events := rec.snapshot()
	if events[0].Sequence != 1 || events[1].Sequence != 3 {
		t.Errorf("expected seqs 1, 3, got %d, %d", events[0].Sequence, events[1].Sequence)
	}
	if registry.Metrics.Snapshot().ActorRestarts == 0 {
		t.Error("expected a recorded restart")
	}
}

// An actor that dies immediately on every restart is marked failed and
// its traffic is counted as dropped instead of delivered.
func TestRouterActorFailsPermanently(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, allowAll)

	router.Subscribe("doomed", 1, BlockWithTimeout, func(inbox <-chan Event) {
		panic("always")
	}, KindStatDelta)

	go router.Run()
	defer router.Stop()

	waitFor(t, "permanent actor failure", func() bool {
		return registry.Metrics.Snapshot().ActorRestarts >= maxQuickRestarts
	})
}
