// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/softbridge/gamehub/store/stat"
)

// flakyStore fails the first failures calls to Apply, then succeeds.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	applied  []stat.Upsert
}

func (s *flakyStore) Apply(ctx context.Context, upsert stat.Upsert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return false, errors.New("store unavailable")
	}
	s.applied = append(s.applied, upsert)
	return true, nil
}

func (s *flakyStore) Read(ctx context.Context, key stat.Key) (stat.Stat, error) {
	return stat.Stat{}, stat.ErrNoData
}

func (s *flakyStore) Close() error {
	return nil
}

func (s *flakyStore) appliedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]string, 0, len(s.applied))
	for _, upsert := range s.applied {
		tokens = append(tokens, upsert.DedupToken)
	}
	return tokens
}

func runWriter(writer *StatWriter, events ...Event) {
	inbox := make(chan Event, len(events))
	for _, ev := range events {
		inbox <- ev
	}
	close(inbox)
	writer.Run(inbox)
}

func TestStatWriterRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2}
	metrics := &Metrics{}

	writer := NewStatWriter(store, metrics, StatWriterOptions{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
	})
	var delays []time.Duration
	writer.sleep = func(d time.Duration) {
		delays = append(delays, d)
	}

	runWriter(writer, statDelta("lobby-1", 7, "kills", 1))

	tokens := store.appliedTokens()
	if len(tokens) != 1 || tokens[0] != "lobby-1#7" {
		t.Fatalf("expected one applied upsert with token lobby-1#7, got %v", tokens)
	}

	snapshot := metrics.Snapshot()
	if snapshot.StoreRetries != 2 {
		t.Errorf("expected 2 retries, got %d", snapshot.StoreRetries)
	}
	if snapshot.PermanentFailures != 0 {
		t.Errorf("expected no permanent failures, got %d", snapshot.PermanentFailures)
	}
	if len(delays) != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", len(delays))
	}
}

func TestStatWriterPermanentFailure(t *testing.T) {
	store := &flakyStore{failures: 1 << 30}
	metrics := &Metrics{}
	failureLog := filepath.Join(t.TempDir(), "failures.csv")

	writer := NewStatWriter(store, metrics, StatWriterOptions{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		FailureLog:     failureLog,
	})
	writer.sleep = func(time.Duration) {}

	runWriter(writer, statDelta("lobby-1", 9, "deaths", 2))

	snapshot := metrics.Snapshot()
	if snapshot.PermanentFailures != 1 {
		t.Fatalf("expected exactly 1 permanent failure, got %d", snapshot.PermanentFailures)
	}
	if snapshot.StoreRetries != 2 {
		t.Errorf("expected 2 retries before giving up, got %d", snapshot.StoreRetries)
	}

	// The failed upsert must be auditable.
	buf, err := os.ReadFile(failureLog)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(buf))
	if !strings.Contains(line, "lobby-1#9") {
		t.Errorf("failure log missing dedup token: %q", line)
	}
	if strings.Count(line, "\n") != 0 {
		t.Errorf("expected a single failure record, got %q", line)
	}
}

func TestStatWriterIgnoresOtherKinds(t *testing.T) {
	store := &flakyStore{}
	writer := NewStatWriter(store, &Metrics{}, StatWriterOptions{})

	runWriter(writer, Event{
		ServerID:   "lobby-1",
		Sequence:   1,
		OccurredAt: time.Now(),
		Payload:    Chat{Sender: Player{ID: "p1", Name: "Alice"}, Message: "hi"},
	})

	if len(store.appliedTokens()) != 0 {
		t.Error("chat event must not reach the stat store")
	}
}

func TestDedupToken(t *testing.T) {
	if token := dedupToken("lobby-1", 42); token != "lobby-1#42" {
		t.Errorf("unexpected token %q", token)
	}
}
