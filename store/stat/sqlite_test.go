// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package stat

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "stats.db"), 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteApplyAccumulates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := Key{ServerID: "lobby-1", PlayerID: "p1", Metric: "kills"}

	for i, delta := range []float64{1, 2, 4} {
		applied, err := store.Apply(ctx, Upsert{
			Key:        key,
			Delta:      delta,
			DedupToken: dedup("lobby-1", i+1),
			UpdatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
		if !applied {
			t.Fatalf("delta %d not applied", i+1)
		}
	}

	record, err := store.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if record.Value != 7 {
		t.Errorf("expected value 7, got %v", record.Value)
	}
}

// Replaying an already-applied token must leave the row untouched.
func TestSQLiteApplyIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := Key{ServerID: "lobby-1", PlayerID: "p1", Metric: "kills"}
	upsert := Upsert{Key: key, Delta: 3, DedupToken: "lobby-1#5", UpdatedAt: time.Now()}

	applied, err := store.Apply(ctx, upsert)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("first apply must take effect")
	}

	for i := 0; i < 3; i++ {
		applied, err = store.Apply(ctx, upsert)
		if err != nil {
			t.Fatal(err)
		}
		if applied {
			t.Fatal("redelivery must be a no-op")
		}
	}

	record, err := store.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if record.Value != 3 {
		t.Errorf("expected value 3 after redeliveries, got %v", record.Value)
	}
}

// The same token must not leak across servers or metrics.
func TestSQLiteApplyKeysIndependent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	keys := []Key{
		{ServerID: "lobby-1", PlayerID: "p1", Metric: "kills"},
		{ServerID: "lobby-1", PlayerID: "p1", Metric: "deaths"},
		{ServerID: "lobby-2", PlayerID: "p1", Metric: "kills"},
	}
	for i, key := range keys {
		if _, err := store.Apply(ctx, Upsert{
			Key:        key,
			Delta:      float64(i + 1),
			DedupToken: dedup(key.ServerID, i+1),
			UpdatedAt:  time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	for i, key := range keys {
		record, err := store.Read(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if record.Value != float64(i+1) {
			t.Errorf("key %+v: expected %d, got %v", key, i+1, record.Value)
		}
	}
}

func TestSQLiteReadNoData(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Read(context.Background(), Key{ServerID: "lobby-1", PlayerID: "ghost", Metric: "kills"})
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func dedup(serverID string, seq int) string {
	return serverID + "#" + strconv.Itoa(seq)
}
