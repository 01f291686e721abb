// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package stat

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned by Read for a key that has never been written.
var ErrNoData = errors.New("stat: no data")

type Key struct {
	ServerID string
	PlayerID string
	Metric   string
}

// Upsert applies a delta to a stat row. DedupToken makes the write safe
// to repeat: a token that was already applied is a no-op.
type Upsert struct {
	Key        Key
	Delta      float64
	DedupToken string
	UpdatedAt  time.Time
}

type Stat struct {
	Key       Key
	Value     float64
	UpdatedAt time.Time
}

// Store is the authoritative per-player statistics store.
type Store interface {
	// Apply performs the upsert transactionally. applied reports whether
	// the delta changed the row (false means the token was a duplicate).
	Apply(ctx context.Context, upsert Upsert) (applied bool, err error)
	Read(ctx context.Context, key Key) (Stat, error)
	Close() error
}
