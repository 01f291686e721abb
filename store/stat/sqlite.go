// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package stat

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists player statistics in a SQLite database.
// Tables are created on open; schema migration beyond that is an
// operator concern.
type SQLiteStore struct {
	db *sql.DB
}

const createAppliedTable = `
CREATE TABLE IF NOT EXISTS applied_events (
	dedup_token TEXT NOT NULL PRIMARY KEY
)`

const createStatsTable = `
CREATE TABLE IF NOT EXISTS player_stats (
	server_id  TEXT NOT NULL,
	player_id  TEXT NOT NULL,
	metric     TEXT NOT NULL,
	value      REAL NOT NULL,
	updated_at INTEGER NOT NULL,

	PRIMARY KEY (server_id, player_id, metric)
)`

func OpenSQLite(path string, poolSize int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Bounded pool so a saturated stat store cannot exhaust resources
	// needed elsewhere.
	db.SetMaxOpenConns(poolSize)

	for _, stmt := range []string{createAppliedTable, createStatsTable} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, upsert Upsert) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_events (dedup_token) VALUES (?)
		 ON CONFLICT (dedup_token) DO NOTHING`,
		upsert.DedupToken)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Redelivery: the token was applied before.
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO player_stats (server_id, player_id, metric, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (server_id, player_id, metric)
		 DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
		upsert.Key.ServerID, upsert.Key.PlayerID, upsert.Key.Metric,
		upsert.Delta, upsert.UpdatedAt.UnixMilli())
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *SQLiteStore) Read(ctx context.Context, key Key) (Stat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM player_stats
		 WHERE server_id = ? AND player_id = ? AND metric = ?`,
		key.ServerID, key.PlayerID, key.Metric)

	var value float64
	var updatedAt int64
	if err := row.Scan(&value, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Stat{}, ErrNoData
		}
		return Stat{}, err
	}

	return Stat{Key: key, Value: value, UpdatedAt: time.UnixMilli(updatedAt)}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
