// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/softbridge/gamehub/store/rank"
)

const (
	defaultFlushPeriod = 5 * time.Second
	queryTimeout       = time.Second
)

// ErrQueryTimeout means the leaderboard actor did not answer in time.
var ErrQueryTimeout = errors.New("leaderboard query timed out")

type (
	lbKey struct {
		PlayerID string
		Metric   string
	}

	lbEntry struct {
		value      float64
		version    uint64
		dirty      bool
		dirtySince time.Time
	}

	// QueryResult is a cached leaderboard read. Found is false for an
	// unknown (player, metric) pair; that is a defined result, not an
	// error.
	QueryResult struct {
		Value   float64 `json:"value"`
		Version uint64  `json:"version"`
		Found   bool    `json:"found"`
	}

	lbQuery struct {
		key   lbKey
		reply chan QueryResult
	}

	// Leaderboard folds StatDelta events into cached per-metric values
	// and flushes changed entries to the external ranking capability in
	// batches. All entry state is owned by the actor goroutine; reads go
	// through the query channel.
	Leaderboard struct {
		ranker      rank.Ranker
		metrics     *Metrics
		flushPeriod time.Duration

		queries chan lbQuery
		entries map[lbKey]*lbEntry
	}
)

func NewLeaderboard(ranker rank.Ranker, metrics *Metrics, flushPeriod time.Duration) *Leaderboard {
	if flushPeriod == 0 {
		flushPeriod = defaultFlushPeriod
	}
	return &Leaderboard{
		ranker:      ranker,
		metrics:     metrics,
		flushPeriod: flushPeriod,
		queries:     make(chan lbQuery, 16),
	}
}

func (l *Leaderboard) Run(inbox <-chan Event) {
	l.entries = make(map[lbKey]*lbEntry)

	flushTicker := time.NewTicker(l.flushPeriod)
	defer flushTicker.Stop()

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = l.flushPeriod
	boff.MaxInterval = 2 * time.Minute
	boff.MaxElapsedTime = 0
	boff.Reset() // apply the intervals configured above
	var retryAt time.Time

	for {
		select {
		case ev, ok := <-inbox:
			if !ok {
				l.flush()
				return
			}
			if data, isDelta := ev.Payload.(StatDelta); isDelta {
				l.apply(data)
			}
		case query := <-l.queries:
			query.reply <- l.lookup(query.key)
		case <-flushTicker.C:
			if !time.Now().Before(retryAt) {
				if err := l.flush(); err != nil {
					// Capability down: cached reads keep serving, dirty
					// entries stay dirty until a flush lands.
					log.Printf("leaderboard flush failed (stale for %s): %v", l.staleness().Round(time.Second), err)
					retryAt = time.Now().Add(boff.NextBackOff())
				} else {
					boff.Reset()
					retryAt = time.Time{}
				}
			}
		}
	}
}

// apply folds a delta into the cache. Version is strictly increasing
// per entry.
func (l *Leaderboard) apply(data StatDelta) {
	key := lbKey{PlayerID: data.Player.ID, Metric: data.Metric}
	entry := l.entries[key]
	if entry == nil {
		entry = &lbEntry{}
		l.entries[key] = entry
	}

	entry.value += data.Delta
	entry.version++
	if !entry.dirty {
		entry.dirty = true
		entry.dirtySince = time.Now()
	}
}

// staleness is the age of the oldest unflushed entry.
func (l *Leaderboard) staleness() time.Duration {
	var oldest time.Time
	for _, entry := range l.entries {
		if entry.dirty && (oldest.IsZero() || entry.dirtySince.Before(oldest)) {
			oldest = entry.dirtySince
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return time.Since(oldest)
}

func (l *Leaderboard) lookup(key lbKey) QueryResult {
	entry := l.entries[key]
	if entry == nil {
		return QueryResult{}
	}
	return QueryResult{Value: entry.value, Version: entry.version, Found: true}
}

// flush submits all dirty entries as one batch. On failure every entry
// stays dirty for the next attempt; the capability applies values
// idempotently so redelivery is safe.
func (l *Leaderboard) flush() error {
	var batch []rank.Entry
	for key, entry := range l.entries {
		if entry.dirty {
			batch = append(batch, rank.Entry{
				PlayerID: key.PlayerID,
				Metric:   key.Metric,
				Value:    entry.value,
			})
		}
	}
	if len(batch) == 0 {
		return nil
	}

	if err := l.ranker.Submit(batch); err != nil {
		return err
	}

	for _, entry := range l.entries {
		entry.dirty = false
		entry.dirtySince = time.Time{}
	}
	return nil
}

// Query reads the cached value for a (player, metric) pair. It is safe
// to call from any goroutine and is bounded by queryTimeout.
func (l *Leaderboard) Query(playerID, metric string) (QueryResult, error) {
	reply := make(chan QueryResult, 1)
	query := lbQuery{key: lbKey{PlayerID: playerID, Metric: metric}, reply: reply}

	timer := time.NewTimer(queryTimeout)
	defer timer.Stop()

	select {
	case l.queries <- query:
	case <-timer.C:
		return QueryResult{}, ErrQueryTimeout
	}

	select {
	case result := <-reply:
		return result, nil
	case <-timer.C:
		return QueryResult{}, ErrQueryTimeout
	}
}

// Rank delegates a ranking read to the external capability.
func (l *Leaderboard) Rank(playerID, metric string) (rank.Ranking, error) {
	return l.ranker.Query(playerID, metric)
}
