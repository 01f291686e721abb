// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/softbridge/gamehub/store/stat"
)

type StatWriterOptions struct {
	// Attempts per upsert before it is marked permanently failed.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	// CSV audit file for permanently failed upserts. Empty disables.
	FailureLog string
}

// StatWriter durably persists StatDelta events. It is the sole writer
// of the stat store, so concurrent deltas for one key are serialized
// and cannot race. Redeliveries are no-ops via the dedup token.
type StatWriter struct {
	store   stat.Store
	metrics *Metrics
	options StatWriterOptions

	sleep func(time.Duration)
}

func NewStatWriter(store stat.Store, metrics *Metrics, options StatWriterOptions) *StatWriter {
	if options.MaxAttempts == 0 {
		options.MaxAttempts = 5
	}
	if options.InitialBackoff == 0 {
		options.InitialBackoff = 200 * time.Millisecond
	}
	if options.MaxBackoff == 0 {
		options.MaxBackoff = 10 * time.Second
	}
	if options.CallTimeout == 0 {
		options.CallTimeout = 5 * time.Second
	}

	return &StatWriter{
		store:   store,
		metrics: metrics,
		options: options,
		sleep:   time.Sleep,
	}
}

func (w *StatWriter) Run(inbox <-chan Event) {
	for ev := range inbox {
		data, isDelta := ev.Payload.(StatDelta)
		if !isDelta {
			continue
		}

		w.apply(stat.Upsert{
			Key: stat.Key{
				ServerID: ev.ServerID,
				PlayerID: data.Player.ID,
				Metric:   data.Metric,
			},
			Delta:      data.Delta,
			DedupToken: dedupToken(ev.ServerID, ev.Sequence),
			UpdatedAt:  ev.OccurredAt,
		})
	}
}

// apply retries transient store errors with bounded exponential backoff.
// Past the ceiling the upsert is logged as permanently failed and
// surfaced on the failure counter; this store is authoritative, so the
// loss is never silent.
func (w *StatWriter) apply(upsert stat.Upsert) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = w.options.InitialBackoff
	boff.MaxInterval = w.options.MaxBackoff
	boff.MaxElapsedTime = 0
	boff.Reset() // apply the intervals configured above

	var err error
	for attempt := 0; attempt < w.options.MaxAttempts; attempt++ {
		if attempt > 0 {
			w.metrics.IncStoreRetries()
			w.sleep(boff.NextBackOff())
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.options.CallTimeout)
		_, err = w.store.Apply(ctx, upsert)
		cancel()
		if err == nil {
			return
		}
		log.Printf("stat upsert %s failed (attempt %d): %v", upsert.DedupToken, attempt+1, err)
	}

	w.metrics.IncPermanentFailures()
	log.Printf("stat upsert %s permanently failed: %v", upsert.DedupToken, err)

	if w.options.FailureLog != "" {
		if logErr := AppendLog(w.options.FailureLog, []interface{}{
			time.Now().UnixMilli(),
			upsert.DedupToken,
			upsert.Key.ServerID,
			upsert.Key.PlayerID,
			upsert.Key.Metric,
			upsert.Delta,
		}); logErr != nil {
			log.Println("failure log append error:", logErr)
		}
	}
}

// Read is a pass-through point read for the query gateway.
func (w *StatWriter) Read(key stat.Key) (stat.Stat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.options.CallTimeout)
	defer cancel()
	return w.store.Read(ctx, key)
}

func dedupToken(serverID string, sequence uint64) string {
	return serverID + "#" + strconv.FormatUint(sequence, 10)
}
