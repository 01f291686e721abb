// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"log"
	"time"

	"github.com/softbridge/gamehub/store/warehouse"
)

type AnalyticsSinkOptions struct {
	// A batch is flushed when it reaches BatchSize or when FlushPeriod
	// elapses, whichever fills first.
	BatchSize   int
	FlushPeriod time.Duration
	// Bounded buffer of batches awaiting append. When full the oldest
	// batch is dropped; this sink is never allowed to push back on the
	// router.
	MaxPending int
}

// AnalyticsSink batches raw events into the columnar store. Contract is
// best-effort observability: loss under sustained overload is counted,
// not prevented.
type AnalyticsSink struct {
	appender warehouse.Appender
	metrics  *Metrics
	options  AnalyticsSinkOptions
}

func NewAnalyticsSink(appender warehouse.Appender, metrics *Metrics, options AnalyticsSinkOptions) *AnalyticsSink {
	if options.BatchSize == 0 {
		options.BatchSize = 256
	}
	if options.FlushPeriod == 0 {
		options.FlushPeriod = 10 * time.Second
	}
	if options.MaxPending == 0 {
		options.MaxPending = 4
	}

	return &AnalyticsSink{
		appender: appender,
		metrics:  metrics,
		options:  options,
	}
}

func (s *AnalyticsSink) Run(inbox <-chan Event) {
	pending := make(chan []warehouse.Record, s.options.MaxPending)
	done := make(chan struct{})
	go s.appendLoop(pending, done)

	flushTicker := time.NewTicker(s.options.FlushPeriod)
	defer flushTicker.Stop()

	batch := make([]warehouse.Record, 0, s.options.BatchSize)

	for {
		select {
		case ev, ok := <-inbox:
			if !ok {
				if len(batch) > 0 {
					s.enqueue(pending, batch)
				}
				close(pending)
				<-done
				return
			}
			batch = append(batch, warehouse.Record{
				ServerID: ev.ServerID,
				Sequence: ev.Sequence,
				Kind:     string(ev.Kind()),
				Time:     ev.OccurredAt.UnixMilli(),
				Payload:  ev.Payload,
			})
			if len(batch) >= s.options.BatchSize {
				s.enqueue(pending, batch)
				batch = make([]warehouse.Record, 0, s.options.BatchSize)
			}
		case <-flushTicker.C:
			if len(batch) > 0 {
				s.enqueue(pending, batch)
				batch = make([]warehouse.Record, 0, s.options.BatchSize)
			}
		}
	}
}

// enqueue never blocks: a full buffer evicts its oldest batch.
func (s *AnalyticsSink) enqueue(pending chan []warehouse.Record, batch []warehouse.Record) {
	for {
		select {
		case pending <- batch:
			return
		default:
			select {
			case dropped := <-pending:
				log.Println("analytics buffer full, dropping oldest batch of", len(dropped))
				s.metrics.IncAnalyticsDropped()
			default:
			}
		}
	}
}

func (s *AnalyticsSink) appendLoop(pending <-chan []warehouse.Record, done chan<- struct{}) {
	defer close(done)
	for batch := range pending {
		if err := s.appender.Append(batch); err != nil {
			// Best-effort: the batch is lost, visibly.
			log.Println("analytics append failed:", err)
			s.metrics.IncAnalyticsDropped()
		}
	}
}
