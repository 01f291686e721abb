// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/softbridge/gamehub/store/warehouse"
)

// fakeAppender records appended batches. If gate is non-nil, Append
// blocks until it is closed.
type fakeAppender struct {
	mu      sync.Mutex
	gate    chan struct{}
	batches [][]warehouse.Record
}

func (a *fakeAppender) Append(batch []warehouse.Record) error {
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, append([]warehouse.Record(nil), batch...))
	return nil
}

func (a *fakeAppender) records() []warehouse.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []warehouse.Record
	for _, batch := range a.batches {
		out = append(out, batch...)
	}
	return out
}

func runSink(sink *AnalyticsSink, events ...Event) {
	inbox := make(chan Event, len(events))
	for _, ev := range events {
		inbox <- ev
	}
	close(inbox)
	sink.Run(inbox)
}

func TestAnalyticsSinkBatches(t *testing.T) {
	appender := &fakeAppender{}
	sink := NewAnalyticsSink(appender, &Metrics{}, AnalyticsSinkOptions{
		BatchSize:   2,
		FlushPeriod: time.Hour,
	})

	var events []Event
	for seq := uint64(1); seq <= 5; seq++ {
		events = append(events, statDelta("lobby-1", seq, "kills", 1))
	}
	runSink(sink, events...)

	records := appender.records()
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, record := range records {
		if record.Sequence != uint64(i+1) {
			t.Errorf("record %d out of order: seq %d", i, record.Sequence)
		}
		if record.Kind != "statDelta" || record.ServerID != "lobby-1" {
			t.Errorf("unexpected record: %+v", record)
		}
	}
}

// A wedged warehouse loses the oldest batches, never the sink loop.
func TestAnalyticsSinkShedsOldestUnderOverload(t *testing.T) {
	gate := make(chan struct{})
	appender := &fakeAppender{gate: gate}
	metrics := &Metrics{}
	sink := NewAnalyticsSink(appender, metrics, AnalyticsSinkOptions{
		BatchSize:   1,
		FlushPeriod: time.Hour,
		MaxPending:  2,
	})

	inbox := make(chan Event, 8)
	done := make(chan struct{})
	go func() {
		sink.Run(inbox)
		close(done)
	}()

	for seq := uint64(1); seq <= 6; seq++ {
		inbox <- statDelta("lobby-1", seq, "kills", 1)
	}

	waitFor(t, "shed batches", func() bool {
		return metrics.AnalyticsDropped() >= 1
	})

	close(gate)
	close(inbox)
	<-done

	records := appender.records()
	if len(records) == 0 || len(records) >= 6 {
		t.Fatalf("expected partial delivery, got %d records", len(records))
	}
	// What does land is still in order.
	for i := 1; i < len(records); i++ {
		if records[i].Sequence <= records[i-1].Sequence {
			t.Errorf("records out of order: %d after %d", records[i].Sequence, records[i-1].Sequence)
		}
	}
}
