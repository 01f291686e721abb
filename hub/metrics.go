// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import "sync/atomic"

// Metrics is the process-wide counter set. One instance is created at
// startup and handed to every component; nothing here is a singleton.
// Every dropped event and permanent failure increments a counter so no
// error is silently swallowed.
type Metrics struct {
	eventsAccepted    int64
	validationErrors  int64
	sequenceRejects   int64
	malformedFrames   int64
	droppedEvents     int64
	chatSuppressed    int64
	commandsDiscarded int64
	analyticsDropped  int64
	storeRetries      int64
	permanentFailures int64
	actorRestarts     int64
}

// MetricsSnapshot is the JSON view served by the status endpoint.
type MetricsSnapshot struct {
	EventsAccepted    int64 `json:"eventsAccepted"`
	ValidationErrors  int64 `json:"validationErrors"`
	SequenceRejects   int64 `json:"sequenceRejects"`
	MalformedFrames   int64 `json:"malformedFrames"`
	DroppedEvents     int64 `json:"droppedEvents"`
	ChatSuppressed    int64 `json:"chatSuppressed"`
	CommandsDiscarded int64 `json:"commandsDiscarded"`
	AnalyticsDropped  int64 `json:"analyticsDropped"`
	StoreRetries      int64 `json:"storeRetries"`
	PermanentFailures int64 `json:"permanentFailures"`
	ActorRestarts     int64 `json:"actorRestarts"`
}

func (m *Metrics) IncEventsAccepted()    { atomic.AddInt64(&m.eventsAccepted, 1) }
func (m *Metrics) IncValidationErrors()  { atomic.AddInt64(&m.validationErrors, 1) }
func (m *Metrics) IncSequenceRejects()   { atomic.AddInt64(&m.sequenceRejects, 1) }
func (m *Metrics) IncMalformedFrames()   { atomic.AddInt64(&m.malformedFrames, 1) }
func (m *Metrics) IncDroppedEvents()     { atomic.AddInt64(&m.droppedEvents, 1) }
func (m *Metrics) IncChatSuppressed()    { atomic.AddInt64(&m.chatSuppressed, 1) }
func (m *Metrics) IncCommandsDiscarded() { atomic.AddInt64(&m.commandsDiscarded, 1) }
func (m *Metrics) IncAnalyticsDropped()  { atomic.AddInt64(&m.analyticsDropped, 1) }
func (m *Metrics) IncStoreRetries()      { atomic.AddInt64(&m.storeRetries, 1) }
func (m *Metrics) IncPermanentFailures() { atomic.AddInt64(&m.permanentFailures, 1) }
func (m *Metrics) IncActorRestarts()     { atomic.AddInt64(&m.actorRestarts, 1) }

func (m *Metrics) PermanentFailures() int64 {
	return atomic.LoadInt64(&m.permanentFailures)
}

func (m *Metrics) DroppedEvents() int64 {
	return atomic.LoadInt64(&m.droppedEvents)
}

func (m *Metrics) AnalyticsDropped() int64 {
	return atomic.LoadInt64(&m.analyticsDropped)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsAccepted:    atomic.LoadInt64(&m.eventsAccepted),
		ValidationErrors:  atomic.LoadInt64(&m.validationErrors),
		SequenceRejects:   atomic.LoadInt64(&m.sequenceRejects),
		MalformedFrames:   atomic.LoadInt64(&m.malformedFrames),
		DroppedEvents:     atomic.LoadInt64(&m.droppedEvents),
		ChatSuppressed:    atomic.LoadInt64(&m.chatSuppressed),
		CommandsDiscarded: atomic.LoadInt64(&m.commandsDiscarded),
		AnalyticsDropped:  atomic.LoadInt64(&m.analyticsDropped),
		StoreRetries:      atomic.LoadInt64(&m.storeRetries),
		PermanentFailures: atomic.LoadInt64(&m.permanentFailures),
		ActorRestarts:     atomic.LoadInt64(&m.actorRestarts),
	}
}
