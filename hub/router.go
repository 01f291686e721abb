// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// Hard deadline for delivering one event to all saturated actors.
	// Past it the event is logged as dropped and connection processing
	// continues.
	defaultDispatchTimeout = 250 * time.Millisecond

	statusPeriod = 5 * time.Second

	// An actor that keeps dying immediately after restart is marked
	// Failed and left down; its traffic is counted as dropped.
	maxQuickRestarts = 5
)

// DeliveryPolicy governs a full actor inbox.
type DeliveryPolicy int

const (
	// BlockWithTimeout waits for the dispatch deadline. Used for
	// authoritative consumers that must not silently drop.
	BlockWithTimeout DeliveryPolicy = iota
	// DropOldest evicts the oldest queued event to make room. Used for
	// best-effort consumers.
	DropOldest
)

// Actor lifecycle as seen by the supervisor.
const (
	actorRunning int32 = iota
	actorRestarting
	actorFailed
)

type (
	registerConn struct {
		conn *Conn
		ok   chan bool
	}

	// subscription is one supervised actor: an inbox the router fills in
	// per-connection order and a run function restarted on panic.
	subscription struct {
		name    string
		inbox   chan Event
		policy  DeliveryPolicy
		run     func(<-chan Event)
		metrics *Metrics

		state int32
		quick int // consecutive quick deaths
	}

	// Router owns the connection registry and fans validated events out
	// to the actors interested in their kind. It is the only goroutine
	// that mutates the registry.
	Router struct {
		registry *Registry
		auth     Authenticator

		// Inbound channels
		inbound    chan Event
		register   chan registerConn
		unregister chan *Conn
		quit       chan struct{}

		subs      []*subscription
		interests map[Kind][]*subscription

		dispatchTimeout time.Duration
		statusTicker    *time.Ticker
		statusJSON      atomic.Value
	}
)

func NewRouter(registry *Registry, auth Authenticator) *Router {
	return &Router{
		registry:        registry,
		auth:            auth,
		inbound:         make(chan Event, 64),
		register:        make(chan registerConn, 8),
		unregister:      make(chan *Conn, 16),
		quit:            make(chan struct{}),
		interests:       make(map[Kind][]*subscription),
		dispatchTimeout: defaultDispatchTimeout,
		statusTicker:    time.NewTicker(statusPeriod),
	}
}

// Subscribe registers an actor for the given kinds and starts it under
// supervision. Must be called before Run.
func (r *Router) Subscribe(name string, buffer int, policy DeliveryPolicy, run func(<-chan Event), kinds ...Kind) {
	sub := &subscription{
		name:    name,
		inbox:   make(chan Event, buffer),
		policy:  policy,
		run:     run,
		metrics: r.registry.Metrics,
	}
	r.subs = append(r.subs, sub)
	for _, k := range kinds {
		r.interests[k] = append(r.interests[k], sub)
	}
	go sub.supervise()
}

func (r *Router) Run() {
	for {
		select {
		case reg := <-r.register:
			reg.ok <- r.registry.add(reg.conn)
		case conn := <-r.unregister:
			r.registry.remove(conn)
			conn.close()
		case ev := <-r.inbound:
			// Read all events currently in the channel
			n := len(r.inbound)
			for {
				r.dispatch(ev)
				if n--; n <= 0 {
					break
				}
				ev = <-r.inbound
			}
		case <-r.statusTicker.C:
			r.updateStatus()
		case <-r.quit:
			r.statusTicker.Stop()
			return
		}
	}
}

// Stop ends the router loop. Connections and actors are not torn down;
// the process is expected to exit.
func (r *Router) Stop() {
	close(r.quit)
}

// dispatch delivers one event to every interested actor, applying each
// actor's backpressure policy. Delivery never blocks past the shared
// hard deadline.
func (r *Router) dispatch(ev Event) {
	subs := r.interests[ev.Kind()]
	if len(subs) == 0 {
		return
	}
	r.registry.Metrics.IncEventsAccepted()

	// Fast path: everything has room.
	var pending []*subscription
	for _, sub := range subs {
		if atomic.LoadInt32(&sub.state) == actorFailed {
			r.registry.Metrics.IncDroppedEvents()
			continue
		}
		select {
		case sub.inbox <- ev:
		default:
			if sub.policy == DropOldest {
				sub.evictOldest()
				select {
				case sub.inbox <- ev:
				default:
					r.registry.Metrics.IncAnalyticsDropped()
				}
			} else {
				pending = append(pending, sub)
			}
		}
	}

	if len(pending) == 0 {
		return
	}

	// One deadline across all saturated actors so the connection manager
	// is never blocked for more than dispatchTimeout per event.
	timer := time.NewTimer(r.dispatchTimeout)
	defer timer.Stop()
	expired := false
	for _, sub := range pending {
		if expired {
			select {
			case sub.inbox <- ev:
			default:
				r.dropEvent(sub, ev)
			}
			continue
		}
		select {
		case sub.inbox <- ev:
		case <-timer.C:
			expired = true
			r.dropEvent(sub, ev)
		}
	}
}

func (r *Router) dropEvent(sub *subscription, ev Event) {
	log.Printf("dropping %s event seq %d from %s: %s inbox saturated", ev.Kind(), ev.Sequence, ev.ServerID, sub.name)
	r.registry.Metrics.IncDroppedEvents()
}

// evictOldest makes room in a best-effort inbox by discarding its oldest
// queued event.
func (sub *subscription) evictOldest() {
	select {
	case <-sub.inbox:
		sub.metrics.IncAnalyticsDropped()
	default:
	}
}

func (sub *subscription) supervise() {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 100 * time.Millisecond
	boff.MaxInterval = 10 * time.Second
	boff.MaxElapsedTime = 0 // restart indefinitely
	boff.Reset()            // apply the intervals configured above

	for {
		start := time.Now()
		if !sub.runOnce() {
			// Clean exit: inbox closed during shutdown.
			return
		}

		sub.metrics.IncActorRestarts()

		if time.Since(start) < time.Second {
			sub.quick++
		} else {
			sub.quick = 0
			boff.Reset()
		}
		if sub.quick >= maxQuickRestarts {
			atomic.StoreInt32(&sub.state, actorFailed)
			log.Println("actor failed permanently:", sub.name)
			return
		}

		atomic.StoreInt32(&sub.state, actorRestarting)
		time.Sleep(boff.NextBackOff())
	}
}

func (sub *subscription) runOnce() (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("actor %s panicked: %v", sub.name, v)
			panicked = true
		}
	}()

	atomic.StoreInt32(&sub.state, actorRunning)
	sub.run(sub.inbox)
	return
}

type serverStatus struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Players  int    `json:"players"`
	Games    int    `json:"games"`
	LastSeen int64  `json:"lastSeen"`
}

func (r *Router) updateStatus() {
	servers := make([]serverStatus, 0, r.registry.Len())
	r.registry.Each(func(conn *Conn) {
		players, games := conn.Population()
		servers = append(servers, serverStatus{
			ID:       conn.ServerID(),
			State:    conn.State().String(),
			Players:  players,
			Games:    games,
			LastSeen: conn.LastSeen().UnixMilli(),
		})
	})

	statusJSON, err := json.Marshal(struct {
		Servers []serverStatus  `json:"servers"`
		Metrics MetricsSnapshot `json:"metrics"`
	}{
		Servers: servers,
		Metrics: r.registry.Metrics.Snapshot(),
	})

	if err == nil {
		r.statusJSON.Store(statusJSON)
	} else {
		log.Println("error marshaling status:", err)
	}
}
