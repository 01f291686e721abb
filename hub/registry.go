// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import "sync"

// Registry holds the live game-server connections and the process
// counters. It is created once at startup and torn down at shutdown.
// Only the router goroutine adds or removes connections; other actors
// hold the registry to look up a server's send endpoint and state.
type Registry struct {
	Metrics *Metrics

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		Metrics: &Metrics{},
		conns:   make(map[string]*Conn),
	}
}

// add registers a connection under its authenticated server id.
// Returns false if another live connection already claims the id.
func (r *Registry) add(conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.conns[conn.ServerID()]; taken {
		return false
	}
	r.conns[conn.ServerID()] = conn
	return true
}

// remove drops a connection if it is still the registered one for its
// server id. A replacement connection that won the id is left alone.
func (r *Registry) remove(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[conn.ServerID()] == conn {
		delete(r.conns, conn.ServerID())
	}
}

// Lookup returns the live connection for a server id, or nil.
func (r *Registry) Lookup(serverID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[serverID]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Each calls f for every live connection. f must not block.
func (r *Registry) Each(f func(*Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		f(conn)
	}
}
