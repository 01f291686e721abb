// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"sync"
	"testing"
)

// Send is called from actor goroutines while the router goroutine
// unregisters the connection; a late Send must be a quiet no-op, never
// a write to a closed channel.
func TestConnSendDuringClose(t *testing.T) {
	router := NewRouter(NewRegistry(), allowAll)

	for round := 0; round < 100; round++ {
		c := &Conn{
			router: router,
			send:   make(chan Frame, socketBufferSize),
		}
		c.setState(StateActive)

		// Keep the buffer empty so congestion teardown never trips.
		drained := make(chan struct{})
		go func() {
			for range c.send {
			}
			close(drained)
		}()

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					c.Send(Frame{Data: ChatRelay{Sender: "mod", Message: "hi"}})
				}
			}()
		}

		c.setState(StateClosed)
		c.close()
		wg.Wait()
		<-drained
	}
}

// Sends after the router closed the channel are dropped even if the
// caller saw an active state just before.
func TestConnSendAfterClose(t *testing.T) {
	c := &Conn{
		router: NewRouter(NewRegistry(), allowAll),
		send:   make(chan Frame, socketBufferSize),
	}
	c.setState(StateActive)
	c.close()

	// Must not panic and must not queue.
	c.Send(Frame{Data: ChatRelay{Sender: "mod", Message: "late"}})
}
