// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/softbridge/gamehub/chatgw"
)

// BridgeState is the chat gateway session lifecycle.
type BridgeState int32

const (
	BridgeDisconnected BridgeState = iota
	BridgeConnecting
	BridgeReady
)

const maxChatHistories = 4096

type ChatBridgeOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Gateway rate limit: sends above it are delayed, not dropped.
	MessagesPerSec float64
	Burst          int
}

// ChatBridge relays chat between game servers and the external chat
// gateway. It owns the gateway session and all per-player chat
// histories; nothing else touches them.
type ChatBridge struct {
	gateway  chatgw.Gateway
	registry *Registry
	options  ChatBridgeOptions

	limiter   *rate.Limiter
	state     int32
	histories map[string]*chatHistory

	// Replaced in tests to observe reconnect delays.
	sleep func(time.Duration)
}

func NewChatBridge(gateway chatgw.Gateway, registry *Registry, options ChatBridgeOptions) *ChatBridge {
	if options.InitialBackoff == 0 {
		options.InitialBackoff = 500 * time.Millisecond
	}
	if options.MaxBackoff == 0 {
		options.MaxBackoff = time.Minute
	}
	if options.MessagesPerSec == 0 {
		options.MessagesPerSec = 5
	}
	if options.Burst == 0 {
		options.Burst = 10
	}

	return &ChatBridge{
		gateway:   gateway,
		registry:  registry,
		options:   options,
		limiter:   rate.NewLimiter(rate.Limit(options.MessagesPerSec), options.Burst),
		histories: make(map[string]*chatHistory),
		sleep:     time.Sleep,
	}
}

func (b *ChatBridge) State() BridgeState {
	return BridgeState(atomic.LoadInt32(&b.state))
}

func (b *ChatBridge) setState(state BridgeState) {
	atomic.StoreInt32(&b.state, int32(state))
}

// Run processes relay events until the inbox closes. Restarted with
// fresh state by the router's supervisor on panic.
func (b *ChatBridge) Run(inbox <-chan Event) {
	b.histories = make(map[string]*chatHistory)

	session, msgs, errs, done := b.connect(inbox)
	if session == nil {
		return // inbox closed while connecting
	}

	for {
		select {
		case ev, ok := <-inbox:
			if !ok {
				b.setState(BridgeDisconnected)
				close(done)
				_ = session.Close()
				return
			}
			if err := b.relay(session, ev); err != nil {
				log.Println("chat gateway send failed:", err)
				close(done)
				_ = session.Close()
				b.setState(BridgeDisconnected)
				if session, msgs, errs, done = b.connect(inbox); session == nil {
					return
				}
			}
		case msg := <-msgs:
			b.deliver(msg)
		case err := <-errs:
			log.Println("chat gateway session lost:", err)
			close(done)
			_ = session.Close()
			b.setState(BridgeDisconnected)
			if session, msgs, errs, done = b.connect(inbox); session == nil {
				return
			}
		}
	}
}

// connect dials the gateway with jittered exponential backoff, retried
// indefinitely. Returns nil only if the inbox closed meanwhile. The done
// channel releases the session's reader when the session is abandoned.
func (b *ChatBridge) connect(inbox <-chan Event) (chatgw.Session, chan chatgw.Message, chan error, chan struct{}) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = b.options.InitialBackoff
	boff.MaxInterval = b.options.MaxBackoff
	boff.Multiplier = 2
	boff.RandomizationFactor = 0.25
	boff.MaxElapsedTime = 0
	boff.Reset() // apply the intervals configured above

	b.setState(BridgeConnecting)

	for {
		session, err := b.gateway.Dial()
		if err == nil {
			b.setState(BridgeReady)

			// Fresh channels per session so a stale reader cannot feed
			// the new loop.
			msgs := make(chan chatgw.Message, 16)
			errs := make(chan error, 1)
			done := make(chan struct{})
			go readSession(session, msgs, errs, done)
			return session, msgs, errs, done
		}

		log.Println("chat gateway connect failed:", err)
		b.sleep(boff.NextBackOff())

		// Shutdown check between attempts.
		select {
		case _, ok := <-inbox:
			if !ok {
				b.setState(BridgeDisconnected)
				return nil, nil, nil, nil
			}
			// An event arrived while down; it cannot be relayed.
			b.registry.Metrics.IncChatSuppressed()
		default:
		}
	}
}

func readSession(session chatgw.Session, msgs chan<- chatgw.Message, errs chan<- error, done <-chan struct{}) {
	for {
		msg, err := session.Read()
		if err != nil {
			// errs is buffered; this never blocks.
			errs <- err
			return
		}
		select {
		case msgs <- msg:
		case <-done:
			// The bridge moved on; nothing drains msgs anymore.
			return
		}
	}
}

// relay formats one event for the external gateway, applying the
// moderation filter and the token-bucket gate.
func (b *ChatBridge) relay(session chatgw.Session, ev Event) error {
	// Messages from a server that is shutting down are suppressed.
	conn := b.registry.Lookup(ev.ServerID)
	if conn == nil || conn.State() != StateActive {
		b.registry.Metrics.IncChatSuppressed()
		return nil
	}

	var msg chatgw.Message
	switch data := ev.Payload.(type) {
	case Chat:
		text, allowed := b.history(data.Sender.ID).update(data.Message)
		if !allowed {
			b.registry.Metrics.IncChatSuppressed()
			return nil
		}
		msg = chatgw.Message{Channel: ev.ServerID, Sender: data.Sender.Name, Text: text}
	case PlayerJoined:
		msg = chatgw.Message{Channel: ev.ServerID, Text: data.Player.Name + " joined the game"}
	case PlayerLeft:
		msg = chatgw.Message{Channel: ev.ServerID, Text: data.Player.Name + " left the game"}
	case AdminAction:
		msg = chatgw.Message{Channel: ev.ServerID, Text: fmt.Sprintf("%s ran %q", data.Sender, data.Command)}
	default:
		return nil
	}

	if err := b.limiter.Wait(context.Background()); err != nil {
		return err
	}
	return session.Send(msg)
}

// deliver routes a gateway message to its originating server. If that
// server is not active the command is discarded; there is no queueing
// across server downtime.
func (b *ChatBridge) deliver(msg chatgw.Message) {
	conn := b.registry.Lookup(msg.Channel)
	if conn == nil || conn.State() != StateActive {
		log.Printf("discarding gateway message for %s: server not active", msg.Channel)
		b.registry.Metrics.IncCommandsDiscarded()
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		conn.Send(Frame{Data: Command{
			Sender:  msg.Sender,
			Command: strings.TrimPrefix(msg.Text, "/"),
			Roles:   msg.Roles,
		}})
		return
	}

	conn.Send(Frame{Data: ChatRelay{
		Sender:  msg.Sender,
		Message: msg.Text,
	}})
}

func (b *ChatBridge) history(playerID string) *chatHistory {
	if len(b.histories) > maxChatHistories {
		b.histories = make(map[string]*chatHistory)
	}
	hist := b.histories[playerID]
	if hist == nil {
		hist = &chatHistory{}
		b.histories[playerID] = hist
	}
	return hist
}
