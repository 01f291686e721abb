// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Idle window: a connection with no frame (or pong) within this
	// period is closed.
	idleTimeout = 60 * time.Second

	// Send pings to peer with this period. Must be less than idleTimeout.
	pingPeriod = (idleTimeout * 8) / 10

	// If more than this many messages are queued for sending, the
	// socket is congested and messages may be dropped
	socketCongestionThreshold = 5

	// Allows ~1 second of messages to backup before close
	socketBufferSize = 16

	// Maximum frame size allowed from peer.
	maxFrameSize = 4096

	// Consecutive undecodable frames before the connection is cut.
	maxConsecutiveBadFrames = 3

	debugSocket = false
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // game servers connect directly, not via browsers
	},
	HandshakeTimeout: time.Second,
	ReadBufferSize:   maxFrameSize,
	WriteBufferSize:  2048,
}

// ConnState is the lifecycle of one game-server connection.
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateAuthenticated
	StateActive
	StateDraining
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Authenticator verifies a handshake token for a server id. It must
// compare against a stored digest; the raw token is never logged.
type Authenticator func(serverID, token string) bool

// Conn is a middleman between one game-server websocket and the router.
// The read pump is the sole writer of sequence state; connection state
// is published atomically for other actors to observe.
type Conn struct {
	conn   *websocket.Conn
	router *Router
	send   chan Frame
	once   sync.Once

	serverID string // fixed after handshake
	state    int32  // ConnState
	lastSeen int64  // unix millis
	players  int32  // from last heartbeat
	games    int32

	lastSeq   uint64 // read pump only
	badFrames int    // consecutive decode failures, read pump only

	// Send may be called from any actor goroutine while the router
	// closes the channel, so the send side is guarded.
	sendMu     sync.Mutex
	sendClosed bool
	counter    int // counts up every send
}

// NewConn wraps an upgraded websocket. Init starts the pumps.
func NewConn(conn *websocket.Conn, router *Router) *Conn {
	c := &Conn{
		conn:     conn,
		router:   router,
		send:     make(chan Frame, socketBufferSize),
		lastSeen: unixMillis(),
	}
	c.setState(StateHandshaking)
	return c
}

func (c *Conn) Init() {
	go c.readPump()
}

func (c *Conn) ServerID() string {
	return c.serverID
}

func (c *Conn) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Conn) setState(state ConnState) {
	atomic.StoreInt32(&c.state, int32(state))
}

func (c *Conn) LastSeen() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&c.lastSeen))
}

// Population returns the player and game counts from the last heartbeat.
func (c *Conn) Population() (players, games int) {
	return int(atomic.LoadInt32(&c.players)), int(atomic.LoadInt32(&c.games))
}

// Drain marks the connection as shutting down gracefully. Reads continue
// so in-flight frames land, but chat relay for this server is suppressed.
func (c *Conn) Drain() {
	if c.State() == StateActive {
		c.setState(StateDraining)
	}
}

// close is called by (only) the router goroutine when the connection is
// unregistered. Pending outbound buffers are dropped with the channel.
func (c *Conn) close() {
	c.sendMu.Lock()
	c.sendClosed = true
	close(c.send)
	c.sendMu.Unlock()
}

// Destroy marks the connection for destruction. Safe to call anywhere,
// any number of times.
func (c *Conn) Destroy() {
	c.once.Do(func() {
		c.setState(StateClosed)

		// Needs to go through when called on router goroutine.
		select {
		case c.router.unregister <- c:
		default:
			go func() {
				c.router.unregister <- c
			}()
		}

		_ = c.conn.Close()
	})
}

// Send queues an outbound frame for the game server. Safe to call from
// any goroutine. Under congestion messages are dropped; chat relay loss
// is acceptable, authoritative state never travels this direction.
func (c *Conn) Send(frame Frame) {
	if c.State() != StateActive {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// Unregistered between the state check and here.
	if c.sendClosed {
		return
	}

	// How many messages there are in excess of a reasonable amount
	congestion := len(c.send) - socketCongestionThreshold

	c.counter++
	if congestion > 1 && c.counter%congestion != 0 {
		fmt.Println("conn dropping outbound frame due to congestion:", c.serverID)
		return
	}

	select {
	case c.send <- frame:
	default:
		// Not responsive
		if debugSocket {
			fmt.Println("conn is not responsive:", c.serverID)
		}
		c.Destroy()
	}
}

func (c *Conn) readPump() {
	defer c.Destroy()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	if !c.handshake() {
		return
	}

	metrics := c.router.registry.Metrics

	for {
		frame, fatal, err := c.readFrame()
		if err != nil {
			if fatal {
				return
			}
			metrics.IncMalformedFrames()
			if c.badFrames++; c.badFrames >= maxConsecutiveBadFrames {
				log.Println("closing connection after repeated malformed frames:", c.serverID)
				return
			}
			continue
		}
		c.badFrames = 0
		atomic.StoreInt64(&c.lastSeen, unixMillis())

		if invalidFrame, ok := frame.Data.(InvalidFrame); ok {
			log.Println("invalid frame type received:", invalidFrame.frameType)
			metrics.IncValidationErrors()
			continue
		}

		// Reject stale sequence before it reaches the router.
		if frame.Sequence <= c.lastSeq {
			log.Printf("rejecting stale sequence %d (last %d) from %s", frame.Sequence, c.lastSeq, c.serverID)
			metrics.IncSequenceRejects()
			continue
		}

		// A server may only speak as its authenticated identity.
		if frame.Server != "" && frame.Server != c.serverID {
			log.Println("rejecting spoofed server id from", c.serverID)
			metrics.IncValidationErrors()
			continue
		}

		data, ok := frame.Data.(payload)
		if !ok {
			metrics.IncValidationErrors()
			continue
		}
		if err := data.validate(); err != nil {
			log.Printf("dropping frame from %s: %v", c.serverID, err)
			metrics.IncValidationErrors()
			continue
		}

		if _, isHandshake := data.(Handshake); isHandshake {
			// Only valid as the first frame.
			metrics.IncValidationErrors()
			continue
		}

		c.lastSeq = frame.Sequence

		if c.State() == StateAuthenticated {
			c.setState(StateActive)
		}

		// Heartbeats update liveness only and are not forwarded.
		if hb, isHeartbeat := data.(Heartbeat); isHeartbeat {
			atomic.StoreInt32(&c.players, int32(hb.Players))
			atomic.StoreInt32(&c.games, int32(hb.Games))
			continue
		}

		occurred := time.UnixMilli(frame.Time)
		if frame.Time == 0 {
			occurred = time.Now()
		}

		c.router.inbound <- Event{
			ServerID:   c.serverID,
			Sequence:   frame.Sequence,
			OccurredAt: occurred,
			Payload:    data,
		}
	}
}

// handshake reads and verifies the first frame, then registers with the
// router. Returns false if the connection must close.
func (c *Conn) handshake() bool {
	frame, _, err := c.readFrame()
	if err != nil {
		return false
	}

	hs, ok := frame.Data.(Handshake)
	if !ok {
		log.Println("connection did not open with handshake")
		return false
	}
	if err := hs.validate(); err != nil {
		log.Println("bad handshake:", err)
		return false
	}
	if !c.router.auth(hs.Server, hs.Token) {
		log.Println("authentication failed for server:", hs.Server)
		return false
	}

	c.serverID = hs.Server
	c.setState(StateAuthenticated)

	registered := make(chan bool, 1)
	c.router.register <- registerConn{conn: c, ok: registered}
	if !<-registered {
		log.Println("server id already connected:", hs.Server)
		return false
	}

	go c.writePump()
	log.Printf("server %s connected (version %q)", hs.Server, hs.Version)
	return true
}

// readFrame decodes the next frame. fatal is set for transport errors.
func (c *Conn) readFrame() (frame Frame, fatal bool, err error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Println("close error:", err)
		}
		return Frame{}, true, err
	}

	err = json.NewDecoder(r).Decode(&frame)
	if err != nil {
		log.Println("unmarshal error:", err.Error())
		return Frame{}, false, err
	}
	return frame, false, nil
}

func (c *Conn) writePump() {
	pingTicker := time.NewTicker(pingPeriod)

	defer func() {
		if err := recover(); err != nil {
			if debugSocket {
				fmt.Println("send error:", err)
			}
		}
		pingTicker.Stop()
		c.Destroy()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The router closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				panic("router closed channel")
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				panic(err)
			}

			if err = json.NewEncoder(w).Encode(frame); err != nil {
				panic(err)
			}

			if err = w.Close(); err != nil {
				panic(err)
			}
		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func unixMillis() int64 {
	return time.Now().UnixMilli()
}
