// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatgw

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 8) / 10
)

// WebsocketGateway connects to a websocket chat gateway with bearer
// token auth.
type WebsocketGateway struct {
	URL   string
	Token string
}

func (gw *WebsocketGateway) Dial() (Session, error) {
	header := http.Header{}
	if gw.Token != "" {
		header.Set("Authorization", "Bearer "+gw.Token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(gw.URL, header)
	if err != nil {
		return nil, err
	}

	session := &websocketSession{
		conn: conn,
		done: make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go session.pingLoop()
	return session, nil
}

type websocketSession struct {
	conn *websocket.Conn
	done chan struct{}
}

func (s *websocketSession) Send(msg Message) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err = json.NewEncoder(w).Encode(msg); err != nil {
		return err
	}
	return w.Close()
}

func (s *websocketSession) Read() (Message, error) {
	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			return Message{}, err
		}

		var msg Message
		if err = json.NewDecoder(r).Decode(&msg); err != nil {
			// Skip malformed gateway frames; the session survives.
			continue
		}
		return msg, nil
	}
}

func (s *websocketSession) Close() error {
	close(s.done)
	return s.conn.Close()
}

func (s *websocketSession) pingLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-pingTicker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
