/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	pushInterval = time.Second
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type watcher struct {
	conn *websocket.Conn
	done chan struct{}
}

// watch upgrades to a websocket and pushes a snapshot every second, as an
// alternative to polling the state endpoint. Clients never send game
// actions over this connection.
func (s *server) watch() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(s.cfg, "WS: Upgrade from %s failed: %v", realIP(r), err)

			return
		}

		c := &watcher{
			conn: conn,
			done: make(chan struct{}),
		}

		logf(s.cfg, "WS: Watcher connected from %s", realIP(r))

		go c.writePump(s)
		c.readPump()

		logf(s.cfg, "WS: Watcher from %s disconnected", realIP(r))
	}
}

func (c *watcher) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *watcher) writePump(s *server) {
	ticker := time.NewTicker(pushInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if !c.push(s) {
		return
	}

	for {
		select {
		case <-ticker.C:
			if !c.push(s) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *watcher) push(s *server) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteJSON(s.engine.Snapshot()); err != nil {
		return false
	}

	// Snapshots double as keepalives; a ping keeps the read deadline moving.
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) == nil
}
