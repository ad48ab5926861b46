// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package events pushes transcription changes to websocket subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gauthier-th/whisper-dashboard/auth"
	"github.com/gauthier-th/whisper-dashboard/metrics"
	"github.com/gauthier-th/whisper-dashboard/store"
	"github.com/gorilla/websocket"
)

const (
	TypeTranscription = "transcription"
	TypeDeleted       = "transcription_deleted"

	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 2 * pingInterval
)

type Message struct {
	Type          string              `json:"type"`
	Transcription store.Transcription `json:"transcription"`
}

type client struct {
	conn   *websocket.Conn
	viewer *auth.TokenInfo
	send   chan []byte
}

// Hub fans messages out to connected clients. A client that cannot keep up
// loses messages rather than stalling the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		logger:   slog.With("component", "events"),
		clients:  make(map[*client]struct{}),
	}
}

// Publish sends the current state of t to every client allowed to see it.
func (h *Hub) Publish(t store.Transcription) {
	h.broadcast(Message{Type: TypeTranscription, Transcription: t})
}

func (h *Hub) PublishDeleted(t store.Transcription) {
	h.broadcast(Message{Type: TypeDeleted, Transcription: t})
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.viewer.CanAccess(msg.Transcription.Owner) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow client", "user", c.viewer.UserID, "id", msg.Transcription.ID)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events to it until the client
// disconnects or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, viewer *auth.TokenInfo) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, viewer: viewer, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return conn.Close()
	}
	h.logger.Debug("client connected", "user", viewer.UserID)

	go h.writeLoop(c)
	h.readLoop(c)
	return nil
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read error", "user", c.viewer.UserID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.EventClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.EventClients.Set(float64(len(h.clients)))
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.EventClients.Set(0)
}
