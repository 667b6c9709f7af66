// Package live pushes repository events to connected browsers over
// WebSocket so every open page re-renders after a change.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stagetasks/internal/events"
)

const (
	writeWait = 5 * time.Second

	// sendBuffer is how many events a client may fall behind before it is
	// dropped.
	sendBuffer = 16
)

// Hub tracks connected clients and broadcasts events to them. It implements
// events.Publisher and http.Handler.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client owns one connection. Only writePump writes data frames to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer)}
}

// writePump delivers queued events until send is closed or a write fails.
func (c *client) writePump(logger *slog.Logger) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("websocket write failed", "err", err)
			c.conn.Close()
			return
		}
	}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the request and keeps the client registered until the
// connection closes. Messages from the client are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := newClient(conn)
	h.add(c)
	defer h.remove(c)
	go c.writePump(h.logger)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish queues e for every connected client without waiting for the
// network. A client whose queue is full is dropped.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Debug("dropping slow websocket client")
		h.remove(c)
	}
	return nil
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	for _, c := range h.snapshot() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		h.remove(c)
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		close(c.send)
		c.conn.Close()
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
