package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Hub is the in-app push channel: users hold websocket connections and
// events are written to every open connection of the recipient.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool, logger *slog.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:  logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

type wireEvent struct {
	Kind  Kind              `json:"kind"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Serve upgrades the request and registers the connection for userID.
// Authentication happens before Serve is called.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, userID: userID, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.join(c)
	h.logger.Debug("websocket connected", "user_id", userID)
	go c.writePump()
	go c.readPump()
	return nil
}

// Deliver writes ev to all of the recipient's connections without
// blocking. A connection whose buffer is full is dropped.
func (h *Hub) Deliver(_ context.Context, recipientID string, ev Event) Outcome {
	payload, err := json.Marshal(wireEvent{Kind: ev.Kind, Title: ev.Title(), Body: ev.Body(), Data: ev.Data()})
	if err != nil {
		return OutcomeFailed
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[recipientID]))
	for c := range h.clients[recipientID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return OutcomeNoChannel
	}
	delivered := 0
	for _, c := range conns {
		if c.enqueue(payload) {
			delivered++
		} else {
			go c.close()
		}
	}
	if delivered == 0 {
		return OutcomeFailed
	}
	return OutcomeOK
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Stats returns connection counts for health reporting.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := 0
	for _, set := range h.clients {
		conns += len(set)
	}
	return map[string]int{"users": len(h.clients), "connections": conns}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.clients[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.leave(c)
	_ = c.conn.Close()
}

// readPump discards inbound frames; it exists to process pongs and detect
// disconnects.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
