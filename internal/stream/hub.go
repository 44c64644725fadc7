// Package stream pushes training events to websocket clients.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON frame sent to clients.
type Message struct {
	Type   string       `json:"type"` // "status", "progress", "final", "pong"
	Event  *pinn.Event  `json:"event,omitempty"`
	Status *pinn.Status `json:"status,omitempty"`
}

type client struct {
	send chan Message
}

// Hub fans training events out to connected websocket clients. It is a
// pinn.Observer and an http.Handler.
type Hub struct {
	buffer int
	status func() pinn.Status

	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates a hub queueing up to buffer messages per client. When
// status is set, new clients first receive the current session status.
func NewHub(buffer int, status func() pinn.Status) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer:  buffer,
		status:  status,
		clients: make(map[*client]bool),
	}
}

// OnEvent queues e for every client. A client whose queue is full misses
// progress events; the final event replaces the oldest queued one.
func (h *Hub) OnEvent(e pinn.Event) {
	msg := Message{Type: "progress", Event: &e}
	if e.Final {
		// traces can be large; clients fetch them from the history endpoint
		e.Trace = nil
		msg.Type = "final"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
			continue
		default:
		}
		if !e.Final {
			continue
		}
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn.Printf("⚠️ STREAM: websocket upgrade failed: %v", err)
		return
	}

	c := &client{send: make(chan Message, h.buffer)}
	if h.status != nil {
		st := h.status()
		c.send <- Message{Type: "status", Status: &st}
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	logger.Debug.Printf("🔌 STREAM: client connected from %s", r.RemoteAddr)

	go h.writePump(conn, c)
	go h.readPump(conn, c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump only handles control traffic; clients do not send commands
// other than ping.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug.Printf("🔌 STREAM: read error: %v", err)
			}
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			h.mu.Lock()
			if h.clients[c] {
				select {
				case c.send <- Message{Type: "pong"}:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
