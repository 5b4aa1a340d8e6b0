package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second

	// wsSendBuffer is the per-client outbound queue. A client that
	// cannot keep up is dropped, not waited for.
	wsSendBuffer = 32
)

// Event is one frame pushed to connected clients.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Hub fans events out to every connected websocket client.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]bool),
	}
}

// Run keeps the hub alive until the context ends, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// Broadcast queues an event for every client. Slow clients are dropped.
func (h *Hub) Broadcast(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("dropping slow websocket client")
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleUpgrade upgrades the request and registers the client.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs are processed; inbound data is
// otherwise ignored.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
