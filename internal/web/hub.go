package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsMessage is the frame envelope: {"type":"status"|"event","data":...}.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusHub pushes controller status to WebSocket clients: once on
// connect, after every controller event and on a fixed interval.
// Clients that cannot keep up are disconnected.
type StatusHub struct {
	status   func() sequence.Status
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// NewStatusHub creates a hub. interval <= 0 defaults to 250ms.
func NewStatusHub(status func() sequence.Status, interval time.Duration) *StatusHub {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &StatusHub{
		status:   status,
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run publishes the status periodically until ctx is done, then
// disconnects every client.
func (h *StatusHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.PublishStatus()
		}
	}
}

// PublishEvent sends ev followed by the fresh status.
func (h *StatusHub) PublishEvent(ev sequence.Event) {
	h.publish(wsMessage{Type: "event", Data: ev})
	h.PublishStatus()
}

// PublishStatus sends the current status to every client.
func (h *StatusHub) PublishStatus() {
	h.publish(wsMessage{Type: "status", Data: h.status()})
}

func (h *StatusHub) publish(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var slow []*wsClient
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		debug.Verbose("ws: dropping slow client")
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *StatusHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *StatusHub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *StatusHub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades GET /api/ws and streams status frames.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("ws: upgrade failed: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 16)}

	first, err := json.Marshal(wsMessage{Type: "status", Data: h.status()})
	if err == nil {
		c.send <- first
	}
	h.add(c)
	debug.Verbose("ws: client %s connected (%d total)", r.RemoteAddr, h.Clients())

	// The request context ends when this handler returns; the pumps live
	// until the connection fails or the hub drops the client.
	go h.writePump(c)
	go h.readPump(c)
}

func (h *StatusHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client frames; it only detects disconnects.
func (h *StatusHub) readPump(c *wsClient) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				debug.Verbose("ws: read: %v", err)
			}
			h.remove(c)
			return
		}
	}
}
