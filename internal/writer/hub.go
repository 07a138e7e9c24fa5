// internal/writer/hub.go
package writer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/snapshot"
)

// Message types on the wire.
const (
	TypeSnapshot = "snapshot"
	TypeFailure  = "failure"
)

const writeTimeout = 5 * time.Second

// Message is one JSON frame sent to clients.
type Message struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Data     any    `json:"data"`
}

// client serializes writes: gorilla allows one concurrent writer per conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans snapshots and failure notifications out to WebSocket clients.
// It subscribes to every poller; a client that fails a write is dropped.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string]snapshot.DeviceSnapshot
}

var _ poller.Subscriber = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		latest:  make(map[string]snapshot.DeviceSnapshot),
	}
}

// ---- poller.Subscriber ----

func (h *Hub) OnSnapshot(s snapshot.DeviceSnapshot) {
	h.mu.Lock()
	h.latest[s.DeviceID] = s
	h.mu.Unlock()

	h.broadcast(Message{Type: TypeSnapshot, DeviceID: s.DeviceID, Data: s})
}

func (h *Hub) OnFailure(n poller.Notification) {
	h.broadcast(Message{Type: TypeFailure, DeviceID: n.DeviceID, Data: n})
}

// ---- http ----

// ServeHTTP upgrades the request, sends the latest snapshot of every
// device, then keeps the connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn}

	// hold the write lock so no broadcast overtakes the initial frames
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c] = struct{}{}
	initial := h.latestLocked()
	h.mu.Unlock()

	for _, s := range initial {
		data, err := json.Marshal(Message{Type: TypeSnapshot, DeviceID: s.DeviceID, Data: s})
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.mu.Unlock()
			h.remove(c)
			return
		}
	}
	c.mu.Unlock()

	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	// read until close; inbound frames are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encode websocket message", "type", m.Type, "err", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// latestLocked returns the cached snapshots ordered by device id.
func (h *Hub) latestLocked() []snapshot.DeviceSnapshot {
	out := make([]snapshot.DeviceSnapshot, 0, len(h.latest))
	for _, s := range h.latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
