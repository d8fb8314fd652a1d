// Package events pushes run lifecycle notifications to connected
// WebSocket clients.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Event is one run lifecycle notification.
type Event struct {
	Event     string      `json:"event"`
	TraceID   string      `json:"trace_id,omitempty"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Seq       int64       `json:"seq"`
	Timestamp string      `json:"timestamp"`
}

// Lifecycle event names.
const (
	EventRunStatus = "run_status"
	EventRunResult = "run_result"
)

// Run statuses.
const (
	StatusStarted   = "STARTED"
	StatusCompleted = "COMPLETED"
)

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected clients and fans events out to all of them.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	seq     uint64
}

// NewHub creates an event hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// HandleWS upgrades an HTTP request to a WebSocket subscription. The
// connection is held open until the client disconnects; clients only
// receive, they never send.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}

	c := &client{id: id, conn: conn}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", id).Msg("Event client connected")

	go h.readUntilClosed(c)
}

// readUntilClosed drains incoming frames until the connection drops,
// then unregisters the client.
func (h *Hub) readUntilClosed(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.conn.Close()
		h.logger.Debug().Str("client_id", c.id).Msg("Event client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishStatus notifies clients of a run state change.
func (h *Hub) PublishStatus(traceID, sessionID, status string) {
	h.broadcast(Event{
		Event:     EventRunStatus,
		TraceID:   traceID,
		SessionID: sessionID,
		Status:    status,
	})
}

// PublishResult notifies clients of a completed run's final plan.
func (h *Hub) PublishResult(traceID, sessionID string, result interface{}) {
	h.broadcast(Event{
		Event:     EventRunResult,
		TraceID:   traceID,
		SessionID: sessionID,
		Result:    result,
	})
}

func (h *Hub) broadcast(event Event) {
	event.Seq = int64(atomic.AddUint64(&h.seq, 1))
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event.Event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.id).Str("event", event.Event).Msg("Failed to deliver event")
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}
