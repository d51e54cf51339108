package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/registry"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/session"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// StreamEvent envelopes a single onChange payload for delivery over the
// GET /api/v1/events websocket, mirroring the shape handed to in-process
// listeners rather than inventing a second wire format.
type StreamEvent struct {
	Source  string           `json:"source"`
	Queue   *v1.QueueEvent   `json:"queue,omitempty"`
	Process *v1.ProcessEvent `json:"process,omitempty"`
	Session *v1.SessionEvent `json:"session,omitempty"`
}

// wsClient is one connected websocket subscriber.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logger.Logger
}

// Hub fans StreamEvents out to every connected websocket client.
type Hub struct {
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub constructs a Hub. Call Run to start its processing loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		logger:     log.WithFields(zap.String("component", "events_hub")),
	}
}

// Run drives the hub until ctx is cancelled, closing every connected client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("events hub started")
	defer h.logger.Info("events hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client: drop the connection rather than block the
					// broadcaster on one stalled reader.
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *wsClient) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *wsClient) { h.unregister <- client }

// broadcastEvent marshals evt and fans it to every connected client.
func (h *Hub) broadcastEvent(evt StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal stream event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("events hub broadcast buffer full, dropping event")
	}
}

// wirePublishers subscribes the hub to every domain component's onChange
// stream so it never has to know about Task/Process/Session semantics.
func wirePublishers(h *Hub, q *queue.TaskQueueManager, reg *registry.AIProcessManager, sessions *session.Manager) (unsubscribe func()) {
	unsubQueue := q.OnChange(func(evt v1.QueueEvent) {
		h.broadcastEvent(StreamEvent{Source: "queue", Queue: &evt})
	})
	unsubRegistry := reg.OnChange(func(evt v1.ProcessEvent) {
		h.broadcastEvent(StreamEvent{Source: "registry", Process: &evt})
	})
	unsubSessions := sessions.OnChange(func(evt v1.SessionEvent) {
		h.broadcastEvent(StreamEvent{Source: "session", Session: &evt})
	})

	return func() {
		unsubQueue()
		unsubRegistry()
		unsubSessions()
	}
}

func newWSClient(conn *websocket.Conn, hub *Hub, log *logger.Logger) *wsClient {
	id := uuid.New().String()
	return &wsClient{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    hub,
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// writePump drains send onto the websocket connection until it is closed by
// the hub or the connection errors.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound messages (this endpoint is publish-only) and
// exits on any read error, triggering unregistration.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
