package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vdavid/mailsync/internal/mailsync"
)

const writeTimeout = 5 * time.Second

// Client wraps a WebSocket connection. Writes are serialized since a gorilla
// connection supports one concurrent writer.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per user and pushes sync events to them.
// A user may hold several connections (e.g., multiple tabs).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
}

var _ mailsync.Notifier = (*Hub)(nil)

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
	}
}

// Register adds a WebSocket connection for the given user.
// If the per-user limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		log.Printf("WebSocketHub: User %s exceeded max connections (%d), closing new connection", userID, h.maxPerUser)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given user and closes the connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send writes a message to all active clients for the user. Clients that fail
// the write are dropped.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			log.Printf("WebSocketHub: Failed to write message for user %s: %v", userID, err)
			h.Unregister(userID, client)
		}
	}
}

// syncMessage is the frame pushed to browsers after a sync pass.
type syncMessage struct {
	Type           mailsync.EventType `json:"type"`
	ConnectionID   string             `json:"connection_id"`
	RecordsFetched int                `json:"records_fetched"`
	RecordsFailed  int                `json:"records_failed"`
	Error          string             `json:"error,omitempty"`
}

// NotifySync pushes the event to the user's open tabs.
func (h *Hub) NotifySync(_ context.Context, event mailsync.Event) {
	if h.ActiveConnections(event.UserID) == 0 {
		return
	}

	msg, err := json.Marshal(syncMessage{
		Type:           event.Type,
		ConnectionID:   event.ConnectionID,
		RecordsFetched: event.RecordsFetched,
		RecordsFailed:  event.RecordsFailed,
		Error:          event.Error,
	})
	if err != nil {
		log.Printf("WebSocketHub: Failed to encode %s event: %v", event.Type, err)
		return
	}
	h.Send(event.UserID, msg)
}

// ActiveConnections returns the number of active WebSocket connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}
