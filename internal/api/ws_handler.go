package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/mailsync"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// UserConnectionLister lists a user's connections that can sync incrementally.
type UserConnectionLister interface {
	ListUserSyncableConnectionIDs(ctx context.Context, userID string) ([]string, error)
}

// WebSocketHandler handles the /api/v1/ws endpoint. Sync events reach the browser
// through the Hub, which the engine notifies after every pass.
type WebSocketHandler struct {
	users       UserResolver
	connections UserConnectionLister
	service     SyncService
	hub         *ws.Hub

	// catchUps tracks background catch-up syncs so shutdown and tests can wait for them.
	catchUps sync.WaitGroup
}

func NewWebSocketHandler(users UserResolver, connections UserConnectionLister, service SyncService, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		users:       users,
		connections: connections,
		service:     service,
		hub:         hub,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server is expected to run behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Browsers cannot set headers on WebSocket connections, so the token may come as ?token=...;
// the Authorization header is accepted as a fallback.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	if token == "" {
		log.Printf("WebSocketHandler: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.users.GetOrCreateUser(ctx, userEmail)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to upgrade connection for user %s: %v", userID, err)
		return
	}

	// Mail that arrived while no tab was open is picked up right away instead of
	// waiting for the next scheduler round. The catch-up is counted before the client
	// becomes visible in the hub.
	isFirstConnection := h.hub.ActiveConnections(userID) == 0
	if isFirstConnection {
		h.catchUps.Add(1)
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", userID)
		if isFirstConnection {
			h.catchUps.Done()
		}
		return
	}

	if isFirstConnection {
		go func() {
			defer h.catchUps.Done()
			h.catchUp(context.WithoutCancel(ctx), userID)
		}()
	}

	go h.readLoop(userID, client)
}

func (h *WebSocketHandler) catchUp(ctx context.Context, userID string) {
	ids, err := h.connections.ListUserSyncableConnectionIDs(ctx, userID)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to list connections for user %s: %v", userID, err)
		return
	}

	for _, id := range ids {
		err := h.service.PerformIncrementalSync(ctx, id)
		if err != nil && !errors.Is(err, mailsync.ErrTokenExpired) {
			log.Printf("WebSocketHandler: Catch-up sync for connection %s failed: %v", id, err)
		}
	}
}

// readLoop reads until the connection closes, then unregisters the client.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(userID, client)
}

// Wait blocks until running catch-up syncs finish.
func (h *WebSocketHandler) Wait() {
	h.catchUps.Wait()
}
