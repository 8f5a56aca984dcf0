package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/testutil/mocks"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

func newWSServer(t *testing.T, handler *WebSocketHandler) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketHandler_Connection(t *testing.T) {
	t.Run("first tab triggers a catch-up sync and receives sync events", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("GetOrCreateUser", mock.Anything, "test@example.com").Return("u1", nil)
		store.On("ListUserSyncableConnectionIDs", mock.Anything, "u1").Return([]string{"c1", "c2"}, nil).Once()
		service := mocks.NewSyncService(t)
		service.On("PerformIncrementalSync", mock.Anything, "c1").Return(nil).Once()
		service.On("PerformIncrementalSync", mock.Anything, "c2").Return(mailsync.ErrTokenExpired).Once()

		hub := ws.NewHub(10)
		handler := NewWebSocketHandler(store, store, service, hub)
		url := newWSServer(t, handler)

		conn, resp, err := websocket.DefaultDialer.Dial(url+"?token=token", nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.Eventually(t, func() bool { return hub.ActiveConnections("u1") == 1 }, time.Second, 5*time.Millisecond)
		handler.Wait()

		// A second tab does not sync again.
		second, _, err := websocket.DefaultDialer.Dial(url+"?token=token", nil)
		require.NoError(t, err)
		defer func() { _ = second.Close() }()
		require.Eventually(t, func() bool { return hub.ActiveConnections("u1") == 2 }, time.Second, 5*time.Millisecond)
		handler.Wait()

		hub.NotifySync(context.Background(), mailsync.Event{Type: mailsync.EventSyncCommitted, UserID: "u1", ConnectionID: "c1"})
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"sync.committed"`)
	})

	t.Run("closing the tab unregisters it", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("GetOrCreateUser", mock.Anything, "test@example.com").Return("u1", nil)
		store.On("ListUserSyncableConnectionIDs", mock.Anything, "u1").Return(nil, nil)

		hub := ws.NewHub(10)
		handler := NewWebSocketHandler(store, store, mocks.NewSyncService(t), hub)
		url := newWSServer(t, handler)

		header := http.Header{"Authorization": []string{"Bearer token"}}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return hub.ActiveConnections("u1") == 1 }, time.Second, 5*time.Millisecond)

		_ = conn.Close()
		assert.Eventually(t, func() bool { return hub.ActiveConnections("u1") == 0 }, time.Second, 5*time.Millisecond)
		handler.Wait()
	})

	t.Run("rejects connection without token", func(t *testing.T) {
		handler := NewWebSocketHandler(mocks.NewStore(t), mocks.NewStore(t), mocks.NewSyncService(t), ws.NewHub(10))
		url := newWSServer(t, handler)

		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
