package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil/mocks"
)

func TestSyncHandler_InitialSync(t *testing.T) {
	const url = "/api/v1/connections/c1/sync/initial"

	t.Run("returns 401 when no user email in context", func(t *testing.T) {
		handler := NewSyncHandler(mocks.NewStore(t), mocks.NewStore(t), mocks.NewSyncService(t))

		rr := httptest.NewRecorder()
		handler.InitialSync(rr, createRequestWithUser(http.MethodPost, url, "", "c1", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("returns the sync result", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		service := mocks.NewSyncService(t)
		service.On("PerformInitialSync", mock.Anything, "u1", "c1").Return(&mailsync.InitialSyncResult{
			Success:        true,
			DeltaToken:     "D1",
			RecordsFetched: 3,
		}, nil).Once()

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, service).InitialSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var result mailsync.InitialSyncResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.True(t, result.Success)
		assert.Equal(t, "D1", result.DeltaToken)
		assert.Equal(t, 3, result.RecordsFetched)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "unknown account", err: mailsync.ErrAccountNotFound, wantStatus: http.StatusNotFound, wantCode: CodeAccountNotFound},
		{name: "expired token", err: mailsync.ErrTokenExpired, wantStatus: http.StatusUnauthorized, wantCode: CodeTokenExpired},
		{name: "failed sync", err: mailsync.ErrFailedToSync, wantStatus: http.StatusBadGateway, wantCode: CodeFailedToSync},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			store := mocks.NewStore(t)
			expectUser(store)
			service := mocks.NewSyncService(t)
			service.On("PerformInitialSync", mock.Anything, "u1", "c1").Return(nil, tc.err).Once()

			rr := httptest.NewRecorder()
			NewSyncHandler(store, store, service).InitialSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rr).Code)
		})
	}
}

func TestSyncHandler_IncrementalSync(t *testing.T) {
	const url = "/api/v1/connections/c1/sync"
	synced := &models.Connection{ID: "c1", UserID: "u1", AccessToken: "a", DeltaCursor: "D1"}

	t.Run("syncs an owned connection", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		store.On("GetConnectionForUser", mock.Anything, "u1", "c1").Return(synced, nil)
		service := mocks.NewSyncService(t)
		service.On("PerformIncrementalSync", mock.Anything, "c1").Return(nil).Once()

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, service).IncrementalSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	})

	t.Run("another user's connection is not found", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		store.On("GetConnectionForUser", mock.Anything, "u1", "c1").Return(nil, db.ErrConnectionNotFound)
		service := mocks.NewSyncService(t)

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, service).IncrementalSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, CodeAccountNotFound, decodeError(t, rr).Code)
		service.AssertNotCalled(t, "PerformIncrementalSync", mock.Anything, mock.Anything)
	})

	t.Run("connection without cursor needs an initial sync", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		store.On("GetConnectionForUser", mock.Anything, "u1", "c1").Return(&models.Connection{ID: "c1", AccessToken: "a"}, nil)

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, mocks.NewSyncService(t)).IncrementalSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		store.On("GetConnectionForUser", mock.Anything, "u1", "c1").Return(synced, nil)
		service := mocks.NewSyncService(t)
		service.On("PerformIncrementalSync", mock.Anything, "c1").Return(mailsync.ErrTokenExpired).Once()

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, service).IncrementalSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, CodeTokenExpired, decodeError(t, rr).Code)
	})

	t.Run("transient failure", func(t *testing.T) {
		store := mocks.NewStore(t)
		expectUser(store)
		store.On("GetConnectionForUser", mock.Anything, "u1", "c1").Return(synced, nil)
		service := mocks.NewSyncService(t)
		service.On("PerformIncrementalSync", mock.Anything, "c1").Return(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}).Once()

		rr := httptest.NewRecorder()
		NewSyncHandler(store, store, service).IncrementalSync(rr, createRequestWithUser(http.MethodPost, url, testEmail, "c1", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, CodeProviderUnavailable, decodeError(t, rr).Code)
	})
}
