package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeThreadNotFound      = "THREAD_NOT_FOUND"
	CodeFailedToSync        = "FAILED_TO_SYNC"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderRejected    = "PROVIDER_REJECTED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// UserResolver maps the authenticated email to a user id.
type UserResolver interface {
	GetOrCreateUser(ctx context.Context, email string) (string, error)
}

// ConnectionLookup finds a connection owned by a user.
type ConnectionLookup interface {
	GetConnectionForUser(ctx context.Context, userID, connectionID string) (*models.Connection, error)
}

// SyncStatsReader summarizes the stored state of a connection.
type SyncStatsReader interface {
	GetSyncStats(ctx context.Context, connectionID string, runLimit int) (*models.SyncStats, error)
}

// ThreadReader loads a synced thread with its messages and attachments.
type ThreadReader interface {
	GetThread(ctx context.Context, connectionID, providerThreadID string) (*models.Thread, error)
}

// SyncService is the sync and send surface of mailsync.Service.
type SyncService interface {
	PerformInitialSync(ctx context.Context, userID, connectionID string) (*mailsync.InitialSyncResult, error)
	PerformIncrementalSync(ctx context.Context, connectionID string) error
	SendMessage(ctx context.Context, userID, connectionID string, msg *provider.OutgoingMessage) (string, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, users UserResolver) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Println("API: No user email in context")
		WriteJSONError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
		return "", false
	}

	userID, err := users.GetOrCreateUser(ctx, email)
	if err != nil {
		log.Printf("API: Failed to get/create user: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return "", false
	}

	return userID, true
}

// getOwnedConnection loads the {id} connection of the user and writes the HTTP error when
// it is missing, belongs to someone else or cannot be loaded. Returns (conn, true) on success.
func getOwnedConnection(w http.ResponseWriter, r *http.Request, component string, connections ConnectionLookup, userID string) (*models.Connection, bool) {
	connectionID := r.PathValue("id")
	if connectionID == "" {
		WriteJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "connection id is required")
		return nil, false
	}

	conn, err := connections.GetConnectionForUser(r.Context(), userID, connectionID)
	if errors.Is(err, db.ErrConnectionNotFound) {
		WriteJSONError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found")
		return nil, false
	}
	if err != nil {
		log.Printf("%s: Failed to load connection %s: %v", component, connectionID, err)
		WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return nil, false
	}

	return conn, true
}

// WriteJSONResponse encodes v into a buffer first so a failed encode never leaves a partial body.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	return writeJSON(w, http.StatusOK, v)
}

// WriteJSONError writes {"error": message, "code": code} with the given status.
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}
	return true
}

// writeServiceError maps mailsync errors onto HTTP statuses and error codes.
func writeServiceError(w http.ResponseWriter, component string, err error) {
	var httpErr *provider.HTTPError
	switch {
	case errors.Is(err, mailsync.ErrAccountNotFound):
		WriteJSONError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found")
	case errors.Is(err, mailsync.ErrTokenExpired):
		WriteJSONError(w, http.StatusUnauthorized, CodeTokenExpired, "Access token expired, reconnect the account")
	case errors.Is(err, mailsync.ErrFailedToSync):
		log.Printf("%s: %v", component, err)
		WriteJSONError(w, http.StatusBadGateway, CodeFailedToSync, "Failed to sync account")
	case errors.Is(err, context.Canceled):
		log.Printf("%s: Request cancelled: %v", component, err)
	case provider.IsTransient(err):
		log.Printf("%s: %v", component, err)
		WriteJSONError(w, http.StatusServiceUnavailable, CodeProviderUnavailable, "Mail provider unavailable, try again later")
	case errors.As(err, &httpErr):
		log.Printf("%s: %v", component, err)
		WriteJSONError(w, http.StatusBadGateway, CodeProviderRejected, "Mail provider rejected the request")
	default:
		log.Printf("%s: %v", component, err)
		WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}
