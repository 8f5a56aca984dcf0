package api

import "net/http"

// SyncHandler triggers sync passes for a user's connection.
type SyncHandler struct {
	users       UserResolver
	connections ConnectionLookup
	service     SyncService
}

func NewSyncHandler(users UserResolver, connections ConnectionLookup, service SyncService) *SyncHandler {
	return &SyncHandler{
		users:       users,
		connections: connections,
		service:     service,
	}
}

// InitialSync runs a full sync for a newly connected account and returns the committed delta token.
// POST /api/v1/connections/{id}/sync/initial
func (h *SyncHandler) InitialSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		WriteJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "connection id is required")
		return
	}

	result, err := h.service.PerformInitialSync(ctx, userID, connectionID)
	if err != nil {
		writeServiceError(w, "SyncHandler", err)
		return
	}

	WriteJSONResponse(w, result)
}

// IncrementalSync continues from the connection's delta cursor.
// POST /api/v1/connections/{id}/sync
func (h *SyncHandler) IncrementalSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	conn, ok := getOwnedConnection(w, r, "SyncHandler", h.connections, userID)
	if !ok {
		return
	}
	if !conn.HasCursor() {
		WriteJSONError(w, http.StatusConflict, CodeInvalidRequest, "Account has not completed its initial sync")
		return
	}

	if err := h.service.PerformIncrementalSync(ctx, conn.ID); err != nil {
		writeServiceError(w, "SyncHandler", err)
		return
	}

	WriteJSONResponse(w, map[string]bool{"success": true})
}
