package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/vdavid/mailsync/internal/db"
)

// ThreadHandler serves synced threads of a user's connection.
type ThreadHandler struct {
	users       UserResolver
	connections ConnectionLookup
	threads     ThreadReader
}

func NewThreadHandler(users UserResolver, connections ConnectionLookup, threads ThreadReader) *ThreadHandler {
	return &ThreadHandler{
		users:       users,
		connections: connections,
		threads:     threads,
	}
}

// GetThread returns a thread by its provider thread id with messages and attachments.
// GET /api/v1/connections/{id}/threads/{threadId}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	conn, ok := getOwnedConnection(w, r, "ThreadHandler", h.connections, userID)
	if !ok {
		return
	}

	threadID := r.PathValue("threadId")
	if threadID == "" {
		WriteJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required")
		return
	}

	thread, err := h.threads.GetThread(ctx, conn.ID, threadID)
	if errors.Is(err, db.ErrThreadNotFound) {
		WriteJSONError(w, http.StatusNotFound, CodeThreadNotFound, "Thread not found")
		return
	}
	if err != nil {
		log.Printf("ThreadHandler: Failed to get thread %s: %v", threadID, err)
		WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	WriteJSONResponse(w, thread)
}
