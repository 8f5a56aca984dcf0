package api

import (
	"log"
	"net/http"
	"time"

	"github.com/vdavid/mailsync/internal/models"
)

// recentRunLimit is how many sync runs a status response carries.
const recentRunLimit = 10

// StatusHandler reports the sync state of a user's connection.
type StatusHandler struct {
	users       UserResolver
	connections ConnectionLookup
	stats       SyncStatsReader
}

func NewStatusHandler(users UserResolver, connections ConnectionLookup, stats SyncStatsReader) *StatusHandler {
	return &StatusHandler{
		users:       users,
		connections: connections,
		stats:       stats,
	}
}

type syncStatusResponse struct {
	ConnectionID    string           `json:"connection_id"`
	EmailAddress    string           `json:"email_address"`
	Authenticated   bool             `json:"authenticated"`
	NeedsReauth     bool             `json:"needs_reauth"`
	InitialSyncDone bool             `json:"initial_sync_done"`
	LastSyncedAt    *time.Time       `json:"last_synced_at"`
	LastSyncError   string           `json:"last_sync_error,omitempty"`
	MessageCount    int              `json:"message_count"`
	AddressCount    int              `json:"address_count"`
	RecordsFailed   int              `json:"records_failed"`
	RecentRuns      []models.SyncRun `json:"recent_runs"`
}

// Status returns the connection's sync state, stored counts and recent sync runs.
// records_failed is the failed-record count of the latest finished run.
// GET /api/v1/connections/{id}/sync/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	conn, ok := getOwnedConnection(w, r, "StatusHandler", h.connections, userID)
	if !ok {
		return
	}

	stats, err := h.stats.GetSyncStats(ctx, conn.ID, recentRunLimit)
	if err != nil {
		log.Printf("StatusHandler: Failed to load sync stats for %s: %v", conn.ID, err)
		WriteJSONError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	resp := syncStatusResponse{
		ConnectionID:    conn.ID,
		EmailAddress:    conn.EmailAddress,
		Authenticated:   conn.IsAuthenticated(),
		NeedsReauth:     conn.AccessToken == "" && conn.RefreshToken == "",
		InitialSyncDone: conn.HasCursor(),
		LastSyncedAt:    conn.LastSyncedAt,
		LastSyncError:   conn.LastSyncError,
		MessageCount:    stats.MessageCount,
		AddressCount:    stats.AddressCount,
		RecentRuns:      stats.RecentRuns,
	}
	if resp.RecentRuns == nil {
		resp.RecentRuns = []models.SyncRun{}
	}
	for _, run := range resp.RecentRuns {
		if run.FinishedAt != nil {
			resp.RecordsFailed = run.RecordsFailed
			break
		}
	}

	WriteJSONResponse(w, resp)
}
