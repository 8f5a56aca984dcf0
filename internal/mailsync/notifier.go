package mailsync

import (
	"context"
	"time"

	"github.com/vdavid/mailsync/internal/models"
)

type EventType string

const (
	// EventSyncCommitted is sent after a pass committed its cursor.
	EventSyncCommitted EventType = "sync.committed"
	// EventSyncFailed is sent after a pass failed with a retryable error.
	EventSyncFailed EventType = "sync.failed"
	// EventReauthRequired is sent when the provider rejected the connection's token.
	EventReauthRequired EventType = "sync.reauth_required"
)

// Event describes the outcome of a sync pass.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	UserID         string          `json:"user_id"`
	ConnectionID   string          `json:"connection_id"`
	Kind           models.SyncKind `json:"kind"`
	RecordsFetched int             `json:"records_fetched"`
	RecordsFailed  int             `json:"records_failed"`
	Error          string          `json:"error,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Notifier delivers sync events. Delivery is best effort and must not block the pass for long.
type Notifier interface {
	NotifySync(ctx context.Context, event Event)
}

// MultiNotifier fans an event out to every notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifySync(ctx context.Context, event Event) {
	for _, n := range m {
		if n != nil {
			n.NotifySync(ctx, event)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) NotifySync(context.Context, Event) {}
