package models

import "time"

// Connection is one authorized mailbox at the mail API provider, owned by a user.
// Tokens are held decrypted here; the db package encrypts them at rest.
type Connection struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	EmailAddress   string     `json:"email_address"`
	DisplayName    string     `json:"display_name"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	DeltaCursor    string     `json:"-"`
	LastSyncedAt   *time.Time `json:"last_synced_at"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsAuthenticated reports whether the connection still holds an access token.
func (c *Connection) IsAuthenticated() bool {
	return c.AccessToken != ""
}

// HasCursor reports whether a sync pass has been committed for the connection.
func (c *Connection) HasCursor() bool {
	return c.DeltaCursor != ""
}

// TokenUpdate is the result of a successful token refresh.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type SyncKind string

const (
	SyncKindInitial     SyncKind = "initial"
	SyncKindIncremental SyncKind = "incremental"
)

type SyncStatus string

const (
	SyncStatusRunning      SyncStatus = "running"
	SyncStatusCommitted    SyncStatus = "committed"
	SyncStatusFailed       SyncStatus = "failed"
	SyncStatusTokenExpired SyncStatus = "token_expired"
)

// SyncRun records one sync pass for a connection.
type SyncRun struct {
	ID             string     `json:"id"`
	ConnectionID   string     `json:"connection_id"`
	Kind           SyncKind   `json:"kind"`
	Status         SyncStatus `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	RecordsFetched int        `json:"records_fetched"`
	RecordsFailed  int        `json:"records_failed"`
	Error          string     `json:"error,omitempty"`
}

// SyncStats summarizes what is stored for a connection.
type SyncStats struct {
	MessageCount int       `json:"message_count"`
	AddressCount int       `json:"address_count"`
	RecentRuns   []SyncRun `json:"recent_runs"`
}
