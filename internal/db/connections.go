package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrConnectionNotFound is returned when a connection does not exist or belongs to another user.
var ErrConnectionNotFound = errors.New("connection not found")

const connectionColumns = `
	id,
	user_id,
	email_address,
	display_name,
	encrypted_access_token,
	encrypted_refresh_token,
	token_expires_at,
	delta_cursor,
	last_synced_at,
	last_sync_error,
	created_at,
	updated_at`

// CreateConnection inserts a new connection, encrypting its tokens.
// If the user already has a connection for the same address, its tokens are replaced
// and its delta cursor is kept.
func CreateConnection(ctx context.Context, q DBTX, enc *crypto.Encryptor, conn *models.Connection) error {
	accessToken, err := enc.EncryptToken(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := enc.EncryptToken(conn.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO connections (
			user_id,
			email_address,
			display_name,
			encrypted_access_token,
			encrypted_refresh_token,
			token_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, email_address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`,
		conn.UserID,
		conn.EmailAddress,
		conn.DisplayName,
		accessToken,
		refreshToken,
		conn.TokenExpiresAt,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// GetConnection returns a connection by id with its tokens decrypted.
func GetConnection(ctx context.Context, q DBTX, enc *crypto.Encryptor, connectionID string) (*models.Connection, error) {
	row := q.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, connectionID)
	return scanConnection(row, enc)
}

// GetConnectionForUser returns the connection only if it belongs to the given user.
func GetConnectionForUser(ctx context.Context, q DBTX, enc *crypto.Encryptor, userID, connectionID string) (*models.Connection, error) {
	row := q.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1 AND user_id = $2`, connectionID, userID)
	return scanConnection(row, enc)
}

func scanConnection(row pgx.Row, enc *crypto.Encryptor) (*models.Connection, error) {
	var conn models.Connection
	var accessToken, refreshToken []byte
	var deltaCursor, lastSyncError *string

	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.EmailAddress,
		&conn.DisplayName,
		&accessToken,
		&refreshToken,
		&conn.TokenExpiresAt,
		&deltaCursor,
		&conn.LastSyncedAt,
		&lastSyncError,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if conn.AccessToken, err = enc.DecryptToken(accessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if conn.RefreshToken, err = enc.DecryptToken(refreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	conn.DeltaCursor = derefString(deltaCursor)
	conn.LastSyncError = derefString(lastSyncError)

	return &conn, nil
}

// ListSyncableConnectionIDs returns the connections eligible for incremental sync: a
// committed delta cursor and an access or refresh token. A connection whose access token
// was cleared mid-pass is still listed so the next pass can refresh it.
func ListSyncableConnectionIDs(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT id
		FROM connections
		WHERE delta_cursor IS NOT NULL
			AND (encrypted_access_token IS NOT NULL OR encrypted_refresh_token IS NOT NULL)
		ORDER BY last_synced_at NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable connections: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return ids, nil
}

// ListUserSyncableConnectionIDs is ListSyncableConnectionIDs restricted to one user.
func ListUserSyncableConnectionIDs(ctx context.Context, q DBTX, userID string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT id
		FROM connections
		WHERE user_id = $1 AND delta_cursor IS NOT NULL
			AND (encrypted_access_token IS NOT NULL OR encrypted_refresh_token IS NOT NULL)
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user connections: %w", err)
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateConnectionTokens stores refreshed tokens and their expiry.
func UpdateConnectionTokens(ctx context.Context, q DBTX, enc *crypto.Encryptor, connectionID string, update models.TokenUpdate) error {
	accessToken, err := enc.EncryptToken(update.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := enc.EncryptToken(update.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var expiresAt *time.Time
	if !update.ExpiresAt.IsZero() {
		expiresAt = &update.ExpiresAt
	}

	return execOnConnection(ctx, q, "update tokens", `
		UPDATE connections
		SET encrypted_access_token = $2,
			encrypted_refresh_token = $3,
			token_expires_at = $4,
			updated_at = now()
		WHERE id = $1
	`, connectionID, accessToken, refreshToken, expiresAt)
}

// ClearConnectionCredentials moves the connection into the unauthenticated state.
func ClearConnectionCredentials(ctx context.Context, q DBTX, connectionID string) error {
	return execOnConnection(ctx, q, "clear credentials", `
		UPDATE connections
		SET encrypted_access_token = NULL,
			encrypted_refresh_token = NULL,
			token_expires_at = NULL,
			updated_at = now()
		WHERE id = $1
	`, connectionID)
}

// ClearConnectionAccessToken drops only the access token, keeping the refresh token
// so a later refresh can restore the connection without user action.
func ClearConnectionAccessToken(ctx context.Context, q DBTX, connectionID string) error {
	return execOnConnection(ctx, q, "clear access token", `
		UPDATE connections
		SET encrypted_access_token = NULL,
			updated_at = now()
		WHERE id = $1
	`, connectionID)
}

// CommitDeltaCursor stores the cursor of a fully reconciled pass and marks the connection synced.
func CommitDeltaCursor(ctx context.Context, q DBTX, connectionID, cursor string) error {
	return execOnConnection(ctx, q, "commit delta cursor", `
		UPDATE connections
		SET delta_cursor = $2,
			last_synced_at = now(),
			last_sync_error = NULL,
			updated_at = now()
		WHERE id = $1
	`, connectionID, nullIfEmpty(cursor))
}

// SetLastSyncError records why the latest pass failed. An empty message clears it.
func SetLastSyncError(ctx context.Context, q DBTX, connectionID, message string) error {
	return execOnConnection(ctx, q, "set last sync error", `
		UPDATE connections
		SET last_sync_error = $2,
			updated_at = now()
		WHERE id = $1
	`, connectionID, nullIfEmpty(message))
}

func execOnConnection(ctx context.Context, q DBTX, action, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
