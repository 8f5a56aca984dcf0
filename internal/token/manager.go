package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"golang.org/x/sync/singleflight"
)

// ExpirySafetyMargin is how long before expiry a token is already treated as expired.
const ExpirySafetyMargin = 5 * time.Minute

var (
	// ErrNoRefreshToken is returned by Refresh when the connection has no refresh token stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshRejected is returned when the provider rejected the refresh token.
	// The connection's credentials have been cleared by the time it is returned.
	ErrRefreshRejected = errors.New("refresh token rejected, re-authorization required")
	// ErrUnauthenticated is returned by GetValidToken when no usable token can be produced.
	ErrUnauthenticated = errors.New("connection is not authenticated")
)

// ConnectionStore is the persistence the token manager needs.
type ConnectionStore interface {
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)
	UpdateTokens(ctx context.Context, connectionID string, update models.TokenUpdate) error
	ClearCredentials(ctx context.Context, connectionID string) error
}

// Manager owns the access/refresh token lifecycle of connections.
type Manager struct {
	store     ConnectionStore
	refresher Refresher
	now       func() time.Time
	inflight  singleflight.Group
}

// NewManager creates a token manager.
func NewManager(store ConnectionStore, refresher Refresher) *Manager {
	return &Manager{
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
}

// IsTokenValid reports whether the connection's access token can be used right now.
// A connection without a recorded expiry is treated as valid.
func (m *Manager) IsTokenValid(conn *models.Connection) bool {
	if conn == nil || conn.AccessToken == "" {
		return false
	}
	if conn.TokenExpiresAt == nil {
		return true
	}
	return conn.TokenExpiresAt.After(m.now().Add(ExpirySafetyMargin))
}

// Refresh exchanges the stored refresh token for a new access token and persists it.
// When the provider rejects the refresh token the connection is moved to the unauthenticated
// state and ErrRefreshRejected is returned. Other failures persist nothing.
func (m *Manager) Refresh(ctx context.Context, connectionID string) error {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	return m.refresh(ctx, conn)
}

func (m *Manager) refresh(ctx context.Context, conn *models.Connection) error {
	if conn.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	update, err := m.refresher.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenInvalid) {
			log.Printf("TokenManager: Refresh token rejected for connection %s, clearing credentials: %v", conn.ID, err)
			if clearErr := m.store.ClearCredentials(ctx, conn.ID); clearErr != nil {
				return fmt.Errorf("failed to clear credentials after rejected refresh: %w", clearErr)
			}
			return ErrRefreshRejected
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	if update.RefreshToken == "" {
		update.RefreshToken = conn.RefreshToken
	}

	if err := m.store.UpdateTokens(ctx, conn.ID, *update); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}

	conn.AccessToken = update.AccessToken
	conn.RefreshToken = update.RefreshToken
	expiresAt := update.ExpiresAt
	conn.TokenExpiresAt = &expiresAt
	return nil
}

// GetValidToken returns a usable access token for the connection, refreshing it first if needed.
// It returns ErrUnauthenticated when the connection needs re-authorization. Transient refresh
// failures are returned wrapped so callers can retry later.
//
// Concurrent calls for the same connection share one refresh, since refreshing twice with the
// same refresh token can invalidate the first result.
func (m *Manager) GetValidToken(ctx context.Context, connectionID string) (string, error) {
	ch := m.inflight.DoChan(connectionID, func() (any, error) {
		return m.getValidToken(context.WithoutCancel(ctx), connectionID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) getValidToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load connection: %w", err)
	}

	if m.IsTokenValid(conn) {
		return conn.AccessToken, nil
	}

	if err := m.refresh(ctx, conn); err != nil {
		if errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrRefreshRejected) {
			return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return "", err
	}

	return conn.AccessToken, nil
}
