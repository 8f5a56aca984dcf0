package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/token"
)

var (
	// ErrAccountNotFound is returned when the connection does not exist or belongs to another user.
	ErrAccountNotFound = errors.New("account not found")
	// ErrFailedToSync is returned when an initial sync could not be completed.
	ErrFailedToSync = errors.New("failed to sync account")
)

// ConnectionLookup finds a connection owned by a user.
type ConnectionLookup interface {
	GetConnectionForUser(ctx context.Context, userID, connectionID string) (*models.Connection, error)
	ClearAccessToken(ctx context.Context, connectionID string) error
}

// TokenSource hands out usable access tokens.
type TokenSource interface {
	GetValidToken(ctx context.Context, connectionID string) (string, error)
}

// InitialSyncResult is returned by PerformInitialSync.
type InitialSyncResult struct {
	Success        bool   `json:"success"`
	DeltaToken     string `json:"delta_token"`
	RecordsFetched int    `json:"records_fetched"`
	RecordsFailed  int    `json:"records_failed"`
}

// Service is the entry point for syncing and sending on behalf of a connection.
type Service struct {
	connections ConnectionLookup
	tokens      TokenSource
	engine      *Engine
	client      provider.SyncClient
}

// NewService wires the connection lookup, token source, sync engine and provider client
// into a Service.
func NewService(connections ConnectionLookup, tokens TokenSource, engine *Engine, client provider.SyncClient) *Service {
	return &Service{
		connections: connections,
		tokens:      tokens,
		engine:      engine,
		client:      client,
	}
}

// PerformInitialSync runs a full sync for a newly connected account.
// It fails with ErrAccountNotFound, ErrTokenExpired or ErrFailedToSync.
func (s *Service) PerformInitialSync(ctx context.Context, userID, connectionID string) (*InitialSyncResult, error) {
	if _, err := s.lookup(ctx, userID, connectionID); err != nil {
		return nil, err
	}

	accessToken, err := s.validToken(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFailedToSync, err)
	}

	result, err := s.engine.Sync(ctx, connectionID, accessToken, true)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFailedToSync, err)
	}

	return &InitialSyncResult{
		Success:        true,
		DeltaToken:     result.DeltaCursor,
		RecordsFetched: result.RecordsFetched,
		RecordsFailed:  len(result.Failed),
	}, nil
}

// PerformIncrementalSync continues from the connection's cursor. It returns ErrTokenExpired
// when the connection needs re-authorization. Any other failure leaves the cursor as it was,
// so the next round retries from the same point.
func (s *Service) PerformIncrementalSync(ctx context.Context, connectionID string) error {
	accessToken, err := s.validToken(ctx, connectionID)
	if err != nil {
		return err
	}

	_, err = s.engine.Sync(ctx, connectionID, accessToken, false)
	return err
}

// SendMessage sends a message from the connection's mailbox and returns the provider message id.
func (s *Service) SendMessage(ctx context.Context, userID, connectionID string, msg *provider.OutgoingMessage) (string, error) {
	conn, err := s.lookup(ctx, userID, connectionID)
	if err != nil {
		return "", err
	}

	accessToken, err := s.validToken(ctx, connectionID)
	if err != nil {
		return "", err
	}

	if msg.From == nil {
		msg.From = &provider.EmailAddress{Name: conn.DisplayName, Address: conn.EmailAddress}
	}

	id, err := s.client.SendMessage(ctx, accessToken, msg)
	if errors.Is(err, provider.ErrTokenExpired) {
		if clearErr := s.connections.ClearAccessToken(context.WithoutCancel(ctx), connectionID); clearErr != nil {
			log.Printf("SyncService: Failed to clear access token for connection %s: %v", connectionID, clearErr)
		}
		return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	return id, nil
}

func (s *Service) lookup(ctx context.Context, userID, connectionID string) (*models.Connection, error) {
	conn, err := s.connections.GetConnectionForUser(ctx, userID, connectionID)
	if errors.Is(err, db.ErrConnectionNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

// validToken maps token manager failures onto the service errors.
func (s *Service) validToken(ctx context.Context, connectionID string) (string, error) {
	accessToken, err := s.tokens.GetValidToken(ctx, connectionID)
	switch {
	case err == nil:
		return accessToken, nil
	case errors.Is(err, db.ErrConnectionNotFound):
		return "", ErrAccountNotFound
	case errors.Is(err, token.ErrUnauthenticated):
		return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
}
