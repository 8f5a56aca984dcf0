package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/reconcile"
)

// Store adapts the package-level query functions to the interfaces consumed by
// the token manager, the sync engine and the reconciler.
type Store struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewStore creates a Store that uses the given pool and token encryptor.
func NewStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *Store {
	return &Store{pool: pool, encryptor: encryptor}
}

func (s *Store) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	return GetOrCreateUser(ctx, s.pool, email)
}

func (s *Store) GetConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	return GetConnection(ctx, s.pool, s.encryptor, connectionID)
}

func (s *Store) GetConnectionForUser(ctx context.Context, userID, connectionID string) (*models.Connection, error) {
	return GetConnectionForUser(ctx, s.pool, s.encryptor, userID, connectionID)
}

func (s *Store) ListSyncableConnectionIDs(ctx context.Context) ([]string, error) {
	return ListSyncableConnectionIDs(ctx, s.pool)
}

func (s *Store) ListUserSyncableConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	return ListUserSyncableConnectionIDs(ctx, s.pool, userID)
}

// GetSyncStats counts the stored messages and addresses of a connection and
// returns its runLimit most recent sync runs.
func (s *Store) GetSyncStats(ctx context.Context, connectionID string, runLimit int) (*models.SyncStats, error) {
	messages, err := CountMessages(ctx, s.pool, connectionID)
	if err != nil {
		return nil, err
	}
	addresses, err := CountAddresses(ctx, s.pool, connectionID)
	if err != nil {
		return nil, err
	}
	runs, err := ListSyncRuns(ctx, s.pool, connectionID, runLimit)
	if err != nil {
		return nil, err
	}
	return &models.SyncStats{MessageCount: messages, AddressCount: addresses, RecentRuns: runs}, nil
}

// GetThread loads a thread by provider thread id with its messages, oldest first,
// and their attachments.
func (s *Store) GetThread(ctx context.Context, connectionID, providerThreadID string) (*models.Thread, error) {
	thread, err := GetThreadByProviderID(ctx, s.pool, connectionID, providerThreadID)
	if err != nil {
		return nil, err
	}

	messages, err := GetMessagesForThread(ctx, s.pool, thread.ID)
	if err != nil {
		return nil, err
	}

	messageIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		messageIDs = append(messageIDs, msg.ID)
	}
	attachments, err := GetAttachmentsForMessages(ctx, s.pool, messageIDs)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		msg.Attachments = attachments[msg.ID]
	}

	thread.Messages = messages
	return thread, nil
}

func (s *Store) UpdateTokens(ctx context.Context, connectionID string, update models.TokenUpdate) error {
	return UpdateConnectionTokens(ctx, s.pool, s.encryptor, connectionID, update)
}

func (s *Store) ClearCredentials(ctx context.Context, connectionID string) error {
	return ClearConnectionCredentials(ctx, s.pool, connectionID)
}

func (s *Store) ClearAccessToken(ctx context.Context, connectionID string) error {
	return ClearConnectionAccessToken(ctx, s.pool, connectionID)
}

func (s *Store) CommitDeltaCursor(ctx context.Context, connectionID, cursor string) error {
	return CommitDeltaCursor(ctx, s.pool, connectionID, cursor)
}

func (s *Store) SetLastSyncError(ctx context.Context, connectionID, message string) error {
	return SetLastSyncError(ctx, s.pool, connectionID, message)
}

func (s *Store) StartSyncRun(ctx context.Context, connectionID string, kind models.SyncKind) (*models.SyncRun, error) {
	return StartSyncRun(ctx, s.pool, connectionID, kind)
}

func (s *Store) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	return FinishSyncRun(ctx, s.pool, run)
}

// WithinTx runs fn in a transaction that is committed only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(w reconcile.Writer) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txWriter{tx: tx})
	})
}

type txWriter struct {
	tx pgx.Tx
}

func (w *txWriter) SaveAddress(ctx context.Context, address *models.Address) error {
	return SaveAddress(ctx, w.tx, address)
}

func (w *txWriter) MergeThread(ctx context.Context, thread *models.Thread) error {
	return MergeThread(ctx, w.tx, thread)
}

func (w *txWriter) SaveMessage(ctx context.Context, message *models.Message) error {
	return SaveMessage(ctx, w.tx, message)
}

func (w *txWriter) ReplaceAttachments(ctx context.Context, messageID string, attachments []models.Attachment) error {
	return ReplaceAttachments(ctx, w.tx, messageID, attachments)
}

var _ reconcile.Store = (*Store)(nil)
