package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
)

// Point lookups used to assert on stored rows. The sync path never reads single rows back.

var (
	errAddressNotFound = errors.New("address not found")
	errMessageNotFound = errors.New("message not found")
)

func getAddress(ctx context.Context, q DBTX, connectionID, address string) (*models.Address, error) {
	var a models.Address

	err := q.QueryRow(ctx, `
		SELECT id, connection_id, address, name
		FROM addresses
		WHERE connection_id = $1 AND address = $2
	`, connectionID, address).Scan(&a.ID, &a.ConnectionID, &a.Address, &a.Name)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	return &a, nil
}

func getThreadByID(ctx context.Context, q DBTX, threadID string) (*models.Thread, error) {
	row := q.QueryRow(ctx, `
		SELECT id, connection_id, provider_thread_id, subject, has_inbox_item, has_sent_item, has_draft_item, last_message_at
		FROM threads
		WHERE id = $1
	`, threadID)
	return scanThread(row)
}

func getMessageByProviderID(ctx context.Context, q DBTX, connectionID, providerMessageID string) (*models.Message, error) {
	row := q.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE connection_id = $1 AND provider_message_id = $2
	`, connectionID, providerMessageID)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}
