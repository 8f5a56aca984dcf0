package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// MergeThread upserts a thread by provider thread id and writes the merged row back into thread.
// Flags are OR-merged and last_message_at only moves forward, so delivering messages
// out of order never regresses thread state. The subject follows the newest message.
func MergeThread(ctx context.Context, q DBTX, thread *models.Thread) error {
	err := q.QueryRow(ctx, `
		INSERT INTO threads (
			connection_id,
			provider_thread_id,
			subject,
			has_inbox_item,
			has_sent_item,
			has_draft_item,
			last_message_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, provider_thread_id) DO UPDATE SET
			subject = CASE
				WHEN threads.last_message_at IS NULL
					OR EXCLUDED.last_message_at >= threads.last_message_at
					THEN EXCLUDED.subject
				ELSE threads.subject
			END,
			has_inbox_item = threads.has_inbox_item OR EXCLUDED.has_inbox_item,
			has_sent_item = threads.has_sent_item OR EXCLUDED.has_sent_item,
			has_draft_item = threads.has_draft_item OR EXCLUDED.has_draft_item,
			last_message_at = GREATEST(threads.last_message_at, EXCLUDED.last_message_at)
		RETURNING id, subject, has_inbox_item, has_sent_item, has_draft_item, last_message_at
	`,
		thread.ConnectionID,
		thread.ProviderThreadID,
		thread.Subject,
		thread.HasInboxItem,
		thread.HasSentItem,
		thread.HasDraftItem,
		thread.LastMessageAt,
	).Scan(
		&thread.ID,
		&thread.Subject,
		&thread.HasInboxItem,
		&thread.HasSentItem,
		&thread.HasDraftItem,
		&thread.LastMessageAt,
	)

	if err != nil {
		return fmt.Errorf("failed to merge thread: %w", err)
	}

	return nil
}

// GetThreadByProviderID returns a thread by its provider thread id.
func GetThreadByProviderID(ctx context.Context, q DBTX, connectionID, providerThreadID string) (*models.Thread, error) {
	row := q.QueryRow(ctx, `
		SELECT id, connection_id, provider_thread_id, subject, has_inbox_item, has_sent_item, has_draft_item, last_message_at
		FROM threads
		WHERE connection_id = $1 AND provider_thread_id = $2
	`, connectionID, providerThreadID)
	return scanThread(row)
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var thread models.Thread

	err := row.Scan(
		&thread.ID,
		&thread.ConnectionID,
		&thread.ProviderThreadID,
		&thread.Subject,
		&thread.HasInboxItem,
		&thread.HasSentItem,
		&thread.HasDraftItem,
		&thread.LastMessageAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}
