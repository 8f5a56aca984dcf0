package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
)

// ReplaceAttachments swaps the stored attachments of a message for the given set
// and fills in their ids. Run it inside a transaction so readers never see a message
// without its attachments.
func ReplaceAttachments(ctx context.Context, q DBTX, messageID string, attachments []models.Attachment) error {
	if _, err := q.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}

	for i := range attachments {
		att := &attachments[i]
		att.MessageID = messageID

		err := q.QueryRow(ctx, `
			INSERT INTO attachments (message_id, provider_attachment_id, filename, mime_type, size_bytes, is_inline, content_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, messageID, att.ProviderAttachmentID, att.Filename, att.MimeType, att.SizeBytes, att.IsInline, att.ContentID).Scan(&att.ID)

		if err != nil {
			return fmt.Errorf("failed to save attachment %q: %w", att.Filename, err)
		}
	}

	return nil
}

// GetAttachmentsForMessages returns the attachments of the given messages in one query,
// keyed by message id. Messages without attachments have no entry.
func GetAttachmentsForMessages(ctx context.Context, q DBTX, messageIDs []string) (map[string][]models.Attachment, error) {
	byMessage := make(map[string][]models.Attachment)
	if len(messageIDs) == 0 {
		return byMessage, nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, message_id, provider_attachment_id, filename, mime_type, size_bytes, is_inline, content_id
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, filename
	`, messageIDs)

	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}

	attachments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Attachment, error) {
		var att models.Attachment
		err := row.Scan(
			&att.ID,
			&att.MessageID,
			&att.ProviderAttachmentID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.IsInline,
			&att.ContentID,
		)
		return att, err
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	for _, att := range attachments {
		byMessage[att.MessageID] = append(byMessage[att.MessageID], att)
	}

	return byMessage, nil
}
