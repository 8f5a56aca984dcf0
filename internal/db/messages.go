package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
)

const messageColumns = `
	id,
	connection_id,
	thread_id,
	provider_message_id,
	internet_message_id,
	subject,
	sent_at,
	received_at,
	sys_labels,
	keywords,
	is_read,
	is_starred,
	snippet,
	unsafe_body_html,
	from_address_id,
	to_address_ids,
	cc_address_ids,
	bcc_address_ids,
	reply_to_address_ids`

// SaveMessage upserts a message by (connection, provider message id) and sets message.ID.
// Every field is overwritten with the latest fetched version.
func SaveMessage(ctx context.Context, q DBTX, message *models.Message) error {
	err := q.QueryRow(ctx, `
		INSERT INTO messages (
			connection_id,
			thread_id,
			provider_message_id,
			internet_message_id,
			subject,
			sent_at,
			received_at,
			sys_labels,
			keywords,
			is_read,
			is_starred,
			snippet,
			unsafe_body_html,
			from_address_id,
			to_address_ids,
			cc_address_ids,
			bcc_address_ids,
			reply_to_address_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (connection_id, provider_message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			internet_message_id = EXCLUDED.internet_message_id,
			subject = EXCLUDED.subject,
			sent_at = EXCLUDED.sent_at,
			received_at = EXCLUDED.received_at,
			sys_labels = EXCLUDED.sys_labels,
			keywords = EXCLUDED.keywords,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred,
			snippet = EXCLUDED.snippet,
			unsafe_body_html = EXCLUDED.unsafe_body_html,
			from_address_id = EXCLUDED.from_address_id,
			to_address_ids = EXCLUDED.to_address_ids,
			cc_address_ids = EXCLUDED.cc_address_ids,
			bcc_address_ids = EXCLUDED.bcc_address_ids,
			reply_to_address_ids = EXCLUDED.reply_to_address_ids,
			updated_at = now()
		RETURNING id
	`,
		message.ConnectionID,
		message.ThreadID,
		message.ProviderMessageID,
		message.InternetMessageID,
		message.Subject,
		message.SentAt,
		message.ReceivedAt,
		nonNil(message.SysLabels),
		nonNil(message.Keywords),
		message.IsRead,
		message.IsStarred,
		message.Snippet,
		message.UnsafeBodyHTML,
		nullIfEmpty(message.FromAddressID),
		nonNil(message.ToAddressIDs),
		nonNil(message.CCAddressIDs),
		nonNil(message.BCCAddressIDs),
		nonNil(message.ReplyToAddressIDs),
	).Scan(&message.ID)

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetMessagesForThread returns all messages for a thread, oldest first.
func GetMessagesForThread(ctx context.Context, q DBTX, threadID string) ([]*models.Message, error) {
	rows, err := q.Query(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = $1
		ORDER BY COALESCE(received_at, sent_at) NULLS LAST
	`, threadID)

	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CountMessages returns how many messages are stored for a connection.
func CountMessages(ctx context.Context, q DBTX, connectionID string) (int, error) {
	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE connection_id = $1`, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var fromAddressID *string

	err := row.Scan(
		&msg.ID,
		&msg.ConnectionID,
		&msg.ThreadID,
		&msg.ProviderMessageID,
		&msg.InternetMessageID,
		&msg.Subject,
		&msg.SentAt,
		&msg.ReceivedAt,
		&msg.SysLabels,
		&msg.Keywords,
		&msg.IsRead,
		&msg.IsStarred,
		&msg.Snippet,
		&msg.UnsafeBodyHTML,
		&fromAddressID,
		&msg.ToAddressIDs,
		&msg.CCAddressIDs,
		&msg.BCCAddressIDs,
		&msg.ReplyToAddressIDs,
	)
	if err != nil {
		return nil, err
	}

	msg.FromAddressID = derefString(fromAddressID)
	return &msg, nil
}
