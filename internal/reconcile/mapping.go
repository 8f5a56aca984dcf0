package reconcile

import (
	"strings"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
)

// Provider system labels.
const (
	LabelInbox   = "inbox"
	LabelSent    = "sent"
	LabelDraft   = "draft"
	LabelUnread  = "unread"
	LabelFlagged = "flagged"
)

// NormalizeAddress is the dedup key for addresses within a connection.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ThreadFromRecord derives the thread state contributed by a single message.
func ThreadFromRecord(connectionID string, record *provider.EmailRecord) *models.Thread {
	return &models.Thread{
		ConnectionID:     connectionID,
		ProviderThreadID: record.ThreadID,
		Subject:          record.Subject,
		HasInboxItem:     record.HasLabel(LabelInbox),
		HasSentItem:      record.HasLabel(LabelSent),
		HasDraftItem:     record.HasLabel(LabelDraft),
		LastMessageAt:    messageTime(record),
	}
}

// MessageFromRecord maps the header, body and attachment fields of a record.
// Thread and address references are filled in by the caller once those rows exist.
func MessageFromRecord(connectionID string, record *provider.EmailRecord) *models.Message {
	msg := &models.Message{
		ConnectionID:      connectionID,
		ProviderMessageID: record.ID,
		InternetMessageID: record.InternetMessageID,
		Subject:           record.Subject,
		SentAt:            record.SentAt,
		ReceivedAt:        record.ReceivedAt,
		SysLabels:         record.SysLabels,
		Keywords:          record.Keywords,
		IsRead:            !record.HasLabel(LabelUnread),
		IsStarred:         record.HasLabel(LabelFlagged),
		Snippet:           record.BodySnippet,
		UnsafeBodyHTML:    record.Body,
	}

	for _, a := range record.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ProviderAttachmentID: a.ID,
			Filename:             a.Name,
			MimeType:             a.MimeType,
			SizeBytes:            a.Size,
			IsInline:             a.Inline,
			ContentID:            a.ContentID,
		})
	}

	return msg
}

func messageTime(record *provider.EmailRecord) *time.Time {
	if record.ReceivedAt != nil {
		return record.ReceivedAt
	}
	return record.SentAt
}
