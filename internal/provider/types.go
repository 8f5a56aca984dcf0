package provider

import "time"

// FullSyncResponse is returned by POST /email/sync.
// Ready is false while the provider is still materializing the sync window.
type FullSyncResponse struct {
	Ready            bool   `json:"ready"`
	SyncUpdatedToken string `json:"syncUpdatedToken"`
	SyncDeletedToken string `json:"syncDeletedToken"`
}

// FetchParams selects where a FetchUpdated call starts. Exactly one field must be set:
// DeltaToken starts a pass from a bookmark, PageToken continues a pass in progress.
type FetchParams struct {
	DeltaToken string
	PageToken  string
}

// UpdatedPage is one page of GET /email/sync/updated.
type UpdatedPage struct {
	Records        []EmailRecord `json:"records"`
	NextPageToken  string        `json:"nextPageToken,omitempty"`
	NextDeltaToken string        `json:"nextDeltaToken,omitempty"`
	Length         int           `json:"length"`
}

type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type EmailAttachment struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"inline"`
	ContentID string `json:"contentId,omitempty"`
	// Content is base64 encoded. Only set on outgoing messages.
	Content string `json:"content,omitempty"`
}

// EmailRecord is a message as delivered by the provider delta endpoint.
type EmailRecord struct {
	ID                string            `json:"id"`
	ThreadID          string            `json:"threadId"`
	InternetMessageID string            `json:"internetMessageId"`
	Subject           string            `json:"subject"`
	SysLabels         []string          `json:"sysLabels"`
	Keywords          []string          `json:"keywords"`
	From              *EmailAddress     `json:"from"`
	To                []EmailAddress    `json:"to"`
	CC                []EmailAddress    `json:"cc"`
	BCC               []EmailAddress    `json:"bcc"`
	ReplyTo           []EmailAddress    `json:"replyTo"`
	Body              string            `json:"body"`
	BodySnippet       string            `json:"bodySnippet"`
	Attachments       []EmailAttachment `json:"attachments"`
	SentAt            *time.Time        `json:"sentAt"`
	ReceivedAt        *time.Time        `json:"receivedAt"`
}

// HasLabel reports whether the record carries the given system label.
func (r *EmailRecord) HasLabel(label string) bool {
	for _, l := range r.SysLabels {
		if l == label {
			return true
		}
	}
	return false
}

// OutgoingMessage is the body of POST /email/messages.
type OutgoingMessage struct {
	From        *EmailAddress     `json:"from,omitempty"`
	To          []EmailAddress    `json:"to"`
	CC          []EmailAddress    `json:"cc,omitempty"`
	BCC         []EmailAddress    `json:"bcc,omitempty"`
	ReplyTo     []EmailAddress    `json:"replyTo,omitempty"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	InReplyTo   string            `json:"inReplyTo,omitempty"`
	ThreadID    string            `json:"threadId,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
}

type sendMessageResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}
