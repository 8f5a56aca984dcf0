package models

import "time"

// Address is a participant email address scoped to a connection.
type Address struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	Address      string `json:"address"`
	Name         string `json:"name"`
}

// Thread groups messages sharing a provider conversation id.
// The Has*Item flags and LastMessageAt are denormalized from the thread's messages.
type Thread struct {
	ID               string     `json:"id"`
	ConnectionID     string     `json:"connection_id"`
	ProviderThreadID string     `json:"provider_thread_id"`
	Subject          string     `json:"subject"`
	HasInboxItem     bool       `json:"has_inbox_item"`
	HasSentItem      bool       `json:"has_sent_item"`
	HasDraftItem     bool       `json:"has_draft_item"`
	LastMessageAt    *time.Time `json:"last_message_at"`
	Messages         []*Message `json:"messages,omitempty"`
}

type Message struct {
	ID                string       `json:"id"`
	ConnectionID      string       `json:"connection_id"`
	ThreadID          string       `json:"thread_id"`
	ProviderMessageID string       `json:"provider_message_id"`
	InternetMessageID string       `json:"internet_message_id"`
	Subject           string       `json:"subject"`
	SentAt            *time.Time   `json:"sent_at"`
	ReceivedAt        *time.Time   `json:"received_at"`
	SysLabels         []string     `json:"sys_labels"`
	Keywords          []string     `json:"keywords"`
	IsRead            bool         `json:"is_read"`
	IsStarred         bool         `json:"is_starred"`
	Snippet           string       `json:"snippet"`
	UnsafeBodyHTML    string       `json:"unsafe_body_html"`
	FromAddressID     string       `json:"from_address_id"`
	ToAddressIDs      []string     `json:"to_address_ids"`
	CCAddressIDs      []string     `json:"cc_address_ids"`
	BCCAddressIDs     []string     `json:"bcc_address_ids"`
	ReplyToAddressIDs []string     `json:"reply_to_address_ids"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID                   string `json:"id"`
	MessageID            string `json:"message_id"`
	ProviderAttachmentID string `json:"provider_attachment_id"`
	Filename             string `json:"filename"`
	MimeType             string `json:"mime_type"`
	SizeBytes            int64  `json:"size_bytes"`
	IsInline             bool   `json:"is_inline"`
	ContentID            string `json:"content_id,omitempty"`
}
