package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/vdavid/mailsync/internal/provider"
)

// maxSendRequestBytes bounds a send request, attachments included.
const maxSendRequestBytes = 25 << 20

// MessagesHandler sends mail from a user's connection.
type MessagesHandler struct {
	users   UserResolver
	service SyncService
}

func NewMessagesHandler(users UserResolver, service SyncService) *MessagesHandler {
	return &MessagesHandler{users: users, service: service}
}

type addressRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type attachmentRequest struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Content   string `json:"content"` // base64
	Inline    bool   `json:"inline"`
	ContentID string `json:"content_id"`
}

type sendMessageRequest struct {
	To          []addressRequest    `json:"to"`
	CC          []addressRequest    `json:"cc"`
	BCC         []addressRequest    `json:"bcc"`
	ReplyTo     []addressRequest    `json:"reply_to"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	InReplyTo   string              `json:"in_reply_to"`
	ThreadID    string              `json:"thread_id"`
	Attachments []attachmentRequest `json:"attachments"`
}

type sendMessageResponse struct {
	ID string `json:"id"`
}

func toAddresses(in []addressRequest) []provider.EmailAddress {
	if len(in) == 0 {
		return nil
	}
	out := make([]provider.EmailAddress, 0, len(in))
	for _, a := range in {
		out = append(out, provider.EmailAddress{Name: a.Name, Address: a.Address})
	}
	return out
}

// toOutgoing validates the request and converts it to the provider's message shape.
func (req *sendMessageRequest) toOutgoing() (*provider.OutgoingMessage, string) {
	if len(req.To)+len(req.CC)+len(req.BCC) == 0 {
		return nil, "at least one recipient is required"
	}
	for _, list := range [][]addressRequest{req.To, req.CC, req.BCC, req.ReplyTo} {
		for _, a := range list {
			if a.Address == "" {
				return nil, "recipient address is required"
			}
		}
	}

	msg := &provider.OutgoingMessage{
		To:        toAddresses(req.To),
		CC:        toAddresses(req.CC),
		BCC:       toAddresses(req.BCC),
		ReplyTo:   toAddresses(req.ReplyTo),
		Subject:   req.Subject,
		Body:      req.Body,
		InReplyTo: req.InReplyTo,
		ThreadID:  req.ThreadID,
	}

	for _, a := range req.Attachments {
		decoded, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, "attachment " + a.Name + " is not valid base64"
		}
		msg.Attachments = append(msg.Attachments, provider.EmailAttachment{
			Name:      a.Name,
			MimeType:  a.MimeType,
			Size:      int64(len(decoded)),
			Inline:    a.Inline,
			ContentID: a.ContentID,
			Content:   a.Content,
		})
	}

	return msg, ""
}

// Send sends a message and returns the provider message id.
// POST /api/v1/connections/{id}/messages
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendRequestBytes)).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	msg, problem := req.toOutgoing()
	if problem != "" {
		WriteJSONError(w, http.StatusBadRequest, CodeInvalidRequest, problem)
		return
	}

	id, err := h.service.SendMessage(ctx, userID, r.PathValue("id"), msg)
	if err != nil {
		writeServiceError(w, "MessagesHandler", err)
		return
	}

	WriteJSONResponse(w, sendMessageResponse{ID: id})
}
