package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
)

// memStore is an in-memory Store. A failed transaction restores the previous maps.
type memStore struct {
	addresses   map[string]models.Address
	threads     map[string]models.Thread
	messages    map[string]models.Message
	attachments map[string][]models.Attachment
	failSave    map[string]error
	nextID      int
	txCount     int
}

func newMemStore() *memStore {
	return &memStore{
		addresses:   map[string]models.Address{},
		threads:     map[string]models.Thread{},
		messages:    map[string]models.Message{},
		attachments: map[string][]models.Attachment{},
		failSave:    map[string]error{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(w Writer) error) error {
	s.txCount++
	addresses, threads, messages, attachments := maps.Clone(s.addresses), maps.Clone(s.threads), maps.Clone(s.messages), maps.Clone(s.attachments)
	if err := fn(s); err != nil {
		s.addresses, s.threads, s.messages, s.attachments = addresses, threads, messages, attachments
		return err
	}
	return nil
}

func (s *memStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *memStore) SaveAddress(_ context.Context, a *models.Address) error {
	key := a.ConnectionID + "|" + a.Address
	if existing, ok := s.addresses[key]; ok {
		a.ID = existing.ID
		if a.Name == "" {
			a.Name = existing.Name
		}
	} else {
		a.ID = s.id("addr")
	}
	s.addresses[key] = *a
	return nil
}

func (s *memStore) MergeThread(_ context.Context, t *models.Thread) error {
	key := t.ConnectionID + "|" + t.ProviderThreadID
	if existing, ok := s.threads[key]; ok {
		t.ID = existing.ID
		t.HasInboxItem = t.HasInboxItem || existing.HasInboxItem
		t.HasSentItem = t.HasSentItem || existing.HasSentItem
		t.HasDraftItem = t.HasDraftItem || existing.HasDraftItem
		if existing.LastMessageAt != nil && (t.LastMessageAt == nil || existing.LastMessageAt.After(*t.LastMessageAt)) {
			t.LastMessageAt = existing.LastMessageAt
		}
	} else {
		t.ID = s.id("thread")
	}
	s.threads[key] = *t
	return nil
}

func (s *memStore) SaveMessage(_ context.Context, m *models.Message) error {
	if err := s.failSave[m.ProviderMessageID]; err != nil {
		return err
	}
	key := m.ConnectionID + "|" + m.ProviderMessageID
	if existing, ok := s.messages[key]; ok {
		m.ID = existing.ID
	} else {
		m.ID = s.id("msg")
	}
	s.messages[key] = *m
	return nil
}

func (s *memStore) ReplaceAttachments(_ context.Context, messageID string, atts []models.Attachment) error {
	s.attachments[messageID] = append([]models.Attachment(nil), atts...)
	return nil
}

func (s *memStore) message(t *testing.T, providerID string) models.Message {
	t.Helper()
	m, ok := s.messages["c1|"+providerID]
	require.True(t, ok, "message %s not stored", providerID)
	return m
}

func ts(hour int) *time.Time {
	t := time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
	return &t
}

func sampleRecord(id string) provider.EmailRecord {
	return provider.EmailRecord{
		ID:                id,
		ThreadID:          "t1",
		InternetMessageID: "<" + id + "@example.com>",
		Subject:           "Quarterly numbers",
		SysLabels:         []string{"inbox", "unread"},
		From:              &provider.EmailAddress{Name: "Ann Lee", Address: " Ann@Example.com "},
		To:                []provider.EmailAddress{{Address: "me@example.com"}, {Address: "ME@example.com"}},
		CC:                []provider.EmailAddress{{Name: "Bob", Address: "bob@example.com"}, {Address: ""}},
		Body:              "<p>numbers</p>",
		BodySnippet:       "numbers",
		ReceivedAt:        ts(10),
		Attachments: []provider.EmailAttachment{
			{ID: "att-1", Name: "q3.pdf", MimeType: "application/pdf", Size: 2048},
		},
	}
}

func TestReconcile_MapsRecord(t *testing.T) {
	store := newMemStore()
	r := New(store)

	result, err := r.Reconcile(context.Background(), "c1", []provider.EmailRecord{sampleRecord("m1")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Empty(t, result.Failed)

	msg := store.message(t, "m1")
	assert.Equal(t, "Quarterly numbers", msg.Subject)
	assert.Equal(t, "<m1@example.com>", msg.InternetMessageID)
	assert.False(t, msg.IsRead)
	assert.False(t, msg.IsStarred)
	assert.Equal(t, "numbers", msg.Snippet)
	assert.Equal(t, "<p>numbers</p>", msg.UnsafeBodyHTML)
	assert.NotEmpty(t, msg.ThreadID)

	from := store.addresses["c1|ann@example.com"]
	assert.Equal(t, from.ID, msg.FromAddressID)
	assert.Equal(t, "Ann Lee", from.Name)

	// Case variants of one address collapse to one row and one reference.
	assert.Len(t, msg.ToAddressIDs, 1)
	assert.Equal(t, store.addresses["c1|me@example.com"].ID, msg.ToAddressIDs[0])
	assert.Len(t, msg.CCAddressIDs, 1)
	assert.Len(t, store.addresses, 3)

	thread := store.threads["c1|t1"]
	assert.Equal(t, msg.ThreadID, thread.ID)
	assert.True(t, thread.HasInboxItem)
	assert.False(t, thread.HasSentItem)
	assert.Equal(t, ts(10), thread.LastMessageAt)

	atts := store.attachments[msg.ID]
	require.Len(t, atts, 1)
	assert.Equal(t, "att-1", atts[0].ProviderAttachmentID)
	assert.Equal(t, int64(2048), atts[0].SizeBytes)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store := newMemStore()
	r := New(store)

	first := sampleRecord("m1")
	_, err := r.Reconcile(context.Background(), "c1", []provider.EmailRecord{first})
	require.NoError(t, err)
	firstID := store.message(t, "m1").ID

	second := sampleRecord("m1")
	second.Subject = "Quarterly numbers (corrected)"
	second.SysLabels = []string{"inbox", "flagged"}
	second.Attachments = nil
	_, err = r.Reconcile(context.Background(), "c1", []provider.EmailRecord{second})
	require.NoError(t, err)

	assert.Len(t, store.messages, 1)
	msg := store.message(t, "m1")
	assert.Equal(t, firstID, msg.ID)
	assert.Equal(t, "Quarterly numbers (corrected)", msg.Subject)
	assert.True(t, msg.IsRead)
	assert.True(t, msg.IsStarred)
	assert.Empty(t, store.attachments[msg.ID])
}

func TestReconcile_IsolatesFailures(t *testing.T) {
	store := newMemStore()
	saveErr := errors.New("value too long")
	store.failSave["m3"] = saveErr
	r := New(store)

	noThread := sampleRecord("m2")
	noThread.ThreadID = ""
	noID := sampleRecord("")
	failing := sampleRecord("m3")
	failing.ThreadID = "t3"

	records := []provider.EmailRecord{sampleRecord("m1"), noThread, noID, failing, sampleRecord("m4")}
	result, err := r.Reconcile(context.Background(), "c1", records)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Saved)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, "m2", result.Failed[0].ProviderMessageID)
	assert.ErrorIs(t, result.Failed[0].Err, ErrMissingThreadID)
	assert.ErrorIs(t, result.Failed[1].Err, ErrMissingMessageID)
	assert.ErrorIs(t, result.Failed[2].Err, saveErr)

	store.message(t, "m1")
	store.message(t, "m4")
	// The failed record's thread must not survive its rolled back transaction.
	_, ok := store.threads["c1|t3"]
	assert.False(t, ok)
}

func TestReconcile_StopsOnCancelledContext(t *testing.T) {
	store := newMemStore()
	r := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Reconcile(ctx, "c1", []provider.EmailRecord{sampleRecord("m1")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Saved)
	assert.Zero(t, store.txCount)
}

func TestReconcile_EmptyBatch(t *testing.T) {
	result, err := New(newMemStore()).Reconcile(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.Zero(t, result.Saved)
	assert.Empty(t, result.Failed)
}

func TestThreadFromRecord(t *testing.T) {
	tests := []struct {
		name      string
		labels    []string
		sentAt    *time.Time
		receiveAt *time.Time
		wantInbox bool
		wantSent  bool
		wantDraft bool
		wantTime  *time.Time
	}{
		{name: "inbox message uses received time", labels: []string{"inbox"}, sentAt: ts(8), receiveAt: ts(9), wantInbox: true, wantTime: ts(9)},
		{name: "sent message falls back to sent time", labels: []string{"sent"}, sentAt: ts(8), wantSent: true, wantTime: ts(8)},
		{name: "draft without timestamps", labels: []string{"draft"}, wantDraft: true},
		{name: "no labels", labels: nil, receiveAt: ts(7), wantTime: ts(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &provider.EmailRecord{ID: "m", ThreadID: "t", SysLabels: tt.labels, SentAt: tt.sentAt, ReceivedAt: tt.receiveAt}
			thread := ThreadFromRecord("c1", record)
			assert.Equal(t, tt.wantInbox, thread.HasInboxItem)
			assert.Equal(t, tt.wantSent, thread.HasSentItem)
			assert.Equal(t, tt.wantDraft, thread.HasDraftItem)
			assert.Equal(t, tt.wantTime, thread.LastMessageAt)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "ann@example.com", NormalizeAddress("  Ann@Example.COM\t"))
	assert.Equal(t, "", NormalizeAddress("   "))
}
