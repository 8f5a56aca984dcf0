// Package reconcile persists provider email records into the local store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
)

var (
	ErrMissingMessageID = errors.New("record has no message id")
	ErrMissingThreadID  = errors.New("record has no thread id")
)

// Writer is the set of row-level upserts one record needs.
type Writer interface {
	SaveAddress(ctx context.Context, address *models.Address) error
	MergeThread(ctx context.Context, thread *models.Thread) error
	SaveMessage(ctx context.Context, message *models.Message) error
	ReplaceAttachments(ctx context.Context, messageID string, attachments []models.Attachment) error
}

// Store runs fn atomically. If fn returns an error nothing it wrote is kept.
type Store interface {
	WithinTx(ctx context.Context, fn func(w Writer) error) error
}

// Failure is a record that could not be stored.
type Failure struct {
	ProviderMessageID string
	Err               error
}

// Result summarizes one Reconcile call.
type Result struct {
	Saved  int
	Failed []Failure
}

// Reconciler upserts provider records as addresses, threads, messages and attachments.
type Reconciler struct {
	store Store
}

// New creates a Reconciler that writes each record through store in its own transaction.
func New(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile stores every record of a sync pass. A failing record is logged and reported
// in Result.Failed without stopping the batch. The only error returned is the context's,
// when the caller gave up part way through.
func (r *Reconciler) Reconcile(ctx context.Context, connectionID string, records []provider.EmailRecord) (*Result, error) {
	result := &Result{}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record := &records[i]
		err := r.store.WithinTx(ctx, func(w Writer) error {
			return saveRecord(ctx, w, connectionID, record)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			log.Printf("Reconciler: Skipping message %q for connection %s: %v", record.ID, connectionID, err)
			result.Failed = append(result.Failed, Failure{ProviderMessageID: record.ID, Err: err})
			continue
		}
		result.Saved++
	}

	return result, nil
}

func saveRecord(ctx context.Context, w Writer, connectionID string, record *provider.EmailRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return ErrMissingMessageID
	}
	if strings.TrimSpace(record.ThreadID) == "" {
		return ErrMissingThreadID
	}

	addrs := newAddressSaver(w, connectionID)

	var fromID string
	if record.From != nil {
		id, err := addrs.save(ctx, *record.From)
		if err != nil {
			return err
		}
		fromID = id
	}
	toIDs, err := addrs.saveAll(ctx, record.To)
	if err != nil {
		return err
	}
	ccIDs, err := addrs.saveAll(ctx, record.CC)
	if err != nil {
		return err
	}
	bccIDs, err := addrs.saveAll(ctx, record.BCC)
	if err != nil {
		return err
	}
	replyToIDs, err := addrs.saveAll(ctx, record.ReplyTo)
	if err != nil {
		return err
	}

	thread := ThreadFromRecord(connectionID, record)
	if err := w.MergeThread(ctx, thread); err != nil {
		return fmt.Errorf("failed to merge thread %q: %w", record.ThreadID, err)
	}

	message := MessageFromRecord(connectionID, record)
	message.ThreadID = thread.ID
	message.FromAddressID = fromID
	message.ToAddressIDs = toIDs
	message.CCAddressIDs = ccIDs
	message.BCCAddressIDs = bccIDs
	message.ReplyToAddressIDs = replyToIDs

	if err := w.SaveMessage(ctx, message); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if err := w.ReplaceAttachments(ctx, message.ID, message.Attachments); err != nil {
		return fmt.Errorf("failed to replace attachments: %w", err)
	}

	return nil
}

// addressSaver upserts each distinct address of one record once.
type addressSaver struct {
	w            Writer
	connectionID string
	ids          map[string]string
}

func newAddressSaver(w Writer, connectionID string) *addressSaver {
	return &addressSaver{w: w, connectionID: connectionID, ids: make(map[string]string)}
}

// save returns "" for an entry without an address.
func (s *addressSaver) save(ctx context.Context, in provider.EmailAddress) (string, error) {
	normalized := NormalizeAddress(in.Address)
	if normalized == "" {
		return "", nil
	}
	if id, ok := s.ids[normalized]; ok {
		return id, nil
	}

	address := &models.Address{
		ConnectionID: s.connectionID,
		Address:      normalized,
		Name:         strings.TrimSpace(in.Name),
	}
	if err := s.w.SaveAddress(ctx, address); err != nil {
		return "", fmt.Errorf("failed to save address %q: %w", normalized, err)
	}

	s.ids[normalized] = address.ID
	return address.ID, nil
}

func (s *addressSaver) saveAll(ctx context.Context, in []provider.EmailAddress) ([]string, error) {
	ids := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		id, err := s.save(ctx, a)
		if err != nil {
			return nil, err
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
