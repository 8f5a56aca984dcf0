// Package events publishes sync events to NATS JetStream for other services
// (search indexing, rules) to consume.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vdavid/mailsync/internal/mailsync"
)

const (
	StreamName    = "MAILSYNC_EVENTS"
	subjectPrefix = "mailsync.user"
)

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends every sync event to JetStream. Event ids are used as message ids,
// so a retried publish is dropped by the stream's duplicate window.
type Publisher struct {
	nc *nats.Conn
	js jetStream

	publishTimeout time.Duration
}

var _ mailsync.Notifier = (*Publisher)(nil)

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailsync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js, publishTimeout: 5 * time.Second}, nil
}

// EnsureStream creates the events stream if it does not exist yet.
func (p *Publisher) EnsureStream() error {
	if info, err := p.js.StreamInfo(StreamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject is the subject an event is published on, e.g. "mailsync.user.<id>.sync.committed".
func Subject(event mailsync.Event) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, event.UserID, event.Type)
}

// Publish sends one event and waits for the stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, event mailsync.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	if _, err := p.js.Publish(Subject(event), payload, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NotifySync publishes the event. Failures are logged; the pass has already finished.
func (p *Publisher) NotifySync(ctx context.Context, event mailsync.Event) {
	if err := p.Publish(ctx, event); err != nil {
		log.Printf("EventPublisher: Failed to publish %s for connection %s: %v", event.Type, event.ConnectionID, err)
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
