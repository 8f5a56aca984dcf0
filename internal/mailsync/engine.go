// Package mailsync runs delta sync passes against the mail provider and exposes
// the initial/incremental sync and send entry points.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
)

var (
	// ErrTokenExpired is returned when the provider rejected the access token during a pass.
	// The connection's access token has been cleared and no cursor was committed.
	ErrTokenExpired = errors.New("access token expired, re-authorization required")
	// ErrFullSyncNotReady is returned when the provider never reported a usable full sync
	// within the poll timeout.
	ErrFullSyncNotReady = errors.New("full sync did not become ready")
	// ErrPaginationLoop is returned when the provider hands out a page token already
	// followed in the same pass.
	ErrPaginationLoop = errors.New("provider repeated a page token")
)

var errNotReady = errors.New("full sync not ready")

// State is a step of a sync pass, logged as the pass moves through it.
type State string

const (
	StateNoCursor        State = "NoCursor"
	StateHasCursor       State = "HasCursor"
	StatePolling         State = "Polling"
	StatePaginating      State = "Paginating"
	StateReconciling     State = "Reconciling"
	StateCursorCommitted State = "CursorCommitted"
	StateTokenExpired    State = "TokenExpired"
)

// Store is the persistence a sync pass needs.
type Store interface {
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)
	CommitDeltaCursor(ctx context.Context, connectionID, cursor string) error
	ClearAccessToken(ctx context.Context, connectionID string) error
	SetLastSyncError(ctx context.Context, connectionID, message string) error
	StartSyncRun(ctx context.Context, connectionID string, kind models.SyncKind) (*models.SyncRun, error)
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Reconciler persists the records of a pass.
type Reconciler interface {
	Reconcile(ctx context.Context, connectionID string, records []provider.EmailRecord) (*reconcile.Result, error)
}

// EngineConfig holds the readiness poll and full sync window settings.
// Zero values fall back to the defaults below.
type EngineConfig struct {
	DaysWithin   int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

const (
	DefaultDaysWithin   = 3
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 2 * time.Minute
)

func (c EngineConfig) withDefaults() EngineConfig {
	if c.DaysWithin <= 0 {
		c.DaysWithin = DefaultDaysWithin
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// PassResult is the outcome of one committed pass.
type PassResult struct {
	Kind           models.SyncKind
	DeltaCursor    string
	RecordsFetched int
	Failed         []reconcile.Failure
}

// Engine drives sync passes: poll for full sync readiness when there is no cursor,
// drain delta pagination, reconcile and then commit the cursor.
type Engine struct {
	store      Store
	client     provider.SyncClient
	reconciler Reconciler
	notifier   Notifier
	locks      *KeyedMutex
	cfg        EngineConfig
}

// NewEngine creates an engine. A nil notifier disables notifications.
func NewEngine(store Store, client provider.SyncClient, reconciler Reconciler, notifier Notifier, cfg EngineConfig) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		store:      store,
		client:     client,
		reconciler: reconciler,
		notifier:   notifier,
		locks:      NewKeyedMutex(),
		cfg:        cfg.withDefaults(),
	}
}

// Sync runs one pass for the connection using the given access token. Without a cursor, or
// when full is set, the pass starts with a provider full sync; otherwise it continues from
// the stored cursor. Passes for the same connection never overlap: a second caller waits.
func (e *Engine) Sync(ctx context.Context, connectionID, token string, full bool) (*PassResult, error) {
	unlock, err := e.locks.Lock(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The cursor is read under the lock so concurrent passes cannot commit stale cursors.
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if !conn.IsAuthenticated() {
		return nil, fmt.Errorf("%w: connection has no access token", ErrTokenExpired)
	}

	kind := models.SyncKindIncremental
	if full || !conn.HasCursor() {
		kind = models.SyncKindInitial
	}

	run, err := e.store.StartSyncRun(ctx, conn.ID, kind)
	if err != nil {
		return nil, err
	}

	result, err := e.runPass(ctx, conn, token, kind)
	if errors.Is(err, provider.ErrTokenExpired) {
		err = fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	e.finish(ctx, conn, run, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) runPass(ctx context.Context, conn *models.Connection, token string, kind models.SyncKind) (*PassResult, error) {
	result := &PassResult{Kind: kind}

	startToken := conn.DeltaCursor
	if kind == models.SyncKindInitial {
		e.enter(conn.ID, StateNoCursor)
		e.enter(conn.ID, StatePolling)
		var err error
		if startToken, err = e.waitForFullSync(ctx, token); err != nil {
			return result, err
		}
	} else {
		e.enter(conn.ID, StateHasCursor)
	}

	e.enter(conn.ID, StatePaginating)
	records, nextDelta, err := e.drain(ctx, token, startToken)
	result.RecordsFetched = len(records)
	if err != nil {
		return result, err
	}

	e.enter(conn.ID, StateReconciling)
	reconciled, err := e.reconciler.Reconcile(ctx, conn.ID, records)
	if err != nil {
		return result, fmt.Errorf("reconciliation aborted: %w", err)
	}
	result.Failed = reconciled.Failed

	// A pass where no page reported a delta token keeps its starting point.
	cursor := nextDelta
	if cursor == "" {
		cursor = startToken
	}
	if err := e.store.CommitDeltaCursor(ctx, conn.ID, cursor); err != nil {
		return result, fmt.Errorf("failed to commit delta cursor: %w", err)
	}
	result.DeltaCursor = cursor
	e.enter(conn.ID, StateCursorCommitted)

	return result, nil
}

// waitForFullSync polls the provider until the full sync is ready and returns its
// starting delta token.
func (e *Engine) waitForFullSync(ctx context.Context, token string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.PollInterval
	b.MaxInterval = e.cfg.PollInterval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = e.cfg.PollTimeout

	deltaToken, err := backoff.RetryWithData(func() (string, error) {
		resp, err := e.client.StartFullSync(ctx, token, e.cfg.DaysWithin)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !resp.Ready {
			return "", errNotReady
		}
		if resp.SyncUpdatedToken == "" {
			return "", backoff.Permanent(fmt.Errorf("%w: ready response carried no sync token", ErrFullSyncNotReady))
		}
		return resp.SyncUpdatedToken, nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errNotReady) {
		return "", fmt.Errorf("%w after %s", ErrFullSyncNotReady, e.cfg.PollTimeout)
	}
	if err != nil {
		return "", err
	}
	return deltaToken, nil
}

// drain follows pagination from deltaToken until the provider stops handing out page
// tokens. It returns every record and the last non-empty delta token seen. A page token
// that comes back a second time ends the pass with ErrPaginationLoop.
func (e *Engine) drain(ctx context.Context, token, deltaToken string) ([]provider.EmailRecord, string, error) {
	var records []provider.EmailRecord
	var lastDelta string
	seen := make(map[string]struct{})

	params := provider.FetchParams{DeltaToken: deltaToken}
	for {
		page, err := e.client.FetchUpdated(ctx, token, params)
		if err != nil {
			return records, "", err
		}

		records = append(records, page.Records...)
		if page.NextDeltaToken != "" {
			lastDelta = page.NextDeltaToken
		}
		if page.NextPageToken == "" {
			return records, lastDelta, nil
		}
		if _, ok := seen[page.NextPageToken]; ok {
			return records, "", fmt.Errorf("%w: %q", ErrPaginationLoop, page.NextPageToken)
		}
		seen[page.NextPageToken] = struct{}{}
		params = provider.FetchParams{PageToken: page.NextPageToken}
	}
}

// finish records the outcome of a pass. It runs detached from ctx so a cancelled
// pass is still recorded.
func (e *Engine) finish(ctx context.Context, conn *models.Connection, run *models.SyncRun, result *PassResult, passErr error) {
	ctx = context.WithoutCancel(ctx)

	event := Event{
		ID:           uuid.NewString(),
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Kind:         run.Kind,
		OccurredAt:   time.Now().UTC(),
	}
	if result != nil {
		run.RecordsFetched = result.RecordsFetched
		run.RecordsFailed = len(result.Failed)
		event.RecordsFetched = run.RecordsFetched
		event.RecordsFailed = run.RecordsFailed
	}

	switch {
	case passErr == nil:
		run.Status = models.SyncStatusCommitted
		event.Type = EventSyncCommitted
		log.Printf("SyncEngine: Committed %s pass for connection %s: %d records, %d failed",
			run.Kind, conn.ID, run.RecordsFetched, run.RecordsFailed)

	case errors.Is(passErr, ErrTokenExpired):
		e.enter(conn.ID, StateTokenExpired)
		run.Status = models.SyncStatusTokenExpired
		run.Error = passErr.Error()
		event.Type = EventReauthRequired
		event.Error = run.Error
		if err := e.store.ClearAccessToken(ctx, conn.ID); err != nil {
			log.Printf("SyncEngine: Failed to clear access token for connection %s: %v", conn.ID, err)
		}

	default:
		run.Status = models.SyncStatusFailed
		run.Error = passErr.Error()
		event.Type = EventSyncFailed
		event.Error = run.Error
		log.Printf("SyncEngine: %s pass for connection %s failed: %v", run.Kind, conn.ID, passErr)
		if err := e.store.SetLastSyncError(ctx, conn.ID, run.Error); err != nil {
			log.Printf("SyncEngine: Failed to record sync error for connection %s: %v", conn.ID, err)
		}
	}

	if err := e.store.FinishSyncRun(ctx, run); err != nil {
		log.Printf("SyncEngine: Failed to finish sync run %s: %v", run.ID, err)
	}

	e.notifier.NotifySync(ctx, event)
}

func (e *Engine) enter(connectionID string, state State) {
	log.Printf("SyncEngine: Connection %s -> %s", connectionID, state)
}
