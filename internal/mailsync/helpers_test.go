package mailsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"github.com/vdavid/mailsync/internal/testutil"
)

// memStore is an in-memory stand-in for db.Store.
type memStore struct {
	mu      sync.Mutex
	conns   map[string]*models.Connection
	runs    []*models.SyncRun
	commits []string
}

func newMemStore(conns ...*models.Connection) *memStore {
	s := &memStore{conns: map[string]*models.Connection{}}
	for _, c := range conns {
		s.conns[c.ID] = c
	}
	return s
}

// conn returns a snapshot of the stored connection.
func (s *memStore) conn(id string) *models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.conns[id]
	return &copied
}

func (s *memStore) lastRun() models.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.runs[len(s.runs)-1]
}

func (s *memStore) GetConnection(_ context.Context, id string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, db.ErrConnectionNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *memStore) GetConnectionForUser(ctx context.Context, userID, id string) (*models.Connection, error) {
	c, err := s.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, db.ErrConnectionNotFound
	}
	return c, nil
}

// ListSyncableConnectionIDs mirrors the SQL filter: a cursor and at least one token.
func (s *memStore) ListSyncableConnectionIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.conns {
		if (c.AccessToken != "" || c.RefreshToken != "") && c.HasCursor() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) CommitDeltaCursor(_ context.Context, id, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.conns[id].DeltaCursor = cursor
	s.conns[id].LastSyncedAt = &now
	s.conns[id].LastSyncError = ""
	s.commits = append(s.commits, cursor)
	return nil
}

func (s *memStore) ClearAccessToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id].AccessToken = ""
	return nil
}

func (s *memStore) ClearCredentials(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id].AccessToken = ""
	s.conns[id].RefreshToken = ""
	s.conns[id].TokenExpiresAt = nil
	return nil
}

func (s *memStore) UpdateTokens(_ context.Context, id string, update models.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id].AccessToken = update.AccessToken
	s.conns[id].RefreshToken = update.RefreshToken
	expiresAt := update.ExpiresAt
	s.conns[id].TokenExpiresAt = &expiresAt
	return nil
}

func (s *memStore) SetLastSyncError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id].LastSyncError = message
	return nil
}

func (s *memStore) StartSyncRun(_ context.Context, id string, kind models.SyncKind) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.SyncRun{ID: "run-" + id, ConnectionID: id, Kind: kind, Status: models.SyncStatusRunning, StartedAt: time.Now()}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *memStore) FinishSyncRun(_ context.Context, run *models.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

// fakeReconciler keeps the last version of every record it was given.
type fakeReconciler struct {
	mu        sync.Mutex
	saved     map[string]provider.EmailRecord
	calls     int
	fail      map[string]bool
	err       error
	delay     time.Duration
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{saved: map[string]provider.EmailRecord{}, fail: map[string]bool{}}
}

func (r *fakeReconciler) Reconcile(ctx context.Context, _ string, records []provider.EmailRecord) (*reconcile.Result, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.maxActive.Load()
		if n <= peak || r.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}

	result := &reconcile.Result{}
	for _, rec := range records {
		if r.fail[rec.ID] {
			result.Failed = append(result.Failed, reconcile.Failure{ProviderMessageID: rec.ID, Err: errors.New("malformed")})
			continue
		}
		r.saved[rec.ID] = rec
		result.Saved++
	}
	return result, nil
}

func (r *fakeReconciler) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func (r *fakeReconciler) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingNotifier collects events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) NotifySync(_ context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) last() Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

func records(ids ...string) []provider.EmailRecord {
	out := make([]provider.EmailRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.EmailRecord{ID: id, ThreadID: "t-" + id, Subject: "subject " + id})
	}
	return out
}

func testConnection(cursor string) *models.Connection {
	expiresAt := time.Now().Add(time.Hour)
	return &models.Connection{
		ID:             "c1",
		UserID:         "u1",
		EmailAddress:   "me@example.com",
		DisplayName:    "Me",
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		TokenExpiresAt: &expiresAt,
		DeltaCursor:    cursor,
	}
}

type engineFixture struct {
	store      *memStore
	provider   *testutil.FakeProvider
	reconciler *fakeReconciler
	notifier   *recordingNotifier
	engine     *Engine
}

func newEngineFixture(t *testing.T, conn *models.Connection) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:      newMemStore(conn),
		provider:   testutil.NewFakeProvider(t),
		reconciler: newFakeReconciler(),
		notifier:   &recordingNotifier{},
	}
	client := provider.NewClient(f.provider.URL(), 5*time.Second)
	f.engine = NewEngine(f.store, client, f.reconciler, f.notifier, EngineConfig{
		DaysWithin:   3,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
	})
	return f
}
