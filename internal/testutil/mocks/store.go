package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailsync/internal/models"
)

// Store is a mock of the store reads the API handlers need.
type Store struct {
	mock.Mock
}

// NewStore creates a Store mock whose expectations are asserted when the test ends.
func NewStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *Store {
	m := &Store{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Store) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *Store) GetConnectionForUser(ctx context.Context, userID, connectionID string) (*models.Connection, error) {
	args := m.Called(ctx, userID, connectionID)
	conn, _ := args.Get(0).(*models.Connection)
	return conn, args.Error(1)
}

func (m *Store) ListUserSyncableConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *Store) GetSyncStats(ctx context.Context, connectionID string, runLimit int) (*models.SyncStats, error) {
	args := m.Called(ctx, connectionID, runLimit)
	stats, _ := args.Get(0).(*models.SyncStats)
	return stats, args.Error(1)
}

func (m *Store) GetThread(ctx context.Context, connectionID, providerThreadID string) (*models.Thread, error) {
	args := m.Called(ctx, connectionID, providerThreadID)
	thread, _ := args.Get(0).(*models.Thread)
	return thread, args.Error(1)
}
