package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/provider"
)

// SyncService is a mock of the mailsync.Service entry points.
type SyncService struct {
	mock.Mock
}

// NewSyncService creates a SyncService mock whose expectations are asserted when the test ends.
func NewSyncService(t interface {
	mock.TestingT
	Cleanup(func())
}) *SyncService {
	m := &SyncService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SyncService) PerformInitialSync(ctx context.Context, userID, connectionID string) (*mailsync.InitialSyncResult, error) {
	args := m.Called(ctx, userID, connectionID)
	result, _ := args.Get(0).(*mailsync.InitialSyncResult)
	return result, args.Error(1)
}

func (m *SyncService) PerformIncrementalSync(ctx context.Context, connectionID string) error {
	args := m.Called(ctx, connectionID)
	return args.Error(0)
}

func (m *SyncService) SendMessage(ctx context.Context, userID, connectionID string, msg *provider.OutgoingMessage) (string, error) {
	args := m.Called(ctx, userID, connectionID, msg)
	return args.String(0), args.Error(1)
}
