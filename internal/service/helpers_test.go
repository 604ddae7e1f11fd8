package service

import (
	"context"
	"sync"
	"testing"

	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/migration"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(migration.Models()...))
	for _, id := range []string{"campus", "class-1", "class-2"} {
		require.NoError(t, db.Create(&domain.Scope{ID: id, Kind: domain.ScopeClass}).Error)
	}
	return db
}

func testLimits() config.ChatConfig {
	return config.Default().Chat
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, scopeID string, ev *domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.ScopeID != scopeID {
		panic("scope mismatch")
	}
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []*domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Event(nil), p.events...)
}

// MockAuthorizer is a mock implementation of Authorizer
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, actorID, scopeID string, action domain.Action) error {
	args := m.Called(ctx, actorID, scopeID, action)
	return args.Error(0)
}

func allowAll() *MockAuthorizer {
	a := new(MockAuthorizer)
	a.On("Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return a
}

// MockProfileLookup is a mock implementation of ProfileLookup
type MockProfileLookup struct {
	mock.Mock
}

func (m *MockProfileLookup) LookupProfiles(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Profile), args.Error(1)
}
