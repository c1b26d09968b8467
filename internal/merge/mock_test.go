package merge

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

// --- Repository Mock ---

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetExhibitionBySource(ctx context.Context, source, recordID string) (*model.Exhibition, error) {
	args := m.Called(ctx, source, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Exhibition), args.Error(1)
}

func (m *mockRepo) ExistsExhibitionByKey(ctx context.Context, titleKey, venueKey string, sources []string) (bool, error) {
	args := m.Called(ctx, titleKey, venueKey, sources)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) InsertExhibition(ctx context.Context, e *model.Exhibition) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockRepo) UpdateExhibition(ctx context.Context, e *model.Exhibition) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockRepo) DeleteExhibition(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// --- VenueLookup Mock ---

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) Provider() string { return "kakao" }

func (m *mockLookup) LookupVenue(ctx context.Context, name string) (*model.Venue, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Venue), args.Error(1)
}

// --- Budget fake ---

type fakeBudget struct {
	mu        sync.Mutex
	remaining int
	throttled map[string]time.Duration
}

func newFakeBudget(n int) *fakeBudget {
	return &fakeBudget{remaining: n, throttled: make(map[string]time.Duration)}
}

func (b *fakeBudget) TryConsume(string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

func (b *fakeBudget) ReportThrottled(provider string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.throttled[provider] = d
}
