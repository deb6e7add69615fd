package services

import (
	"context"
	"sync"
	"testing"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrackingStore struct {
	mock.Mock
}

func (m *MockTrackingStore) Create(ctx context.Context, rec *model.TrackingRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockTrackingStore) Get(ctx context.Context, id string) (*model.TrackingRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrackingRecord), args.Error(1)
}

func (m *MockTrackingStore) MarkOpened(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTrackingStore) MarkClicked(ctx context.Context, id, linkID string) (bool, error) {
	args := m.Called(ctx, id, linkID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTrackingStore) SetTransportMessageID(ctx context.Context, id, messageID string) error {
	return m.Called(ctx, id, messageID).Error(0)
}

func (m *MockTrackingStore) ListLinks(ctx context.Context, id string) ([]*model.LinkEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LinkEntry), args.Error(1)
}

func (m *MockTrackingStore) Backend() string { return "mock" }

func (m *MockTrackingStore) Close(context.Context) error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.EngagementEvent
	err    error
}

func (p *recordingPublisher) PublishEngagement(_ context.Context, ev *model.EngagementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func seedRecord(t *testing.T, store repository.TrackingStore, id string, links ...*model.LinkEntry) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &model.TrackingRecord{
		TrackingID:       id,
		RecipientName:    "Jane",
		RecipientAddress: "jane@example.com",
		Links:            links,
	}))
}

func TestTrackingService_HandleOpen_FirstThenRepeat(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	service := NewTrackingService(store, pub)
	ctx := context.Background()
	seedRecord(t, store, "abc")

	service.HandleOpen(ctx, "abc")
	rec, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, rec.Opened)
	firstOpenedAt := *rec.OpenedAt

	service.HandleOpen(ctx, "abc")
	rec, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, firstOpenedAt.Equal(*rec.OpenedAt))

	require.Equal(t, 1, pub.count())
	assert.Equal(t, model.EngagementOpen, pub.events[0].Type)
	assert.Equal(t, "abc", pub.events[0].TrackingID)
}

func TestTrackingService_HandleOpen_UnknownIDIsSilent(t *testing.T) {
	pub := &recordingPublisher{}
	service := NewTrackingService(repository.NewMemoryStore(), pub)

	assert.NotPanics(t, func() { service.HandleOpen(context.Background(), "nope") })
	assert.Zero(t, pub.count())
}

func TestTrackingService_HandleOpen_StoreErrorIsSwallowed(t *testing.T) {
	store := new(MockTrackingStore)
	ctx := context.Background()
	store.On("MarkOpened", ctx, "abc").Return(false, repository.ErrStoreUnavailable)

	service := NewTrackingService(store, nil)
	assert.NotPanics(t, func() { service.HandleOpen(ctx, "abc") })
	store.AssertExpectations(t)
}

func TestTrackingService_HandleOpen_PublishFailureKeepsTransition(t *testing.T) {
	store := repository.NewMemoryStore()
	service := NewTrackingService(store, &recordingPublisher{err: assert.AnError})
	ctx := context.Background()
	seedRecord(t, store, "abc")

	service.HandleOpen(ctx, "abc")

	rec, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, rec.Opened)
}

func TestTrackingService_HandleClick(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	service := NewTrackingService(store, pub)
	ctx := context.Background()
	seedRecord(t, store, "abc",
		&model.LinkEntry{LinkID: "hiringPlatform", OriginalURL: "https://jobs.example.com/1"},
		&model.LinkEntry{LinkID: "portfolio", OriginalURL: "https://me.example.com"},
	)

	target, err := service.HandleClick(ctx, "abc", "portfolio")
	require.NoError(t, err)
	assert.Equal(t, "https://me.example.com", target)

	target, err = service.HandleClick(ctx, "abc", "portfolio")
	require.NoError(t, err)
	assert.Equal(t, "https://me.example.com", target)

	links, err := store.ListLinks(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, links[0].Clicked)
	assert.True(t, links[1].Clicked)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, model.EngagementClick, pub.events[0].Type)
	assert.Equal(t, "portfolio", pub.events[0].LinkID)
}

func TestTrackingService_HandleClick_NotFound(t *testing.T) {
	store := repository.NewMemoryStore()
	service := NewTrackingService(store, nil)
	ctx := context.Background()
	seedRecord(t, store, "abc", &model.LinkEntry{LinkID: "hiringPlatform", OriginalURL: "https://jobs.example.com/1"})

	_, err := service.HandleClick(ctx, "missing", "hiringPlatform")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = service.HandleClick(ctx, "abc", "missing")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestTrackingService_HandleClick_StoreError(t *testing.T) {
	store := new(MockTrackingStore)
	ctx := context.Background()
	store.On("MarkClicked", ctx, "abc", "hiringPlatform").Return(false, repository.ErrStoreUnavailable)

	service := NewTrackingService(store, nil)
	target, err := service.HandleClick(ctx, "abc", "hiringPlatform")

	assert.Empty(t, target)
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
	store.AssertExpectations(t)
}

func TestTrackingService_HandleClick_ConcurrentFirstClickPublishedOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	service := NewTrackingService(store, pub)
	ctx := context.Background()
	seedRecord(t, store, "abc", &model.LinkEntry{LinkID: "hiringPlatform", OriginalURL: "https://jobs.example.com/1"})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.HandleClick(ctx, "abc", "hiringPlatform")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, pub.count())
}

func TestTrackingService_GetSummary(t *testing.T) {
	store := repository.NewMemoryStore()
	service := NewTrackingService(store, nil)
	ctx := context.Background()
	seedRecord(t, store, "abc",
		&model.LinkEntry{LinkID: "hiringPlatform", OriginalURL: "https://jobs.example.com/1"},
		&model.LinkEntry{LinkID: "portfolio", OriginalURL: "https://me.example.com"},
	)
	service.HandleOpen(ctx, "abc")

	summary, err := service.GetSummary(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", summary.TrackingID)
	assert.Equal(t, "Jane", summary.RecipientName)
	assert.Equal(t, "jane@example.com", summary.RecipientAddress)
	assert.True(t, summary.Opened)
	assert.NotNil(t, summary.OpenedAt)
	require.Len(t, summary.Links, 2)
	assert.Equal(t, "hiringPlatform", summary.Links[0].LinkID)
	assert.Equal(t, "https://jobs.example.com/1", summary.Links[0].URL)
	assert.Equal(t, "portfolio", summary.Links[1].LinkID)

	_, err = service.GetSummary(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrackingService_GetSummary_StoreError(t *testing.T) {
	store := new(MockTrackingStore)
	ctx := context.Background()
	store.On("Get", ctx, "abc").Return(nil, repository.ErrStoreUnavailable)

	_, err := NewTrackingService(store, nil).GetSummary(ctx, "abc")
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}
