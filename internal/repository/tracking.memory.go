package repository

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/mail-tracker/internal/model"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec *model.TrackingRecord
}

// MemoryStore keeps records in process memory. Everything is lost on
// restart; it exists for local runs and as the fallback when no durable
// backend is reachable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Backend() string {
	return BackendMemory
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Create(_ context.Context, rec *model.TrackingRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.TrackingID]; ok {
		return ErrDuplicateID
	}
	s.records[rec.TrackingID] = &memoryEntry{rec: rec.Clone()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, trackingID string) (*model.TrackingRecord, error) {
	e, ok := s.entry(trackingID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *MemoryStore) MarkOpened(_ context.Context, trackingID string) (bool, error) {
	e, ok := s.entry(trackingID)
	if !ok {
		return false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Opened {
		return false, nil
	}
	now := s.now()
	e.rec.Opened = true
	e.rec.OpenedAt = &now
	return true, nil
}

func (s *MemoryStore) MarkClicked(_ context.Context, trackingID, linkID string) (bool, error) {
	e, ok := s.entry(trackingID)
	if !ok {
		return false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	link := e.rec.Link(linkID)
	if link == nil {
		return false, ErrLinkNotFound
	}
	if link.Clicked {
		return false, nil
	}
	now := s.now()
	link.Clicked = true
	link.ClickedAt = &now
	return true, nil
}

func (s *MemoryStore) SetTransportMessageID(_ context.Context, trackingID, messageID string) error {
	e, ok := s.entry(trackingID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.TransportMessageID = messageID
	return nil
}

func (s *MemoryStore) ListLinks(ctx context.Context, trackingID string) ([]*model.LinkEntry, error) {
	rec, err := s.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return rec.Links, nil
}

func (s *MemoryStore) entry(trackingID string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[trackingID]
	return e, ok
}
