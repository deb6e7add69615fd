package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/queue"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/prom"
)

var (
	ErrNotFound     = errors.New("tracking record not found")
	ErrLinkNotFound = errors.New("link not found")
)

const (
	outcomeFirst   = "first"
	outcomeRepeat  = "repeat"
	outcomeUnknown = "unknown"
	outcomeError   = "error"
)

type TrackingService struct {
	store     repository.TrackingStore
	publisher queue.EventPublisher
	now       func() time.Time
}

func NewTrackingService(store repository.TrackingStore, publisher queue.EventPublisher) *TrackingService {
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	return &TrackingService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// HandleOpen records an open. It never fails: the pixel is served no matter
// what happened here.
func (s *TrackingService) HandleOpen(ctx context.Context, trackingID string) {
	first, err := s.store.MarkOpened(ctx, trackingID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		prom.IncTrackingEvent(model.EngagementOpen, outcomeUnknown)
		logger.Warn("open for unknown tracking id", "tracking_id", trackingID)
		return
	case err != nil:
		prom.IncTrackingEvent(model.EngagementOpen, outcomeError)
		prom.IncStoreError("mark_opened")
		logger.Error("failed to record open", "tracking_id", trackingID, "error", err)
		return
	case !first:
		prom.IncTrackingEvent(model.EngagementOpen, outcomeRepeat)
		logger.Debug("repeat open", "tracking_id", trackingID)
		return
	}

	prom.IncTrackingEvent(model.EngagementOpen, outcomeFirst)
	prom.IncFirstOpen()
	logger.Info("email opened", "tracking_id", trackingID)
	s.publish(ctx, &model.EngagementEvent{
		Type:       model.EngagementOpen,
		TrackingID: trackingID,
		OccurredAt: s.now().UTC(),
	})
}

// HandleClick records a click and returns the destination to redirect to.
func (s *TrackingService) HandleClick(ctx context.Context, trackingID, linkID string) (string, error) {
	first, err := s.store.MarkClicked(ctx, trackingID, linkID)
	if err != nil {
		return "", s.clickError(trackingID, linkID, err)
	}

	links, err := s.store.ListLinks(ctx, trackingID)
	if err != nil {
		return "", s.clickError(trackingID, linkID, err)
	}
	var target string
	for _, l := range links {
		if l.LinkID == linkID {
			target = l.OriginalURL
			break
		}
	}
	if target == "" {
		prom.IncTrackingEvent(model.EngagementClick, outcomeUnknown)
		return "", ErrLinkNotFound
	}

	if !first {
		prom.IncTrackingEvent(model.EngagementClick, outcomeRepeat)
		logger.Debug("repeat click", "tracking_id", trackingID, "link_id", linkID)
		return target, nil
	}

	prom.IncTrackingEvent(model.EngagementClick, outcomeFirst)
	prom.IncFirstClick(linkID)
	logger.Info("link clicked", "tracking_id", trackingID, "link_id", linkID)
	s.publish(ctx, &model.EngagementEvent{
		Type:       model.EngagementClick,
		TrackingID: trackingID,
		LinkID:     linkID,
		OccurredAt: s.now().UTC(),
	})
	return target, nil
}

func (s *TrackingService) clickError(trackingID, linkID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		prom.IncTrackingEvent(model.EngagementClick, outcomeUnknown)
		logger.Warn("click for unknown tracking id", "tracking_id", trackingID, "link_id", linkID)
		return ErrNotFound
	case errors.Is(err, repository.ErrLinkNotFound):
		prom.IncTrackingEvent(model.EngagementClick, outcomeUnknown)
		logger.Warn("click for unknown link", "tracking_id", trackingID, "link_id", linkID)
		return ErrLinkNotFound
	}
	prom.IncTrackingEvent(model.EngagementClick, outcomeError)
	prom.IncStoreError("mark_clicked")
	logger.Error("failed to record click", "tracking_id", trackingID, "link_id", linkID, "error", err)
	return fmt.Errorf("record click: %w", err)
}

// GetSummary returns the read-only view of one tracking record.
func (s *TrackingService) GetSummary(ctx context.Context, trackingID string) (*model.Summary, error) {
	rec, err := s.store.Get(ctx, trackingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		prom.IncStoreError("get")
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	links, err := s.store.ListLinks(ctx, trackingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		prom.IncStoreError("list_links")
		return nil, fmt.Errorf("list tracking links: %w", err)
	}
	return model.NewSummary(rec, links), nil
}

// Backend names the active tracking store.
func (s *TrackingService) Backend() string {
	return s.store.Backend()
}

// publish is best effort; an engagement event lost to a Redis outage does
// not undo the recorded transition.
func (s *TrackingService) publish(ctx context.Context, ev *model.EngagementEvent) {
	if err := s.publisher.PublishEngagement(ctx, ev); err != nil {
		logger.Warn("failed to publish engagement event", "type", ev.Type, "tracking_id", ev.TrackingID, "error", err)
	}
}
