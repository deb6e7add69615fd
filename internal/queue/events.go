package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/mail-tracker/internal/model"
)

// EventPublisher emits engagement events for downstream consumers.
type EventPublisher interface {
	PublishEngagement(ctx context.Context, ev *model.EngagementEvent) error
}

// EngagementStream publishes first opens and first clicks to a Redis stream.
type EngagementStream struct {
	q *Queue
}

func NewEngagementStream(q *Queue) *EngagementStream {
	return &EngagementStream{q: q}
}

func (s *EngagementStream) PublishEngagement(ctx context.Context, ev *model.EngagementEvent) error {
	_, err := s.q.PublishJSON(ctx, ev, map[string]string{
		"type":        ev.Type,
		"tracking_id": ev.TrackingID,
	})
	return err
}

// Tail consumes engagement events until ctx is done.
func (s *EngagementStream) Tail(ctx context.Context, fn func(*model.EngagementEvent) error) error {
	err := s.q.Consume(func(_ context.Context, msg *Message) error {
		var ev model.EngagementEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("decode engagement event %s: %w", msg.ID, err)
		}
		return fn(&ev)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return s.q.Stop(s.q.config.PollInterval * 5)
}

// NopPublisher drops every event; used when no Redis is configured.
type NopPublisher struct{}

func (NopPublisher) PublishEngagement(context.Context, *model.EngagementEvent) error {
	return nil
}
