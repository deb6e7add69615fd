package repository

import (
	"time"

	"github.com/nimasrn/mail-tracker/internal/model"
)

type TrackingEntity struct {
	TrackingID         string                `gorm:"primaryKey;column:tracking_id;size:64"`
	RecipientName      string                `gorm:"column:recipient_name;not null;default:''"`
	RecipientAddress   string                `gorm:"column:recipient_address;not null;index"`
	TransportMessageID *string               `gorm:"column:transport_message_id"`
	Opened             bool                  `gorm:"column:opened;not null;default:false"`
	OpenedAt           *time.Time            `gorm:"column:opened_at"`
	SentAt             time.Time             `gorm:"column:sent_at;not null"`
	Links              []*TrackingLinkEntity `gorm:"foreignKey:TrackingID;references:TrackingID"`
}

func (TrackingEntity) TableName() string {
	return "email_tracking"
}

type TrackingLinkEntity struct {
	ID          int64      `gorm:"primaryKey;autoIncrement;column:id"`
	TrackingID  string     `gorm:"column:tracking_id;size:64;not null;uniqueIndex:uq_email_tracking_links_tracking_link"`
	LinkID      string     `gorm:"column:link_id;size:64;not null;uniqueIndex:uq_email_tracking_links_tracking_link"`
	Position    int        `gorm:"column:position;not null"`
	OriginalURL string     `gorm:"column:original_url;not null"`
	Clicked     bool       `gorm:"column:clicked;not null;default:false"`
	ClickedAt   *time.Time `gorm:"column:clicked_at"`
}

func (TrackingLinkEntity) TableName() string {
	return "email_tracking_links"
}

func toTrackingEntity(m *model.TrackingRecord) *TrackingEntity {
	if m == nil {
		return nil
	}
	e := &TrackingEntity{
		TrackingID:       m.TrackingID,
		RecipientName:    m.RecipientName,
		RecipientAddress: m.RecipientAddress,
		Opened:           m.Opened,
		OpenedAt:         m.OpenedAt,
		SentAt:           m.SentAt,
		Links:            toTrackingLinkEntities(m.TrackingID, m.Links),
	}
	if m.TransportMessageID != "" {
		v := m.TransportMessageID
		e.TransportMessageID = &v
	}
	return e
}

func toTrackingLinkEntities(trackingID string, links []*model.LinkEntry) []*TrackingLinkEntity {
	entities := make([]*TrackingLinkEntity, len(links))
	for i, l := range links {
		entities[i] = &TrackingLinkEntity{
			TrackingID:  trackingID,
			LinkID:      l.LinkID,
			Position:    i,
			OriginalURL: l.OriginalURL,
			Clicked:     l.Clicked,
			ClickedAt:   l.ClickedAt,
		}
	}
	return entities
}

func toTrackingModel(e *TrackingEntity) *model.TrackingRecord {
	if e == nil {
		return nil
	}
	m := &model.TrackingRecord{
		TrackingID:       e.TrackingID,
		RecipientName:    e.RecipientName,
		RecipientAddress: e.RecipientAddress,
		Opened:           e.Opened,
		OpenedAt:         e.OpenedAt,
		SentAt:           e.SentAt,
		Links:            toLinkModels(e.Links),
	}
	if e.TransportMessageID != nil {
		m.TransportMessageID = *e.TransportMessageID
	}
	return m
}

func toLinkModels(entities []*TrackingLinkEntity) []*model.LinkEntry {
	links := make([]*model.LinkEntry, len(entities))
	for i, e := range entities {
		links[i] = &model.LinkEntry{
			LinkID:      e.LinkID,
			OriginalURL: e.OriginalURL,
			Clicked:     e.Clicked,
			ClickedAt:   e.ClickedAt,
		}
	}
	return links
}
