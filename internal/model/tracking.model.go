package model

import "time"

// TrackingRecord is the persisted state of one dispatched message.
type TrackingRecord struct {
	TrackingID         string       `json:"trackingId"`
	RecipientName      string       `json:"recipientName"`
	RecipientAddress   string       `json:"recipientAddress"`
	TransportMessageID string       `json:"transportMessageId,omitempty"`
	Opened             bool         `json:"opened"`
	OpenedAt           *time.Time   `json:"openedAt"`
	Links              []*LinkEntry `json:"links"`
	SentAt             time.Time    `json:"sentAt"`
}

// LinkEntry is one tracked destination inside a TrackingRecord.
type LinkEntry struct {
	LinkID      string     `json:"linkId"`
	OriginalURL string     `json:"url"`
	Clicked     bool       `json:"clicked"`
	ClickedAt   *time.Time `json:"clickedAt"`
}

// Link returns the entry with the given id, or nil.
func (r *TrackingRecord) Link(linkID string) *LinkEntry {
	for _, l := range r.Links {
		if l.LinkID == linkID {
			return l
		}
	}
	return nil
}

// Clone returns a deep copy, so callers never share mutable state with a store.
func (r *TrackingRecord) Clone() *TrackingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.OpenedAt = cloneTime(r.OpenedAt)
	c.Links = make([]*LinkEntry, len(r.Links))
	for i, l := range r.Links {
		lc := *l
		lc.ClickedAt = cloneTime(l.ClickedAt)
		c.Links[i] = &lc
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Summary is the read-only projection served by GET /tracking/{id}.
type Summary struct {
	TrackingID         string         `json:"trackingId"`
	RecipientName      string         `json:"recipientName"`
	RecipientAddress   string         `json:"recipientAddress"`
	Opened             bool           `json:"opened"`
	OpenedAt           *time.Time     `json:"openedAt"`
	TransportMessageID string         `json:"transportMessageId,omitempty"`
	SentAt             time.Time      `json:"sentAt"`
	Links              []*LinkSummary `json:"links"`
}

type LinkSummary struct {
	LinkID    string     `json:"linkId"`
	URL       string     `json:"url"`
	Clicked   bool       `json:"clicked"`
	ClickedAt *time.Time `json:"clickedAt"`
}

func NewSummary(r *TrackingRecord, links []*LinkEntry) *Summary {
	s := &Summary{
		TrackingID:         r.TrackingID,
		RecipientName:      r.RecipientName,
		RecipientAddress:   r.RecipientAddress,
		Opened:             r.Opened,
		OpenedAt:           r.OpenedAt,
		TransportMessageID: r.TransportMessageID,
		SentAt:             r.SentAt,
		Links:              make([]*LinkSummary, 0, len(links)),
	}
	for _, l := range links {
		s.Links = append(s.Links, &LinkSummary{
			LinkID:    l.LinkID,
			URL:       l.OriginalURL,
			Clicked:   l.Clicked,
			ClickedAt: l.ClickedAt,
		})
	}
	return s
}

// EngagementEvent is published on the first open of a message or the first
// click of one of its links.
type EngagementEvent struct {
	Type       string    `json:"type"`
	TrackingID string    `json:"trackingId"`
	LinkID     string    `json:"linkId,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	EngagementOpen  = "open"
	EngagementClick = "click"
)
