package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/mail-tracker/internal/model"
)

var (
	// ErrNotFound is returned when no record has the requested tracking id.
	ErrNotFound = errors.New("tracking record not found")
	// ErrLinkNotFound is returned when the record exists but has no such link.
	ErrLinkNotFound = errors.New("tracking link not found")
	// ErrDuplicateID is returned by Create when the tracking id is taken.
	ErrDuplicateID = errors.New("tracking id already exists")
	// ErrStoreUnavailable wraps every backend failure.
	ErrStoreUnavailable = errors.New("tracking store unavailable")
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// TrackingStore persists tracking records. Implementations must make
// MarkOpened and MarkClicked atomic per record: under any number of
// concurrent callers exactly one call observes the first transition.
type TrackingStore interface {
	Create(ctx context.Context, rec *model.TrackingRecord) error
	Get(ctx context.Context, trackingID string) (*model.TrackingRecord, error)
	MarkOpened(ctx context.Context, trackingID string) (bool, error)
	MarkClicked(ctx context.Context, trackingID, linkID string) (bool, error)
	SetTransportMessageID(ctx context.Context, trackingID, messageID string) error
	ListLinks(ctx context.Context, trackingID string) ([]*model.LinkEntry, error)
	Backend() string
	Close(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func validateRecord(rec *model.TrackingRecord) error {
	if rec == nil || rec.TrackingID == "" {
		return errors.New("tracking record requires an id")
	}
	seen := make(map[string]struct{}, len(rec.Links))
	for _, l := range rec.Links {
		if l.LinkID == "" {
			return errors.New("tracking link requires an id")
		}
		if _, ok := seen[l.LinkID]; ok {
			return fmt.Errorf("duplicate link id %q", l.LinkID)
		}
		seen[l.LinkID] = struct{}{}
	}
	return nil
}
