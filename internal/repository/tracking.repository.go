package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackingRepository is the postgres-backed TrackingStore.
type TrackingRepository struct {
	*pg.DB
	now func() time.Time
}

func NewTrackingRepository(db *pg.DB) *TrackingRepository {
	return &TrackingRepository{
		DB:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *TrackingRepository) Backend() string {
	return BackendPostgres
}

func (r *TrackingRepository) Close(_ context.Context) error {
	return r.DB.Close()
}

func (r *TrackingRepository) Create(ctx context.Context, rec *model.TrackingRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	entity := toTrackingEntity(rec)

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var count int64
		if err := r.Write(ctx).Model(&TrackingEntity{}).Where("tracking_id = ?", entity.TrackingID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateID
		}

		if err := r.Write(ctx).Omit(clause.Associations).Create(entity).Error; err != nil {
			return err
		}
		if len(entity.Links) == 0 {
			return nil
		}
		return r.Write(ctx).Create(&entity.Links).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateID), errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateID
	default:
		return unavailable("create", err)
	}
}

func (r *TrackingRepository) Get(ctx context.Context, trackingID string) (*model.TrackingRecord, error) {
	var entity TrackingEntity
	err := r.Read(ctx).
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("tracking_id = ?", trackingID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return toTrackingModel(&entity), nil
}

// MarkOpened flips opened with a conditional update; only the statement that
// actually changed the row reports true.
func (r *TrackingRepository) MarkOpened(ctx context.Context, trackingID string) (bool, error) {
	res := r.Write(ctx).Model(&TrackingEntity{}).
		Where("tracking_id = ? AND opened = ?", trackingID, false).
		Updates(map[string]any{"opened": true, "opened_at": r.now()})
	if res.Error != nil {
		return false, unavailable("mark opened", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	exists, err := r.exists(ctx, trackingID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *TrackingRepository) MarkClicked(ctx context.Context, trackingID, linkID string) (bool, error) {
	res := r.Write(ctx).Model(&TrackingLinkEntity{}).
		Where("tracking_id = ? AND link_id = ? AND clicked = ?", trackingID, linkID, false).
		Updates(map[string]any{"clicked": true, "clicked_at": r.now()})
	if res.Error != nil {
		return false, unavailable("mark clicked", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	exists, err := r.exists(ctx, trackingID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}

	var count int64
	if err := r.Read(ctx).Model(&TrackingLinkEntity{}).
		Where("tracking_id = ? AND link_id = ?", trackingID, linkID).
		Count(&count).Error; err != nil {
		return false, unavailable("mark clicked", err)
	}
	if count == 0 {
		return false, ErrLinkNotFound
	}
	return false, nil
}

func (r *TrackingRepository) SetTransportMessageID(ctx context.Context, trackingID, messageID string) error {
	res := r.Write(ctx).Model(&TrackingEntity{}).
		Where("tracking_id = ?", trackingID).
		Update("transport_message_id", messageID)
	if res.Error != nil {
		return unavailable("set transport message id", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TrackingRepository) ListLinks(ctx context.Context, trackingID string) ([]*model.LinkEntry, error) {
	exists, err := r.exists(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	var entities []*TrackingLinkEntity
	if err := r.Read(ctx).
		Where("tracking_id = ?", trackingID).
		Order("position ASC").
		Find(&entities).Error; err != nil {
		return nil, unavailable("list links", err)
	}
	return toLinkModels(entities), nil
}

func (r *TrackingRepository) exists(ctx context.Context, trackingID string) (bool, error) {
	var count int64
	if err := r.Read(ctx).Model(&TrackingEntity{}).
		Where("tracking_id = ?", trackingID).
		Count(&count).Error; err != nil {
		return false, unavailable("lookup", err)
	}
	return count > 0, nil
}
