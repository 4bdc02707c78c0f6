package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventGormRepository struct {
	db *gorm.DB
}

func NewWebhookEventGormRepository(db *gorm.DB) *WebhookEventGormRepository {
	return &WebhookEventGormRepository{db: db}
}

// 無ければ作成、あればpayload/typeだけ上書きする。
// ON CONFLICTで同時配送の競合を吸収するのでprocessedには触らない。
func (r *WebhookEventGormRepository) Upsert(ctx context.Context, ev model.WebhookEvent) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "payload", "updated_at"}),
		}).
		Create(&ev).Error
	return translateError(err)
}

func (r *WebhookEventGormRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var ev model.WebhookEvent
	err := r.db.WithContext(ctx).
		Select("processed").
		Where("id = ?", eventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ev.Processed, nil
}

func (r *WebhookEventGormRepository) MarkProcessed(ctx context.Context, ev model.WebhookEvent) error {
	now := time.Now()
	ev.Processed = true
	ev.ProcessedAt = &now

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "payload", "processed", "processed_at", "updated_at"}),
		}).
		Create(&ev).Error
	return translateError(err)
}
