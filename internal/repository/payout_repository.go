package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"marketescrow/internal/model"
)

// PayoutRepository defines payout batch persistence operations.
type PayoutRepository interface {
	// CreateBatch inserts the batch together with its entries.
	CreateBatch(ctx context.Context, batch *model.PayoutBatch) error
	FindByRunDate(ctx context.Context, day time.Time) (*model.PayoutBatch, error)
	ListRecent(ctx context.Context, limit int) ([]model.PayoutBatch, error)
}

type payoutRepository struct {
	db *gorm.DB
}

func (r *payoutRepository) CreateBatch(ctx context.Context, batch *model.PayoutBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *payoutRepository) FindByRunDate(ctx context.Context, day time.Time) (*model.PayoutBatch, error) {
	var batch model.PayoutBatch
	err := r.db.WithContext(ctx).
		Preload("Entries").
		Where("run_date = ?", day.Format("2006-01-02")).
		Order("created_at").
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *payoutRepository) ListRecent(ctx context.Context, limit int) ([]model.PayoutBatch, error) {
	var batches []model.PayoutBatch
	err := r.db.WithContext(ctx).
		Order("run_date DESC").Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}
