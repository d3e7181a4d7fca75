package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
)

// RatingRepository defines rating persistence operations.
type RatingRepository interface {
	Create(ctx context.Context, rating *model.Rating) error
	FindBySliceID(ctx context.Context, sliceID uuid.UUID) (*model.Rating, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]model.Rating, error)
}

type ratingRepository struct {
	db *gorm.DB
}

func (r *ratingRepository) Create(ctx context.Context, rating *model.Rating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}

func (r *ratingRepository) FindBySliceID(ctx context.Context, sliceID uuid.UUID) (*model.Rating, error) {
	var rating model.Rating
	if err := r.db.WithContext(ctx).Where("slice_id = ?", sliceID).First(&rating).Error; err != nil {
		return nil, err
	}
	return &rating, nil
}

func (r *ratingRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]model.Rating, error) {
	var ratings []model.Rating
	err := r.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at DESC").
		Find(&ratings).Error
	if err != nil {
		return nil, err
	}
	return ratings, nil
}
