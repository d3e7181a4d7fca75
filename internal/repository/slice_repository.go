package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
)

// SliceRepository defines slice and work evidence persistence operations.
type SliceRepository interface {
	Create(ctx context.Context, slice *model.Slice) error
	Update(ctx context.Context, slice *model.Slice) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Slice, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Slice, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]model.Slice, error)
	CountActiveByProvider(ctx context.Context, providerID uuid.UUID) (int64, error)
	// ListDueForAutoRelease returns completed slices whose release window closed at or before now.
	ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]model.Slice, error)
	AddEvidence(ctx context.Context, evidence *model.SliceEvidence) error
	ListEvidence(ctx context.Context, sliceID uuid.UUID) ([]model.SliceEvidence, error)
	CountEvidenceByUploader(ctx context.Context, sliceID, uploaderID uuid.UUID) (int64, error)
}

type sliceRepository struct {
	db *gorm.DB
}

func (r *sliceRepository) Create(ctx context.Context, slice *model.Slice) error {
	return r.db.WithContext(ctx).Create(slice).Error
}

func (r *sliceRepository) Update(ctx context.Context, slice *model.Slice) error {
	return r.db.WithContext(ctx).Save(slice).Error
}

func (r *sliceRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Slice, error) {
	var slice model.Slice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&slice).Error; err != nil {
		return nil, err
	}
	return &slice, nil
}

func (r *sliceRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Slice, error) {
	var slice model.Slice
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&slice).Error; err != nil {
		return nil, err
	}
	return &slice, nil
}

func (r *sliceRepository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]model.Slice, error) {
	var slices []model.Slice
	err := r.db.WithContext(ctx).
		Where("creator_id = ? OR assigned_provider_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&slices).Error
	if err != nil {
		return nil, err
	}
	return slices, nil
}

func (r *sliceRepository) CountActiveByProvider(ctx context.Context, providerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Slice{}).
		Where("assigned_provider_id = ? AND status IN ?", providerID, model.ActiveSliceStatuses).
		Count(&count).Error
	return count, err
}

func (r *sliceRepository) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]model.Slice, error) {
	var slices []model.Slice
	err := r.db.WithContext(ctx).
		Where("status = ? AND auto_release_at IS NOT NULL AND auto_release_at <= ?", model.SliceStatusCompleted, now).
		Order("auto_release_at").
		Limit(limit).
		Find(&slices).Error
	if err != nil {
		return nil, err
	}
	return slices, nil
}

func (r *sliceRepository) AddEvidence(ctx context.Context, evidence *model.SliceEvidence) error {
	return r.db.WithContext(ctx).Create(evidence).Error
}

func (r *sliceRepository) ListEvidence(ctx context.Context, sliceID uuid.UUID) ([]model.SliceEvidence, error) {
	var evidence []model.SliceEvidence
	err := r.db.WithContext(ctx).
		Where("slice_id = ?", sliceID).
		Order("created_at").Order("id").
		Find(&evidence).Error
	if err != nil {
		return nil, err
	}
	return evidence, nil
}

func (r *sliceRepository) CountEvidenceByUploader(ctx context.Context, sliceID, uploaderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SliceEvidence{}).
		Where("slice_id = ? AND uploader_id = ?", sliceID, uploaderID).
		Count(&count).Error
	return count, err
}
