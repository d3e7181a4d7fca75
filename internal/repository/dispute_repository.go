package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
)

var resolvedDisputeStatuses = []model.DisputeStatus{
	model.DisputeStatusResolvedRelease,
	model.DisputeStatusResolvedRefund,
}

// DisputeRepository defines dispute and dispute evidence persistence operations.
type DisputeRepository interface {
	Create(ctx context.Context, dispute *model.Dispute) error
	Update(ctx context.Context, dispute *model.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Dispute, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Dispute, error)
	FindUnresolvedBySlice(ctx context.Context, sliceID uuid.UUID) (*model.Dispute, error)
	CountBySlice(ctx context.Context, sliceID uuid.UUID) (int64, error)
	// ListPrecedents returns the most recently resolved non-honeypot disputes.
	ListPrecedents(ctx context.Context, limit int) ([]model.Dispute, error)
	ListHoneypots(ctx context.Context) ([]model.Dispute, error)
	AddEvidence(ctx context.Context, evidence *model.DisputeEvidence) error
	// ListEvidence returns evidence in submission order.
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]model.DisputeEvidence, error)
}

type disputeRepository struct {
	db *gorm.DB
}

func (r *disputeRepository) Create(ctx context.Context, dispute *model.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *disputeRepository) Update(ctx context.Context, dispute *model.Dispute) error {
	return r.db.WithContext(ctx).Save(dispute).Error
}

func (r *disputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Dispute, error) {
	var dispute model.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Dispute, error) {
	var dispute model.Dispute
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) FindUnresolvedBySlice(ctx context.Context, sliceID uuid.UUID) (*model.Dispute, error) {
	var dispute model.Dispute
	err := r.db.WithContext(ctx).
		Where("slice_id = ? AND status NOT IN ?", sliceID, resolvedDisputeStatuses).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) CountBySlice(ctx context.Context, sliceID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Dispute{}).Where("slice_id = ?", sliceID).Count(&count).Error
	return count, err
}

func (r *disputeRepository) ListPrecedents(ctx context.Context, limit int) ([]model.Dispute, error) {
	var disputes []model.Dispute
	err := r.db.WithContext(ctx).
		Where("status IN ? AND is_honey_pot = ?", resolvedDisputeStatuses, false).
		Order("resolved_at DESC").
		Limit(limit).
		Find(&disputes).Error
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

func (r *disputeRepository) ListHoneypots(ctx context.Context) ([]model.Dispute, error) {
	var disputes []model.Dispute
	err := r.db.WithContext(ctx).
		Where("is_honey_pot = ?", true).
		Order("created_at").
		Find(&disputes).Error
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

func (r *disputeRepository) AddEvidence(ctx context.Context, evidence *model.DisputeEvidence) error {
	return r.db.WithContext(ctx).Create(evidence).Error
}

func (r *disputeRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]model.DisputeEvidence, error) {
	var evidence []model.DisputeEvidence
	err := r.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at").Order("id").
		Find(&evidence).Error
	if err != nil {
		return nil, err
	}
	return evidence, nil
}
