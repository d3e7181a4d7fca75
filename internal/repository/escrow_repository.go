package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
)

// EscrowRepository defines escrow payment persistence operations.
type EscrowRepository interface {
	Create(ctx context.Context, escrow *model.EscrowPayment) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.EscrowPayment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.EscrowPayment, error)
	FindBySliceID(ctx context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error)
	FindBySliceIDForUpdate(ctx context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error)
	FindByTransactionIDForUpdate(ctx context.Context, method, transactionID string) (*model.EscrowPayment, error)
	// CompareAndSwap writes escrow only if its stored status still equals from.
	// It returns ErrStale otherwise.
	CompareAndSwap(ctx context.Context, escrow *model.EscrowPayment, from model.EscrowStatus) error
	// ListUndistributedForUpdate locks released escrows whose community pool
	// has not yet been paid out.
	ListUndistributedForUpdate(ctx context.Context) ([]model.EscrowPayment, error)
	ListUndistributed(ctx context.Context) ([]model.EscrowPayment, error)
	MarkDistributed(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID) error
}

type escrowRepository struct {
	db *gorm.DB
}

func (r *escrowRepository) Create(ctx context.Context, escrow *model.EscrowPayment) error {
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *escrowRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.EscrowPayment, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *escrowRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.EscrowPayment, error) {
	return r.first(forUpdate(r.db.WithContext(ctx)), "id = ?", id)
}

func (r *escrowRepository) FindBySliceID(ctx context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error) {
	return r.first(r.db.WithContext(ctx), "slice_id = ?", sliceID)
}

func (r *escrowRepository) FindBySliceIDForUpdate(ctx context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error) {
	return r.first(forUpdate(r.db.WithContext(ctx)), "slice_id = ?", sliceID)
}

func (r *escrowRepository) FindByTransactionIDForUpdate(ctx context.Context, method, transactionID string) (*model.EscrowPayment, error) {
	return r.first(forUpdate(r.db.WithContext(ctx)), "payment_method = ? AND provider_transaction_id = ?", method, transactionID)
}

func (r *escrowRepository) first(db *gorm.DB, query string, args ...interface{}) (*model.EscrowPayment, error) {
	var escrow model.EscrowPayment
	if err := db.Where(query, args...).First(&escrow).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *escrowRepository) CompareAndSwap(ctx context.Context, escrow *model.EscrowPayment, from model.EscrowStatus) error {
	res := r.db.WithContext(ctx).Model(escrow).
		Where("status = ?", from).
		Select("*").Omit("id", "created_at").
		Updates(escrow)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

func (r *escrowRepository) ListUndistributedForUpdate(ctx context.Context) ([]model.EscrowPayment, error) {
	return r.undistributed(forUpdate(r.db.WithContext(ctx)))
}

func (r *escrowRepository) ListUndistributed(ctx context.Context) ([]model.EscrowPayment, error) {
	return r.undistributed(r.db.WithContext(ctx))
}

func (r *escrowRepository) undistributed(db *gorm.DB) ([]model.EscrowPayment, error) {
	var escrows []model.EscrowPayment
	err := db.
		Where("status = ? AND payout_batch_id IS NULL AND community_reward_pool > 0", model.EscrowStatusReleased).
		Order("released_at").
		Find(&escrows).Error
	if err != nil {
		return nil, err
	}
	return escrows, nil
}

func (r *escrowRepository) MarkDistributed(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.EscrowPayment{}).
		Where("id IN ? AND payout_batch_id IS NULL", ids).
		Update("payout_batch_id", batchID).Error
}
