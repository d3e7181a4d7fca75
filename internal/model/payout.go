package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutBatch records one distribution of the community reward pool.
type PayoutBatch struct {
	ID               uuid.UUID     `json:"id" gorm:"type:char(36);primaryKey"`
	RunDate          time.Time     `json:"run_date" gorm:"type:date;not null;index"`
	PoolCents        int64         `json:"pool_cents" gorm:"not null"`
	DistributedCents int64         `json:"distributed_cents" gorm:"not null"`
	Recipients       int           `json:"recipients" gorm:"not null"`
	Forced           bool          `json:"forced" gorm:"not null;default:false"`
	Entries          []PayoutEntry `json:"entries,omitempty" gorm:"foreignKey:BatchID"`
	CreatedAt        time.Time     `json:"created_at"`
}

// BeforeCreate sets UUID before creating the record.
func (b *PayoutBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// PayoutEntry is one user's share of a payout batch.
type PayoutEntry struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	BatchID     uuid.UUID `json:"batch_id" gorm:"type:char(36);not null;index"`
	UserID      uuid.UUID `json:"user_id" gorm:"type:char(36);not null;index"`
	AuraPoints  int       `json:"aura_points" gorm:"not null"`
	AmountCents int64     `json:"amount_cents" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate sets UUID before creating the record.
func (e *PayoutEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
