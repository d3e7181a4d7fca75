package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EscrowStatus represents the money-side lifecycle of a funded slice.
type EscrowStatus string

const (
	EscrowStatusPending   EscrowStatus = "pending"
	EscrowStatusInEscrow  EscrowStatus = "in_escrow"
	EscrowStatusCompleted EscrowStatus = "completed"
	EscrowStatusReleased  EscrowStatus = "released"
	EscrowStatusRefunded  EscrowStatus = "refunded"
	EscrowStatusDisputed  EscrowStatus = "disputed"
	EscrowStatusFailed    EscrowStatus = "failed"
	EscrowStatusAppealed  EscrowStatus = "appealed"
)

// Terminal reports whether no money can move from this status without an appeal.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// EscrowPayment holds the funds for exactly one slice.
//
// TotalAmount == SliceAmount + PlatformFee + ProcessingFee and
// PlatformFee == PlatformRevenue + CommunityRewardPool.
type EscrowPayment struct {
	ID                      uuid.UUID    `json:"id" gorm:"type:char(36);primaryKey"`
	SliceID                 uuid.UUID    `json:"slice_id" gorm:"type:char(36);not null;uniqueIndex"`
	PayerID                 uuid.UUID    `json:"payer_id" gorm:"type:char(36);not null;index"`
	PayeeID                 uuid.UUID    `json:"payee_id" gorm:"type:char(36);not null;index"`
	Currency                string       `json:"currency" gorm:"size:3;not null"`
	TotalAmount             int64        `json:"total_amount" gorm:"not null"`
	SliceAmount             int64        `json:"slice_amount" gorm:"not null"`
	PlatformFee             int64        `json:"platform_fee" gorm:"not null"`
	PlatformRevenue         int64        `json:"platform_revenue" gorm:"not null"`
	CommunityRewardPool     int64        `json:"community_reward_pool" gorm:"not null"`
	ProcessingFee           int64        `json:"processing_fee" gorm:"not null"`
	MaterialAdvanceReleased int64        `json:"material_advance_released" gorm:"not null;default:0"`
	Status                  EscrowStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	FailedFrom              EscrowStatus `json:"-" gorm:"type:varchar(20)"`
	LastError               string       `json:"-" gorm:"type:text"`
	PaymentMethod           string       `json:"payment_method" gorm:"type:varchar(30);not null"`
	ProviderTransactionID   *string      `json:"-" gorm:"size:128;uniqueIndex"`
	IsAppealed              bool         `json:"is_appealed" gorm:"not null;default:false"`
	AppealReason            string       `json:"appeal_reason,omitempty" gorm:"type:text"`
	PayoutBatchID           *uuid.UUID   `json:"-" gorm:"type:char(36);index"`
	FundedAt                *time.Time   `json:"funded_at,omitempty"`
	ReleasedAt              *time.Time   `json:"released_at,omitempty" gorm:"index"`
	RefundedAt              *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// TransactionID returns the provider transaction id or an empty string.
func (e *EscrowPayment) TransactionID() string {
	if e.ProviderTransactionID == nil {
		return ""
	}
	return *e.ProviderTransactionID
}

// HeldAmount is what the provider still holds for this escrow once material
// advances, releases, refunds and distributed community pools are paid out.
func (e *EscrowPayment) HeldAmount() int64 {
	if e.RefundedAt != nil {
		return 0
	}
	held := e.TotalAmount - e.MaterialAdvanceReleased
	if e.ReleasedAt != nil {
		held -= e.SliceAmount - e.MaterialAdvanceReleased
		if e.PayoutBatchID != nil {
			held -= e.CommunityRewardPool
		}
	}
	if held < 0 {
		return 0
	}
	return held
}

// EffectiveStatus is the status an operation should act on. A failed
// record behaves as the state it failed from so the operation can be retried.
func (e *EscrowPayment) EffectiveStatus() EscrowStatus {
	if e.Status == EscrowStatusFailed && e.FailedFrom != "" {
		return e.FailedFrom
	}
	return e.Status
}

// BeforeCreate sets UUID before creating the record.
func (e *EscrowPayment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
