package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SliceStatus is the work-side lifecycle of a slice.
type SliceStatus string

const (
	SliceStatusOpen      SliceStatus = "open"
	SliceStatusAccepted  SliceStatus = "accepted"
	SliceStatusCompleted SliceStatus = "completed"
	SliceStatusDisputed  SliceStatus = "disputed"
	SliceStatusPaid      SliceStatus = "paid"
	SliceStatusRefunded  SliceStatus = "refunded"
	SliceStatusCancelled SliceStatus = "cancelled"
)

// ActiveSliceStatuses count against a provider's capacity.
var ActiveSliceStatuses = []SliceStatus{SliceStatusAccepted, SliceStatusDisputed}

// MaterialAdvanceStatus tracks a partial pre-funding request on a slice.
type MaterialAdvanceStatus string

const (
	MaterialAdvanceNone      MaterialAdvanceStatus = "none"
	MaterialAdvanceRequested MaterialAdvanceStatus = "requested"
	MaterialAdvanceReleased  MaterialAdvanceStatus = "released"
	MaterialAdvanceRejected  MaterialAdvanceStatus = "rejected"
)

// Slice is a discrete unit of billable work.
type Slice struct {
	ID                    uuid.UUID             `json:"id" gorm:"type:char(36);primaryKey"`
	Title                 string                `json:"title" gorm:"size:255;not null"`
	CreatorID             uuid.UUID             `json:"creator_id" gorm:"type:char(36);not null;index"`
	AssignedProviderID    *uuid.UUID            `json:"assigned_provider_id,omitempty" gorm:"type:char(36);index"`
	Status                SliceStatus           `json:"status" gorm:"type:varchar(20);not null;default:'open';index"`
	FinalPriceCents       int64                 `json:"final_price_cents" gorm:"not null"`
	Currency              string                `json:"currency" gorm:"size:3;not null"`
	EscrowPaymentID       *uuid.UUID            `json:"escrow_payment_id,omitempty" gorm:"type:char(36)"`
	MaterialAdvanceStatus MaterialAdvanceStatus `json:"material_advance_status" gorm:"type:varchar(20);not null;default:'none'"`
	MaterialAdvanceCents  int64                 `json:"material_advance_cents" gorm:"not null;default:0"`
	AutoReleaseAt         *time.Time            `json:"auto_release_at,omitempty" gorm:"index"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// HasProvider reports whether a provider has been assigned.
func (s *Slice) HasProvider() bool {
	return s.AssignedProviderID != nil && *s.AssignedProviderID != uuid.Nil
}

// IsParty reports whether userID is the client or the assigned provider.
func (s *Slice) IsParty(userID uuid.UUID) bool {
	if s.CreatorID == userID {
		return true
	}
	return s.HasProvider() && *s.AssignedProviderID == userID
}

// BeforeCreate sets UUID before creating the record.
func (s *Slice) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SliceEvidence is proof of delivered work uploaded against a slice.
type SliceEvidence struct {
	ID         uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SliceID    uuid.UUID `json:"slice_id" gorm:"type:char(36);not null;index"`
	UploaderID uuid.UUID `json:"uploader_id" gorm:"type:char(36);not null;index"`
	MediaURL   string    `json:"media_url" gorm:"size:1024;not null"`
	Note       string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate sets UUID before creating the record.
func (e *SliceEvidence) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
