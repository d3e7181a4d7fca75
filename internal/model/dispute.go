package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DisputeStatus is the single source of truth for where a dispute stands.
type DisputeStatus string

const (
	DisputeStatusEvidenceSubmission DisputeStatus = "evidence_submission"
	DisputeStatusAnalyzing          DisputeStatus = "analyzing"
	DisputeStatusJuryDeliberation   DisputeStatus = "jury_deliberation"
	DisputeStatusResolvedRelease    DisputeStatus = "resolved_release"
	DisputeStatusResolvedRefund     DisputeStatus = "resolved_refund"
	DisputeStatusAppealed           DisputeStatus = "appealed"
)

// Resolved reports whether the dispute reached a final ruling.
func (s DisputeStatus) Resolved() bool {
	return s == DisputeStatusResolvedRelease || s == DisputeStatusResolvedRefund
}

// AcceptsEvidence reports whether new evidence may be appended.
func (s DisputeStatus) AcceptsEvidence() bool {
	switch s {
	case DisputeStatusEvidenceSubmission, DisputeStatusAnalyzing, DisputeStatusJuryDeliberation, DisputeStatusAppealed:
		return true
	}
	return false
}

// Recommendation is the jury's proposed outcome.
type Recommendation string

const (
	RecommendReleaseToProvider Recommendation = "release_to_provider"
	RecommendRefundClient      Recommendation = "refund_client"
	RecommendSplit             Recommendation = "split"
)

// Consensus describes how the jury reached its recommendation.
type Consensus string

const (
	ConsensusUnanimous     Consensus = "unanimous"
	ConsensusMajority      Consensus = "majority"
	ConsensusSplitDecision Consensus = "split_decision"
	ConsensusAppealed      Consensus = "appealed"
)

// Verdict is the structured output of an AI jury.
type Verdict struct {
	Recommendation  Recommendation `json:"recommendation"`
	ConfidenceScore int            `json:"confidence_score"`
	Reasoning       string         `json:"reasoning"`
	Consensus       Consensus      `json:"consensus"`
	JudgedAt        *time.Time     `json:"judged_at,omitempty"`
}

// Escalates reports whether the verdict must go to a human.
func (v Verdict) Escalates() bool {
	return v.Consensus == ConsensusSplitDecision || v.Consensus == ConsensusAppealed
}

// Decision is an admin's final ruling on a dispute.
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool { return d == DecisionRelease || d == DecisionRefund }

// Dispute is a structured conflict over a slice's escrow.
type Dispute struct {
	ID              uuid.UUID                   `json:"id" gorm:"type:char(36);primaryKey"`
	SliceID         uuid.UUID                   `json:"slice_id" gorm:"type:char(36);not null;index"`
	EscrowPaymentID uuid.UUID                   `json:"escrow_payment_id" gorm:"type:char(36);not null;index"`
	InitiatorID     uuid.UUID                   `json:"initiator_id" gorm:"type:char(36);not null"`
	Reason          string                      `json:"reason" gorm:"type:text;not null"`
	Status          DisputeStatus               `json:"status" gorm:"type:varchar(30);not null;index"`
	AppealRound     int                         `json:"appeal_round" gorm:"not null;default:0"`
	AIVerdict       datatypes.JSONType[Verdict] `json:"ai_verdict"`
	FinalRuling     string                      `json:"final_ruling,omitempty" gorm:"type:text"`
	ResolvedBy      *uuid.UUID                  `json:"resolved_by,omitempty" gorm:"type:char(36)"`
	ResolvedAt      *time.Time                  `json:"resolved_at,omitempty"`
	IsHoneyPot      bool                        `json:"-" gorm:"not null;default:false;index"`
	CorrectVerdict  Recommendation              `json:"-" gorm:"type:varchar(30)"`
	JuryAccurate    *bool                       `json:"-"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// Verdict returns the stored jury verdict; Recommendation is empty before judging.
func (d *Dispute) Verdict() Verdict { return d.AIVerdict.Data() }

// BeforeCreate sets UUID before creating the record.
func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DisputeEvidence is one immutable item submitted to a dispute.
type DisputeEvidence struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	DisputeID    uuid.UUID `json:"dispute_id" gorm:"type:char(36);not null;index"`
	UploaderID   uuid.UUID `json:"uploader_id" gorm:"type:char(36);not null"`
	UploaderRole Role      `json:"uploader_role" gorm:"type:varchar(20);not null"`
	MediaURL     string    `json:"media_url" gorm:"size:1024"`
	Description  string    `json:"description" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// BeforeCreate sets UUID before creating the record.
func (e *DisputeEvidence) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
