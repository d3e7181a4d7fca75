package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Rating is a client's five-part review of a finished slice.
type Rating struct {
	ID              uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SliceID         uuid.UUID `json:"slice_id" gorm:"type:char(36);not null;uniqueIndex"`
	RaterID         uuid.UUID `json:"rater_id" gorm:"type:char(36);not null"`
	ProviderID      uuid.UUID `json:"provider_id" gorm:"type:char(36);not null;index"`
	Quality         int       `json:"quality" gorm:"not null"`
	Communication   int       `json:"communication" gorm:"not null"`
	Timeliness      int       `json:"timeliness" gorm:"not null"`
	Professionalism int       `json:"professionalism" gorm:"not null"`
	Value           int       `json:"value" gorm:"not null"`
	// OverallHundredths is the mean of the five scores in hundredths (500 = 5.00).
	OverallHundredths int       `json:"overall_hundredths" gorm:"not null"`
	AuraAwarded       int       `json:"aura_awarded" gorm:"not null"`
	CreatedAt         time.Time `json:"created_at"`
}

// BeforeCreate sets UUID before creating the record.
func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
