package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role identifies what a user may do on the platform.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// AuraLevel is the tier derived from a user's aura points.
type AuraLevel string

const (
	AuraBronze  AuraLevel = "bronze"
	AuraSilver  AuraLevel = "silver"
	AuraGold    AuraLevel = "gold"
	AuraDiamond AuraLevel = "diamond"
)

// User represents a marketplace participant. Users are never hard-deleted;
// Active=false is the only removal state.
type User struct {
	ID                 uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Email              string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name               string     `json:"name" gorm:"size:255;not null"`
	PasswordHash       string     `json:"-" gorm:"size:255;not null"` // Never expose in JSON
	Role               Role       `json:"role" gorm:"type:varchar(20);not null;default:'client';index"`
	CountryCode        string     `json:"country_code" gorm:"size:2"`
	AuraPoints         int        `json:"aura_points" gorm:"not null;default:0;index"`
	PenaltyStreak      int        `json:"-" gorm:"not null;default:0"`
	IsReforming        bool       `json:"is_reforming" gorm:"not null;default:false"`
	ReformAwards       int        `json:"-" gorm:"not null;default:0"`
	WalletBalanceCents int64      `json:"wallet_balance_cents" gorm:"not null;default:0"`
	Active             bool       `json:"active" gorm:"not null;index"`
	LastActivityAt     time.Time  `json:"last_activity_at" gorm:"index"`
	LastDecayedAt      *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// BeforeCreate sets UUID before creating the record.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.LastActivityAt.IsZero() {
		u.LastActivityAt = time.Now().UTC()
	}
	return nil
}

// AuraEvent records a single signed aura delta applied to a user.
type AuraEvent struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:char(36);not null;index"`
	Reason    string    `json:"reason" gorm:"type:varchar(40);not null"`
	Delta     int       `json:"delta" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate sets UUID before creating the record.
func (e *AuraEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
