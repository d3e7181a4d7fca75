package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
)

// AuraChange is a relative aura update plus the reform counters computed
// by the caller while holding the user row lock.
type AuraChange struct {
	Delta         int
	PenaltyStreak int
	IsReforming   bool
	ReformAwards  int
}

// UserRepository defines persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	// ApplyAura adds Delta to aura_points, never going below zero.
	ApplyAura(ctx context.Context, id uuid.UUID, change AuraChange, at time.Time) error
	// DecayInactive removes bps/10000 of the points (half up) from every active
	// user idle since before cutoff, above floor and not yet decayed on day.
	DecayInactive(ctx context.Context, cutoff time.Time, floor int, bps int64, day time.Time) (int64, error)
	CreditWallet(ctx context.Context, id uuid.UUID, cents int64) error
	TopByAura(ctx context.Context, minAura, limit int) ([]model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ApplyAura applies a relative delta. Only awards count as activity, so a
// penalty never resets the decay clock.
func (r *userRepository) ApplyAura(ctx context.Context, id uuid.UUID, change AuraChange, at time.Time) error {
	updates := map[string]interface{}{
		"aura_points":    gorm.Expr("CASE WHEN aura_points + ? > 0 THEN aura_points + ? ELSE 0 END", change.Delta, change.Delta),
		"penalty_streak": change.PenaltyStreak,
		"is_reforming":   change.IsReforming,
		"reform_awards":  change.ReformAwards,
	}
	if change.Delta > 0 {
		updates["last_activity_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates)
	return affected(res)
}

func (r *userRepository) DecayInactive(ctx context.Context, cutoff time.Time, floor int, bps int64, day time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("active = ? AND last_activity_at < ? AND aura_points > ?", true, cutoff, floor).
		Where("last_decayed_at IS NULL OR last_decayed_at < ?", day).
		Updates(map[string]interface{}{
			"aura_points":     gorm.Expr("aura_points - FLOOR((aura_points * ? + 5000) / 10000)", bps),
			"last_decayed_at": day,
		})
	return res.RowsAffected, res.Error
}

func (r *userRepository) CreditWallet(ctx context.Context, id uuid.UUID, cents int64) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("wallet_balance_cents", gorm.Expr("wallet_balance_cents + ?", cents))
	return affected(res)
}

func (r *userRepository) TopByAura(ctx context.Context, minAura, limit int) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("active = ? AND aura_points >= ?", true, minAura).
		Order("aura_points DESC").Order("id").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// AuraEventRepository stores the aura audit trail.
type AuraEventRepository interface {
	Create(ctx context.Context, event *model.AuraEvent) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuraEvent, error)
}

type auraEventRepository struct {
	db *gorm.DB
}

func (r *auraEventRepository) Create(ctx context.Context, event *model.AuraEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *auraEventRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuraEvent, error) {
	var events []model.AuraEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
