package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketescrow/internal/cache"
	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/repository"
	"marketescrow/internal/telemetry"
)

// AuraReason is the reason code recorded with every aura delta.
type AuraReason string

const (
	ReasonDisputeInitiationFee AuraReason = "dispute_initiation_fee"
	ReasonDisputeLost          AuraReason = "dispute_lost"
	ReasonSliceReleased        AuraReason = "slice_released"
	ReasonReleaseRevoked       AuraReason = "slice_release_revoked"
	ReasonRatingReceived       AuraReason = "rating_received"
	ReasonPenalty              AuraReason = "penalty"
)

const profileCacheTTL = 30 * time.Second

// CapacityCheck is the outcome of a provider capacity lookup.
type CapacityCheck struct {
	Allowed bool            `json:"allowed"`
	Active  int64           `json:"active"`
	Limit   int             `json:"limit"`
	Level   model.AuraLevel `json:"level"`
	Reason  string          `json:"reason,omitempty"`
}

// AuraProfile is a user's reputation summary.
type AuraProfile struct {
	UserID      uuid.UUID       `json:"user_id"`
	Points      int             `json:"points"`
	Level       model.AuraLevel `json:"level"`
	IsReforming bool            `json:"is_reforming"`
	Capacity    int             `json:"capacity"`
}

// AuraService maintains reputation points. Every change is a relative delta
// at the storage layer plus an AuraEvent row in the same transaction.
type AuraService interface {
	Award(ctx context.Context, userID uuid.UUID, reason AuraReason) (int, error)
	AwardPoints(ctx context.Context, userID uuid.UUID, reason AuraReason, points int) (int, error)
	Penalize(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	PenalizeFor(ctx context.Context, userID uuid.UUID, reason AuraReason) (int, error)
	Decay(ctx context.Context, now time.Time) (int64, error)
	CapacityFor(ctx context.Context, providerID uuid.UUID) (CapacityCheck, error)
	Profile(ctx context.Context, userID uuid.UUID) (*AuraProfile, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuraEvent, error)

	// Tx variants run inside a caller's transaction.
	AwardPointsTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, points int) (int, error)
	PenalizeTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, amount int) (int, error)
	// RevokeTx takes back an earlier award without counting as a penalty.
	RevokeTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, amount int) (int, error)
	// CapacityForTx locks the provider row when lock is set so concurrent
	// assignments to the same provider serialize.
	CapacityForTx(ctx context.Context, tx repository.Store, providerID uuid.UUID, lock bool) (CapacityCheck, error)
	// Delta returns the fixed delta for a reason code.
	Delta(reason AuraReason) int
	InvalidateProfile(ctx context.Context, userIDs ...uuid.UUID)
}

type auraService struct {
	store  repository.Store
	policy config.Policy
	cache  *cache.Client
	now    Clock
}

// NewAuraService creates an aura engine.
func NewAuraService(store repository.Store, policy config.Policy, cache *cache.Client, now Clock) AuraService {
	if now == nil {
		now = SystemClock
	}
	return &auraService{store: store, policy: policy, cache: cache, now: now}
}

func (s *auraService) Delta(reason AuraReason) int {
	switch reason {
	case ReasonDisputeInitiationFee:
		return -s.policy.DisputeInitiationFee
	case ReasonDisputeLost:
		return -s.policy.DisputeLossPenalty
	case ReasonSliceReleased:
		return s.policy.SliceReleasedAward
	}
	return 0
}

// Award applies the fixed delta for reason.
func (s *auraService) Award(ctx context.Context, userID uuid.UUID, reason AuraReason) (int, error) {
	delta := s.Delta(reason)
	if delta < 0 {
		return s.PenalizeFor(ctx, userID, reason)
	}
	return s.AwardPoints(ctx, userID, reason, delta)
}

// AwardPoints applies a variable positive award such as a rating.
func (s *auraService) AwardPoints(ctx context.Context, userID uuid.UUID, reason AuraReason, points int) (int, error) {
	var applied int
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		applied, err = s.AwardPointsTx(ctx, tx, userID, reason, points)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.InvalidateProfile(ctx, userID)
	return applied, nil
}

// Penalize removes amount points, never below zero.
func (s *auraService) Penalize(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	return s.penalize(ctx, userID, ReasonPenalty, amount)
}

// PenalizeFor applies the fixed penalty for reason.
func (s *auraService) PenalizeFor(ctx context.Context, userID uuid.UUID, reason AuraReason) (int, error) {
	return s.penalize(ctx, userID, reason, -s.Delta(reason))
}

func (s *auraService) penalize(ctx context.Context, userID uuid.UUID, reason AuraReason, amount int) (int, error) {
	var removed int
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		removed, err = s.PenalizeTx(ctx, tx, userID, reason, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.InvalidateProfile(ctx, userID)
	return removed, nil
}

// AwardPointsTx returns the points actually added after the reform multiplier.
func (s *auraService) AwardPointsTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, points int) (int, error) {
	if points < 0 {
		return 0, fmt.Errorf("%w: award must not be negative", errors.ErrInvalidAmount)
	}
	user, err := tx.Users().FindByIDForUpdate(ctx, userID)
	if err != nil {
		return 0, notFound(err, "user")
	}
	if points == 0 {
		return 0, nil
	}

	change := repository.AuraChange{Delta: points}
	if user.IsReforming {
		change.Delta = int(decimal.NewFromInt(int64(points)).
			Mul(decimal.NewFromInt(s.policy.ReformMultiplierBps)).
			Div(bpsDenominator).
			Round(0).IntPart())
		change.ReformAwards = user.ReformAwards + 1
		change.IsReforming = change.ReformAwards < s.policy.ReformRecoveryAwards
		if !change.IsReforming {
			change.ReformAwards = 0
		}
	}
	// Any award ends a penalty streak.
	change.PenaltyStreak = 0

	if err := s.apply(ctx, tx, userID, reason, change, change.Delta); err != nil {
		return 0, err
	}
	return change.Delta, nil
}

// PenalizeTx returns the points actually removed.
func (s *auraService) PenalizeTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: penalty must not be negative", errors.ErrInvalidAmount)
	}
	user, err := tx.Users().FindByIDForUpdate(ctx, userID)
	if err != nil {
		return 0, notFound(err, "user")
	}
	if amount == 0 {
		return 0, nil
	}

	change := repository.AuraChange{
		Delta:         -amount,
		PenaltyStreak: user.PenaltyStreak + 1,
		IsReforming:   user.IsReforming,
		ReformAwards:  user.ReformAwards,
	}
	if change.PenaltyStreak >= s.policy.ReformPenaltyThreshold {
		change.IsReforming = true
		change.ReformAwards = 0
	}
	removed := amount
	if removed > user.AuraPoints {
		removed = user.AuraPoints
	}

	if err := s.apply(ctx, tx, userID, reason, change, -removed); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *auraService) RevokeTx(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: revocation must not be negative", errors.ErrInvalidAmount)
	}
	user, err := tx.Users().FindByIDForUpdate(ctx, userID)
	if err != nil {
		return 0, notFound(err, "user")
	}
	if amount == 0 {
		return 0, nil
	}

	change := repository.AuraChange{
		Delta:         -amount,
		PenaltyStreak: user.PenaltyStreak,
		IsReforming:   user.IsReforming,
		ReformAwards:  user.ReformAwards,
	}
	removed := min(amount, user.AuraPoints)
	if err := s.apply(ctx, tx, userID, reason, change, -removed); err != nil {
		return 0, err
	}
	return removed, nil
}

// apply records the delta actually applied, which for a penalty may be
// smaller than requested because of the zero floor.
func (s *auraService) apply(ctx context.Context, tx repository.Store, userID uuid.UUID, reason AuraReason, change repository.AuraChange, applied int) error {
	if err := tx.Users().ApplyAura(ctx, userID, change, s.now()); err != nil {
		return notFound(err, "user")
	}
	event := &model.AuraEvent{UserID: userID, Reason: string(reason), Delta: applied}
	if err := tx.AuraEvents().Create(ctx, event); err != nil {
		return fmt.Errorf("record aura event: %w", err)
	}
	return nil
}

// Decay runs the daily inactivity sweep. Re-running on the same UTC day
// touches nobody.
func (s *auraService) Decay(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := telemetry.Start(ctx, "aura.decay")
	cutoff := now.Add(-s.policy.DecayInactivity)
	n, err := s.store.Users().DecayInactive(ctx, cutoff, s.policy.DecayProtectedFloor, s.policy.DecayBps, utcDay(now))
	telemetry.End(span, err)
	if err != nil {
		return 0, fmt.Errorf("decay aura: %w", err)
	}
	log.Printf("aura: decayed users=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func (s *auraService) CapacityFor(ctx context.Context, providerID uuid.UUID) (CapacityCheck, error) {
	return s.CapacityForTx(ctx, s.store, providerID, false)
}

func (s *auraService) CapacityForTx(ctx context.Context, tx repository.Store, providerID uuid.UUID, lock bool) (CapacityCheck, error) {
	var (
		user *model.User
		err  error
	)
	if lock {
		user, err = tx.Users().FindByIDForUpdate(ctx, providerID)
	} else {
		user, err = tx.Users().FindByID(ctx, providerID)
	}
	if err != nil {
		return CapacityCheck{}, notFound(err, "provider")
	}

	level := s.policy.LevelFor(user.AuraPoints)
	check := CapacityCheck{Allowed: true, Level: level, Limit: s.policy.CapacityFor(level)}
	active, err := tx.Slices().CountActiveByProvider(ctx, providerID)
	if err != nil {
		return CapacityCheck{}, fmt.Errorf("count active slices: %w", err)
	}
	check.Active = active
	if check.Limit != config.Unlimited && active >= int64(check.Limit) {
		check.Allowed = false
		check.Reason = fmt.Sprintf("provider at capacity: %d/%d active slices (%s tier)", active, check.Limit, level)
	}
	return check, nil
}

func profileKey(userID uuid.UUID) string {
	return "aura:profile:" + userID.String()
}

func (s *auraService) Profile(ctx context.Context, userID uuid.UUID) (*AuraProfile, error) {
	if cached, _ := s.cache.Get(ctx, profileKey(userID)); cached != nil {
		var p AuraProfile
		if err := json.Unmarshal(cached, &p); err == nil {
			return &p, nil
		}
	}

	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	level := s.policy.LevelFor(user.AuraPoints)
	p := &AuraProfile{
		UserID:      user.ID,
		Points:      user.AuraPoints,
		Level:       level,
		IsReforming: user.IsReforming,
		Capacity:    s.policy.CapacityFor(level),
	}
	if payload, err := json.Marshal(p); err == nil {
		_ = s.cache.Set(ctx, profileKey(userID), payload, profileCacheTTL)
	}
	return p, nil
}

func (s *auraService) History(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuraEvent, error) {
	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return nil, notFound(err, "user")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.AuraEvents().ListByUser(ctx, userID, limit)
}

// InvalidateProfile drops cached profiles after their points changed.
func (s *auraService) InvalidateProfile(ctx context.Context, userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		_ = s.cache.Delete(ctx, profileKey(id))
	}
}
