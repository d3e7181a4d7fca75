package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/repository"
)

// RatingInput holds the five sub-scores, each 1..5.
type RatingInput struct {
	Quality         int
	Communication   int
	Timeliness      int
	Professionalism int
	Value           int
}

func (in RatingInput) scores() []int {
	return []int{in.Quality, in.Communication, in.Timeliness, in.Professionalism, in.Value}
}

// RatingService records client reviews and turns them into Aura.
type RatingService interface {
	SubmitRating(ctx context.Context, sliceID uuid.UUID, actor Actor, input RatingInput) (*model.Rating, error)
	ListForProvider(ctx context.Context, providerID uuid.UUID) ([]model.Rating, error)
}

type ratingService struct {
	store  repository.Store
	policy config.Policy
	aura   AuraService
}

// NewRatingService creates a rating service.
func NewRatingService(store repository.Store, policy config.Policy, aura AuraService) RatingService {
	return &ratingService{store: store, policy: policy, aura: aura}
}

// SubmitRating stores the rating and awards round(overall * factor) Aura to
// the provider in the same transaction.
func (s *ratingService) SubmitRating(ctx context.Context, sliceID uuid.UUID, actor Actor, input RatingInput) (*model.Rating, error) {
	sum := 0
	for _, score := range input.scores() {
		if score < 1 || score > 5 {
			return nil, fmt.Errorf("%w: scores must be between 1 and 5", errors.ErrInvalidInput)
		}
		sum += score
	}
	overall := decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(5))
	award := int(overall.Mul(decimal.NewFromInt(int64(s.policy.RatingAwardFactor))).Round(0).IntPart())

	var rating *model.Rating
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		slice, err := tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if slice.CreatorID != actor.ID {
			return fmt.Errorf("%w: only the client can rate a slice", errors.ErrForbidden)
		}
		if slice.Status != model.SliceStatusCompleted && slice.Status != model.SliceStatusPaid {
			return fmt.Errorf("%w: cannot rate slice in status %s", errors.ErrInvalidState, slice.Status)
		}
		if !slice.HasProvider() {
			return fmt.Errorf("%w: slice has no provider", errors.ErrInvalidState)
		}
		_, err = tx.Ratings().FindBySliceID(ctx, slice.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: slice already rated", errors.ErrConflict)
		case !stderrors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		applied, err := s.aura.AwardPointsTx(ctx, tx, *slice.AssignedProviderID, ReasonRatingReceived, award)
		if err != nil {
			return err
		}
		rating = &model.Rating{
			SliceID:           slice.ID,
			RaterID:           actor.ID,
			ProviderID:        *slice.AssignedProviderID,
			Quality:           input.Quality,
			Communication:     input.Communication,
			Timeliness:        input.Timeliness,
			Professionalism:   input.Professionalism,
			Value:             input.Value,
			OverallHundredths: int(overall.Mul(decimal.NewFromInt(100)).IntPart()),
			AuraAwarded:       applied,
		}
		return tx.Ratings().Create(ctx, rating)
	})
	if err != nil {
		return nil, err
	}
	s.aura.InvalidateProfile(ctx, rating.ProviderID)
	log.Printf("rating: slice=%s provider=%s overall=%d aura=%d", rating.SliceID, rating.ProviderID, rating.OverallHundredths, rating.AuraAwarded)
	return rating, nil
}

func (s *ratingService) ListForProvider(ctx context.Context, providerID uuid.UUID) ([]model.Rating, error) {
	return s.store.Ratings().ListByProvider(ctx, providerID)
}
