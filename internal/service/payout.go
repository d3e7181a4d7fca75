package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
	"marketescrow/internal/repository"
	"marketescrow/internal/telemetry"
)

// Recipient is a payout candidate.
type Recipient struct {
	UserID     uuid.UUID
	AuraPoints int
}

// DistributionFunc splits pool across recipients. The returned amounts are
// aligned with recipients and must sum to pool whenever recipients is not empty.
type DistributionFunc func(pool int64, recipients []Recipient) []int64

// ProportionalDistribution weights each recipient by aura points, handing the
// rounding remainder out by largest remainder.
func ProportionalDistribution(pool int64, recipients []Recipient) []int64 {
	weights := make([]int64, len(recipients))
	for i, r := range recipients {
		weights[i] = int64(r.AuraPoints)
	}
	return distributeByWeight(pool, weights)
}

// TieredDistribution weights recipients by their aura level instead of raw points.
func TieredDistribution(policy config.Policy) DistributionFunc {
	tierWeight := map[model.AuraLevel]int64{
		model.AuraBronze:  1,
		model.AuraSilver:  2,
		model.AuraGold:    3,
		model.AuraDiamond: 5,
	}
	return func(pool int64, recipients []Recipient) []int64 {
		weights := make([]int64, len(recipients))
		for i, r := range recipients {
			weights[i] = tierWeight[policy.LevelFor(r.AuraPoints)]
		}
		return distributeByWeight(pool, weights)
	}
}

func distributeByWeight(pool int64, weights []int64) []int64 {
	amounts := make([]int64, len(weights))
	var total int64
	for _, w := range weights {
		total += w
	}
	if pool <= 0 || total <= 0 {
		return amounts
	}

	type remainder struct {
		index int
		value decimal.Decimal
	}
	rems := make([]remainder, len(weights))
	denominator := decimal.NewFromInt(total)
	var assigned int64
	for i, w := range weights {
		q, r := decimal.NewFromInt(pool).Mul(decimal.NewFromInt(w)).QuoRem(denominator, 0)
		amounts[i] = q.IntPart()
		assigned += amounts[i]
		rems[i] = remainder{index: i, value: r}
	}
	// Ties keep candidate order, which is aura descending.
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].value.GreaterThan(rems[b].value) })
	for i := 0; assigned < pool; i++ {
		amounts[rems[i%len(rems)].index]++
		assigned++
	}
	return amounts
}

// PayoutShare is one recipient's computed share.
type PayoutShare struct {
	UserID      uuid.UUID `json:"user_id"`
	AuraPoints  int       `json:"aura_points"`
	AmountCents int64     `json:"amount_cents"`
}

// PayoutPreview is what a payout run would distribute.
type PayoutPreview struct {
	RunDate          time.Time     `json:"run_date"`
	PoolCents        int64         `json:"pool_cents"`
	AlreadyProcessed bool          `json:"already_processed"`
	Shares           []PayoutShare `json:"shares"`
}

// AutoReleaseResult counts the outcome of one auto-release sweep.
type AutoReleaseResult struct {
	Due      int   `json:"due"`
	Released int64 `json:"released"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

// PayoutService runs the scheduled money jobs.
type PayoutService interface {
	ProcessAutoReleases(ctx context.Context, now time.Time) (AutoReleaseResult, error)
	// ProcessDailyPayout distributes the undistributed community pool for the
	// UTC day of reference. Without force, a second run that day reports
	// ErrAlreadyProcessed.
	ProcessDailyPayout(ctx context.Context, reference time.Time, force bool) (*model.PayoutBatch, error)
	GetPreview(ctx context.Context, reference time.Time) (*PayoutPreview, error)
	ListBatches(ctx context.Context, limit int) ([]model.PayoutBatch, error)
}

type payoutService struct {
	store      repository.Store
	policy     config.Policy
	escrow     EscrowService
	distribute DistributionFunc
	sink       notify.Sink
}

// NewPayoutService creates the payout scheduler operations. A nil distribute
// uses ProportionalDistribution.
func NewPayoutService(store repository.Store, policy config.Policy, escrow EscrowService, distribute DistributionFunc, sink notify.Sink) PayoutService {
	if distribute == nil {
		distribute = ProportionalDistribution
	}
	return &payoutService{store: store, policy: policy, escrow: escrow, distribute: distribute, sink: sink}
}

// ProcessAutoReleases releases every completed slice whose window has closed.
// Slices that were released or disputed in the meantime count as skipped.
func (s *payoutService) ProcessAutoReleases(ctx context.Context, now time.Time) (AutoReleaseResult, error) {
	ctx, span := telemetry.Start(ctx, "payout.auto_release")
	defer telemetry.End(span, nil)

	due, err := s.store.Slices().ListDueForAutoRelease(ctx, now, s.policy.AutoReleaseBatch)
	if err != nil {
		return AutoReleaseResult{}, fmt.Errorf("list due slices: %w", err)
	}
	result := AutoReleaseResult{Due: len(due)}
	var released, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.AutoReleaseWorkers)
	for _, slice := range due {
		slice := slice
		g.Go(func() error {
			_, err := s.escrow.Release(gctx, slice.ID, TransitionOptions{Auto: true})
			switch {
			case err == nil:
				released.Add(1)
			case errors.Is(err, errors.ErrAlreadyProcessed), errors.Is(err, errors.ErrInvalidState):
				skipped.Add(1)
			default:
				failed.Add(1)
				log.Printf("payout: auto-release slice=%s failed: %v", slice.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Released = released.Load()
	result.Skipped = skipped.Load()
	result.Failed = failed.Load()
	if result.Due > 0 {
		log.Printf("payout: auto-release due=%d released=%d skipped=%d failed=%d", result.Due, result.Released, result.Skipped, result.Failed)
	}
	return result, nil
}

func (s *payoutService) ProcessDailyPayout(ctx context.Context, reference time.Time, force bool) (*model.PayoutBatch, error) {
	ctx, span := telemetry.Start(ctx, "payout.daily")
	day := utcDay(reference)

	var batch *model.PayoutBatch
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		// Locking the pool first serialises concurrent runs before the day check.
		escrows, err := tx.Escrows().ListUndistributedForUpdate(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Payouts().FindByRunDate(ctx, day)
		switch {
		case err == nil && !force:
			return fmt.Errorf("%w: payout for %s already processed", errors.ErrAlreadyProcessed, day.Format("2006-01-02"))
		case err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		pool := sumPool(escrows)
		shares, err := s.computeShares(ctx, tx, pool)
		if err != nil {
			return err
		}

		batch = &model.PayoutBatch{RunDate: day, PoolCents: pool, Forced: force}
		for _, share := range shares {
			if share.AmountCents <= 0 {
				continue
			}
			batch.Entries = append(batch.Entries, model.PayoutEntry{
				UserID:      share.UserID,
				AuraPoints:  share.AuraPoints,
				AmountCents: share.AmountCents,
			})
			batch.DistributedCents += share.AmountCents
		}
		batch.Recipients = len(batch.Entries)
		if err := tx.Payouts().CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create payout batch: %w", err)
		}
		for _, entry := range batch.Entries {
			if err := tx.Users().CreditWallet(ctx, entry.UserID, entry.AmountCents); err != nil {
				return notFound(err, "payout recipient")
			}
		}
		// With nobody eligible the pool carries over to the next run.
		if batch.DistributedCents == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(escrows))
		for i, e := range escrows {
			ids[i] = e.ID
		}
		return tx.Escrows().MarkDistributed(ctx, ids, batch.ID)
	})
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}

	log.Printf("payout: day=%s pool=%d distributed=%d recipients=%d forced=%t",
		day.Format("2006-01-02"), batch.PoolCents, batch.DistributedCents, batch.Recipients, force)
	notes := make([]notify.Notification, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		notes = append(notes, notify.Notification{
			Event: notify.EventPayoutDistributed, UserID: entry.UserID, SubjectID: batch.ID,
			Message: fmt.Sprintf("You received %d from the community reward pool.", entry.AmountCents),
		})
	}
	notify.Dispatch(ctx, s.sink, notes...)
	return batch, nil
}

// GetPreview computes the next payout without writing anything.
func (s *payoutService) GetPreview(ctx context.Context, reference time.Time) (*PayoutPreview, error) {
	day := utcDay(reference)
	escrows, err := s.store.Escrows().ListUndistributed(ctx)
	if err != nil {
		return nil, err
	}
	preview := &PayoutPreview{RunDate: day, PoolCents: sumPool(escrows)}
	if _, err := s.store.Payouts().FindByRunDate(ctx, day); err == nil {
		preview.AlreadyProcessed = true
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	preview.Shares, err = s.computeShares(ctx, s.store, preview.PoolCents)
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func (s *payoutService) computeShares(ctx context.Context, store repository.Store, pool int64) ([]PayoutShare, error) {
	users, err := store.Users().TopByAura(ctx, s.policy.PayoutMinAura, s.policy.PayoutMaxRecipients)
	if err != nil {
		return nil, fmt.Errorf("list payout candidates: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	recipients := make([]Recipient, len(users))
	for i, u := range users {
		recipients[i] = Recipient{UserID: u.ID, AuraPoints: u.AuraPoints}
	}
	amounts := s.distribute(pool, recipients)
	if len(amounts) != len(recipients) {
		return nil, fmt.Errorf("distribution returned %d amounts for %d recipients", len(amounts), len(recipients))
	}
	shares := make([]PayoutShare, len(recipients))
	for i, r := range recipients {
		shares[i] = PayoutShare{UserID: r.UserID, AuraPoints: r.AuraPoints, AmountCents: amounts[i]}
	}
	return shares, nil
}

func (s *payoutService) ListBatches(ctx context.Context, limit int) ([]model.PayoutBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return s.store.Payouts().ListRecent(ctx, limit)
}

func sumPool(escrows []model.EscrowPayment) int64 {
	var pool int64
	for _, e := range escrows {
		pool += e.CommunityRewardPool
	}
	return pool
}
