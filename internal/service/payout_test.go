package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/ledger"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
)

func TestProportionalDistribution(t *testing.T) {
	tests := []struct {
		name   string
		pool   int64
		points []int
		want   []int64
	}{
		{name: "even split remainder goes first", pool: 100, points: []int{1, 1, 1}, want: []int64{34, 33, 33}},
		{name: "weighted", pool: 1000, points: []int{300, 200, 100}, want: []int64{500, 333, 167}},
		{name: "single recipient takes all", pool: 7, points: []int{150}, want: []int64{7}},
		{name: "empty pool", pool: 0, points: []int{300, 200}, want: []int64{0, 0}},
		{name: "nobody eligible", pool: 100, points: nil, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recipients := make([]Recipient, len(tt.points))
			for i, p := range tt.points {
				recipients[i] = Recipient{UserID: uuid.New(), AuraPoints: p}
			}
			got := ProportionalDistribution(tt.pool, recipients)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDistributionConservesPool(t *testing.T) {
	recipients := []Recipient{{AuraPoints: 997}, {AuraPoints: 13}, {AuraPoints: 401}, {AuraPoints: 101}, {AuraPoints: 5000}}
	for _, pool := range []int64{1, 2, 17, 999, 123_457} {
		for _, distribute := range []DistributionFunc{ProportionalDistribution, TieredDistribution(config.DefaultPolicy())} {
			var sum int64
			for _, amount := range distribute(pool, recipients) {
				assert.GreaterOrEqual(t, amount, int64(0))
				sum += amount
			}
			assert.Equal(t, pool, sum, "pool=%d", pool)
		}
	}
}

func TestTieredDistribution(t *testing.T) {
	distribute := TieredDistribution(config.DefaultPolicy())
	recipients := []Recipient{{AuraPoints: 5000}, {AuraPoints: 2000}, {AuraPoints: 500}, {AuraPoints: 120}}

	assert.Equal(t, []int64{50, 30, 20, 10}, distribute(110, recipients))
}

// seedPool adds a released escrow carrying pool cents of community reward.
func (f *fixture) seedPool(t *testing.T, pool int64) model.EscrowPayment {
	t.Helper()
	releasedAt := f.clock.Now()
	escrow := &model.EscrowPayment{
		SliceID:             uuid.New(),
		PayerID:             uuid.New(),
		PayeeID:             uuid.New(),
		Currency:            "USD",
		CommunityRewardPool: pool,
		PlatformFee:         pool,
		Status:              model.EscrowStatusReleased,
		PaymentMethod:       ledger.MethodMock,
		ReleasedAt:          &releasedAt,
	}
	require.NoError(t, f.store.Escrows().Create(context.Background(), escrow))
	return *escrow
}

func TestPayoutService_ProcessDailyPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	top := f.newUser(model.RoleProvider, 300, "US")
	mid := f.newUser(model.RoleProvider, 200, "US")
	low := f.newUser(model.RoleClient, 100, "US")
	below := f.newUser(model.RoleProvider, 50, "US")
	inactive := f.store.seedUser(model.User{Email: "gone@example.com", Role: model.RoleProvider, AuraPoints: 900, Active: false})
	pooled := f.seedPool(t, 600)
	f.seedPool(t, 400)

	batch, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), batch.RunDate)
	assert.Equal(t, int64(1000), batch.PoolCents)
	assert.Equal(t, int64(1000), batch.DistributedCents)
	assert.Equal(t, 3, batch.Recipients)
	assert.False(t, batch.Forced)

	assert.Equal(t, int64(500), f.store.user(top.ID).WalletBalanceCents)
	assert.Equal(t, int64(333), f.store.user(mid.ID).WalletBalanceCents)
	assert.Equal(t, int64(167), f.store.user(low.ID).WalletBalanceCents)
	assert.Zero(t, f.store.user(below.ID).WalletBalanceCents)
	assert.Zero(t, f.store.user(inactive.ID).WalletBalanceCents)

	stored := f.store.escrowBySlice(pooled.SliceID)
	require.NotNil(t, stored.PayoutBatchID)
	assert.Equal(t, batch.ID, *stored.PayoutBatchID)
	assert.Equal(t, []string{notify.EventPayoutDistributed, notify.EventPayoutDistributed, notify.EventPayoutDistributed}, f.sink.events())

	_, err = f.payouts.ProcessDailyPayout(ctx, f.clock.Now().Add(time.Hour), false)
	assert.ErrorIs(t, err, errors.ErrAlreadyProcessed)

	forced, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), true)
	require.NoError(t, err)
	assert.True(t, forced.Forced)
	assert.Zero(t, forced.PoolCents)
	assert.Zero(t, forced.Recipients)
	assert.Equal(t, int64(500), f.store.user(top.ID).WalletBalanceCents)

	f.seedPool(t, 60)
	next, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now().Add(24*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(60), next.PoolCents)
	assert.Equal(t, int64(530), f.store.user(top.ID).WalletBalanceCents)

	batches, err := f.payouts.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, next.ID, batches[0].ID)
}

func TestPayoutService_PoolCarriesOverWithoutRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newUser(model.RoleProvider, 99, "US")
	f.seedPool(t, 250)

	batch, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(250), batch.PoolCents)
	assert.Zero(t, batch.DistributedCents)
	assert.Empty(t, batch.Entries)

	// The empty batch still marks the day as processed.
	_, err = f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	assert.ErrorIs(t, err, errors.ErrAlreadyProcessed)

	eligible := f.newUser(model.RoleProvider, 150, "US")
	f.seedPool(t, 50)
	batch, err = f.payouts.ProcessDailyPayout(ctx, f.clock.Now().Add(24*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(300), batch.PoolCents)
	assert.Equal(t, int64(300), f.store.user(eligible.ID).WalletBalanceCents)
}

func TestPayoutService_FailedRunLeavesPoolIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(model.RoleProvider, 300, "US")
	pooled := f.seedPool(t, 100)

	f.store.db.failOn("Users.CreditWallet", stderrors.New("deadlock"))
	_, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	require.Error(t, err)
	assert.Zero(t, f.store.user(user.ID).WalletBalanceCents)
	assert.Nil(t, f.store.escrowBySlice(pooled.SliceID).PayoutBatchID)

	f.store.db.failOn("Users.CreditWallet", nil)
	batch, err := f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(100), batch.DistributedCents)
}

func TestPayoutService_GetPreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	top := f.newUser(model.RoleProvider, 300, "US")
	f.newUser(model.RoleProvider, 100, "US")
	f.seedPool(t, 400)
	txBefore := f.store.transactions()

	preview, err := f.payouts.GetPreview(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(400), preview.PoolCents)
	assert.False(t, preview.AlreadyProcessed)
	require.Len(t, preview.Shares, 2)
	assert.Equal(t, top.ID, preview.Shares[0].UserID)
	assert.Equal(t, int64(300), preview.Shares[0].AmountCents)
	assert.Equal(t, int64(100), preview.Shares[1].AmountCents)

	assert.Equal(t, txBefore, f.store.transactions())
	assert.Zero(t, f.store.user(top.ID).WalletBalanceCents)
	batches, err := f.payouts.ListBatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = f.payouts.ProcessDailyPayout(ctx, f.clock.Now(), false)
	require.NoError(t, err)
	preview, err = f.payouts.GetPreview(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, preview.AlreadyProcessed)
	assert.Zero(t, preview.PoolCents)
}

func TestPayoutService_ProcessAutoReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.completedDeal(t, 10_000)
	second := f.completedDeal(t, 5_000)
	declined := f.cardDeal(t, 8_000, "ch_auto")
	f.card.On("Release", mock.Anything, "ch_auto", int64(8_000)).Return(ledger.ErrDeclined)

	// Released by another path while the slice still looks due.
	raced := f.completedDeal(t, 3_000)
	escrow := f.store.escrowBySlice(raced.slice.ID)
	escrow.Status = model.EscrowStatusReleased
	require.NoError(t, f.store.Escrows().CompareAndSwap(ctx, &escrow, model.EscrowStatusCompleted))

	result, err := f.payouts.ProcessAutoReleases(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, AutoReleaseResult{}, result)

	f.clock.Advance(f.policy.AutoReleaseAfter + time.Minute)
	notDue := f.completedDeal(t, 2_000)

	result, err = f.payouts.ProcessAutoReleases(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, AutoReleaseResult{Due: 4, Released: 2, Skipped: 1, Failed: 1}, result)

	assert.Equal(t, model.EscrowStatusReleased, f.store.escrowBySlice(first.slice.ID).Status)
	assert.Equal(t, model.EscrowStatusReleased, f.store.escrowBySlice(second.slice.ID).Status)
	failed := f.store.escrowBySlice(declined.slice.ID)
	assert.Equal(t, model.EscrowStatusFailed, failed.Status)
	assert.Equal(t, model.EscrowStatusCompleted, failed.FailedFrom)
	assert.Equal(t, model.EscrowStatusCompleted, f.store.escrowBySlice(notDue.slice.ID).Status)
}
