package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketescrow/internal/config"
	"marketescrow/internal/jury"
	"marketescrow/internal/ledger"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
)

// MockLedgerAdapter is a mock implementation of ledger.Adapter.
type MockLedgerAdapter struct {
	mock.Mock
	name string
}

func (m *MockLedgerAdapter) Name() string { return m.name }

func (m *MockLedgerAdapter) CreateEscrow(ctx context.Context, req ledger.EscrowRequest) (ledger.EscrowResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledger.EscrowResult), args.Error(1)
}

func (m *MockLedgerAdapter) Capture(ctx context.Context, transactionID string, amount int64) error {
	args := m.Called(ctx, transactionID, amount)
	return args.Error(0)
}

func (m *MockLedgerAdapter) Release(ctx context.Context, transactionID string, amount int64) error {
	args := m.Called(ctx, transactionID, amount)
	return args.Error(0)
}

func (m *MockLedgerAdapter) Refund(ctx context.Context, transactionID string, amount int64) error {
	args := m.Called(ctx, transactionID, amount)
	return args.Error(0)
}

// MockJury is a mock implementation of jury.Provider.
type MockJury struct {
	mock.Mock
}

func (m *MockJury) Judge(ctx context.Context, req jury.JudgeRequest) (model.Verdict, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Verdict), args.Error(1)
}

type recordingSink struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (s *recordingSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *recordingSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notes))
	for i, n := range s.notes {
		out[i] = n.Event
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *memStore
	policy   config.Policy
	clock    *testClock
	mockLed  *ledger.MockAdapter
	card     *MockLedgerAdapter
	wallet   *MockLedgerAdapter
	jury     *MockJury
	sink     *recordingSink
	aura     AuraService
	escrow   EscrowService
	slices   SliceService
	ratings  RatingService
	disputes DisputeService
	payouts  PayoutService
	admin    model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		policy:  config.DefaultPolicy(),
		clock:   &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		mockLed: ledger.NewMockAdapter(),
		card:    &MockLedgerAdapter{name: ledger.MethodCardProcessor},
		wallet:  &MockLedgerAdapter{name: ledger.MethodLocalWallet},
		jury:    new(MockJury),
		sink:    &recordingSink{},
	}
	router := ledger.NewRouter(f.mockLed, f.card, f.wallet, false)
	f.aura = NewAuraService(f.store, f.policy, nil, f.clock.Now)
	f.escrow = NewEscrowService(f.store, f.policy, router, f.aura, f.sink, f.clock.Now)
	f.slices = NewSliceService(f.store, f.policy, router, f.aura, f.escrow, f.sink)
	f.ratings = NewRatingService(f.store, f.policy, f.aura)
	f.disputes = NewDisputeService(f.store, f.policy, f.escrow, f.aura, f.jury, f.sink, f.clock.Now)
	f.payouts = NewPayoutService(f.store, f.policy, f.escrow, nil, f.sink)
	f.admin = f.store.seedUser(model.User{Email: "admin@example.com", Role: model.RoleAdmin, Active: true})
	return f
}

func actorOf(u model.User) Actor { return Actor{ID: u.ID, Role: u.Role} }

func (f *fixture) adminActor() Actor { return actorOf(f.admin) }

func (f *fixture) newUser(role model.Role, points int, country string) model.User {
	return f.store.seedUser(model.User{
		Email:          uuid.NewString() + "@example.com",
		Name:           string(role),
		Role:           role,
		CountryCode:    country,
		AuraPoints:     points,
		Active:         true,
		LastActivityAt: f.clock.Now(),
	})
}

// deal is a slice with both parties.
type deal struct {
	client   model.User
	provider model.User
	slice    *model.Slice
	escrow   *model.EscrowPayment
}

// acceptedDeal creates an accepted slice between a fresh client and provider.
func (f *fixture) acceptedDeal(t *testing.T, price int64, country string) *deal {
	t.Helper()
	ctx := context.Background()
	d := &deal{
		client:   f.newUser(model.RoleClient, 100, country),
		provider: f.newUser(model.RoleProvider, 100, country),
	}
	slice, err := f.slices.CreateSlice(ctx, actorOf(d.client), CreateSliceInput{Title: "Kitchen tiling", PriceCents: price, Currency: "usd"})
	require.NoError(t, err)
	slice, err = f.slices.AssignProvider(ctx, slice.ID, d.provider.ID, actorOf(d.client))
	require.NoError(t, err)
	d.slice = slice
	return d
}

// fundedDeal funds an accepted deal through the in-memory mock ledger.
func (f *fixture) fundedDeal(t *testing.T, price int64) *deal {
	t.Helper()
	ctx := context.Background()
	d := f.acceptedDeal(t, price, "US")
	escrow, err := f.escrow.CreateEscrow(ctx, d.slice.ID, actorOf(d.client), ledger.ForceModeMock)
	require.NoError(t, err)
	escrow, err = f.escrow.ConfirmFunded(ctx, escrow.PaymentMethod, escrow.TransactionID())
	require.NoError(t, err)
	d.escrow = escrow
	return d
}

// completedDeal funds a deal and has the provider deliver it.
func (f *fixture) completedDeal(t *testing.T, price int64) *deal {
	t.Helper()
	ctx := context.Background()
	d := f.fundedDeal(t, price)
	_, err := f.slices.SubmitWorkEvidence(ctx, d.slice.ID, actorOf(d.provider), "https://cdn.example.com/done.jpg", "done")
	require.NoError(t, err)
	_, err = f.escrow.MarkCompleted(ctx, d.slice.ID, actorOf(d.provider))
	require.NoError(t, err)
	return d
}
