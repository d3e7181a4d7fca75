package service

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/model"
	"marketescrow/internal/repository"
)

var errDuplicate = stderrors.New("duplicate key")

// memDB is an in-memory stand-in for the database. A transaction holds mu for
// its whole duration and restores a snapshot when fn fails.
type memDB struct {
	mu              sync.Mutex
	users           map[uuid.UUID]model.User
	auraEvents      []model.AuraEvent
	slices          map[uuid.UUID]model.Slice
	sliceEvidence   []model.SliceEvidence
	escrows         map[uuid.UUID]model.EscrowPayment
	disputes        map[uuid.UUID]model.Dispute
	disputeEvidence []model.DisputeEvidence
	ratings         map[uuid.UUID]model.Rating
	batches         []model.PayoutBatch
	failures        map[string]error
	tick            time.Time
	transactions    int
}

func newMemDB() *memDB {
	return &memDB{
		users:    map[uuid.UUID]model.User{},
		slices:   map[uuid.UUID]model.Slice{},
		escrows:  map[uuid.UUID]model.EscrowPayment{},
		disputes: map[uuid.UUID]model.Dispute{},
		ratings:  map[uuid.UUID]model.Rating{},
		failures: map[string]error{},
		tick:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type memSnapshot struct {
	users           map[uuid.UUID]model.User
	auraEvents      []model.AuraEvent
	slices          map[uuid.UUID]model.Slice
	sliceEvidence   []model.SliceEvidence
	escrows         map[uuid.UUID]model.EscrowPayment
	disputes        map[uuid.UUID]model.Dispute
	disputeEvidence []model.DisputeEvidence
	ratings         map[uuid.UUID]model.Rating
	batches         []model.PayoutBatch
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySlice[V any](s []V) []V {
	return append([]V(nil), s...)
}

func (db *memDB) snapshot() memSnapshot {
	return memSnapshot{
		users:           copyMap(db.users),
		auraEvents:      copySlice(db.auraEvents),
		slices:          copyMap(db.slices),
		sliceEvidence:   copySlice(db.sliceEvidence),
		escrows:         copyMap(db.escrows),
		disputes:        copyMap(db.disputes),
		disputeEvidence: copySlice(db.disputeEvidence),
		ratings:         copyMap(db.ratings),
		batches:         copySlice(db.batches),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.users = s.users
	db.auraEvents = s.auraEvents
	db.slices = s.slices
	db.sliceEvidence = s.sliceEvidence
	db.escrows = s.escrows
	db.disputes = s.disputes
	db.disputeEvidence = s.disputeEvidence
	db.ratings = s.ratings
	db.batches = s.batches
}

// failOn makes the named repository method return err until cleared.
func (db *memDB) failOn(method string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.failures, method)
		return
	}
	db.failures[method] = err
}

// stamp returns a strictly increasing creation time.
func (db *memDB) stamp() time.Time {
	db.tick = db.tick.Add(time.Millisecond)
	return db.tick
}

// memStore implements repository.Store over memDB.
type memStore struct {
	db   *memDB
	inTx bool
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{db: newMemDB()} }

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *memStore) fail(method string) error {
	return s.db.failures[method]
}

func (s *memStore) Users() repository.UserRepository           { return memUsers{s} }
func (s *memStore) AuraEvents() repository.AuraEventRepository { return memAuraEvents{s} }
func (s *memStore) Slices() repository.SliceRepository         { return memSlices{s} }
func (s *memStore) Escrows() repository.EscrowRepository       { return memEscrows{s} }
func (s *memStore) Disputes() repository.DisputeRepository     { return memDisputes{s} }
func (s *memStore) Ratings() repository.RatingRepository       { return memRatings{s} }
func (s *memStore) Payouts() repository.PayoutRepository       { return memPayouts{s} }

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.transactions++
	snap := s.db.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.db.restore(snap)
			panic(r)
		}
		if err != nil {
			s.db.restore(snap)
		}
	}()
	return fn(ctx, &memStore{db: s.db, inTx: true})
}

// seedUser inserts a user directly.
func (s *memStore) seedUser(u model.User) model.User {
	unlock := s.lock()
	defer unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = model.RoleClient
	}
	if u.LastActivityAt.IsZero() {
		u.LastActivityAt = s.db.stamp()
	}
	u.CreatedAt = s.db.stamp()
	s.db.users[u.ID] = u
	return u
}

func (s *memStore) user(id uuid.UUID) model.User {
	unlock := s.lock()
	defer unlock()
	return s.db.users[id]
}

func (s *memStore) slice(id uuid.UUID) model.Slice {
	unlock := s.lock()
	defer unlock()
	return s.db.slices[id]
}

func (s *memStore) escrowBySlice(sliceID uuid.UUID) model.EscrowPayment {
	unlock := s.lock()
	defer unlock()
	for _, e := range s.db.escrows {
		if e.SliceID == sliceID {
			return e
		}
	}
	return model.EscrowPayment{}
}

func (s *memStore) auraEventsFor(userID uuid.UUID) []model.AuraEvent {
	unlock := s.lock()
	defer unlock()
	var out []model.AuraEvent
	for _, e := range s.db.auraEvents {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) transactions() int {
	unlock := s.lock()
	defer unlock()
	return s.db.transactions
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(_ context.Context, user *model.User) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Users.Create"); err != nil {
		return err
	}
	for _, u := range r.s.db.users {
		if u.Email == user.Email {
			return errDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.LastActivityAt.IsZero() {
		user.LastActivityAt = r.s.db.stamp()
	}
	user.CreatedAt = r.s.db.stamp()
	r.s.db.users[user.ID] = *user
	return nil
}

func (r memUsers) find(id uuid.UUID) (*model.User, error) {
	u, ok := r.s.db.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r memUsers) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memUsers) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*model.User, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	unlock := r.s.lock()
	defer unlock()
	for _, u := range r.s.db.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memUsers) List(_ context.Context) ([]model.User, error) {
	unlock := r.s.lock()
	defer unlock()
	out := make([]model.User, 0, len(r.s.db.users))
	for _, u := range r.s.db.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memUsers) ApplyAura(_ context.Context, id uuid.UUID, change repository.AuraChange, at time.Time) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Users.ApplyAura"); err != nil {
		return err
	}
	u, ok := r.s.db.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.AuraPoints += change.Delta
	if u.AuraPoints < 0 {
		u.AuraPoints = 0
	}
	u.PenaltyStreak = change.PenaltyStreak
	u.IsReforming = change.IsReforming
	u.ReformAwards = change.ReformAwards
	if change.Delta > 0 {
		u.LastActivityAt = at
	}
	r.s.db.users[id] = u
	return nil
}

func (r memUsers) DecayInactive(_ context.Context, cutoff time.Time, floor int, bps int64, day time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()
	var n int64
	for id, u := range r.s.db.users {
		if !u.Active || !u.LastActivityAt.Before(cutoff) || u.AuraPoints <= floor {
			continue
		}
		if u.LastDecayedAt != nil && !u.LastDecayedAt.Before(day) {
			continue
		}
		u.AuraPoints -= int((int64(u.AuraPoints)*bps + 5000) / 10000)
		d := day
		u.LastDecayedAt = &d
		r.s.db.users[id] = u
		n++
	}
	return n, nil
}

func (r memUsers) CreditWallet(_ context.Context, id uuid.UUID, cents int64) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Users.CreditWallet"); err != nil {
		return err
	}
	u, ok := r.s.db.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.WalletBalanceCents += cents
	r.s.db.users[id] = u
	return nil
}

func (r memUsers) TopByAura(_ context.Context, minAura, limit int) ([]model.User, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.User
	for _, u := range r.s.db.users {
		if u.Active && u.AuraPoints >= minAura {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AuraPoints != out[j].AuraPoints {
			return out[i].AuraPoints > out[j].AuraPoints
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAuraEvents struct{ s *memStore }

func (r memAuraEvents) Create(_ context.Context, event *model.AuraEvent) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("AuraEvents.Create"); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = r.s.db.stamp()
	r.s.db.auraEvents = append(r.s.db.auraEvents, *event)
	return nil
}

func (r memAuraEvents) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.AuraEvent, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.AuraEvent
	for i := len(r.s.db.auraEvents) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.s.db.auraEvents[i]; e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memSlices struct{ s *memStore }

func (r memSlices) Create(_ context.Context, slice *model.Slice) error {
	unlock := r.s.lock()
	defer unlock()
	if slice.ID == uuid.Nil {
		slice.ID = uuid.New()
	}
	slice.CreatedAt = r.s.db.stamp()
	r.s.db.slices[slice.ID] = *slice
	return nil
}

func (r memSlices) Update(_ context.Context, slice *model.Slice) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Slices.Update"); err != nil {
		return err
	}
	r.s.db.slices[slice.ID] = *slice
	return nil
}

func (r memSlices) find(id uuid.UUID) (*model.Slice, error) {
	sl, ok := r.s.db.slices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &sl, nil
}

func (r memSlices) FindByID(_ context.Context, id uuid.UUID) (*model.Slice, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memSlices) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*model.Slice, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memSlices) ListByParticipant(_ context.Context, userID uuid.UUID) ([]model.Slice, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.Slice
	for _, sl := range r.s.db.slices {
		if sl.IsParty(userID) {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memSlices) CountActiveByProvider(_ context.Context, providerID uuid.UUID) (int64, error) {
	unlock := r.s.lock()
	defer unlock()
	var n int64
	for _, sl := range r.s.db.slices {
		if !sl.HasProvider() || *sl.AssignedProviderID != providerID {
			continue
		}
		for _, st := range model.ActiveSliceStatuses {
			if sl.Status == st {
				n++
			}
		}
	}
	return n, nil
}

func (r memSlices) ListDueForAutoRelease(_ context.Context, now time.Time, limit int) ([]model.Slice, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.Slice
	for _, sl := range r.s.db.slices {
		if sl.Status == model.SliceStatusCompleted && sl.AutoReleaseAt != nil && !sl.AutoReleaseAt.After(now) {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoReleaseAt.Before(*out[j].AutoReleaseAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSlices) AddEvidence(_ context.Context, evidence *model.SliceEvidence) error {
	unlock := r.s.lock()
	defer unlock()
	if evidence.ID == uuid.Nil {
		evidence.ID = uuid.New()
	}
	evidence.CreatedAt = r.s.db.stamp()
	r.s.db.sliceEvidence = append(r.s.db.sliceEvidence, *evidence)
	return nil
}

func (r memSlices) ListEvidence(_ context.Context, sliceID uuid.UUID) ([]model.SliceEvidence, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.SliceEvidence
	for _, e := range r.s.db.sliceEvidence {
		if e.SliceID == sliceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memSlices) CountEvidenceByUploader(_ context.Context, sliceID, uploaderID uuid.UUID) (int64, error) {
	unlock := r.s.lock()
	defer unlock()
	var n int64
	for _, e := range r.s.db.sliceEvidence {
		if e.SliceID == sliceID && e.UploaderID == uploaderID {
			n++
		}
	}
	return n, nil
}

type memEscrows struct{ s *memStore }

func (r memEscrows) Create(_ context.Context, escrow *model.EscrowPayment) error {
	unlock := r.s.lock()
	defer unlock()
	for _, e := range r.s.db.escrows {
		if e.SliceID == escrow.SliceID {
			return errDuplicate
		}
	}
	if escrow.ID == uuid.Nil {
		escrow.ID = uuid.New()
	}
	escrow.CreatedAt = r.s.db.stamp()
	r.s.db.escrows[escrow.ID] = *escrow
	return nil
}

func (r memEscrows) findBy(match func(model.EscrowPayment) bool) (*model.EscrowPayment, error) {
	for _, e := range r.s.db.escrows {
		if match(e) {
			return &e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memEscrows) FindByID(_ context.Context, id uuid.UUID) (*model.EscrowPayment, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.findBy(func(e model.EscrowPayment) bool { return e.ID == id })
}

func (r memEscrows) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.EscrowPayment, error) {
	return r.FindByID(ctx, id)
}

func (r memEscrows) FindBySliceID(_ context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.findBy(func(e model.EscrowPayment) bool { return e.SliceID == sliceID })
}

func (r memEscrows) FindBySliceIDForUpdate(ctx context.Context, sliceID uuid.UUID) (*model.EscrowPayment, error) {
	return r.FindBySliceID(ctx, sliceID)
}

func (r memEscrows) FindByTransactionIDForUpdate(_ context.Context, method, transactionID string) (*model.EscrowPayment, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.findBy(func(e model.EscrowPayment) bool {
		return e.PaymentMethod == method && e.ProviderTransactionID != nil && *e.ProviderTransactionID == transactionID
	})
}

func (r memEscrows) CompareAndSwap(_ context.Context, escrow *model.EscrowPayment, from model.EscrowStatus) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Escrows.CompareAndSwap"); err != nil {
		return err
	}
	stored, ok := r.s.db.escrows[escrow.ID]
	if !ok || stored.Status != from {
		return repository.ErrStale
	}
	escrow.CreatedAt = stored.CreatedAt
	r.s.db.escrows[escrow.ID] = *escrow
	return nil
}

func (r memEscrows) undistributed() []model.EscrowPayment {
	var out []model.EscrowPayment
	for _, e := range r.s.db.escrows {
		if e.Status == model.EscrowStatusReleased && e.PayoutBatchID == nil && e.CommunityRewardPool > 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r memEscrows) ListUndistributedForUpdate(_ context.Context) ([]model.EscrowPayment, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.undistributed(), nil
}

func (r memEscrows) ListUndistributed(_ context.Context) ([]model.EscrowPayment, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.undistributed(), nil
}

func (r memEscrows) MarkDistributed(_ context.Context, ids []uuid.UUID, batchID uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()
	for _, id := range ids {
		e := r.s.db.escrows[id]
		if e.PayoutBatchID == nil {
			b := batchID
			e.PayoutBatchID = &b
			r.s.db.escrows[id] = e
		}
	}
	return nil
}

type memDisputes struct{ s *memStore }

func (r memDisputes) Create(_ context.Context, dispute *model.Dispute) error {
	unlock := r.s.lock()
	defer unlock()
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	dispute.CreatedAt = r.s.db.stamp()
	r.s.db.disputes[dispute.ID] = *dispute
	return nil
}

func (r memDisputes) Update(_ context.Context, dispute *model.Dispute) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Disputes.Update"); err != nil {
		return err
	}
	r.s.db.disputes[dispute.ID] = *dispute
	return nil
}

func (r memDisputes) find(id uuid.UUID) (*model.Dispute, error) {
	d, ok := r.s.db.disputes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &d, nil
}

func (r memDisputes) FindByID(_ context.Context, id uuid.UUID) (*model.Dispute, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memDisputes) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*model.Dispute, error) {
	unlock := r.s.lock()
	defer unlock()
	return r.find(id)
}

func (r memDisputes) FindUnresolvedBySlice(_ context.Context, sliceID uuid.UUID) (*model.Dispute, error) {
	unlock := r.s.lock()
	defer unlock()
	for _, d := range r.s.db.disputes {
		if d.SliceID == sliceID && !d.Status.Resolved() {
			return &d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memDisputes) CountBySlice(_ context.Context, sliceID uuid.UUID) (int64, error) {
	unlock := r.s.lock()
	defer unlock()
	var n int64
	for _, d := range r.s.db.disputes {
		if d.SliceID == sliceID {
			n++
		}
	}
	return n, nil
}

func (r memDisputes) ListPrecedents(_ context.Context, limit int) ([]model.Dispute, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.Dispute
	for _, d := range r.s.db.disputes {
		if d.Status.Resolved() && !d.IsHoneyPot {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.After(*out[j].ResolvedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memDisputes) ListHoneypots(_ context.Context) ([]model.Dispute, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.Dispute
	for _, d := range r.s.db.disputes {
		if d.IsHoneyPot {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memDisputes) AddEvidence(_ context.Context, evidence *model.DisputeEvidence) error {
	unlock := r.s.lock()
	defer unlock()
	if evidence.ID == uuid.Nil {
		evidence.ID = uuid.New()
	}
	evidence.CreatedAt = r.s.db.stamp()
	r.s.db.disputeEvidence = append(r.s.db.disputeEvidence, *evidence)
	return nil
}

func (r memDisputes) ListEvidence(_ context.Context, disputeID uuid.UUID) ([]model.DisputeEvidence, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.DisputeEvidence
	for _, e := range r.s.db.disputeEvidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memRatings struct{ s *memStore }

func (r memRatings) Create(_ context.Context, rating *model.Rating) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Ratings.Create"); err != nil {
		return err
	}
	if _, ok := r.s.db.ratings[rating.SliceID]; ok {
		return errDuplicate
	}
	if rating.ID == uuid.Nil {
		rating.ID = uuid.New()
	}
	rating.CreatedAt = r.s.db.stamp()
	r.s.db.ratings[rating.SliceID] = *rating
	return nil
}

func (r memRatings) FindBySliceID(_ context.Context, sliceID uuid.UUID) (*model.Rating, error) {
	unlock := r.s.lock()
	defer unlock()
	rating, ok := r.s.db.ratings[sliceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &rating, nil
}

func (r memRatings) ListByProvider(_ context.Context, providerID uuid.UUID) ([]model.Rating, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.Rating
	for _, rating := range r.s.db.ratings {
		if rating.ProviderID == providerID {
			out = append(out, rating)
		}
	}
	return out, nil
}

type memPayouts struct{ s *memStore }

func (r memPayouts) CreateBatch(_ context.Context, batch *model.PayoutBatch) error {
	unlock := r.s.lock()
	defer unlock()
	if err := r.s.fail("Payouts.CreateBatch"); err != nil {
		return err
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.CreatedAt = r.s.db.stamp()
	for i := range batch.Entries {
		batch.Entries[i].ID = uuid.New()
		batch.Entries[i].BatchID = batch.ID
	}
	stored := *batch
	stored.Entries = copySlice(batch.Entries)
	r.s.db.batches = append(r.s.db.batches, stored)
	return nil
}

func (r memPayouts) FindByRunDate(_ context.Context, day time.Time) (*model.PayoutBatch, error) {
	unlock := r.s.lock()
	defer unlock()
	for _, b := range r.s.db.batches {
		if b.RunDate.Format("2006-01-02") == day.Format("2006-01-02") {
			return &b, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memPayouts) ListRecent(_ context.Context, limit int) ([]model.PayoutBatch, error) {
	unlock := r.s.lock()
	defer unlock()
	var out []model.PayoutBatch
	for i := len(r.s.db.batches) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.db.batches[i])
	}
	return out, nil
}
