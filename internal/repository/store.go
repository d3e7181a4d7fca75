package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStale is returned when a compare-and-swap update found the row in a
// different state than the caller read.
var ErrStale = errors.New("row changed concurrently")

// Store groups the repositories that must share a transaction.
type Store interface {
	Users() UserRepository
	AuraEvents() AuraEventRepository
	Slices() SliceRepository
	Escrows() EscrowRepository
	Disputes() DisputeRepository
	Ratings() RatingRepository
	Payouts() PayoutRepository
	// WithTransaction runs fn against a Store bound to a single database
	// transaction. Any error returned by fn rolls the transaction back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a GORM-backed store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Users() UserRepository           { return &userRepository{db: s.db} }
func (s *gormStore) AuraEvents() AuraEventRepository { return &auraEventRepository{db: s.db} }
func (s *gormStore) Slices() SliceRepository         { return &sliceRepository{db: s.db} }
func (s *gormStore) Escrows() EscrowRepository       { return &escrowRepository{db: s.db} }
func (s *gormStore) Disputes() DisputeRepository     { return &disputeRepository{db: s.db} }
func (s *gormStore) Ratings() RatingRepository       { return &ratingRepository{db: s.db} }
func (s *gormStore) Payouts() PayoutRepository       { return &payoutRepository{db: s.db} }

// WithTransaction executes a function within a database transaction.
func (s *gormStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormStore{db: tx})
	})
}

// forUpdate adds a row-level write lock to the next query.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// affected converts a zero-row update into ErrRecordNotFound.
func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
