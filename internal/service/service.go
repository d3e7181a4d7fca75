package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/errors"
	"marketescrow/internal/ledger"
	"marketescrow/internal/model"
	"marketescrow/internal/repository"
)

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role model.Role
}

// IsAdmin requires an explicit admin role; the zero Actor is not an admin.
func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

// LedgerRouter selects ledger adapters.
type LedgerRouter interface {
	SelectStrategy(countryCode, forceMode string) ledger.Adapter
	ByName(name string) (ledger.Adapter, error)
}

// LedgerError reports a failed ledger call on an escrow. The transaction that
// made the call is rolled back; RecordFailure then marks the escrow failed.
type LedgerError struct {
	EscrowID uuid.UUID
	// From is the effective status the escrow was in when the call failed.
	From model.EscrowStatus
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: ledger %s: %v", errors.ErrExternalProvider, e.Op, e.Err)
}

// Is makes LedgerError match ErrExternalProvider.
func (e *LedgerError) Is(target error) bool { return target == errors.ErrExternalProvider }

func (e *LedgerError) Unwrap() error { return e.Err }

// asLedgerError extracts a LedgerError from err's chain.
func asLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if stderrors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// notFound translates a missing row into ErrNotFound.
func notFound(err error, what string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", errors.ErrNotFound, what)
	}
	return err
}

// stale translates a lost compare-and-swap into ErrInvalidState.
func stale(err error) error {
	if stderrors.Is(err, repository.ErrStale) {
		return fmt.Errorf("%w: record changed concurrently, retry", errors.ErrInvalidState)
	}
	return err
}

// callLedger runs fn under the ledger timeout.
func callLedger(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// utcDay truncates t to midnight UTC.
func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
