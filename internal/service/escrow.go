package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/ledger"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
	"marketescrow/internal/repository"
	"marketescrow/internal/telemetry"
)

// TransitionOptions qualifies a release or refund.
type TransitionOptions struct {
	Actor Actor
	// Override lets an admin or a dispute ruling move money out of
	// in_escrow, disputed or appealed. It requires an admin actor.
	Override bool
	// Auto marks a scheduler-driven release; the slice must be past its
	// auto-release deadline.
	Auto bool
}

// EscrowService drives the money-side lifecycle of a slice.
type EscrowService interface {
	CalculatePaymentBreakdown(n int64) (PaymentBreakdown, error)
	ValidatePaymentAmount(n, total int64) bool
	CreateEscrow(ctx context.Context, sliceID uuid.UUID, actor Actor, forceMode string) (*model.EscrowPayment, error)
	// ConfirmFunded captures a pending escrow. A second call reports ErrAlreadyProcessed.
	ConfirmFunded(ctx context.Context, method, transactionID string) (*model.EscrowPayment, error)
	MarkFailed(ctx context.Context, method, transactionID, reason string) (*model.EscrowPayment, error)
	MarkCompleted(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error)
	Release(ctx context.Context, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error)
	Refund(ctx context.Context, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error)
	RaiseDispute(ctx context.Context, escrowID uuid.UUID, reason string, actor Actor) (*model.EscrowPayment, error)
	Get(ctx context.Context, escrowID uuid.UUID, actor Actor) (*model.EscrowPayment, error)
	GetBySlice(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.EscrowPayment, error)

	ReleaseTx(ctx context.Context, tx repository.Store, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error)
	RefundTx(ctx context.Context, tx repository.Store, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error)
	RaiseDisputeTx(ctx context.Context, tx repository.Store, escrowID uuid.UUID, reason string, actor Actor) (*model.EscrowPayment, error)
	// RecordFailure marks the escrow named by a LedgerError in err as failed,
	// in its own transaction, and returns err unchanged.
	RecordFailure(ctx context.Context, err error) error
}

type escrowService struct {
	store  repository.Store
	policy config.Policy
	fees   FeeCalculator
	router LedgerRouter
	aura   AuraService
	sink   notify.Sink
	now    Clock
}

// NewEscrowService creates the escrow state machine.
func NewEscrowService(store repository.Store, policy config.Policy, router LedgerRouter, aura AuraService, sink notify.Sink, now Clock) EscrowService {
	if now == nil {
		now = SystemClock
	}
	return &escrowService{
		store:  store,
		policy: policy,
		fees:   NewFeeCalculator(policy),
		router: router,
		aura:   aura,
		sink:   sink,
		now:    now,
	}
}

func (s *escrowService) CalculatePaymentBreakdown(n int64) (PaymentBreakdown, error) {
	return s.fees.CalculatePaymentBreakdown(n)
}

func (s *escrowService) ValidatePaymentAmount(n, total int64) bool {
	return s.fees.ValidatePaymentAmount(n, total)
}

// CreateEscrow persists a pending escrow for the slice's agreed price and asks
// the routed ledger adapter to hold the funds.
func (s *escrowService) CreateEscrow(ctx context.Context, sliceID uuid.UUID, actor Actor, forceMode string) (*model.EscrowPayment, error) {
	ctx, span := telemetry.Start(ctx, "escrow.create")
	escrow, err := s.createEscrow(ctx, sliceID, actor, forceMode)
	telemetry.End(span, err)
	return escrow, err
}

func (s *escrowService) createEscrow(ctx context.Context, sliceID uuid.UUID, actor Actor, forceMode string) (*model.EscrowPayment, error) {
	var (
		escrow  *model.EscrowPayment
		adapter ledger.Adapter
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		slice, err := tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if actor.ID != slice.CreatorID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the client can fund a slice", errors.ErrForbidden)
		}
		if !slice.HasProvider() {
			return fmt.Errorf("%w: slice has no assigned provider", errors.ErrInvalidState)
		}
		if slice.Status != model.SliceStatusAccepted {
			return fmt.Errorf("%w: cannot fund slice in status %s", errors.ErrInvalidState, slice.Status)
		}
		breakdown, err := s.fees.CalculatePaymentBreakdown(slice.FinalPriceCents)
		if err != nil {
			return err
		}
		payer, err := tx.Users().FindByID(ctx, slice.CreatorID)
		if err != nil {
			return notFound(err, "payer")
		}
		adapter = s.router.SelectStrategy(payer.CountryCode, forceMode)

		existing, err := tx.Escrows().FindBySliceIDForUpdate(ctx, sliceID)
		switch {
		case err == nil:
			if existing.Status != model.EscrowStatusFailed || existing.FailedFrom != model.EscrowStatusPending {
				return fmt.Errorf("%w: slice already has an escrow in status %s", errors.ErrInvalidState, existing.Status)
			}
			escrow = existing
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			escrow = &model.EscrowPayment{SliceID: slice.ID}
		default:
			return err
		}

		escrow.PayerID = slice.CreatorID
		escrow.PayeeID = *slice.AssignedProviderID
		escrow.Currency = slice.Currency
		escrow.TotalAmount = breakdown.TotalAmount
		escrow.SliceAmount = breakdown.SliceAmount
		escrow.PlatformFee = breakdown.PlatformFee
		escrow.PlatformRevenue = breakdown.PlatformRevenue
		escrow.CommunityRewardPool = breakdown.CommunityRewardPool
		escrow.ProcessingFee = breakdown.ProcessingFee
		escrow.MaterialAdvanceReleased = 0
		escrow.PaymentMethod = adapter.Name()
		escrow.ProviderTransactionID = nil
		escrow.FailedFrom = ""
		escrow.LastError = ""

		if escrow.Status == model.EscrowStatusFailed {
			escrow.Status = model.EscrowStatusPending
			if err := tx.Escrows().CompareAndSwap(ctx, escrow, model.EscrowStatusFailed); err != nil {
				return stale(err)
			}
		} else {
			escrow.Status = model.EscrowStatusPending
			if err := tx.Escrows().Create(ctx, escrow); err != nil {
				return fmt.Errorf("create escrow: %w", err)
			}
		}

		slice.EscrowPaymentID = &escrow.ID
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, err
	}

	// The pending row blocks a second create while the provider is called.
	var result ledger.EscrowResult
	ledgerErr := callLedger(ctx, s.policy.LedgerTimeout, func(ctx context.Context) error {
		var err error
		result, err = adapter.CreateEscrow(ctx, ledger.EscrowRequest{
			SliceID:  escrow.SliceID,
			Amount:   escrow.TotalAmount,
			Currency: escrow.Currency,
			PayerID:  escrow.PayerID,
			PayeeID:  escrow.PayeeID,
		})
		return err
	})

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Escrows().FindByIDForUpdate(ctx, escrow.ID)
		if err != nil {
			return notFound(err, "escrow")
		}
		if current.Status != model.EscrowStatusPending {
			return fmt.Errorf("%w: escrow left pending while being created", errors.ErrInvalidState)
		}
		if ledgerErr != nil {
			current.Status = model.EscrowStatusFailed
			current.FailedFrom = model.EscrowStatusPending
			current.LastError = ledgerErr.Error()
		} else {
			txID := result.TransactionID
			current.ProviderTransactionID = &txID
		}
		if err := tx.Escrows().CompareAndSwap(ctx, current, model.EscrowStatusPending); err != nil {
			return stale(err)
		}
		escrow = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ledgerErr != nil {
		log.Printf("escrow: create failed escrow=%s method=%s err=%v", escrow.ID, escrow.PaymentMethod, ledgerErr)
		notify.Dispatch(ctx, s.sink, notify.Notification{
			Event: notify.EventEscrowFailed, UserID: escrow.PayerID, SubjectID: escrow.SliceID,
			Message: "Funding could not be started, please retry.",
		})
		return nil, fmt.Errorf("%w: escrow could not be created", errors.ErrExternalProvider)
	}
	log.Printf("escrow: created escrow=%s slice=%s method=%s total=%d", escrow.ID, escrow.SliceID, escrow.PaymentMethod, escrow.TotalAmount)
	return escrow, nil
}

// ConfirmFunded is driven by untrusted webhooks; it only acts when the
// reference matches an escrow created through the same payment method.
func (s *escrowService) ConfirmFunded(ctx context.Context, method, transactionID string) (*model.EscrowPayment, error) {
	ctx, span := telemetry.Start(ctx, "escrow.confirm_funded")
	var escrow *model.EscrowPayment
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		escrow, err = tx.Escrows().FindByTransactionIDForUpdate(ctx, method, transactionID)
		if err != nil {
			return notFound(err, "escrow for transaction")
		}
		from := escrow.EffectiveStatus()
		if from != model.EscrowStatusPending {
			return fmt.Errorf("%w: escrow already funded", errors.ErrAlreadyProcessed)
		}
		adapter, err := s.router.ByName(escrow.PaymentMethod)
		if err != nil {
			return err
		}
		amount := escrow.TotalAmount
		if err := callLedger(ctx, s.policy.LedgerTimeout, func(ctx context.Context) error {
			return adapter.Capture(ctx, escrow.TransactionID(), amount)
		}); err != nil {
			return &LedgerError{EscrowID: escrow.ID, From: from, Op: "capture", Err: err}
		}

		prev := escrow.Status
		now := s.now()
		escrow.Status = model.EscrowStatusInEscrow
		escrow.FailedFrom = ""
		escrow.LastError = ""
		escrow.FundedAt = &now
		return stale(tx.Escrows().CompareAndSwap(ctx, escrow, prev))
	})
	telemetry.End(span, err)
	if err != nil {
		return nil, s.RecordFailure(ctx, err)
	}
	notify.Dispatch(ctx, s.sink,
		notify.Notification{Event: notify.EventEscrowFunded, UserID: escrow.PayeeID, SubjectID: escrow.SliceID, Message: "Funds are held in escrow, work can start."},
		notify.Notification{Event: notify.EventEscrowFunded, UserID: escrow.PayerID, SubjectID: escrow.SliceID, Message: "Your payment is held in escrow."},
	)
	return escrow, nil
}

// MarkFailed records a provider-reported failure for a pending or held escrow.
func (s *escrowService) MarkFailed(ctx context.Context, method, transactionID, reason string) (*model.EscrowPayment, error) {
	var escrow *model.EscrowPayment
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		escrow, err = tx.Escrows().FindByTransactionIDForUpdate(ctx, method, transactionID)
		if err != nil {
			return notFound(err, "escrow for transaction")
		}
		if escrow.Status == model.EscrowStatusFailed {
			return fmt.Errorf("%w: escrow already failed", errors.ErrAlreadyProcessed)
		}
		if escrow.Status != model.EscrowStatusPending && escrow.Status != model.EscrowStatusInEscrow {
			return fmt.Errorf("%w: cannot fail escrow in status %s", errors.ErrInvalidState, escrow.Status)
		}
		prev := escrow.Status
		escrow.Status = model.EscrowStatusFailed
		escrow.FailedFrom = prev
		escrow.LastError = reason
		return stale(tx.Escrows().CompareAndSwap(ctx, escrow, prev))
	})
	if err != nil {
		return nil, err
	}
	log.Printf("escrow: marked failed escrow=%s from=%s", escrow.ID, escrow.FailedFrom)
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventEscrowFailed, UserID: escrow.PayerID, SubjectID: escrow.SliceID,
		Message: "Your payment provider reported a problem with this payment.",
	})
	return escrow, nil
}

// MarkCompleted records delivered work and opens the auto-release window.
func (s *escrowService) MarkCompleted(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error) {
	var (
		slice  *model.Slice
		escrow *model.EscrowPayment
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		slice, err = tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if !slice.HasProvider() || *slice.AssignedProviderID != actor.ID {
			return fmt.Errorf("%w: only the assigned provider can complete a slice", errors.ErrForbidden)
		}
		if slice.Status != model.SliceStatusAccepted {
			return fmt.Errorf("%w: cannot complete slice in status %s", errors.ErrInvalidState, slice.Status)
		}
		count, err := tx.Slices().CountEvidenceByUploader(ctx, slice.ID, actor.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: upload proof of work before completing", errors.ErrEvidenceRequired)
		}
		escrow, err = tx.Escrows().FindBySliceIDForUpdate(ctx, slice.ID)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: slice is not funded", errors.ErrInvalidState)
			}
			return err
		}
		if escrow.EffectiveStatus() != model.EscrowStatusInEscrow {
			return fmt.Errorf("%w: escrow is %s, not in escrow", errors.ErrInvalidState, escrow.Status)
		}

		prev := escrow.Status
		escrow.Status = model.EscrowStatusCompleted
		escrow.FailedFrom = ""
		escrow.LastError = ""
		if err := tx.Escrows().CompareAndSwap(ctx, escrow, prev); err != nil {
			return stale(err)
		}
		releaseAt := s.now().Add(s.policy.AutoReleaseAfter)
		slice.Status = model.SliceStatusCompleted
		slice.AutoReleaseAt = &releaseAt
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, err
	}
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventSliceCompleted, UserID: slice.CreatorID, SubjectID: slice.ID,
		Message: fmt.Sprintf("Work was delivered. Funds release automatically at %s unless you approve or dispute.", slice.AutoReleaseAt.Format("2006-01-02 15:04 MST")),
	})
	return slice, nil
}

// Release transfers the slice amount, less any material advance, to the
// provider. A concurrent second release reports ErrAlreadyProcessed.
func (s *escrowService) Release(ctx context.Context, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error) {
	ctx, span := telemetry.Start(ctx, "escrow.release")
	var escrow *model.EscrowPayment
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		escrow, err = s.ReleaseTx(ctx, tx, sliceID, opts)
		return err
	})
	telemetry.End(span, err)
	if err != nil {
		return nil, s.RecordFailure(ctx, err)
	}
	s.aura.InvalidateProfile(ctx, escrow.PayeeID)
	log.Printf("escrow: released escrow=%s slice=%s auto=%t", escrow.ID, escrow.SliceID, opts.Auto)
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventEscrowReleased, UserID: escrow.PayeeID, SubjectID: escrow.SliceID,
		Message: "Escrowed funds were released to you.",
	})
	return escrow, nil
}

func (s *escrowService) ReleaseTx(ctx context.Context, tx repository.Store, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error) {
	slice, escrow, err := s.lockForTransition(ctx, tx, sliceID, opts)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case model.EscrowStatusReleased:
		return nil, fmt.Errorf("%w: escrow already released", errors.ErrAlreadyProcessed)
	case model.EscrowStatusRefunded:
		return nil, fmt.Errorf("%w: escrow was refunded", errors.ErrInvalidState)
	}
	from := escrow.EffectiveStatus()
	allowed := from == model.EscrowStatusCompleted
	if opts.Override {
		allowed = allowed || from == model.EscrowStatusInEscrow || from == model.EscrowStatusDisputed || from == model.EscrowStatusAppealed
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot release escrow in status %s", errors.ErrInvalidState, escrow.Status)
	}
	now := s.now()
	if opts.Auto {
		if slice.Status != model.SliceStatusCompleted || slice.AutoReleaseAt == nil || slice.AutoReleaseAt.After(now) {
			return nil, fmt.Errorf("%w: slice is not due for auto-release", errors.ErrInvalidState)
		}
	}

	// An appeal of an already released escrow settles without paying twice.
	// After a refund nothing is held, so an appeal ruling cannot pay out.
	firstRelease := escrow.ReleasedAt == nil
	amount := min(escrow.SliceAmount-escrow.MaterialAdvanceReleased, escrow.HeldAmount())
	if firstRelease && escrow.RefundedAt != nil {
		log.Printf("escrow: release after refund moves no funds escrow=%s", escrow.ID)
	}
	if firstRelease && amount > 0 {
		if err := s.ledgerCall(ctx, escrow, "release", func(ctx context.Context, a ledger.Adapter) error {
			return a.Release(ctx, escrow.TransactionID(), amount)
		}); err != nil {
			return nil, err
		}
	}

	prev := escrow.Status
	escrow.Status = model.EscrowStatusReleased
	escrow.FailedFrom = ""
	escrow.LastError = ""
	if firstRelease {
		escrow.ReleasedAt = &now
	}
	if err := tx.Escrows().CompareAndSwap(ctx, escrow, prev); err != nil {
		return nil, stale(err)
	}
	slice.Status = model.SliceStatusPaid
	slice.AutoReleaseAt = nil
	if err := tx.Slices().Update(ctx, slice); err != nil {
		return nil, err
	}
	if firstRelease {
		if _, err := s.aura.AwardPointsTx(ctx, tx, escrow.PayeeID, ReasonSliceReleased, s.aura.Delta(ReasonSliceReleased)); err != nil {
			return nil, err
		}
	}
	return escrow, nil
}

// Refund returns the held total, less any material advance, to the payer.
func (s *escrowService) Refund(ctx context.Context, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error) {
	ctx, span := telemetry.Start(ctx, "escrow.refund")
	var escrow *model.EscrowPayment
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		escrow, err = s.RefundTx(ctx, tx, sliceID, opts)
		return err
	})
	telemetry.End(span, err)
	if err != nil {
		return nil, s.RecordFailure(ctx, err)
	}
	log.Printf("escrow: refunded escrow=%s slice=%s", escrow.ID, escrow.SliceID)
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventEscrowRefunded, UserID: escrow.PayerID, SubjectID: escrow.SliceID,
		Message: "Escrowed funds were refunded to you.",
	})
	return escrow, nil
}

func (s *escrowService) RefundTx(ctx context.Context, tx repository.Store, sliceID uuid.UUID, opts TransitionOptions) (*model.EscrowPayment, error) {
	slice, escrow, err := s.lockForTransition(ctx, tx, sliceID, opts)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case model.EscrowStatusRefunded:
		return nil, fmt.Errorf("%w: escrow already refunded", errors.ErrAlreadyProcessed)
	case model.EscrowStatusReleased:
		return nil, fmt.Errorf("%w: escrow was released", errors.ErrInvalidState)
	}
	from := escrow.EffectiveStatus()
	allowed := from == model.EscrowStatusInEscrow
	if opts.Override {
		allowed = allowed || from == model.EscrowStatusCompleted || from == model.EscrowStatusDisputed || from == model.EscrowStatusAppealed
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot refund escrow in status %s", errors.ErrInvalidState, escrow.Status)
	}

	// Reversing a release refunds only what is still held; the released
	// slice amount stays with the payee.
	firstRefund := escrow.RefundedAt == nil
	reversesRelease := firstRefund && escrow.ReleasedAt != nil
	amount := escrow.HeldAmount()
	if firstRefund && amount > 0 {
		if err := s.ledgerCall(ctx, escrow, "refund", func(ctx context.Context, a ledger.Adapter) error {
			return a.Refund(ctx, escrow.TransactionID(), amount)
		}); err != nil {
			return nil, err
		}
	}

	prev := escrow.Status
	now := s.now()
	escrow.Status = model.EscrowStatusRefunded
	escrow.FailedFrom = ""
	escrow.LastError = ""
	if firstRefund {
		escrow.RefundedAt = &now
	}
	if err := tx.Escrows().CompareAndSwap(ctx, escrow, prev); err != nil {
		return nil, stale(err)
	}
	slice.Status = model.SliceStatusRefunded
	slice.AutoReleaseAt = nil
	if err := tx.Slices().Update(ctx, slice); err != nil {
		return nil, err
	}
	if reversesRelease {
		if _, err := s.aura.RevokeTx(ctx, tx, escrow.PayeeID, ReasonReleaseRevoked, s.aura.Delta(ReasonSliceReleased)); err != nil {
			return nil, err
		}
	}
	return escrow, nil
}

// lockForTransition locks the slice and its escrow and checks who may move money.
func (s *escrowService) lockForTransition(ctx context.Context, tx repository.Store, sliceID uuid.UUID, opts TransitionOptions) (*model.Slice, *model.EscrowPayment, error) {
	slice, err := tx.Slices().FindByIDForUpdate(ctx, sliceID)
	if err != nil {
		return nil, nil, notFound(err, "slice")
	}
	switch {
	case opts.Override:
		if !opts.Actor.IsAdmin() {
			return nil, nil, fmt.Errorf("%w: override requires an admin", errors.ErrForbidden)
		}
	case opts.Auto:
	case opts.Actor.ID != slice.CreatorID && !opts.Actor.IsAdmin():
		return nil, nil, fmt.Errorf("%w: only the client can approve or cancel payment", errors.ErrForbidden)
	}
	escrow, err := tx.Escrows().FindBySliceIDForUpdate(ctx, sliceID)
	if err != nil {
		return nil, nil, notFound(err, "escrow")
	}
	return slice, escrow, nil
}

func (s *escrowService) ledgerCall(ctx context.Context, escrow *model.EscrowPayment, op string, fn func(ctx context.Context, a ledger.Adapter) error) error {
	adapter, err := s.router.ByName(escrow.PaymentMethod)
	if err != nil {
		return err
	}
	if err := callLedger(ctx, s.policy.LedgerTimeout, func(ctx context.Context) error {
		return fn(ctx, adapter)
	}); err != nil {
		return &LedgerError{EscrowID: escrow.ID, From: escrow.EffectiveStatus(), Op: op, Err: err}
	}
	return nil
}

func (s *escrowService) RecordFailure(ctx context.Context, err error) error {
	le, ok := asLedgerError(err)
	if !ok {
		return err
	}
	log.Printf("escrow: ledger %s failed escrow=%s from=%s err=%v", le.Op, le.EscrowID, le.From, le.Err)
	markErr := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		escrow, err := tx.Escrows().FindByIDForUpdate(ctx, le.EscrowID)
		if err != nil {
			return err
		}
		if escrow.EffectiveStatus() != le.From {
			return nil
		}
		prev := escrow.Status
		escrow.Status = model.EscrowStatusFailed
		escrow.FailedFrom = le.From
		escrow.LastError = le.Err.Error()
		return tx.Escrows().CompareAndSwap(ctx, escrow, prev)
	})
	if markErr != nil {
		log.Printf("escrow: could not mark escrow=%s failed: %v", le.EscrowID, markErr)
	}
	return err
}

// RaiseDispute freezes an escrow. Released or refunded escrows may be
// reopened once as an appeal.
func (s *escrowService) RaiseDispute(ctx context.Context, escrowID uuid.UUID, reason string, actor Actor) (*model.EscrowPayment, error) {
	var escrow *model.EscrowPayment
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		escrow, err = s.RaiseDisputeTx(ctx, tx, escrowID, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

func (s *escrowService) RaiseDisputeTx(ctx context.Context, tx repository.Store, escrowID uuid.UUID, reason string, actor Actor) (*model.EscrowPayment, error) {
	// Slice before escrow, the same lock order as release and refund.
	peek, err := tx.Escrows().FindByID(ctx, escrowID)
	if err != nil {
		return nil, notFound(err, "escrow")
	}
	slice, err := tx.Slices().FindByIDForUpdate(ctx, peek.SliceID)
	if err != nil {
		return nil, notFound(err, "slice")
	}
	escrow, err := tx.Escrows().FindByIDForUpdate(ctx, escrowID)
	if err != nil {
		return nil, notFound(err, "escrow")
	}
	if actor.ID != escrow.PayerID && actor.ID != escrow.PayeeID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only the parties can dispute a payment", errors.ErrForbidden)
	}
	switch escrow.EffectiveStatus() {
	case model.EscrowStatusInEscrow, model.EscrowStatusCompleted:
	case model.EscrowStatusReleased, model.EscrowStatusRefunded:
		if escrow.IsAppealed {
			return nil, fmt.Errorf("%w: payment was already appealed", errors.ErrInvalidState)
		}
		escrow.IsAppealed = true
		escrow.AppealReason = reason
	default:
		return nil, fmt.Errorf("%w: cannot dispute escrow in status %s", errors.ErrInvalidState, escrow.Status)
	}

	prev := escrow.Status
	escrow.Status = model.EscrowStatusDisputed
	escrow.FailedFrom = ""
	escrow.LastError = ""
	if err := tx.Escrows().CompareAndSwap(ctx, escrow, prev); err != nil {
		return nil, stale(err)
	}

	slice.Status = model.SliceStatusDisputed
	slice.AutoReleaseAt = nil
	if err := tx.Slices().Update(ctx, slice); err != nil {
		return nil, err
	}
	return escrow, nil
}

func (s *escrowService) Get(ctx context.Context, escrowID uuid.UUID, actor Actor) (*model.EscrowPayment, error) {
	escrow, err := s.store.Escrows().FindByID(ctx, escrowID)
	if err != nil {
		return nil, notFound(err, "escrow")
	}
	return authorizeEscrowRead(escrow, actor)
}

func (s *escrowService) GetBySlice(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.EscrowPayment, error) {
	escrow, err := s.store.Escrows().FindBySliceID(ctx, sliceID)
	if err != nil {
		return nil, notFound(err, "escrow")
	}
	return authorizeEscrowRead(escrow, actor)
}

func authorizeEscrowRead(escrow *model.EscrowPayment, actor Actor) (*model.EscrowPayment, error) {
	if actor.ID != escrow.PayerID && actor.ID != escrow.PayeeID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to this payment", errors.ErrForbidden)
	}
	return escrow, nil
}
