package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
	"marketescrow/internal/repository"
)

// CreateSliceInput holds the fields a client supplies for a new slice.
type CreateSliceInput struct {
	Title      string
	PriceCents int64
	Currency   string
}

// SliceService manages the work side of a slice.
type SliceService interface {
	CreateSlice(ctx context.Context, actor Actor, input CreateSliceInput) (*model.Slice, error)
	// AssignProvider is gated by the provider's Aura capacity.
	AssignProvider(ctx context.Context, sliceID, providerID uuid.UUID, actor Actor) (*model.Slice, error)
	SubmitWorkEvidence(ctx context.Context, sliceID uuid.UUID, actor Actor, mediaURL, note string) (*model.SliceEvidence, error)
	RequestMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor, amount int64) (*model.Slice, error)
	ApproveMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error)
	RejectMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error)
	Get(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error)
	ListForUser(ctx context.Context, actor Actor) ([]model.Slice, error)
	ListEvidence(ctx context.Context, sliceID uuid.UUID, actor Actor) ([]model.SliceEvidence, error)
}

type sliceService struct {
	store  repository.Store
	policy config.Policy
	router LedgerRouter
	aura   AuraService
	escrow EscrowService
	sink   notify.Sink
}

// NewSliceService creates the slice workflow.
func NewSliceService(store repository.Store, policy config.Policy, router LedgerRouter, aura AuraService, escrow EscrowService, sink notify.Sink) SliceService {
	return &sliceService{store: store, policy: policy, router: router, aura: aura, escrow: escrow, sink: sink}
}

func (s *sliceService) CreateSlice(ctx context.Context, actor Actor, input CreateSliceInput) (*model.Slice, error) {
	if input.PriceCents <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", errors.ErrInvalidAmount)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", errors.ErrInvalidInput)
	}
	currency := strings.ToUpper(input.Currency)
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a three letter code", errors.ErrInvalidInput)
	}
	slice := &model.Slice{
		Title:                 title,
		CreatorID:             actor.ID,
		Status:                model.SliceStatusOpen,
		FinalPriceCents:       input.PriceCents,
		Currency:              currency,
		MaterialAdvanceStatus: model.MaterialAdvanceNone,
	}
	if err := s.store.Slices().Create(ctx, slice); err != nil {
		return nil, fmt.Errorf("create slice: %w", err)
	}
	return slice, nil
}

func (s *sliceService) AssignProvider(ctx context.Context, sliceID, providerID uuid.UUID, actor Actor) (*model.Slice, error) {
	var slice *model.Slice
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		slice, err = tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if slice.CreatorID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the client can assign a provider", errors.ErrForbidden)
		}
		if slice.Status != model.SliceStatusOpen {
			return fmt.Errorf("%w: cannot assign provider to slice in status %s", errors.ErrInvalidState, slice.Status)
		}
		if providerID == slice.CreatorID {
			return fmt.Errorf("%w: client cannot be the provider", errors.ErrInvalidInput)
		}
		provider, err := tx.Users().FindByID(ctx, providerID)
		if err != nil {
			return notFound(err, "provider")
		}
		if provider.Role != model.RoleProvider {
			return fmt.Errorf("%w: user %s is not a provider", errors.ErrInvalidInput, providerID)
		}

		// Locking the provider row serialises concurrent assignments to them.
		check, err := s.aura.CapacityForTx(ctx, tx, providerID, true)
		if err != nil {
			return err
		}
		if !check.Allowed {
			return fmt.Errorf("%w: %s", errors.ErrCapacityExceeded, check.Reason)
		}

		slice.AssignedProviderID = &providerID
		slice.Status = model.SliceStatusAccepted
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("slice: assigned slice=%s provider=%s", slice.ID, providerID)
	return slice, nil
}

func (s *sliceService) SubmitWorkEvidence(ctx context.Context, sliceID uuid.UUID, actor Actor, mediaURL, note string) (*model.SliceEvidence, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return nil, fmt.Errorf("%w: media_url is required", errors.ErrInvalidInput)
	}
	slice, err := s.store.Slices().FindByID(ctx, sliceID)
	if err != nil {
		return nil, notFound(err, "slice")
	}
	if !slice.HasProvider() || *slice.AssignedProviderID != actor.ID {
		return nil, fmt.Errorf("%w: only the assigned provider can upload work evidence", errors.ErrForbidden)
	}
	if slice.Status != model.SliceStatusAccepted {
		return nil, fmt.Errorf("%w: cannot add work evidence to slice in status %s", errors.ErrInvalidState, slice.Status)
	}
	evidence := &model.SliceEvidence{SliceID: slice.ID, UploaderID: actor.ID, MediaURL: mediaURL, Note: note}
	if err := s.store.Slices().AddEvidence(ctx, evidence); err != nil {
		return nil, fmt.Errorf("add work evidence: %w", err)
	}
	return evidence, nil
}

// RequestMaterialAdvance asks the client to release part of the escrow up
// front for materials.
func (s *sliceService) RequestMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor, amount int64) (*model.Slice, error) {
	var slice *model.Slice
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		slice, err = tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if !slice.HasProvider() || *slice.AssignedProviderID != actor.ID {
			return fmt.Errorf("%w: only the assigned provider can request an advance", errors.ErrForbidden)
		}
		if slice.Status != model.SliceStatusAccepted {
			return fmt.Errorf("%w: cannot request an advance on slice in status %s", errors.ErrInvalidState, slice.Status)
		}
		if slice.MaterialAdvanceStatus == model.MaterialAdvanceRequested || slice.MaterialAdvanceStatus == model.MaterialAdvanceReleased {
			return fmt.Errorf("%w: material advance already %s", errors.ErrInvalidState, slice.MaterialAdvanceStatus)
		}
		limit := applyBps(decimal.NewFromInt(slice.FinalPriceCents), s.policy.MaterialAdvanceMaxBps)
		if amount <= 0 || amount > limit {
			return fmt.Errorf("%w: advance must be between 1 and %d", errors.ErrInvalidAmount, limit)
		}
		slice.MaterialAdvanceStatus = model.MaterialAdvanceRequested
		slice.MaterialAdvanceCents = amount
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, err
	}
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventAdvanceRequested, UserID: slice.CreatorID, SubjectID: slice.ID,
		Message: fmt.Sprintf("Your provider asked for a material advance of %d %s.", slice.MaterialAdvanceCents, slice.Currency),
	})
	return slice, nil
}

// ApproveMaterialAdvance releases the requested advance from a held escrow.
// Later releases and refunds subtract it.
func (s *sliceService) ApproveMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error) {
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
		if slice.CreatorID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the client can approve an advance", errors.ErrForbidden)
		}
		if slice.MaterialAdvanceStatus != model.MaterialAdvanceRequested {
			return fmt.Errorf("%w: no material advance is pending", errors.ErrInvalidState)
		}
		escrow, err = tx.Escrows().FindBySliceIDForUpdate(ctx, slice.ID)
		if err != nil {
			return notFound(err, "escrow")
		}
		from := escrow.EffectiveStatus()
		if from != model.EscrowStatusInEscrow {
			return fmt.Errorf("%w: advances need a funded escrow, escrow is %s", errors.ErrInvalidState, escrow.Status)
		}
		amount := slice.MaterialAdvanceCents
		if escrow.MaterialAdvanceReleased+amount > escrow.SliceAmount {
			return fmt.Errorf("%w: advance exceeds the slice amount", errors.ErrInvalidAmount)
		}

		adapter, err := s.router.ByName(escrow.PaymentMethod)
		if err != nil {
			return err
		}
		if err := callLedger(ctx, s.policy.LedgerTimeout, func(ctx context.Context) error {
			return adapter.Release(ctx, escrow.TransactionID(), amount)
		}); err != nil {
			return &LedgerError{EscrowID: escrow.ID, From: from, Op: "material_advance", Err: err}
		}

		prev := escrow.Status
		escrow.Status = model.EscrowStatusInEscrow
		escrow.FailedFrom = ""
		escrow.LastError = ""
		escrow.MaterialAdvanceReleased += amount
		if err := tx.Escrows().CompareAndSwap(ctx, escrow, prev); err != nil {
			return stale(err)
		}
		slice.MaterialAdvanceStatus = model.MaterialAdvanceReleased
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, s.escrow.RecordFailure(ctx, err)
	}
	log.Printf("slice: material advance released slice=%s amount=%d", slice.ID, slice.MaterialAdvanceCents)
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventAdvanceReleased, UserID: escrow.PayeeID, SubjectID: slice.ID,
		Message: "Your material advance was released.",
	})
	return slice, nil
}

func (s *sliceService) RejectMaterialAdvance(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error) {
	var slice *model.Slice
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		slice, err = tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if slice.CreatorID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the client can reject an advance", errors.ErrForbidden)
		}
		if slice.MaterialAdvanceStatus != model.MaterialAdvanceRequested {
			return fmt.Errorf("%w: no material advance is pending", errors.ErrInvalidState)
		}
		slice.MaterialAdvanceStatus = model.MaterialAdvanceRejected
		slice.MaterialAdvanceCents = 0
		return tx.Slices().Update(ctx, slice)
	})
	if err != nil {
		return nil, err
	}
	return slice, nil
}

func (s *sliceService) Get(ctx context.Context, sliceID uuid.UUID, actor Actor) (*model.Slice, error) {
	slice, err := s.store.Slices().FindByID(ctx, sliceID)
	if err != nil {
		return nil, notFound(err, "slice")
	}
	if !slice.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to this slice", errors.ErrForbidden)
	}
	return slice, nil
}

func (s *sliceService) ListForUser(ctx context.Context, actor Actor) ([]model.Slice, error) {
	return s.store.Slices().ListByParticipant(ctx, actor.ID)
}

func (s *sliceService) ListEvidence(ctx context.Context, sliceID uuid.UUID, actor Actor) ([]model.SliceEvidence, error) {
	if _, err := s.Get(ctx, sliceID, actor); err != nil {
		return nil, err
	}
	return s.store.Slices().ListEvidence(ctx, sliceID)
}
