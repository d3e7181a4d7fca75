package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/jury"
	"marketescrow/internal/ledger"
	"marketescrow/internal/model"
	"marketescrow/internal/notify"
	"marketescrow/internal/repository"
	"marketescrow/internal/telemetry"
)

// EvidenceInput is one item submitted to a dispute.
type EvidenceInput struct {
	MediaURL    string
	Description string
}

// FinalizeInput is an admin's ruling. LoserID is optional; when given it must
// match the party the decision rules against.
type FinalizeInput struct {
	Decision model.Decision
	LoserID  *uuid.UUID
	Reason   string
}

// HoneypotEvidence is seeded evidence attributed to one synthetic party.
type HoneypotEvidence struct {
	Role        model.Role
	MediaURL    string
	Description string
}

// HoneypotInput describes a synthetic dispute with a known correct verdict.
type HoneypotInput struct {
	Title          string
	PriceCents     int64
	Currency       string
	Reason         string
	CorrectVerdict model.Recommendation
	Evidence       []HoneypotEvidence
}

// DisputeView is a dispute as shown to a viewer. Honeypot fields are only
// filled for admins.
type DisputeView struct {
	model.Dispute
	Evidence        []model.DisputeEvidence `json:"evidence"`
	HoneyPot        *bool                   `json:"is_honey_pot,omitempty"`
	ExpectedVerdict model.Recommendation    `json:"correct_verdict,omitempty"`
	JuryMatched     *bool                   `json:"jury_accurate,omitempty"`
}

// HoneypotReport summarises how often the jury matched seeded verdicts.
type HoneypotReport struct {
	Total           int     `json:"total"`
	Judged          int     `json:"judged"`
	Correct         int     `json:"correct"`
	AccuracyPercent float64 `json:"accuracy_percent"`
}

// DisputeService adjudicates disputes through the AI jury and admin rulings.
type DisputeService interface {
	CreateDispute(ctx context.Context, sliceID uuid.UUID, actor Actor, reason string) (*model.Dispute, error)
	SubmitEvidenceAndJudge(ctx context.Context, disputeID uuid.UUID, actor Actor, input EvidenceInput) (*model.Dispute, error)
	FinalizeDispute(ctx context.Context, disputeID uuid.UUID, actor Actor, input FinalizeInput) (*model.Dispute, error)
	SeedHoneypot(ctx context.Context, actor Actor, input HoneypotInput) (*model.Dispute, error)
	GetDispute(ctx context.Context, disputeID uuid.UUID, viewer Actor) (*DisputeView, error)
	HoneypotAccuracy(ctx context.Context, actor Actor) (HoneypotReport, error)
}

type disputeService struct {
	store  repository.Store
	policy config.Policy
	escrow EscrowService
	aura   AuraService
	jury   jury.Provider
	sink   notify.Sink
	now    Clock
}

// NewDisputeService creates the dispute engine.
func NewDisputeService(store repository.Store, policy config.Policy, escrow EscrowService, aura AuraService, provider jury.Provider, sink notify.Sink, now Clock) DisputeService {
	if now == nil {
		now = SystemClock
	}
	return &disputeService{
		store:  store,
		policy: policy,
		escrow: escrow,
		aura:   aura,
		jury:   provider,
		sink:   sink,
		now:    now,
	}
}

// CreateDispute charges the initiator the dispute fee, freezes the escrow and
// opens the dispute, all in one transaction.
func (s *disputeService) CreateDispute(ctx context.Context, sliceID uuid.UUID, actor Actor, reason string) (*model.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", errors.ErrInvalidInput)
	}
	var (
		dispute *model.Dispute
		slice   *model.Slice
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		slice, err = tx.Slices().FindByIDForUpdate(ctx, sliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if !slice.HasProvider() {
			return fmt.Errorf("%w: slice has no assigned provider", errors.ErrInvalidState)
		}
		if !slice.IsParty(actor.ID) {
			return fmt.Errorf("%w: only the client or provider can open a dispute", errors.ErrForbidden)
		}
		_, err = tx.Disputes().FindUnresolvedBySlice(ctx, slice.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: slice already has an open dispute", errors.ErrInvalidState)
		case !stderrors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		escrow, err := tx.Escrows().FindBySliceID(ctx, slice.ID)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: slice is not funded", errors.ErrInvalidState)
			}
			return err
		}
		previous, err := tx.Disputes().CountBySlice(ctx, slice.ID)
		if err != nil {
			return err
		}

		if _, err := s.aura.PenalizeTx(ctx, tx, actor.ID, ReasonDisputeInitiationFee, -s.aura.Delta(ReasonDisputeInitiationFee)); err != nil {
			return err
		}
		if _, err := s.escrow.RaiseDisputeTx(ctx, tx, escrow.ID, reason, actor); err != nil {
			return err
		}
		dispute = &model.Dispute{
			SliceID:         slice.ID,
			EscrowPaymentID: escrow.ID,
			InitiatorID:     actor.ID,
			Reason:          reason,
			Status:          model.DisputeStatusEvidenceSubmission,
			AppealRound:     int(previous),
		}
		return tx.Disputes().Create(ctx, dispute)
	})
	if err != nil {
		return nil, err
	}
	s.aura.InvalidateProfile(ctx, actor.ID)
	log.Printf("dispute: opened dispute=%s slice=%s round=%d", dispute.ID, dispute.SliceID, dispute.AppealRound)

	counterparty := slice.CreatorID
	if actor.ID == slice.CreatorID {
		counterparty = *slice.AssignedProviderID
	}
	notify.Dispatch(ctx, s.sink, notify.Notification{
		Event: notify.EventDisputeOpened, UserID: counterparty, SubjectID: dispute.ID,
		Message: "A dispute was opened on your slice. Submit your evidence.",
	})
	return dispute, nil
}

// SubmitEvidenceAndJudge appends evidence and asks the jury for a verdict over
// the complete evidence set. The jury call runs outside any transaction.
func (s *disputeService) SubmitEvidenceAndJudge(ctx context.Context, disputeID uuid.UUID, actor Actor, input EvidenceInput) (*model.Dispute, error) {
	if strings.TrimSpace(input.MediaURL) == "" && strings.TrimSpace(input.Description) == "" {
		return nil, fmt.Errorf("%w: evidence needs a media_url or a description", errors.ErrInvalidInput)
	}
	ctx, span := telemetry.Start(ctx, "dispute.judge")
	dispute, err := s.submitAndJudge(ctx, disputeID, actor, input)
	telemetry.End(span, err)
	return dispute, err
}

func (s *disputeService) submitAndJudge(ctx context.Context, disputeID uuid.UUID, actor Actor, input EvidenceInput) (*model.Dispute, error) {
	var (
		req   jury.JudgeRequest
		slice *model.Slice
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		dispute, err := tx.Disputes().FindByIDForUpdate(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute")
		}
		slice, err = tx.Slices().FindByID(ctx, dispute.SliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		role, err := uploaderRole(slice, actor)
		if err != nil {
			return err
		}
		if !dispute.Status.AcceptsEvidence() {
			return fmt.Errorf("%w: dispute no longer accepts evidence", errors.ErrInvalidState)
		}
		if err := tx.Disputes().AddEvidence(ctx, &model.DisputeEvidence{
			DisputeID:    dispute.ID,
			UploaderID:   actor.ID,
			UploaderRole: role,
			MediaURL:     input.MediaURL,
			Description:  input.Description,
		}); err != nil {
			return fmt.Errorf("add dispute evidence: %w", err)
		}
		dispute.Status = model.DisputeStatusJuryDeliberation
		if err := tx.Disputes().Update(ctx, dispute); err != nil {
			return err
		}

		evidence, err := tx.Disputes().ListEvidence(ctx, dispute.ID)
		if err != nil {
			return err
		}
		precedents, err := tx.Disputes().ListPrecedents(ctx, s.policy.JuryPrecedents)
		if err != nil {
			return err
		}
		req = buildJudgeRequest(dispute, slice, evidence, precedents)
		return nil
	})
	if err != nil {
		return nil, err
	}

	verdict, juryErr := s.judge(ctx, req)

	var dispute *model.Dispute
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		dispute, err = tx.Disputes().FindByIDForUpdate(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute")
		}
		if dispute.Status != model.DisputeStatusJuryDeliberation {
			// A concurrent submission already stored its verdict.
			log.Printf("dispute: verdict discarded dispute=%s status=%s", dispute.ID, dispute.Status)
			return nil
		}
		if juryErr != nil {
			dispute.Status = model.DisputeStatusEvidenceSubmission
			return tx.Disputes().Update(ctx, dispute)
		}

		judgedAt := s.now()
		verdict.JudgedAt = &judgedAt
		dispute.AIVerdict = datatypes.NewJSONType(verdict)
		dispute.Status = model.DisputeStatusAnalyzing
		if verdict.Escalates() {
			dispute.Status = model.DisputeStatusAppealed
			if err := s.escalateEscrow(ctx, tx, dispute.EscrowPaymentID); err != nil {
				return err
			}
		}
		return tx.Disputes().Update(ctx, dispute)
	})
	if err != nil {
		return nil, err
	}
	if juryErr != nil {
		log.Printf("dispute: jury failed dispute=%s err=%v", disputeID, juryErr)
		return nil, fmt.Errorf("%w: jury unavailable, evidence was kept", errors.ErrExternalProvider)
	}

	event, message := notify.EventDisputeJudged, "The jury recommended an outcome for your dispute."
	if dispute.Status == model.DisputeStatusAppealed {
		event, message = notify.EventDisputeEscalated, "Your dispute was escalated to a human reviewer."
	}
	notes := []notify.Notification{{Event: event, UserID: slice.CreatorID, SubjectID: dispute.ID, Message: message}}
	if slice.HasProvider() {
		notes = append(notes, notify.Notification{Event: event, UserID: *slice.AssignedProviderID, SubjectID: dispute.ID, Message: message})
	}
	notify.Dispatch(ctx, s.sink, notes...)
	return dispute, nil
}

func (s *disputeService) judge(ctx context.Context, req jury.JudgeRequest) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.JuryTimeout)
	defer cancel()
	verdict, err := s.jury.Judge(ctx, req)
	if err != nil {
		return model.Verdict{}, err
	}
	if err := jury.Validate(verdict); err != nil {
		return model.Verdict{}, err
	}
	return verdict, nil
}

// escalateEscrow moves a disputed escrow to appealed for human review.
func (s *disputeService) escalateEscrow(ctx context.Context, tx repository.Store, escrowID uuid.UUID) error {
	escrow, err := tx.Escrows().FindByIDForUpdate(ctx, escrowID)
	if err != nil {
		return notFound(err, "escrow")
	}
	if escrow.EffectiveStatus() != model.EscrowStatusDisputed {
		return nil
	}
	prev := escrow.Status
	escrow.Status = model.EscrowStatusAppealed
	escrow.FailedFrom = ""
	return stale(tx.Escrows().CompareAndSwap(ctx, escrow, prev))
}

func uploaderRole(slice *model.Slice, actor Actor) (model.Role, error) {
	switch {
	case actor.ID == slice.CreatorID:
		return model.RoleClient, nil
	case slice.HasProvider() && actor.ID == *slice.AssignedProviderID:
		return model.RoleProvider, nil
	case actor.IsAdmin():
		return model.RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: only the parties can submit evidence", errors.ErrForbidden)
}

func buildJudgeRequest(dispute *model.Dispute, slice *model.Slice, evidence []model.DisputeEvidence, precedents []model.Dispute) jury.JudgeRequest {
	req := jury.JudgeRequest{
		DisputeID: dispute.ID,
		Reason:    dispute.Reason,
		ContractContext: fmt.Sprintf("Slice %q priced at %d %s (minor units). Material advance %s. Appeal round %d.",
			slice.Title, slice.FinalPriceCents, slice.Currency, slice.MaterialAdvanceStatus, dispute.AppealRound),
		Evidence:   make([]jury.Evidence, 0, len(evidence)),
		Precedents: make([]jury.Precedent, 0, len(precedents)),
	}
	for _, e := range evidence {
		req.Evidence = append(req.Evidence, jury.Evidence{
			UploaderRole: e.UploaderRole,
			MediaURL:     e.MediaURL,
			Description:  e.Description,
			SubmittedAt:  e.CreatedAt,
		})
	}
	for _, p := range precedents {
		req.Precedents = append(req.Precedents, jury.Precedent{Reason: p.Reason, Outcome: p.Status, Verdict: p.Verdict()})
	}
	return req
}

// FinalizeDispute applies an admin ruling: the escrow is released or refunded
// with override and the losing party is penalised.
func (s *disputeService) FinalizeDispute(ctx context.Context, disputeID uuid.UUID, actor Actor, input FinalizeInput) (*model.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can finalize disputes", errors.ErrForbidden)
	}
	if !input.Decision.Valid() {
		return nil, fmt.Errorf("%w: decision must be release or refund", errors.ErrInvalidInput)
	}
	ctx, span := telemetry.Start(ctx, "dispute.finalize")

	var (
		dispute *model.Dispute
		slice   *model.Slice
		loser   uuid.UUID
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		dispute, err = tx.Disputes().FindByIDForUpdate(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute")
		}
		if dispute.Status.Resolved() {
			return fmt.Errorf("%w: dispute already resolved", errors.ErrInvalidState)
		}
		if dispute.Status == model.DisputeStatusJuryDeliberation {
			return fmt.Errorf("%w: jury deliberation in progress", errors.ErrInvalidState)
		}
		slice, err = tx.Slices().FindByID(ctx, dispute.SliceID)
		if err != nil {
			return notFound(err, "slice")
		}
		if !slice.HasProvider() {
			return fmt.Errorf("%w: slice has no assigned provider", errors.ErrInvalidState)
		}

		loser = *slice.AssignedProviderID
		if input.Decision == model.DecisionRelease {
			loser = slice.CreatorID
		}
		if input.LoserID != nil && *input.LoserID != loser {
			return fmt.Errorf("%w: loser does not match the decision", errors.ErrInvalidInput)
		}

		opts := TransitionOptions{Actor: actor, Override: true}
		ruling := input.Reason
		switch input.Decision {
		case model.DecisionRelease:
			if _, err := s.escrow.ReleaseTx(ctx, tx, slice.ID, opts); err != nil {
				return err
			}
			dispute.Status = model.DisputeStatusResolvedRelease
			if ruling == "" {
				ruling = "Funds released to the provider."
			}
		case model.DecisionRefund:
			if _, err := s.escrow.RefundTx(ctx, tx, slice.ID, opts); err != nil {
				return err
			}
			dispute.Status = model.DisputeStatusResolvedRefund
			if ruling == "" {
				ruling = "Funds refunded to the client."
			}
		}
		if _, err := s.aura.PenalizeTx(ctx, tx, loser, ReasonDisputeLost, -s.aura.Delta(ReasonDisputeLost)); err != nil {
			return err
		}

		now := s.now()
		resolvedBy := actor.ID
		dispute.FinalRuling = ruling
		dispute.ResolvedBy = &resolvedBy
		dispute.ResolvedAt = &now
		if dispute.IsHoneyPot {
			accurate := dispute.Verdict().Recommendation == dispute.CorrectVerdict
			dispute.JuryAccurate = &accurate
		}
		return tx.Disputes().Update(ctx, dispute)
	})
	telemetry.End(span, err)
	if err != nil {
		return nil, s.escrow.RecordFailure(ctx, err)
	}

	s.aura.InvalidateProfile(ctx, slice.CreatorID, *slice.AssignedProviderID)
	log.Printf("dispute: resolved dispute=%s status=%s loser=%s", dispute.ID, dispute.Status, loser)
	notify.Dispatch(ctx, s.sink,
		notify.Notification{Event: notify.EventDisputeResolved, UserID: slice.CreatorID, SubjectID: dispute.ID, Message: dispute.FinalRuling},
		notify.Notification{Event: notify.EventDisputeResolved, UserID: *slice.AssignedProviderID, SubjectID: dispute.ID, Message: dispute.FinalRuling},
	)
	return dispute, nil
}

// SeedHoneypot creates a synthetic funded slice and a dispute with a known
// correct verdict. It is judged through the normal evidence path.
func (s *disputeService) SeedHoneypot(ctx context.Context, actor Actor, input HoneypotInput) (*model.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can seed honeypots", errors.ErrForbidden)
	}
	switch input.CorrectVerdict {
	case model.RecommendReleaseToProvider, model.RecommendRefundClient, model.RecommendSplit:
	default:
		return nil, fmt.Errorf("%w: unknown correct verdict %q", errors.ErrInvalidInput, input.CorrectVerdict)
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", errors.ErrInvalidInput)
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}
	if input.Title == "" {
		input.Title = "Synthetic slice"
	}

	var slice *model.Slice
	var client, provider *model.User
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		client = syntheticUser(model.RoleClient)
		provider = syntheticUser(model.RoleProvider)
		for _, u := range []*model.User{client, provider} {
			if err := tx.Users().Create(ctx, u); err != nil {
				return fmt.Errorf("create synthetic user: %w", err)
			}
		}
		providerID := provider.ID
		slice = &model.Slice{
			Title:                 input.Title,
			CreatorID:             client.ID,
			AssignedProviderID:    &providerID,
			Status:                model.SliceStatusAccepted,
			FinalPriceCents:       input.PriceCents,
			Currency:              strings.ToUpper(input.Currency),
			MaterialAdvanceStatus: model.MaterialAdvanceNone,
		}
		if slice.FinalPriceCents <= 0 {
			return fmt.Errorf("%w: price must be positive", errors.ErrInvalidAmount)
		}
		return tx.Slices().Create(ctx, slice)
	})
	if err != nil {
		return nil, err
	}

	escrow, err := s.escrow.CreateEscrow(ctx, slice.ID, actor, ledger.ForceModeMock)
	if err != nil {
		return nil, err
	}
	if _, err := s.escrow.ConfirmFunded(ctx, escrow.PaymentMethod, escrow.TransactionID()); err != nil {
		return nil, err
	}

	var dispute *model.Dispute
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		if _, err := s.escrow.RaiseDisputeTx(ctx, tx, escrow.ID, input.Reason, actor); err != nil {
			return err
		}
		dispute = &model.Dispute{
			SliceID:         slice.ID,
			EscrowPaymentID: escrow.ID,
			InitiatorID:     client.ID,
			Reason:          input.Reason,
			Status:          model.DisputeStatusEvidenceSubmission,
			IsHoneyPot:      true,
			CorrectVerdict:  input.CorrectVerdict,
		}
		if err := tx.Disputes().Create(ctx, dispute); err != nil {
			return err
		}
		for _, e := range input.Evidence {
			uploader := client.ID
			if e.Role == model.RoleProvider {
				uploader = provider.ID
			}
			if err := tx.Disputes().AddEvidence(ctx, &model.DisputeEvidence{
				DisputeID:    dispute.ID,
				UploaderID:   uploader,
				UploaderRole: e.Role,
				MediaURL:     e.MediaURL,
				Description:  e.Description,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("dispute: seeded honeypot dispute=%s", dispute.ID)
	return dispute, nil
}

func syntheticUser(role model.Role) *model.User {
	id := uuid.New()
	return &model.User{
		ID:           id,
		Email:        fmt.Sprintf("synthetic+%s@marketescrow.invalid", id),
		Name:         "Synthetic " + string(role),
		PasswordHash: "!",
		Role:         role,
		Active:       false,
	}
}

func (s *disputeService) GetDispute(ctx context.Context, disputeID uuid.UUID, viewer Actor) (*DisputeView, error) {
	dispute, err := s.store.Disputes().FindByID(ctx, disputeID)
	if err != nil {
		return nil, notFound(err, "dispute")
	}
	if !viewer.IsAdmin() {
		slice, err := s.store.Slices().FindByID(ctx, dispute.SliceID)
		if err != nil {
			return nil, notFound(err, "slice")
		}
		if !slice.IsParty(viewer.ID) {
			return nil, fmt.Errorf("%w: not a party to this dispute", errors.ErrForbidden)
		}
	}
	evidence, err := s.store.Disputes().ListEvidence(ctx, dispute.ID)
	if err != nil {
		return nil, err
	}
	view := &DisputeView{Dispute: *dispute, Evidence: evidence}
	if viewer.IsAdmin() {
		honeypot := dispute.IsHoneyPot
		view.HoneyPot = &honeypot
		view.ExpectedVerdict = dispute.CorrectVerdict
		view.JuryMatched = dispute.JuryAccurate
	}
	return view, nil
}

func (s *disputeService) HoneypotAccuracy(ctx context.Context, actor Actor) (HoneypotReport, error) {
	if !actor.IsAdmin() {
		return HoneypotReport{}, fmt.Errorf("%w: admin only", errors.ErrForbidden)
	}
	honeypots, err := s.store.Disputes().ListHoneypots(ctx)
	if err != nil {
		return HoneypotReport{}, err
	}
	report := HoneypotReport{Total: len(honeypots)}
	for _, d := range honeypots {
		rec := d.Verdict().Recommendation
		if rec == "" {
			continue
		}
		report.Judged++
		if rec == d.CorrectVerdict {
			report.Correct++
		}
	}
	if report.Judged > 0 {
		report.AccuracyPercent = decimal.NewFromInt(int64(report.Correct)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(report.Judged))).
			Round(2).InexactFloat64()
	}
	return report, nil
}
