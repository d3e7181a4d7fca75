package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"marketescrow/internal/model"
	"marketescrow/internal/service"
)

// DisputeHandler serves dispute adjudication.
type DisputeHandler struct {
	disputes service.DisputeService
}

// NewDisputeHandler creates a dispute handler.
func NewDisputeHandler(disputes service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// CreateDisputeRequest opens or appeals a dispute on a slice.
type CreateDisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=4000"`
}

// DisputeEvidenceRequest is one piece of dispute evidence.
type DisputeEvidenceRequest struct {
	MediaURL    string `json:"media_url" validate:"omitempty,url"`
	Description string `json:"description" validate:"required_without=MediaURL,max=4000"`
}

// FinalizeRequest is an admin ruling.
type FinalizeRequest struct {
	Decision model.Decision `json:"decision" validate:"required,oneof=release refund"`
	LoserID  string         `json:"loser_id" validate:"omitempty,uuid"`
	Reason   string         `json:"reason" validate:"max=4000"`
}

// HoneypotEvidenceRequest is seeded evidence for one synthetic party.
type HoneypotEvidenceRequest struct {
	Role        model.Role `json:"role" validate:"required,oneof=client provider admin"`
	MediaURL    string     `json:"media_url" validate:"omitempty,url"`
	Description string     `json:"description" validate:"required"`
}

// HoneypotRequest seeds a dispute with a known correct verdict.
type HoneypotRequest struct {
	Title          string                    `json:"title" validate:"required"`
	PriceCents     int64                     `json:"price_cents" validate:"required,gt=0"`
	Currency       string                    `json:"currency" validate:"omitempty,len=3,alpha"`
	Reason         string                    `json:"reason" validate:"required"`
	CorrectVerdict model.Recommendation      `json:"correct_verdict" validate:"required,oneof=release_to_provider refund_client split"`
	Evidence       []HoneypotEvidenceRequest `json:"evidence" validate:"dive"`
}

// CreateDispute godoc
// @Summary Open a dispute, or appeal a ruled one
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body CreateDisputeRequest true "Reason"
// @Success 201 {object} model.Dispute
// @Failure 409 {object} errors.ErrorResponse
// @Router /slices/{id}/disputes [post]
func (h *DisputeHandler) CreateDispute(c echo.Context) error {
	sliceID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req CreateDisputeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	dispute, err := h.disputes.CreateDispute(c.Request().Context(), sliceID, actor(c), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, dispute)
}

// GetDispute godoc
// @Summary Get a dispute with its evidence
// @Tags disputes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Dispute ID"
// @Success 200 {object} service.DisputeView
// @Failure 404 {object} errors.ErrorResponse
// @Router /disputes/{id} [get]
func (h *DisputeHandler) GetDispute(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	view, err := h.disputes.GetDispute(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// SubmitEvidence godoc
// @Summary Submit evidence and ask the AI jury for a verdict
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Dispute ID"
// @Param request body DisputeEvidenceRequest true "Evidence"
// @Success 200 {object} model.Dispute
// @Failure 502 {object} errors.ErrorResponse
// @Router /disputes/{id}/evidence [post]
func (h *DisputeHandler) SubmitEvidence(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req DisputeEvidenceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	dispute, err := h.disputes.SubmitEvidenceAndJudge(c.Request().Context(), id, actor(c), service.EvidenceInput{
		MediaURL:    req.MediaURL,
		Description: req.Description,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dispute)
}

// Finalize godoc
// @Summary Issue the admin ruling and move the money
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Dispute ID"
// @Param request body FinalizeRequest true "Ruling"
// @Success 200 {object} model.Dispute
// @Failure 409 {object} errors.ErrorResponse
// @Failure 502 {object} errors.ErrorResponse
// @Router /admin/disputes/{id}/finalize [post]
func (h *DisputeHandler) Finalize(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req FinalizeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	input := service.FinalizeInput{Decision: req.Decision, Reason: req.Reason}
	if req.LoserID != "" {
		loser, err := uuid.Parse(req.LoserID)
		if err != nil {
			return badRequest("invalid loser_id")
		}
		input.LoserID = &loser
	}
	dispute, err := h.disputes.FinalizeDispute(c.Request().Context(), id, actor(c), input)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dispute)
}

// SeedHoneypot godoc
// @Summary Seed a honeypot dispute with a known verdict
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body HoneypotRequest true "Honeypot"
// @Success 201 {object} model.Dispute
// @Router /admin/honeypots [post]
func (h *DisputeHandler) SeedHoneypot(c echo.Context) error {
	var req HoneypotRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	input := service.HoneypotInput{
		Title:          req.Title,
		PriceCents:     req.PriceCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		CorrectVerdict: req.CorrectVerdict,
	}
	for _, ev := range req.Evidence {
		input.Evidence = append(input.Evidence, service.HoneypotEvidence{Role: ev.Role, MediaURL: ev.MediaURL, Description: ev.Description})
	}
	dispute, err := h.disputes.SeedHoneypot(c.Request().Context(), actor(c), input)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, dispute)
}

// HoneypotAccuracy godoc
// @Summary Jury accuracy on honeypot disputes
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.HoneypotReport
// @Router /admin/honeypots/accuracy [get]
func (h *DisputeHandler) HoneypotAccuracy(c echo.Context) error {
	report, err := h.disputes.HoneypotAccuracy(c.Request().Context(), actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
