package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"marketescrow/internal/model"
	"marketescrow/internal/service"
)

// SliceHandler serves the slice workflow and its escrow.
type SliceHandler struct {
	slices  service.SliceService
	escrows service.EscrowService
	ratings service.RatingService
}

// NewSliceHandler creates a slice handler.
func NewSliceHandler(slices service.SliceService, escrows service.EscrowService, ratings service.RatingService) *SliceHandler {
	return &SliceHandler{slices: slices, escrows: escrows, ratings: ratings}
}

// CreateSliceRequest opens a new slice of work.
type CreateSliceRequest struct {
	Title      string `json:"title" validate:"required,max=255"`
	PriceCents int64  `json:"price_cents" validate:"required,gt=0"`
	Currency   string `json:"currency" validate:"required,len=3,alpha"`
}

// AssignProviderRequest names the provider taking the slice.
type AssignProviderRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
}

// CreateEscrowRequest funds a slice. ForceMode "mock" bypasses real rails.
type CreateEscrowRequest struct {
	ForceMode string `json:"force_mode" validate:"omitempty,oneof=mock"`
}

// TransitionRequest qualifies a release or refund.
type TransitionRequest struct {
	Override bool `json:"override"`
}

// WorkEvidenceRequest attaches proof of work to a slice.
type WorkEvidenceRequest struct {
	MediaURL string `json:"media_url" validate:"required,url"`
	Note     string `json:"note" validate:"max=2000"`
}

// MaterialAdvanceRequest asks for part of the escrow up front.
type MaterialAdvanceRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// RatingRequest carries the five sub-scores.
type RatingRequest struct {
	Quality         int `json:"quality" validate:"required,min=1,max=5"`
	Communication   int `json:"communication" validate:"required,min=1,max=5"`
	Timeliness      int `json:"timeliness" validate:"required,min=1,max=5"`
	Professionalism int `json:"professionalism" validate:"required,min=1,max=5"`
	Value           int `json:"value" validate:"required,min=1,max=5"`
}

// CreateSlice godoc
// @Summary Create a slice
// @Tags slices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateSliceRequest true "Slice"
// @Success 201 {object} model.Slice
// @Failure 400 {object} errors.ErrorResponse
// @Router /slices [post]
func (h *SliceHandler) CreateSlice(c echo.Context) error {
	var req CreateSliceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	slice, err := h.slices.CreateSlice(c.Request().Context(), actor(c), service.CreateSliceInput{
		Title:      req.Title,
		PriceCents: req.PriceCents,
		Currency:   req.Currency,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, slice)
}

// ListSlices godoc
// @Summary List the caller's slices
// @Tags slices
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Slice
// @Router /slices [get]
func (h *SliceHandler) ListSlices(c echo.Context) error {
	slices, err := h.slices.ListForUser(c.Request().Context(), actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slices)
}

// GetSlice godoc
// @Summary Get a slice
// @Tags slices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {object} model.Slice
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /slices/{id} [get]
func (h *SliceHandler) GetSlice(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	slice, err := h.slices.Get(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// AssignProvider godoc
// @Summary Assign a provider, subject to their Aura capacity
// @Tags slices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body AssignProviderRequest true "Provider"
// @Success 200 {object} model.Slice
// @Failure 409 {object} errors.ErrorResponse
// @Router /slices/{id}/assign [post]
func (h *SliceHandler) AssignProvider(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req AssignProviderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	providerID, err := parseUUID(req.ProviderID, "provider_id")
	if err != nil {
		return err
	}
	slice, err := h.slices.AssignProvider(c.Request().Context(), id, providerID, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// CreateEscrow godoc
// @Summary Fund a slice into escrow
// @Tags escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body CreateEscrowRequest false "Options"
// @Success 201 {object} model.EscrowPayment
// @Failure 409 {object} errors.ErrorResponse
// @Failure 502 {object} errors.ErrorResponse
// @Router /slices/{id}/escrow [post]
func (h *SliceHandler) CreateEscrow(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req CreateEscrowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	escrow, err := h.escrows.CreateEscrow(c.Request().Context(), id, actor(c), req.ForceMode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, escrow)
}

// GetEscrow godoc
// @Summary Get the escrow of a slice
// @Tags escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {object} model.EscrowPayment
// @Failure 404 {object} errors.ErrorResponse
// @Router /slices/{id}/escrow [get]
func (h *SliceHandler) GetEscrow(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	escrow, err := h.escrows.GetBySlice(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

// SubmitEvidence godoc
// @Summary Attach work evidence
// @Tags slices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body WorkEvidenceRequest true "Evidence"
// @Success 201 {object} model.SliceEvidence
// @Router /slices/{id}/evidence [post]
func (h *SliceHandler) SubmitEvidence(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req WorkEvidenceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	evidence, err := h.slices.SubmitWorkEvidence(c.Request().Context(), id, actor(c), req.MediaURL, req.Note)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, evidence)
}

// ListEvidence godoc
// @Summary List work evidence
// @Tags slices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {array} model.SliceEvidence
// @Router /slices/{id}/evidence [get]
func (h *SliceHandler) ListEvidence(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	evidence, err := h.slices.ListEvidence(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, evidence)
}

// Complete godoc
// @Summary Mark the work completed and start the auto-release clock
// @Tags escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {object} model.Slice
// @Failure 422 {object} errors.ErrorResponse
// @Router /slices/{id}/complete [post]
func (h *SliceHandler) Complete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	slice, err := h.escrows.MarkCompleted(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// Release godoc
// @Summary Release escrowed funds to the provider
// @Tags escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body TransitionRequest false "Options"
// @Success 200 {object} model.EscrowPayment
// @Failure 409 {object} errors.ErrorResponse
// @Failure 502 {object} errors.ErrorResponse
// @Router /slices/{id}/release [post]
func (h *SliceHandler) Release(c echo.Context) error {
	return h.transition(c, h.escrows.Release)
}

// Refund godoc
// @Summary Refund escrowed funds to the client
// @Tags escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body TransitionRequest false "Options"
// @Success 200 {object} model.EscrowPayment
// @Failure 409 {object} errors.ErrorResponse
// @Failure 502 {object} errors.ErrorResponse
// @Router /slices/{id}/refund [post]
func (h *SliceHandler) Refund(c echo.Context) error {
	return h.transition(c, h.escrows.Refund)
}

func (h *SliceHandler) transition(c echo.Context, move func(ctx context.Context, id uuid.UUID, opts service.TransitionOptions) (*model.EscrowPayment, error)) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	escrow, err := move(c.Request().Context(), id, service.TransitionOptions{Actor: actor(c), Override: req.Override})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, escrow)
}

// RequestAdvance godoc
// @Summary Request a material advance
// @Tags slices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body MaterialAdvanceRequest true "Amount"
// @Success 200 {object} model.Slice
// @Router /slices/{id}/advance [post]
func (h *SliceHandler) RequestAdvance(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req MaterialAdvanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	slice, err := h.slices.RequestMaterialAdvance(c.Request().Context(), id, actor(c), req.AmountCents)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// ApproveAdvance godoc
// @Summary Approve and pay out a material advance
// @Tags slices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {object} model.Slice
// @Failure 502 {object} errors.ErrorResponse
// @Router /slices/{id}/advance/approve [post]
func (h *SliceHandler) ApproveAdvance(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	slice, err := h.slices.ApproveMaterialAdvance(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// RejectAdvance godoc
// @Summary Reject a material advance
// @Tags slices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Success 200 {object} model.Slice
// @Router /slices/{id}/advance/reject [post]
func (h *SliceHandler) RejectAdvance(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	slice, err := h.slices.RejectMaterialAdvance(c.Request().Context(), id, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slice)
}

// Rate godoc
// @Summary Rate the provider of a finished slice
// @Tags ratings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Slice ID"
// @Param request body RatingRequest true "Scores"
// @Success 201 {object} model.Rating
// @Failure 409 {object} errors.ErrorResponse
// @Router /slices/{id}/rating [post]
func (h *SliceHandler) Rate(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req RatingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rating, err := h.ratings.SubmitRating(c.Request().Context(), id, actor(c), service.RatingInput{
		Quality:         req.Quality,
		Communication:   req.Communication,
		Timeliness:      req.Timeliness,
		Professionalism: req.Professionalism,
		Value:           req.Value,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, rating)
}

// ProviderRatings godoc
// @Summary List ratings a provider received
// @Tags ratings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Provider ID"
// @Success 200 {array} model.Rating
// @Router /providers/{id}/ratings [get]
func (h *SliceHandler) ProviderRatings(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ratings, err := h.ratings.ListForProvider(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, ratings)
}
