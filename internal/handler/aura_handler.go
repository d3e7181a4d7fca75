package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"marketescrow/internal/service"
)

// AuraHandler exposes reputation lookups and the fee calculator.
type AuraHandler struct {
	aura    service.AuraService
	escrows service.EscrowService
}

// NewAuraHandler creates an aura handler.
func NewAuraHandler(aura service.AuraService, escrows service.EscrowService) *AuraHandler {
	return &AuraHandler{aura: aura, escrows: escrows}
}

// MyProfile godoc
// @Summary The caller's Aura profile
// @Tags aura
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.AuraProfile
// @Router /aura/me [get]
func (h *AuraHandler) MyProfile(c echo.Context) error {
	profile, err := h.aura.Profile(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// Profile godoc
// @Summary A user's Aura profile
// @Tags aura
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} service.AuraProfile
// @Failure 404 {object} errors.ErrorResponse
// @Router /aura/{id} [get]
func (h *AuraHandler) Profile(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	profile, err := h.aura.Profile(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// History godoc
// @Summary The caller's Aura events, newest first
// @Tags aura
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max events"
// @Success 200 {array} model.AuraEvent
// @Router /aura/me/history [get]
func (h *AuraHandler) History(c echo.Context) error {
	events, err := h.aura.History(c.Request().Context(), principal(c).UserID, limitParam(c, 50))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

// Capacity godoc
// @Summary Whether a provider may take another slice
// @Tags aura
// @Produce json
// @Security BearerAuth
// @Param id path string true "Provider ID"
// @Success 200 {object} service.CapacityCheck
// @Router /aura/{id}/capacity [get]
func (h *AuraHandler) Capacity(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	check, err := h.aura.CapacityFor(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, check)
}

// FeeBreakdown godoc
// @Summary What a payer is charged for a slice price
// @Tags escrow
// @Produce json
// @Param amount query int true "Slice price in minor units"
// @Success 200 {object} service.PaymentBreakdown
// @Failure 400 {object} errors.ErrorResponse
// @Router /fees [get]
func (h *AuraHandler) FeeBreakdown(c echo.Context) error {
	amount, err := strconv.ParseInt(c.QueryParam("amount"), 10, 64)
	if err != nil {
		return badRequest("amount must be an integer")
	}
	breakdown, err := h.escrows.CalculatePaymentBreakdown(amount)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, breakdown)
}
