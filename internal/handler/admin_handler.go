package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"marketescrow/internal/service"
)

// AdminHandler triggers the scheduled jobs by hand.
type AdminHandler struct {
	payouts service.PayoutService
	aura    service.AuraService
	now     service.Clock
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(payouts service.PayoutService, aura service.AuraService, now service.Clock) *AdminHandler {
	if now == nil {
		now = service.SystemClock
	}
	return &AdminHandler{payouts: payouts, aura: aura, now: now}
}

// RunPayoutRequest runs the daily payout. Force allows a second run the same day.
type RunPayoutRequest struct {
	Force bool   `json:"force"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// PayoutPreview godoc
// @Summary Preview today's community payout
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.PayoutPreview
// @Router /admin/payouts/preview [get]
func (h *AdminHandler) PayoutPreview(c echo.Context) error {
	preview, err := h.payouts.GetPreview(c.Request().Context(), h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

// RunPayout godoc
// @Summary Run the daily community payout
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RunPayoutRequest false "Options"
// @Success 200 {object} model.PayoutBatch
// @Router /admin/payouts/run [post]
func (h *AdminHandler) RunPayout(c echo.Context) error {
	var req RunPayoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reference := h.now()
	if req.Date != "" {
		day, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return badRequest("invalid date")
		}
		reference = day
	}
	batch, err := h.payouts.ProcessDailyPayout(c.Request().Context(), reference, req.Force)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, batch)
}

// ListPayouts godoc
// @Summary Past payout batches, newest first
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max batches"
// @Success 200 {array} model.PayoutBatch
// @Router /admin/payouts [get]
func (h *AdminHandler) ListPayouts(c echo.Context) error {
	batches, err := h.payouts.ListBatches(c.Request().Context(), limitParam(c, 30))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, batches)
}

// RunAutoRelease godoc
// @Summary Release every completed slice past its deadline
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.AutoReleaseResult
// @Router /admin/escrows/auto-release [post]
func (h *AdminHandler) RunAutoRelease(c echo.Context) error {
	result, err := h.payouts.ProcessAutoReleases(c.Request().Context(), h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// RunDecay godoc
// @Summary Apply today's Aura decay to inactive users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int64
// @Router /admin/aura/decay [post]
func (h *AdminHandler) RunDecay(c echo.Context) error {
	n, err := h.aura.Decay(c.Request().Context(), h.now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"decayed": n})
}
