package handler

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"marketescrow/internal/service"
)

// Webhook event names accepted from payment providers.
const (
	WebhookPaymentSucceeded = "payment.succeeded"
	WebhookPaymentFailed    = "payment.failed"
)

// WebhookHandler receives asynchronous payment provider callbacks.
type WebhookHandler struct {
	escrows service.EscrowService
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(escrows service.EscrowService) *WebhookHandler {
	return &WebhookHandler{escrows: escrows}
}

// PaymentWebhookRequest is a provider's payment status callback.
type PaymentWebhookRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=128"`
	Event             string `json:"event" validate:"required,oneof=payment.succeeded payment.failed"`
	Reason            string `json:"reason" validate:"max=2000"`
}

// WebhookAck is the only body a provider callback receives back.
type WebhookAck struct {
	Status string `json:"status"`
}

// Payment godoc
// @Summary Payment provider callback
// @Description Only acts when the reference matches an escrow created through the same provider.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Payment method" Enums(mock, card_processor, local_wallet)
// @Param request body PaymentWebhookRequest true "Callback"
// @Success 200 {object} WebhookAck
// @Failure 404 {object} errors.ErrorResponse
// @Router /webhooks/payments/{provider} [post]
func (h *WebhookHandler) Payment(c echo.Context) error {
	var req PaymentWebhookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	method := c.Param("provider")
	ctx := c.Request().Context()
	log.Printf("webhook: provider=%s event=%s ref=%s", method, req.Event, req.ExternalReference)

	switch req.Event {
	case WebhookPaymentSucceeded:
		escrow, err := h.escrows.ConfirmFunded(ctx, method, req.ExternalReference)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, WebhookAck{Status: string(escrow.Status)})
	default:
		escrow, err := h.escrows.MarkFailed(ctx, method, req.ExternalReference, req.Reason)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, WebhookAck{Status: string(escrow.Status)})
	}
}
