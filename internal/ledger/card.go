package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// CardProcessorAdapter holds funds as a manually captured card payment
// intent and pays providers out through transfers.
type CardProcessorAdapter struct {
	client gatewayClient
}

// NewCardProcessorAdapter creates a card processor adapter.
func NewCardProcessorAdapter(cfg GatewayConfig) *CardProcessorAdapter {
	return &CardProcessorAdapter{client: newGatewayClient(cfg)}
}

func (a *CardProcessorAdapter) Name() string { return MethodCardProcessor }

func (a *CardProcessorAdapter) CreateEscrow(ctx context.Context, req EscrowRequest) (EscrowResult, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := a.client.post(ctx, "/v1/payment_intents", map[string]any{
		"amount":         req.Amount,
		"currency":       strings.ToLower(req.Currency),
		"capture_method": "manual",
		"metadata": map[string]string{
			"slice_id": req.SliceID.String(),
			"payer_id": req.PayerID.String(),
			"payee_id": req.PayeeID.String(),
		},
	}, &out)
	if err != nil {
		return EscrowResult{}, fmt.Errorf("card processor create escrow: %w", err)
	}
	if out.ID == "" {
		return EscrowResult{}, fmt.Errorf("card processor create escrow: empty transaction id")
	}
	return EscrowResult{TransactionID: out.ID}, nil
}

func (a *CardProcessorAdapter) Capture(ctx context.Context, transactionID string, amount int64) error {
	path := "/v1/payment_intents/" + url.PathEscape(transactionID) + "/capture"
	if err := a.client.post(ctx, path, map[string]any{"amount_to_capture": amount}, nil); err != nil {
		return fmt.Errorf("card processor capture: %w", err)
	}
	return nil
}

func (a *CardProcessorAdapter) Release(ctx context.Context, transactionID string, amount int64) error {
	err := a.client.post(ctx, "/v1/transfers", map[string]any{
		"amount":             amount,
		"source_transaction": transactionID,
	}, nil)
	if err != nil {
		return fmt.Errorf("card processor release: %w", err)
	}
	return nil
}

func (a *CardProcessorAdapter) Refund(ctx context.Context, transactionID string, amount int64) error {
	err := a.client.post(ctx, "/v1/refunds", map[string]any{
		"payment_intent": transactionID,
		"amount":         amount,
	}, nil)
	if err != nil {
		return fmt.Errorf("card processor refund: %w", err)
	}
	return nil
}
