package ledger

import (
	"context"
	"fmt"
	"net/url"
)

// LocalWalletAdapter holds funds through a regional wallet provider's
// payment preference API.
type LocalWalletAdapter struct {
	client gatewayClient
}

// NewLocalWalletAdapter creates a local wallet adapter.
func NewLocalWalletAdapter(cfg GatewayConfig) *LocalWalletAdapter {
	return &LocalWalletAdapter{client: newGatewayClient(cfg)}
}

func (a *LocalWalletAdapter) Name() string { return MethodLocalWallet }

func (a *LocalWalletAdapter) CreateEscrow(ctx context.Context, req EscrowRequest) (EscrowResult, error) {
	var out struct {
		ExternalReference string `json:"external_reference"`
	}
	err := a.client.post(ctx, "/v1/preferences", map[string]any{
		"external_reference": req.SliceID.String(),
		"binary_mode":        true,
		"items": []map[string]any{{
			"title":       "slice " + req.SliceID.String(),
			"quantity":    1,
			"unit_amount": req.Amount,
			"currency_id": req.Currency,
		}},
		"payer_id": req.PayerID.String(),
		"payee_id": req.PayeeID.String(),
	}, &out)
	if err != nil {
		return EscrowResult{}, fmt.Errorf("local wallet create escrow: %w", err)
	}
	if out.ExternalReference == "" {
		return EscrowResult{}, fmt.Errorf("local wallet create escrow: empty transaction id")
	}
	return EscrowResult{TransactionID: out.ExternalReference}, nil
}

func (a *LocalWalletAdapter) Capture(ctx context.Context, transactionID string, amount int64) error {
	path := "/v1/payments/" + url.PathEscape(transactionID) + "/capture"
	if err := a.client.post(ctx, path, map[string]any{"amount": amount}, nil); err != nil {
		return fmt.Errorf("local wallet capture: %w", err)
	}
	return nil
}

func (a *LocalWalletAdapter) Release(ctx context.Context, transactionID string, amount int64) error {
	path := "/v1/payments/" + url.PathEscape(transactionID) + "/disburse"
	if err := a.client.post(ctx, path, map[string]any{"amount": amount}, nil); err != nil {
		return fmt.Errorf("local wallet release: %w", err)
	}
	return nil
}

func (a *LocalWalletAdapter) Refund(ctx context.Context, transactionID string, amount int64) error {
	path := "/v1/payments/" + url.PathEscape(transactionID) + "/refunds"
	if err := a.client.post(ctx, path, map[string]any{"amount": amount}, nil); err != nil {
		return fmt.Errorf("local wallet refund: %w", err)
	}
	return nil
}
