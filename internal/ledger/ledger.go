// Package ledger abstracts the payment providers that hold, capture,
// release and refund escrowed funds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Adapter names, stored on EscrowPayment.PaymentMethod.
const (
	MethodMock          = "mock"
	MethodCardProcessor = "card_processor"
	MethodLocalWallet   = "local_wallet"
)

// ForceModeMock routes a request to the mock adapter regardless of country.
const ForceModeMock = "mock"

// ErrDeclined is returned when a provider rejects an operation.
var ErrDeclined = errors.New("ledger: declined")

// EscrowRequest describes funds to be held for one slice.
type EscrowRequest struct {
	SliceID  uuid.UUID
	Amount   int64
	Currency string
	PayerID  uuid.UUID
	PayeeID  uuid.UUID
}

// EscrowResult carries the provider reference for held funds.
type EscrowResult struct {
	TransactionID string
}

// Adapter is the uniform interface over payment providers. Amounts are
// minor currency units.
type Adapter interface {
	Name() string
	CreateEscrow(ctx context.Context, req EscrowRequest) (EscrowResult, error)
	// Capture confirms that held funds were collected from the payer.
	Capture(ctx context.Context, transactionID string, amount int64) error
	// Release transfers amount of the held funds to the payee.
	Release(ctx context.Context, transactionID string, amount int64) error
	// Refund returns amount of the held funds to the payer.
	Refund(ctx context.Context, transactionID string, amount int64) error
}

// Router selects an Adapter per request.
type Router struct {
	mock      Adapter
	card      Adapter
	wallet    Adapter
	forceMock bool
}

// NewRouter builds a router. When forceMock is true every request uses the
// mock adapter, which is how demo and test deployments run.
func NewRouter(mock, card, wallet Adapter, forceMock bool) *Router {
	return &Router{mock: mock, card: card, wallet: wallet, forceMock: forceMock}
}

// localWalletCountries are served by the local wallet provider.
var localWalletCountries = map[string]bool{
	"AR": true,
	"BR": true,
}

// SelectStrategy picks the adapter for a payer country code.
func (r *Router) SelectStrategy(countryCode, forceMode string) Adapter {
	if r.forceMock || strings.EqualFold(forceMode, ForceModeMock) {
		return r.mock
	}
	if localWalletCountries[strings.ToUpper(strings.TrimSpace(countryCode))] {
		return r.wallet
	}
	return r.card
}

// ByName returns the adapter that created an escrow, so later operations
// go to the same provider.
func (r *Router) ByName(name string) (Adapter, error) {
	for _, a := range []Adapter{r.mock, r.card, r.wallet} {
		if a != nil && a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("ledger: unknown payment method %q", name)
}
