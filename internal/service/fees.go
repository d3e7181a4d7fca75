package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
)

var bpsDenominator = decimal.NewFromInt(10000)

// PaymentBreakdown splits what a payer is charged for one slice. All values
// are minor currency units.
type PaymentBreakdown struct {
	SliceAmount         int64 `json:"slice_amount"`
	PlatformFee         int64 `json:"platform_fee"`
	PlatformRevenue     int64 `json:"platform_revenue"`
	CommunityRewardPool int64 `json:"community_reward_pool"`
	ProcessingFee       int64 `json:"processing_fee"`
	TotalAmount         int64 `json:"total_amount"`
	// ProviderNet is what the provider receives on release.
	ProviderNet int64 `json:"provider_net"`
}

// FeeCalculator computes the escrow fee breakdown from policy basis points.
type FeeCalculator struct {
	policy config.Policy
}

// NewFeeCalculator creates a fee calculator.
func NewFeeCalculator(policy config.Policy) FeeCalculator {
	return FeeCalculator{policy: policy}
}

// CalculatePaymentBreakdown grosses n up by the platform fee and the payment
// processing overhead, rounding half up only at each boundary.
func (f FeeCalculator) CalculatePaymentBreakdown(n int64) (PaymentBreakdown, error) {
	if n <= 0 {
		return PaymentBreakdown{}, fmt.Errorf("%w: slice amount must be positive", errors.ErrInvalidAmount)
	}
	net := decimal.NewFromInt(n)
	fee := f.platformFee(net)
	pool := applyBps(net, f.policy.CommunityPoolBps)
	total := net.Add(decimal.NewFromInt(fee)).
		Mul(bpsDenominator).
		Div(bpsDenominator.Sub(decimal.NewFromInt(f.policy.ProcessingFeeBps))).
		Round(0).IntPart()

	return PaymentBreakdown{
		SliceAmount:         n,
		PlatformFee:         fee,
		PlatformRevenue:     fee - pool,
		CommunityRewardPool: pool,
		ProcessingFee:       total - n - fee,
		TotalAmount:         total,
		ProviderNet:         n,
	}, nil
}

// ValidatePaymentAmount reports whether total covers n plus the platform fee.
func (f FeeCalculator) ValidatePaymentAmount(n, total int64) bool {
	if n <= 0 || total <= 0 {
		return false
	}
	return total >= n+f.platformFee(decimal.NewFromInt(n))
}

// platformFee is at least one minor unit whenever the policy charges a fee,
// so a total equal to the bare slice amount never validates.
func (f FeeCalculator) platformFee(net decimal.Decimal) int64 {
	fee := applyBps(net, f.policy.PlatformFeeBps)
	if fee == 0 && f.policy.PlatformFeeBps > 0 {
		return 1
	}
	return fee
}

// applyBps returns round_half_up(v * bps / 10000).
func applyBps(v decimal.Decimal, bps int64) int64 {
	return v.Mul(decimal.NewFromInt(bps)).Div(bpsDenominator).Round(0).IntPart()
}
