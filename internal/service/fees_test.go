package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
)

func TestFeeCalculator_CalculatePaymentBreakdown(t *testing.T) {
	calc := NewFeeCalculator(config.DefaultPolicy())

	b, err := calc.CalculatePaymentBreakdown(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, PaymentBreakdown{
		SliceAmount:         1_000_000,
		PlatformFee:         150_000,
		PlatformRevenue:     120_000,
		CommunityRewardPool: 30_000,
		ProcessingFee:       106_831,
		TotalAmount:         1_256_831,
		ProviderNet:         1_000_000,
	}, b)
}

func TestFeeCalculator_Invariants(t *testing.T) {
	calc := NewFeeCalculator(config.DefaultPolicy())

	for _, n := range []int64{1, 2, 3, 4, 7, 99, 100, 333, 12_345, 999_999, 5_000_000_000} {
		b, err := calc.CalculatePaymentBreakdown(n)
		require.NoError(t, err, "n=%d", n)

		assert.Equal(t, b.TotalAmount, b.SliceAmount+b.PlatformFee+b.ProcessingFee, "n=%d", n)
		assert.Equal(t, b.PlatformFee, b.PlatformRevenue+b.CommunityRewardPool, "n=%d", n)
		assert.GreaterOrEqual(t, b.ProcessingFee, int64(0), "n=%d", n)
		assert.GreaterOrEqual(t, b.PlatformRevenue, int64(0), "n=%d", n)
		assert.Positive(t, b.PlatformFee, "n=%d", n)

		assert.True(t, calc.ValidatePaymentAmount(n, b.TotalAmount), "n=%d", n)
		assert.False(t, calc.ValidatePaymentAmount(n, n), "n=%d", n)
	}
}

func TestFeeCalculator_RejectsNonPositive(t *testing.T) {
	calc := NewFeeCalculator(config.DefaultPolicy())

	for _, n := range []int64{0, -1, -1_000} {
		_, err := calc.CalculatePaymentBreakdown(n)
		assert.ErrorIs(t, err, errors.ErrInvalidAmount)
		assert.False(t, calc.ValidatePaymentAmount(n, 1_000))
	}
}

func TestFeeCalculator_HalfUpAtBoundaries(t *testing.T) {
	calc := NewFeeCalculator(config.DefaultPolicy())

	// 10 * 15% = 1.5 rounds to 2; 50 * 3% = 1.5 rounds to 2.
	b, err := calc.CalculatePaymentBreakdown(10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.PlatformFee)

	b, err = calc.CalculatePaymentBreakdown(50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.CommunityRewardPool)
	assert.Equal(t, int64(8), b.PlatformFee)
}
