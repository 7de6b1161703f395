package math_test

import (
	"MetLev/internal/errs"
	fpmath "MetLev/internal/math"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === Health Calculator ===

func TestLTV(t *testing.T) {
	ltv, err := fpmath.LTV(100_000, 50_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), ltv)

	ltv, err = fpmath.LTV(100_000, 75_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500), ltv)
}

func TestLTV_ZeroTotal(t *testing.T) {
	_, err := fpmath.LTV(0, 10)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestLTV_Overflow(t *testing.T) {
	_, err := fpmath.LTV(1, fpmath.MaxUint64/2)
	assert.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestPositionLTV(t *testing.T) {
	// 1 unit collateral, 2 units debt -> 2/3
	ltv, err := fpmath.PositionLTV(1_000_000, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_666), ltv)
}

func TestHealthFactor(t *testing.T) {
	hf, err := fpmath.HealthFactor(200_000, 100_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), hf)

	hf, err = fpmath.HealthFactor(125_000, 100_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_500), hf)

	hf, err = fpmath.HealthFactor(42, 0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxHealthFactor, hf)
}

func TestLiquidationPenalty(t *testing.T) {
	p, err := fpmath.LiquidationPenalty(100_000, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), p)
}

func TestCollateralValue(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		price    uint64
		decimals uint8
		want     uint64
	}{
		{"9 decimals, price 150", 2_000_000_000, 150_000_000, 9, 300_000_000},
		{"6 decimals, unit price", 5_000_000, 1_000_000, 6, 5_000_000},
		{"2 decimals scaled up", 150, 2_000_000, 2, 3_000_000},
		{"truncates dust", 999, 1_000_000, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.CollateralValue(tt.amount, tt.price, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollateralValue_Overflow(t *testing.T) {
	_, err := fpmath.CollateralValue(fpmath.MaxUint64, 2_000_000, 6)
	assert.True(t, errors.Is(err, errs.ErrMathOverflow))

	_, err = fpmath.CollateralValue(fpmath.MaxUint64/10, 1, 0)
	assert.True(t, errors.Is(err, errs.ErrMathOverflow))
}

// === Checked arithmetic ===

func TestCheckedArithmetic(t *testing.T) {
	_, err := fpmath.CheckedAdd(fpmath.MaxUint64, 1)
	assert.ErrorIs(t, err, errs.ErrMathOverflow)

	_, err = fpmath.CheckedSub(1, 2)
	assert.ErrorIs(t, err, errs.ErrMathUnderflow)

	_, err = fpmath.CheckedMul(1<<32, 1<<32)
	assert.ErrorIs(t, err, errs.ErrMathOverflow)

	v, err := fpmath.CheckedMul(1<<31, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<62), v)

	assert.Equal(t, fpmath.MaxUint64, fpmath.SaturatingAdd(fpmath.MaxUint64, 5))
	assert.Equal(t, uint64(0), fpmath.SaturatingSub(3, 5))
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// MaxUint64 * 10_000 overflows 64 bits but the quotient fits.
	v, err := fpmath.MulDiv(fpmath.MaxUint64, 10_000, 20_000)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxUint64/2, v)

	_, err = fpmath.MulDiv(fpmath.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, errs.ErrMathOverflow)

	_, err = fpmath.MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestRescale(t *testing.T) {
	v, err := fpmath.Rescale(1_234_567_890, 9, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234_567), v)

	v, err = fpmath.Rescale(12, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_000_000), v)

	_, err = fpmath.Pow10(20)
	assert.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRoundingUp(t *testing.T) {
	v, err := fpmath.MulDivUp(10, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v)

	v, err = fpmath.MulDivUp(9, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	v, err = fpmath.RescaleUp(1_234_567_001, 9, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234_568), v)

	v, err = fpmath.RescaleUp(12, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_000_000), v)
}

func TestAmountForValue(t *testing.T) {
	// 3 USDC of value at $50 is 0.06 SOL
	amount, err := fpmath.AmountForValue(3_000_000, 50_000_000, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(60_000_000), amount)

	// a remainder rounds up so the amount always covers the value
	amount, err = fpmath.AmountForValue(3_000_001, 50_000_000, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(60_001_000), amount)
	value, err := fpmath.CollateralValue(amount, 50_000_000, 9)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, value, uint64(3_000_001))

	amount, err = fpmath.AmountForValue(1, 3_000_000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), amount)

	_, err = fpmath.AmountForValue(1, 0, 9)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

// === Interest ===

func TestSimpleInterest_OneYear(t *testing.T) {
	// 1_000_000 at 30 bps for a year = 3_000
	got := fpmath.SimpleInterest(1_000_000, 30, int64(fpmath.SecondsPerYear))
	assert.Equal(t, uint64(3_000), got)
}

func TestSimpleInterest_ZeroElapsed(t *testing.T) {
	assert.Zero(t, fpmath.SimpleInterest(1_000_000, 30, 0))
	assert.Zero(t, fpmath.SimpleInterest(1_000_000, 30, -50))
}

func TestSimpleInterest_Saturates(t *testing.T) {
	got := fpmath.SimpleInterest(fpmath.MaxUint64, 65_535, int64(fpmath.SecondsPerYear)*10)
	assert.Equal(t, fpmath.MaxUint64, got)
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, int64(10), fpmath.Elapsed(100, 110))
	assert.Equal(t, int64(0), fpmath.Elapsed(110, 100))
}
