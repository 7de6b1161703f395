// internal/math/fixedpoint.go
package math

import (
	"MetLev/internal/errs"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision uint8  // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // oracle prices
	ValueConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // canonical value unit
	BPSConfig   = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}    // ratios in basis points
)

const (
	// BPSDenominator is 100% in basis points.
	BPSDenominator uint64 = 10_000

	// MaxUint64 doubles as the "infinitely healthy" sentinel.
	MaxUint64 = ^uint64(0)

	// SecondsPerYear is the accrual year (365 days, no leap handling).
	SecondsPerYear uint64 = 365 * 24 * 3600

	maxPow10 = 19
)

// CheckedAdd returns a + b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, errs.ErrMathOverflow)
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrMathUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%d - %d: %w", a, b, errs.ErrMathUnderflow)
	}
	return a - b, nil
}

// CheckedMul returns a * b or ErrMathOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d: %w", a, b, errs.ErrMathOverflow)
	}
	return lo, nil
}

// SaturatingAdd returns a + b clamped to MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return MaxUint64
	}
	return sum
}

// SaturatingSub returns a - b clamped to zero.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// MulDiv computes a * b / denominator with a 256-bit intermediate, rounding
// down. The quotient must fit in 64 bits.
func MulDiv(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero: %w", errs.ErrInvalidAmount)
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := product.Div(product, uint256.NewInt(denominator))
	if !quotient.IsUint64() {
		return 0, fmt.Errorf("%d * %d / %d: %w", a, b, denominator, errs.ErrMathOverflow)
	}
	return quotient.Uint64(), nil
}

// MulDivUp is MulDiv rounding up.
func MulDivUp(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero: %w", errs.ErrInvalidAmount)
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	d := uint256.NewInt(denominator)
	quotient := new(uint256.Int).Div(product, d)
	if !new(uint256.Int).Mod(product, d).IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	if !quotient.IsUint64() {
		return 0, fmt.Errorf("%d * %d / %d: %w", a, b, denominator, errs.ErrMathOverflow)
	}
	return quotient.Uint64(), nil
}

// Pow10 returns 10^n for n <= 19.
func Pow10(n uint8) (uint64, error) {
	if n > maxPow10 {
		return 0, fmt.Errorf("10^%d: %w", n, errs.ErrMathOverflow)
	}
	result := uint64(1)
	for i := uint8(0); i < n; i++ {
		result *= 10
	}
	return result, nil
}

// Rescale converts amount from one decimal precision to another. Scaling
// down truncates; scaling up is checked.
func Rescale(amount uint64, from, to uint8) (uint64, error) {
	switch {
	case from > to:
		factor, err := Pow10(from - to)
		if err != nil {
			return 0, err
		}
		return amount / factor, nil
	case from < to:
		factor, err := Pow10(to - from)
		if err != nil {
			return 0, err
		}
		return CheckedMul(amount, factor)
	default:
		return amount, nil
	}
}

// RescaleUp is Rescale rounding up when scaling down.
func RescaleUp(amount uint64, from, to uint8) (uint64, error) {
	if from <= to {
		return Rescale(amount, from, to)
	}
	factor, err := Pow10(from - to)
	if err != nil {
		return 0, err
	}
	return MulDivUp(amount, 1, factor)
}
