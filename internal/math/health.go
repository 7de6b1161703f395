package math

import (
	"MetLev/internal/errs"
	"fmt"
)

// MaxHealthFactor is returned when there is no debt.
const MaxHealthFactor = MaxUint64

// CollateralValue converts a raw token amount into the canonical 6-decimal
// value unit: rescale amount to 6 decimals, multiply by the 6-decimal price,
// divide by 10^6.
func CollateralValue(amount, price uint64, decimals uint8) (uint64, error) {
	adjusted, err := Rescale(amount, decimals, ValueConfig.DecimalPrecision)
	if err != nil {
		return 0, fmt.Errorf("rescale collateral: %w", err)
	}
	value, err := CheckedMul(adjusted, price)
	if err != nil {
		return 0, fmt.Errorf("collateral value: %w", err)
	}
	return value / PriceConfig.Scale, nil
}

// AmountForValue inverts CollateralValue: the token amount, rounded up,
// whose value at price is at least value.
func AmountForValue(value, price uint64, decimals uint8) (uint64, error) {
	if price == 0 {
		return 0, fmt.Errorf("amount at zero price: %w", errs.ErrInvalidAmount)
	}
	scaled, err := MulDivUp(value, PriceConfig.Scale, price)
	if err != nil {
		return 0, fmt.Errorf("amount for value: %w", err)
	}
	return RescaleUp(scaled, ValueConfig.DecimalPrecision, decimals)
}

// LTV returns debtValue / totalValue in basis points.
func LTV(totalValue, debtValue uint64) (uint64, error) {
	if totalValue == 0 {
		return 0, fmt.Errorf("ltv with zero total value: %w", errs.ErrInvalidAmount)
	}
	scaled, err := CheckedMul(debtValue, BPSDenominator)
	if err != nil {
		return 0, fmt.Errorf("ltv: %w", err)
	}
	return scaled / totalValue, nil
}

// PositionLTV is the leveraged-position LTV: debt over collateral plus debt.
func PositionLTV(collateralValue, debtValue uint64) (uint64, error) {
	total, err := CheckedAdd(collateralValue, debtValue)
	if err != nil {
		return 0, fmt.Errorf("position total value: %w", err)
	}
	return LTV(total, debtValue)
}

// HealthFactor returns collateralValue / debtValue in basis points, or
// MaxHealthFactor when debtValue is zero.
func HealthFactor(collateralValue, debtValue uint64) (uint64, error) {
	if debtValue == 0 {
		return MaxHealthFactor, nil
	}
	scaled, err := CheckedMul(collateralValue, BPSDenominator)
	if err != nil {
		return 0, fmt.Errorf("health factor: %w", err)
	}
	return scaled / debtValue, nil
}

// LiquidationPenalty returns proceeds * penaltyBps / 10_000.
func LiquidationPenalty(proceeds uint64, penaltyBps uint16) (uint64, error) {
	scaled, err := CheckedMul(proceeds, uint64(penaltyBps))
	if err != nil {
		return 0, fmt.Errorf("liquidation penalty: %w", err)
	}
	return scaled / BPSDenominator, nil
}

// ApplyBps returns amount * bps / 10_000 with a wide intermediate.
func ApplyBps(amount uint64, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BPSDenominator)
}
