package state

import (
	fpmath "MetLev/internal/math"
	"fmt"
)

// Health is a point-in-time risk reading of a position.
type Health struct {
	CollateralValue uint64
	DebtValue       uint64
	LTV             uint64 // bps, debt / (collateral + debt)
	HealthFactor    uint64 // bps, collateral / debt
	Liquidatable    bool
}

// EvaluateHealth values the position's collateral at price (6 decimals) and
// its debt in pool units, where the pool asset is the unit of account.
func EvaluateHealth(pos *Position, cfg *CollateralConfig, pool *LendingPool, price uint64) (Health, error) {
	return evaluate(pos.CollateralAmount, pos.DebtAmount, cfg, pool, price)
}

// EvaluateOpen is EvaluateHealth for a prospective debt.
func EvaluateOpen(pos *Position, debt uint64, cfg *CollateralConfig, pool *LendingPool, price uint64) (Health, error) {
	return evaluate(pos.CollateralAmount, debt, cfg, pool, price)
}

func evaluate(collateral, debt uint64, cfg *CollateralConfig, pool *LendingPool, price uint64) (Health, error) {
	collateralValue, err := fpmath.CollateralValue(collateral, price, cfg.Decimals)
	if err != nil {
		return Health{}, fmt.Errorf("collateral value: %w", err)
	}
	debtValue, err := fpmath.CollateralValue(debt, fpmath.PriceConfig.Scale, pool.Decimals)
	if err != nil {
		return Health{}, fmt.Errorf("debt value: %w", err)
	}

	h := Health{CollateralValue: collateralValue, DebtValue: debtValue}
	if collateralValue == 0 && debtValue == 0 {
		h.HealthFactor = fpmath.MaxHealthFactor
		return h, nil
	}

	h.LTV, err = fpmath.PositionLTV(collateralValue, debtValue)
	if err != nil {
		return Health{}, err
	}
	h.HealthFactor, err = fpmath.HealthFactor(collateralValue, debtValue)
	if err != nil {
		return Health{}, err
	}
	h.Liquidatable = debt > 0 && cfg.IsLiquidatable(h.LTV)
	return h, nil
}
