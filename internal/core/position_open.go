package core

import (
	"MetLev/internal/amm"
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	fpmath "MetLev/internal/math"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"context"
	"fmt"
	"math"
)

// handlePositionOpen borrows the collateral's oracle value × leverage,
// denominated in the base pool's asset, checks the resulting LTV against a fresh price and deploys the loan into a
// new AMM position held in pool custody's name. Every step runs inside tx,
// so any failure leaves no borrow and no venue state behind.
func (c *DeterministicCore) handlePositionOpen(tx *Tx, evt *event.PositionOpenRequested) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}

	key := state.PositionKey{Owner: evt.Owner, Mint: evt.Mint}
	pos, ok := tx.Position(key)
	if !ok {
		return fmt.Errorf("no collateral deposited for %s: %w", key, errs.ErrInsufficientCollateral)
	}
	if err := pos.RequireOwner(evt.Signer); err != nil {
		return err
	}
	if err := pos.RequireActive(); err != nil {
		return err
	}
	if pos.HasExternalPosition() || pos.DebtAmount > 0 {
		return fmt.Errorf("position %s already open: %w", key, amm.ErrPositionExists)
	}
	if pos.CollateralAmount == 0 {
		return fmt.Errorf("position %s has no collateral: %w", key, errs.ErrInsufficientCollateral)
	}

	cfg, ok := tx.Collateral(evt.Mint)
	if !ok {
		return fmt.Errorf("collateral %s not registered: %w", evt.Mint, errs.ErrInvalidCollateralType)
	}
	if err := cfg.RequireEnabled(); err != nil {
		return err
	}

	upperBin, err := upperBin(evt.LowerBin, evt.Width)
	if err != nil {
		return err
	}

	pool, err := tx.BasePool()
	if err != nil {
		return err
	}
	price, err := oracle.NewReader(tx).Read(context.Background(), cfg.Oracle, cfg.OracleMaxAge, tx.Now())
	if err != nil {
		return err
	}

	// Step 1: size the loan in the pool asset
	borrow, err := borrowAmount(pos.CollateralAmount, evt.Leverage, cfg, pool, price.Price)
	if err != nil {
		return err
	}

	// Step 2: borrow
	if err := pool.Borrow(borrow); err != nil {
		return err
	}

	// Step 3: check the resulting LTV
	health, err := state.EvaluateOpen(pos, borrow, cfg, pool, price.Price)
	if err != nil {
		return err
	}
	if !cfg.ValidateLTV(health.LTV) {
		return fmt.Errorf("ltv %d > max %d: %w", health.LTV, cfg.MaxLTV, errs.ErrExceedsMaxLTV)
	}

	// Step 4: record the debt
	if err := pos.SetDebt(borrow); err != nil {
		return err
	}
	pool.Touch(tx.Now())

	// Step 5: deploy into the venue
	base := ledger.RegisterAsset(tx.pair.Base)
	escrow := ledger.NewAMMEscrowKey(base)
	ref, rent, err := tx.amm.OpenPosition(amm.OpenParams{
		Seed:     fmt.Sprintf("%s:%d", state.IDString(key.ID()), tx.sequence),
		LowerBin: evt.LowerBin,
		Width:    evt.Width,
	})
	if err != nil {
		return err
	}
	if err := tx.Transfer(ledger.NewWalletKey(evt.Owner, base), escrow,
		rent, ledger.JournalTypeAMMRent, errs.ErrInvalidAMMPosition); err != nil {
		return fmt.Errorf("position rent: %w", err)
	}
	if err := tx.Transfer(ledger.NewPoolCustodyKey(base), escrow,
		borrow, ledger.JournalTypeBorrow, errs.ErrInsufficientLiquidity); err != nil {
		return err
	}
	if err := tx.amm.AddLiquidityOneSide(ref, amm.LiquidityParams{
		Amount:               borrow,
		ActiveBin:            evt.ActiveBin,
		MaxActiveBinSlippage: evt.MaxActiveBinSlippage,
		Distribution:         evt.Distribution,
	}); err != nil {
		return err
	}

	pos.ExternalRef = ref
	pos.LowerBin = evt.LowerBin
	pos.UpperBin = upperBin

	if c.metrics != nil {
		c.metrics.PositionsOpened.WithLabelValues(evt.Mint).Inc()
	}
	return nil
}

// borrowAmount converts collateral × leverage into base pool units. The
// pool asset is the unit of account, so one value unit is one whole token.
func borrowAmount(collateral, leverage uint64, cfg *state.CollateralConfig, pool *state.LendingPool, price uint64) (uint64, error) {
	value, err := fpmath.CollateralValue(collateral, price, cfg.Decimals)
	if err != nil {
		return 0, fmt.Errorf("collateral value: %w", err)
	}
	levered, err := fpmath.ApplyBps(value, leverage)
	if err != nil {
		return 0, fmt.Errorf("borrow value: %w", err)
	}
	borrow, err := fpmath.Rescale(levered, fpmath.ValueConfig.DecimalPrecision, pool.Decimals)
	if err != nil {
		return 0, fmt.Errorf("borrow amount: %w", err)
	}
	if borrow == 0 {
		return 0, fmt.Errorf("borrow amount is zero: %w", errs.ErrInvalidAmount)
	}
	return borrow, nil
}

// upperBin returns the last bin of a width-bin range starting at lower.
func upperBin(lower, width int32) (int32, error) {
	if width <= 0 {
		return 0, fmt.Errorf("width %d: %w", width, amm.ErrInvalidRange)
	}
	upper := int64(lower) + int64(width) - 1
	if upper > math.MaxInt32 {
		return 0, fmt.Errorf("range [%d, +%d) overflows the bin index: %w", lower, width, amm.ErrInvalidRange)
	}
	return int32(upper), nil
}
