package core

import (
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	"MetLev/internal/state"
	"fmt"
)

// handleLiquiditySupplied accrues the provider's stake, adds the deposit to
// it and to the pool, and moves the tokens into pool custody.
func (c *DeterministicCore) handleLiquiditySupplied(tx *Tx, evt *event.LiquiditySupplied) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}
	if err := requireSigner(evt.Signer, evt.Owner); err != nil {
		return err
	}
	if evt.Amount == 0 {
		return fmt.Errorf("supply of zero: %w", errs.ErrInvalidAmount)
	}
	pool, ok := tx.Pool(evt.Asset)
	if !ok {
		return fmt.Errorf("no lending pool for %s: %w", evt.Asset, errs.ErrInsufficientLiquidity)
	}

	key := state.LpKey{Owner: evt.Owner, Asset: evt.Asset}
	lp, exists := tx.LpPosition(key)
	if !exists {
		lp = state.NewLpPosition(evt.Owner, evt.Asset, tx.Now())
		tx.PutLpPosition(lp)
	} else {
		lp.Accrue(pool.InterestRateBps, tx.Now())
	}

	if err := lp.Deposit(evt.Amount); err != nil {
		return err
	}
	if err := pool.Supply(evt.Amount); err != nil {
		return err
	}
	pool.Touch(tx.Now())

	assetID := ledger.RegisterAsset(evt.Asset)
	return tx.Transfer(
		ledger.NewWalletKey(evt.Owner, assetID),
		ledger.NewPoolCustodyKey(assetID),
		evt.Amount, ledger.JournalTypeLiquiditySupply, errs.ErrInvalidAmount,
	)
}

// handleLiquidityWithdrawn pays out principal plus accrued interest and
// closes the provider's stake.
func (c *DeterministicCore) handleLiquidityWithdrawn(tx *Tx, evt *event.LiquidityWithdrawn) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}
	if err := requireSigner(evt.Signer, evt.Owner); err != nil {
		return err
	}
	pool, ok := tx.Pool(evt.Asset)
	if !ok {
		return fmt.Errorf("no lending pool for %s: %w", evt.Asset, errs.ErrInsufficientLiquidity)
	}
	key := state.LpKey{Owner: evt.Owner, Asset: evt.Asset}
	lp, ok := tx.LpPosition(key)
	if !ok {
		return fmt.Errorf("no liquidity position %s: %w", key, errs.ErrInvalidOwner)
	}

	lp.Accrue(pool.InterestRateBps, tx.Now())
	claimable := lp.Claimable()

	assetID := ledger.RegisterAsset(evt.Asset)
	custody := ledger.NewPoolCustodyKey(assetID)
	if have := tx.Balance(custody); have < 0 || uint64(have) < claimable {
		return fmt.Errorf("custody holds %d, claimable %d: %w", have, claimable, errs.ErrInsufficientLiquidity)
	}
	if err := pool.Withdraw(lp.SuppliedAmount); err != nil {
		return err
	}
	pool.Touch(tx.Now())

	if err := tx.Transfer(custody, ledger.NewWalletKey(evt.Owner, assetID),
		claimable, ledger.JournalTypeLiquidityWithdrawal, errs.ErrInsufficientLiquidity); err != nil {
		return err
	}

	tx.DeleteLpPosition(key)
	return nil
}
