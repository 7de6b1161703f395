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
)

// unwound is what an AMM unwind left in the system unwind account.
type unwound struct {
	Proceeds uint64 // base units in the unwind account
	Removed  amm.Amounts
	Fees     amm.Amounts
	Swapped  uint64
	Rent     uint64
}

// unwind empties and closes the position's AMM position:
//  1. remove liquidity: base to the unwind account, other to holding
//  2. claim fees the same way
//  3. swap everything in holding back to base, bounded by minOut
//  4. close the position, refunding rent to the owner's wallet
//
// An empty range (0, 0) means the position's recorded range.
func (c *DeterministicCore) unwind(tx *Tx, pos *state.Position, fromBin, toBin int32, minOut func(other uint64) (uint64, error)) (unwound, error) {
	var u unwound
	if fromBin == 0 && toBin == 0 {
		fromBin, toBin = pos.LowerBin, pos.UpperBin
	}

	base := ledger.RegisterAsset(tx.pair.Base)
	other := ledger.RegisterAsset(tx.pair.Other)
	escrowBase := ledger.NewAMMEscrowKey(base)
	escrowOther := ledger.NewAMMEscrowKey(other)
	unwindAcct := ledger.NewSystemAccountKey(ledger.SubTypeSystemUnwind, base)
	holding := ledger.NewSystemAccountKey(ledger.SubTypeSystemHolding, other)

	removed, err := tx.amm.RemoveLiquidity(pos.ExternalRef, fromBin, toBin)
	if err != nil {
		return u, err
	}
	if err := tx.Transfer(escrowBase, unwindAcct, removed.Base, ledger.JournalTypeAMMUnwind, errs.ErrInvalidAMMPosition); err != nil {
		return u, err
	}
	if err := tx.Transfer(escrowOther, holding, removed.Other, ledger.JournalTypeAMMUnwind, errs.ErrInvalidAMMPosition); err != nil {
		return u, err
	}
	u.Removed = removed

	fees, err := tx.amm.ClaimFees(pos.ExternalRef)
	if err != nil {
		return u, err
	}
	if err := tx.Transfer(escrowBase, unwindAcct, fees.Base, ledger.JournalTypeAMMFeeClaim, errs.ErrInvalidAMMPosition); err != nil {
		return u, err
	}
	if err := tx.Transfer(escrowOther, holding, fees.Other, ledger.JournalTypeAMMFeeClaim, errs.ErrInvalidAMMPosition); err != nil {
		return u, err
	}
	u.Fees = fees

	if held := removed.Other + fees.Other; held > 0 {
		floor := uint64(0)
		if minOut != nil {
			if floor, err = minOut(held); err != nil {
				return u, err
			}
		}
		out, err := tx.amm.Swap(held, floor)
		if err != nil {
			return u, err
		}
		if err := tx.Transfer(holding, ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, other),
			held, ledger.JournalTypeAMMSwapIn, errs.ErrInvalidAMMPosition); err != nil {
			return u, err
		}
		if err := tx.Transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, base), unwindAcct,
			out, ledger.JournalTypeAMMSwapOut, errs.ErrInvalidAMMPosition); err != nil {
			return u, err
		}
		u.Swapped = out
	}

	rent, err := tx.amm.ClosePosition(pos.ExternalRef)
	if err != nil {
		return u, err
	}
	if err := tx.Transfer(escrowBase, ledger.NewWalletKey(pos.Owner, base),
		rent, ledger.JournalTypeAMMRentRefund, errs.ErrInvalidAMMPosition); err != nil {
		return u, err
	}
	u.Rent = rent

	if u.Proceeds, err = fpmath.CheckedAdd(removed.Base, fees.Base); err != nil {
		return u, err
	}
	if u.Proceeds, err = fpmath.CheckedAdd(u.Proceeds, u.Swapped); err != nil {
		return u, err
	}
	pos.ExternalRef = ""
	return u, nil
}

// repay moves debt from the unwind account back to pool custody and
// releases it from the pool. Proceeds below debt are bad debt.
func (c *DeterministicCore) repay(tx *Tx, pool *state.LendingPool, pos *state.Position, proceeds uint64) (uint64, error) {
	debt := pos.DebtAmount
	surplus, err := fpmath.CheckedSub(proceeds, debt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.BadDebtRejected.WithLabelValues(pos.CollateralMint).Inc()
		}
		return 0, fmt.Errorf("%w: position %s proceeds %d, debt %d: %w", errs.ErrBadDebt, pos.Key(), proceeds, debt, err)
	}
	base := ledger.RegisterAsset(pool.Asset)
	if err := tx.Transfer(ledger.NewSystemAccountKey(ledger.SubTypeSystemUnwind, base), ledger.NewPoolCustodyKey(base),
		debt, ledger.JournalTypeRepay, errs.ErrRepaymentFailed); err != nil {
		return 0, err
	}
	if err := pool.Repay(debt); err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrRepaymentFailed, err)
	}
	pool.Touch(tx.Now())
	return surplus, nil
}

// oracleFloor bounds the unwind swap at (1 - slippageBps) of the
// oracle-implied value of the other asset, in base units. The other asset
// must be registered as collateral so its feed and decimals are known.
func oracleFloor(tx *Tx, pool *state.LendingPool, slippageBps uint16) func(uint64) (uint64, error) {
	return func(held uint64) (uint64, error) {
		cfg, ok := tx.Collateral(tx.pair.Other)
		if !ok {
			return 0, fmt.Errorf("no price source for %s: %w", tx.pair.Other, errs.ErrOraclePriceUnavailable)
		}
		price, err := oracle.NewReader(tx).Read(context.Background(), cfg.Oracle, cfg.OracleMaxAge, tx.Now())
		if err != nil {
			return 0, err
		}
		value, err := fpmath.CollateralValue(held, price.Price, cfg.Decimals)
		if err != nil {
			return 0, err
		}
		expected, err := fpmath.Rescale(value, fpmath.ValueConfig.DecimalPrecision, pool.Decimals)
		if err != nil {
			return 0, err
		}
		return fpmath.ApplyBps(expected, fpmath.SaturatingSub(fpmath.BPSDenominator, uint64(slippageBps)))
	}
}

// handlePositionClose unwinds the owner's AMM position, repays the recorded
// debt in full and returns any surplus to the owner.
func (c *DeterministicCore) handlePositionClose(tx *Tx, evt *event.PositionCloseRequested) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}
	key := state.PositionKey{Owner: evt.Owner, Mint: evt.Mint}
	pos, ok := tx.Position(key)
	if !ok {
		return fmt.Errorf("no position %s: %w", key, errs.ErrPositionNotActive)
	}
	if err := pos.RequireOwner(evt.Signer); err != nil {
		return err
	}
	if err := pos.RequireActive(); err != nil {
		return err
	}

	if pos.HasExternalPosition() {
		pool, err := tx.BasePool()
		if err != nil {
			return err
		}
		var floor func(uint64) (uint64, error)
		if evt.MinOutBps > 0 {
			floor = oracleFloor(tx, pool, evt.MinOutBps)
		}
		u, err := c.unwind(tx, pos, evt.FromBin, evt.ToBin, floor)
		if err != nil {
			return err
		}
		surplus, err := c.repay(tx, pool, pos, u.Proceeds)
		if err != nil {
			return err
		}
		base := ledger.RegisterAsset(pool.Asset)
		if err := tx.Transfer(ledger.NewSystemAccountKey(ledger.SubTypeSystemUnwind, base), ledger.NewWalletKey(pos.Owner, base),
			surplus, ledger.JournalTypeSurplusReturn, errs.ErrWithdrawalFailed); err != nil {
			return err
		}
	}

	if err := pos.MarkClosed(); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.PositionsEnded.WithLabelValues(pos.CollateralMint, pos.Status.String()).Inc()
	}
	return nil
}
