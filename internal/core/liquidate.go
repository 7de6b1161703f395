package core

import (
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	fpmath "MetLev/internal/math"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// handleLiquidation unwinds an unhealthy position on anyone's request. When
// the unwind does not cover the debt, collateral is seized for the
// shortfall. The debt is repaid first; what is left is split by the
// liquidation policy. Unseized collateral stays in the vault for the owner
// to withdraw.
func (c *DeterministicCore) handleLiquidation(tx *Tx, evt *event.LiquidationRequested) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}
	key := state.PositionKey{Owner: evt.Owner, Mint: evt.Mint}
	pos, ok := tx.Position(key)
	if !ok {
		return fmt.Errorf("no position %s: %w", key, errs.ErrPositionNotActive)
	}
	if err := pos.RequireActive(); err != nil {
		return err
	}
	if pos.DebtAmount == 0 || !pos.HasExternalPosition() {
		return fmt.Errorf("position %s carries no debt: %w", key, errs.ErrNotLiquidatable)
	}

	cfg, ok := tx.Collateral(evt.Mint)
	if !ok {
		return fmt.Errorf("collateral %s not registered: %w", evt.Mint, errs.ErrInvalidCollateralType)
	}
	pool, err := tx.BasePool()
	if err != nil {
		return err
	}

	price, err := oracle.NewReader(tx).Read(context.Background(), cfg.Oracle, cfg.OracleMaxAge, tx.Now())
	if err != nil {
		return err
	}
	health, err := state.EvaluateHealth(pos, cfg, pool, price.Price)
	if err != nil {
		return err
	}
	if !health.Liquidatable {
		return fmt.Errorf("position %s ltv %d < threshold %d: %w",
			key, health.LTV, cfg.LiquidationThreshold, errs.ErrPositionHealthy)
	}

	u, err := c.unwind(tx, pos, evt.FromBin, evt.ToBin, nil)
	if err != nil {
		return err
	}
	proceeds := u.Proceeds
	collateral := pos.CollateralAmount
	if proceeds < pos.DebtAmount {
		seized, err := c.seizeCollateral(tx, pool, pos, cfg, price.Price, pos.DebtAmount-proceeds)
		if err != nil {
			return fmt.Errorf("liquidate %s: %w", key, err)
		}
		if proceeds, err = fpmath.CheckedAdd(proceeds, seized); err != nil {
			return err
		}
	}
	split, err := c.policy.Split(proceeds, pos.DebtAmount, cfg.LiquidationPenalty)
	if err != nil {
		if c.metrics != nil {
			c.metrics.BadDebtRejected.WithLabelValues(pos.CollateralMint).Inc()
		}
		return fmt.Errorf("liquidate %s: %w", key, err)
	}
	if _, err := c.repay(tx, pool, pos, proceeds); err != nil {
		return err
	}

	base := ledger.RegisterAsset(pool.Asset)
	unwindAcct := ledger.NewSystemAccountKey(ledger.SubTypeSystemUnwind, base)
	if err := tx.Transfer(unwindAcct, c.payee(c.policy.PenaltyRecipient, evt.Liquidator, pos, base),
		split.Penalty, ledger.JournalTypeLiquidationPenalty, errs.ErrWithdrawalFailed); err != nil {
		return err
	}
	if err := tx.Transfer(unwindAcct, c.payee(c.policy.RemainderRecipient, evt.Liquidator, pos, base),
		split.Remainder, ledger.JournalTypeSurplusReturn, errs.ErrWithdrawalFailed); err != nil {
		return err
	}

	if err := pos.MarkLiquidated(); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.PositionsEnded.WithLabelValues(pos.CollateralMint, pos.Status.String()).Inc()
		c.metrics.CollateralSeized.WithLabelValues(pos.CollateralMint).Add(float64(collateral - pos.CollateralAmount))
	}
	return nil
}

// maxSeizeRounds bounds the top-up sales when a seizure falls short by
// rounding.
const maxSeizeRounds = 3

// seizeCollateral covers shortfall, in pool units, from the position's vault
// and returns the base units it delivered to the unwind account. Collateral
// in the pool asset moves across as is. Collateral in the venue's other
// asset is sized at the oracle price plus the policy's slippage allowance
// and sold on the venue no lower than that allowance. Other mints have no
// route, so their shortfall is left uncovered.
func (c *DeterministicCore) seizeCollateral(
	tx *Tx,
	pool *state.LendingPool,
	pos *state.Position,
	cfg *state.CollateralConfig,
	price, shortfall uint64,
) (uint64, error) {
	base := ledger.RegisterAsset(pool.Asset)
	mint := ledger.RegisterAsset(pos.CollateralMint)
	vault := ledger.NewVaultKey(pos.Key().ID(), mint)
	unwindAcct := ledger.NewSystemAccountKey(ledger.SubTypeSystemUnwind, base)

	switch pos.CollateralMint {
	case pool.Asset:
		take := min(shortfall, pos.CollateralAmount)
		if err := pos.SeizeCollateral(take); err != nil {
			return 0, err
		}
		if err := tx.Transfer(vault, unwindAcct, take, ledger.JournalTypeCollateralSeize, errs.ErrInsufficientCollateral); err != nil {
			return 0, err
		}
		return take, nil
	case tx.pair.Other:
	default:
		return 0, nil
	}

	slippage := uint64(c.policy.SeizeSlippageBps)
	floor := oracleFloor(tx, pool, c.policy.SeizeSlippageBps)
	var delivered uint64
	for round := 0; round < maxSeizeRounds && delivered < shortfall && pos.CollateralAmount > 0; round++ {
		value, err := fpmath.RescaleUp(shortfall-delivered, pool.Decimals, fpmath.ValueConfig.DecimalPrecision)
		if err != nil {
			return 0, err
		}
		need, err := fpmath.AmountForValue(value, price, cfg.Decimals)
		if err != nil {
			return 0, err
		}
		take, err := fpmath.MulDivUp(need, fpmath.BPSDenominator, fpmath.BPSDenominator-slippage)
		if err != nil {
			return 0, err
		}
		take = min(max(take, 1), pos.CollateralAmount)

		minOut, err := floor(take)
		if err != nil {
			return 0, err
		}
		out, err := tx.amm.Swap(take, minOut)
		if err != nil {
			return 0, err
		}
		if err := pos.SeizeCollateral(take); err != nil {
			return 0, err
		}
		if err := tx.Transfer(vault, ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, mint),
			take, ledger.JournalTypeCollateralSeize, errs.ErrInsufficientCollateral); err != nil {
			return 0, err
		}
		if err := tx.Transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, base), unwindAcct,
			out, ledger.JournalTypeAMMSwapOut, errs.ErrInvalidAMMPosition); err != nil {
			return 0, err
		}
		if delivered, err = fpmath.CheckedAdd(delivered, out); err != nil {
			return 0, err
		}
	}
	return delivered, nil
}

func (c *DeterministicCore) payee(r state.Recipient, liquidator uuid.UUID, pos *state.Position, asset ledger.AssetID) ledger.AccountKey {
	switch r {
	case state.RecipientPool:
		return ledger.NewPoolCustodyKey(asset)
	case state.RecipientOwner:
		return ledger.NewWalletKey(pos.Owner, asset)
	default:
		return ledger.NewWalletKey(liquidator, asset)
	}
}
