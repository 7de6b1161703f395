package core

import (
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"fmt"

	"github.com/google/uuid"
)

func (c *DeterministicCore) handleProtocolInitialized(tx *Tx, evt *event.ProtocolInitialized) error {
	protocol := tx.Protocol()
	if protocol.Initialized() {
		return fmt.Errorf("protocol already initialized: %w", errs.ErrUnauthorized)
	}
	if evt.Authority == uuid.Nil {
		return fmt.Errorf("nil authority: %w", errs.ErrUnauthorized)
	}
	protocol.Authority = evt.Authority
	protocol.Paused = false
	return nil
}

func (c *DeterministicCore) handlePoolInitialized(tx *Tx, evt *event.PoolInitialized) error {
	if err := tx.Protocol().RequireAuthority(evt.Signer); err != nil {
		return err
	}
	if evt.Asset == "" {
		return fmt.Errorf("pool asset is empty: %w", errs.ErrInvalidAmount)
	}
	if _, exists := tx.Pool(evt.Asset); exists {
		return fmt.Errorf("pool %s already initialized: %w", evt.Asset, errs.ErrUnauthorized)
	}
	ledger.RegisterAsset(evt.Asset)
	tx.PutPool(&state.LendingPool{
		Authority:       evt.Signer,
		Asset:           evt.Asset,
		Decimals:        evt.Decimals,
		InterestRateBps: evt.InterestRateBps,
		LastUpdate:      tx.Now(),
	})
	return nil
}

func (c *DeterministicCore) handleCollateralRegistered(tx *Tx, evt *event.CollateralRegistered) error {
	if err := tx.Protocol().RequireAuthority(evt.Signer); err != nil {
		return err
	}
	ledger.RegisterAsset(evt.Mint)
	return tx.RegisterCollateral(&state.CollateralConfig{
		Mint:                 evt.Mint,
		Oracle:               evt.Oracle,
		MaxLTV:               evt.MaxLTV,
		LiquidationThreshold: evt.LiquidationThreshold,
		LiquidationPenalty:   evt.LiquidationPenalty,
		MinDeposit:           evt.MinDeposit,
		InterestRateBps:      evt.InterestRateBps,
		OracleMaxAge:         evt.OracleMaxAge,
		Decimals:             evt.Decimals,
	})
}

func (c *DeterministicCore) handleCollateralUpdated(tx *Tx, evt *event.CollateralUpdated) error {
	if err := tx.Protocol().RequireAuthority(evt.Signer); err != nil {
		return err
	}
	cfg, ok := tx.Collateral(evt.Mint)
	if !ok {
		return fmt.Errorf("collateral %s not registered: %w", evt.Mint, errs.ErrInvalidCollateralType)
	}

	switch evt.Kind {
	case event.UpdateSetEnabled:
		return cfg.SetEnabled(evt.Enabled)
	case event.UpdateSetLTVParams:
		return cfg.SetLTVParams(evt.MaxLTV, evt.LiquidationThreshold)
	case event.UpdateSetLiquidationPenalty:
		return cfg.SetLiquidationPenalty(evt.LiquidationPenalty)
	case event.UpdateSetMinDeposit:
		return cfg.SetMinDeposit(evt.MinDeposit)
	case event.UpdateSetOracle:
		return cfg.SetOracle(evt.Oracle, evt.OracleMaxAge)
	default:
		return fmt.Errorf("unknown collateral update %q: %w", evt.Kind, errs.ErrInvalidAmount)
	}
}

func (c *DeterministicCore) handlePauseSet(tx *Tx, evt *event.PauseSet) error {
	protocol := tx.Protocol()
	if err := protocol.RequireAuthority(evt.Signer); err != nil {
		return err
	}
	protocol.Paused = evt.Paused
	return nil
}

func (c *DeterministicCore) handleFeedInitialized(tx *Tx, evt *event.FeedInitialized) error {
	if err := tx.Protocol().RequireAuthority(evt.Signer); err != nil {
		return err
	}
	if _, exists := tx.Feed(evt.FeedID); exists {
		return fmt.Errorf("feed %s already initialized: %w", evt.FeedID, errs.ErrUnauthorized)
	}
	feed, err := oracle.NewFeed(evt.FeedID, evt.FeedAuthority, evt.Price, evt.Decimals, evt.Timestamp)
	if err != nil {
		return err
	}
	tx.PutFeed(feed)
	return nil
}

func (c *DeterministicCore) handleOraclePriceUpdate(tx *Tx, evt *event.OraclePriceUpdate) error {
	feed, ok := tx.Feed(evt.FeedID)
	if !ok {
		return fmt.Errorf("feed %s not found: %w", evt.FeedID, errs.ErrOraclePriceUnavailable)
	}
	return feed.Update(evt.Signer, evt.Price, evt.PublishTime)
}

// handleAMMActiveBinMove replays external trading on the venue. Reserves
// that leave or enter the escrow settle against the external boundary.
func (c *DeterministicCore) handleAMMActiveBinMove(tx *Tx, evt *event.AMMActiveBinMove) error {
	if err := tx.Protocol().RequireAuthority(evt.Signer); err != nil {
		return err
	}
	move, err := tx.amm.MoveActiveBin(evt.ActiveBin)
	if err != nil {
		return err
	}

	base := ledger.RegisterAsset(tx.pair.Base)
	other := ledger.RegisterAsset(tx.pair.Other)
	legs := []struct {
		from, to ledger.AccountKey
		amount   uint64
	}{
		{ledger.NewAMMEscrowKey(base), ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, base), move.Out.Base},
		{ledger.NewAMMEscrowKey(other), ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, other), move.Out.Other},
		{ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, base), ledger.NewAMMEscrowKey(base), move.In.Base},
		{ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, other), ledger.NewAMMEscrowKey(other), move.In.Other},
	}
	for _, leg := range legs {
		if err := tx.Transfer(leg.from, leg.to, leg.amount, ledger.JournalTypeAMMMarket, errs.ErrInvalidAMMPosition); err != nil {
			return fmt.Errorf("market move %d -> %d: %w", move.From, move.To, err)
		}
	}
	return nil
}
