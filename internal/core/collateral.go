package core

import (
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	"MetLev/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// === Wallet boundary ===

func (c *DeterministicCore) handleWalletDeposit(tx *Tx, evt *event.WalletDeposit) error {
	if evt.Amount == 0 {
		return fmt.Errorf("deposit of zero %s: %w", evt.Asset, errs.ErrInvalidAmount)
	}
	if evt.Asset == "" {
		return fmt.Errorf("deposit asset is empty: %w", errs.ErrInvalidAmount)
	}
	assetID := ledger.RegisterAsset(evt.Asset)
	return tx.Transfer(
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		ledger.NewWalletKey(evt.User, assetID),
		evt.Amount, ledger.JournalTypeWalletDeposit, errs.ErrInvalidAmount,
	)
}

func (c *DeterministicCore) handleWalletWithdrawal(tx *Tx, evt *event.WalletWithdrawal) error {
	if evt.Amount == 0 {
		return fmt.Errorf("withdrawal of zero %s: %w", evt.Asset, errs.ErrInvalidAmount)
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return fmt.Errorf("unknown asset %q: %w", evt.Asset, errs.ErrWithdrawalFailed)
	}
	return tx.Transfer(
		ledger.NewWalletKey(evt.User, assetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, assetID),
		evt.Amount, ledger.JournalTypeWalletWithdrawal, errs.ErrWithdrawalFailed,
	)
}

// === Collateral ===

// requireSigner rejects an event that moves owner's funds but was signed by
// someone else.
func requireSigner(signer, owner uuid.UUID) error {
	if signer != owner {
		return fmt.Errorf("signer %s acting for %s: %w", signer, owner, errs.ErrInvalidOwner)
	}
	return nil
}

// handleCollateralDeposited moves collateral from the owner's wallet into the
// position vault, creating the position on first deposit.
func (c *DeterministicCore) handleCollateralDeposited(tx *Tx, evt *event.CollateralDeposited) error {
	if err := tx.Protocol().RequireNotPaused(); err != nil {
		return err
	}
	cfg, ok := tx.Collateral(evt.Mint)
	if !ok {
		return fmt.Errorf("collateral %s not registered: %w", evt.Mint, errs.ErrInvalidCollateralType)
	}
	if err := cfg.RequireEnabled(); err != nil {
		return err
	}
	if err := requireSigner(evt.Signer, evt.Owner); err != nil {
		return err
	}
	if evt.Amount == 0 || evt.Amount < cfg.MinDeposit {
		return fmt.Errorf("deposit %d below minimum %d: %w", evt.Amount, cfg.MinDeposit, errs.ErrInsufficientCollateral)
	}

	key := state.PositionKey{Owner: evt.Owner, Mint: evt.Mint}
	pos, exists := tx.Position(key)
	if !exists {
		pos = state.NewPosition(evt.Owner, evt.Mint, tx.Now())
		tx.PutPosition(pos)
	}
	if err := pos.AddCollateral(evt.Amount); err != nil {
		return err
	}

	assetID := ledger.RegisterAsset(evt.Mint)
	return tx.Transfer(
		ledger.NewWalletKey(evt.Owner, assetID),
		ledger.NewVaultKey(key.ID(), assetID),
		evt.Amount, ledger.JournalTypeCollateralDeposit, errs.ErrInsufficientCollateral,
	)
}

// handleCollateralWithdrawn returns the vault to the owner once the position
// has ended and frees the key for a new position.
func (c *DeterministicCore) handleCollateralWithdrawn(tx *Tx, evt *event.CollateralWithdrawn) error {
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
	if !pos.Status.IsTerminal() {
		return fmt.Errorf("position %s still active: %w", key, errs.ErrWithdrawalFailed)
	}

	assetID := ledger.RegisterAsset(evt.Mint)
	vault := ledger.NewVaultKey(key.ID(), assetID)
	if have := tx.Balance(vault); have < 0 || uint64(have) < pos.CollateralAmount {
		return fmt.Errorf("vault %s holds %d, position records %d: %w",
			vault.AccountPath(), have, pos.CollateralAmount, errs.ErrWithdrawalFailed)
	}
	if err := tx.Transfer(vault, ledger.NewWalletKey(evt.Owner, assetID),
		pos.CollateralAmount, ledger.JournalTypeCollateralWithdrawal, errs.ErrWithdrawalFailed); err != nil {
		return err
	}

	tx.DeletePosition(key)
	return nil
}
