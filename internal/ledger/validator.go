package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTransientZero verifies the unwind and holding accounts were fully
// drained by the operation that used them.
func (v *InvariantValidator) ValidateTransientZero(assetID AssetID) error {
	for _, st := range []AccountSubType{SubTypeSystemUnwind, SubTypeSystemHolding} {
		key := NewSystemAccountKey(st, assetID)
		if balance := v.tracker.GetBalance(key); balance != 0 {
			return fmt.Errorf("%s has non-zero balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateAccountsNonNegative checks every non-boundary account in keys.
func (v *InvariantValidator) ValidateAccountsNonNegative(keys []AccountKey) error {
	for _, key := range keys {
		if key.IsExternal() {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
