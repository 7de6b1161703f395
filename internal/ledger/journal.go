package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletDeposit JournalType = iota
	JournalTypeWalletWithdrawal
	JournalTypeCollateralDeposit
	JournalTypeCollateralWithdrawal
	JournalTypeLiquiditySupply
	JournalTypeLiquidityWithdrawal
	JournalTypeBorrow
	JournalTypeAMMRent
	JournalTypeAMMRentRefund
	JournalTypeAMMUnwind
	JournalTypeAMMFeeClaim
	JournalTypeAMMSwapIn
	JournalTypeAMMSwapOut
	JournalTypeRepay
	JournalTypeLiquidationPenalty
	JournalTypeSurplusReturn
	JournalTypeAMMMarket
	JournalTypeCollateralSeize
)

var journalTypeNames = [...]string{
	"wallet_deposit",
	"wallet_withdrawal",
	"collateral_deposit",
	"collateral_withdrawal",
	"liquidity_supply",
	"liquidity_withdrawal",
	"borrow",
	"amm_rent",
	"amm_rent_refund",
	"amm_unwind",
	"amm_fee_claim",
	"amm_swap_in",
	"amm_swap_out",
	"repay",
	"liquidation_penalty",
	"surplus_return",
	"amm_market",
	"collateral_seize",
}

func (t JournalType) String() string {
	if t >= 0 && int(t) < len(journalTypeNames) {
		return journalTypeNames[t]
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single
// positive amount moves from the credit account to the debit account), so
// Σ debits == Σ credits holds per entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}

	return nil
}
