package query

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a read model has no row for the key.
var ErrNotFound = errors.New("not found")

// PositionResponse represents a leveraged position for API queries. Amounts
// are base units; DebtDisplay is scaled by the pool's decimals.
type PositionResponse struct {
	PositionID       string          `json:"position_id"`
	Owner            uuid.UUID       `json:"owner"`
	Mint             string          `json:"mint"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	DebtAmount       decimal.Decimal `json:"debt_amount"`
	DebtDisplay      string          `json:"debt_display,omitempty"`
	ExternalRef      string          `json:"external_ref"`
	LowerBin         int32           `json:"lower_bin"`
	UpperBin         int32           `json:"upper_bin"`
	Status           string          `json:"status"`
	CreatedAt        int64           `json:"created_at"`
	AsOfSequence     int64           `json:"as_of_sequence"`
}

// PoolResponse represents the lending pool for API queries.
type PoolResponse struct {
	Asset           string          `json:"asset"`
	Decimals        uint8           `json:"decimals"`
	TotalSupplied   decimal.Decimal `json:"total_supplied"`
	TotalBorrowed   decimal.Decimal `json:"total_borrowed"`
	Available       decimal.Decimal `json:"available"`
	SuppliedDisplay string          `json:"supplied_display"`
	BorrowedDisplay string          `json:"borrowed_display"`
	Utilization     string          `json:"utilization"` // fraction, 4 dp
	InterestRateBps uint16          `json:"interest_rate_bps"`
	LastUpdate      int64           `json:"last_update"`
	AsOfSequence    int64           `json:"as_of_sequence"`
}

// LpPositionResponse represents a provider's stake for API queries.
type LpPositionResponse struct {
	Owner          uuid.UUID       `json:"owner"`
	Asset          string          `json:"asset"`
	SuppliedAmount decimal.Decimal `json:"supplied_amount"`
	InterestEarned decimal.Decimal `json:"interest_earned"`
	Claimable      decimal.Decimal `json:"claimable"`
	Display        string          `json:"claimable_display"`
	LastUpdate     int64           `json:"last_update"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	EventTime     int64  `json:"event_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}

// FormatUnits renders a base-unit amount in whole units.
func FormatUnits(amount decimal.Decimal, decimals uint8) string {
	return amount.Shift(-int32(decimals)).String()
}

// Utilization is borrowed/supplied rounded to four places; zero when
// nothing is supplied.
func Utilization(supplied, borrowed decimal.Decimal) string {
	if supplied.IsZero() {
		return decimal.Zero.StringFixed(4)
	}
	return borrowed.DivRound(supplied, 8).StringFixed(4)
}
