package ledger

import (
	"errors"
	"fmt"
	stdmath "math"

	"github.com/google/uuid"
)

// ErrInsufficientBalance is returned when a transfer would drive a
// non-boundary account negative. Callers wrap it with the domain error.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrAmountTooLarge is returned for amounts that do not fit a ledger entry.
var ErrAmountTooLarge = errors.New("amount exceeds ledger range")

// JournalGenerator stages the transfers of one event. Balances seen through
// it include staged entries, so multi-leg workflows can pre-check each leg.
// Nothing reaches the tracker until the batch is applied.
type JournalGenerator struct {
	tracker   *BalanceTracker
	pending   map[AccountKey]int64
	batch     *Batch
	eventRef  string
	sequence  int64
	timestamp int64
}

func NewJournalGenerator(tracker *BalanceTracker, eventRef string, sequence, timestamp int64) *JournalGenerator {
	batchID := uuid.New()
	return &JournalGenerator{
		tracker: tracker,
		pending: make(map[AccountKey]int64),
		batch: &Batch{
			BatchID:   batchID,
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
		eventRef:  eventRef,
		sequence:  sequence,
		timestamp: timestamp,
	}
}

// Balance returns the tracker balance plus staged deltas.
func (jg *JournalGenerator) Balance(key AccountKey) int64 {
	return jg.tracker.GetBalance(key) + jg.pending[key]
}

// Transfer stages amount moving from -> to. Zero amounts are a no-op.
// Non-external source accounts may not go negative.
func (jg *JournalGenerator) Transfer(from, to AccountKey, amount uint64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if amount > stdmath.MaxInt64 {
		return fmt.Errorf("%s %d: %w", jt, amount, ErrAmountTooLarge)
	}
	if from.AssetID != to.AssetID {
		return fmt.Errorf("%s: %s -> %s crosses assets", jt, from.AccountPath(), to.AccountPath())
	}
	amt := int64(amount)

	if !from.IsExternal() {
		if have := jg.Balance(from); have < amt {
			return fmt.Errorf("%s from %s: have=%d need=%d: %w",
				jt, from.AccountPath(), have, amt, ErrInsufficientBalance)
		}
	}

	jg.pending[from] -= amt
	jg.pending[to] += amt
	jg.batch.Journals = append(jg.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       to.AssetID,
		Amount:        amt,
		JournalType:   jt,
		Timestamp:     jg.timestamp,
	})
	return nil
}

// Batch returns the staged batch, or nil when nothing was staged.
func (jg *JournalGenerator) Batch() *Batch {
	if len(jg.batch.Journals) == 0 {
		return nil
	}
	return jg.batch
}

// Touched returns the accounts affected by staged entries.
func (jg *JournalGenerator) Touched() []AccountKey {
	keys := make([]AccountKey, 0, len(jg.pending))
	for k := range jg.pending {
		keys = append(keys, k)
	}
	return keys
}
