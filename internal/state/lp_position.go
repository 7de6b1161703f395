package state

import (
	fpmath "MetLev/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// LpPosition is one provider's stake in a pool. Interest is simple and
// accrues on SuppliedAmount only.
type LpPosition struct {
	Owner          uuid.UUID
	Asset          string
	SuppliedAmount uint64
	InterestEarned uint64
	LastUpdate     int64
}

func NewLpPosition(owner uuid.UUID, asset string, now int64) *LpPosition {
	return &LpPosition{Owner: owner, Asset: asset, LastUpdate: now}
}

func (lp *LpPosition) Key() LpKey {
	return LpKey{Owner: lp.Owner, Asset: lp.Asset}
}

// Accrue books interest for the time since LastUpdate and moves the clock to
// now. Calling it twice at the same now changes nothing.
func (lp *LpPosition) Accrue(rateBps uint16, now int64) {
	elapsed := fpmath.Elapsed(lp.LastUpdate, now)
	interest := fpmath.SimpleInterest(lp.SuppliedAmount, rateBps, elapsed)
	lp.InterestEarned = fpmath.SaturatingAdd(lp.InterestEarned, interest)
	if now > lp.LastUpdate {
		lp.LastUpdate = now
	}
}

// Claimable is principal plus accrued interest.
func (lp *LpPosition) Claimable() uint64 {
	return fpmath.SaturatingAdd(lp.SuppliedAmount, lp.InterestEarned)
}

// Deposit adds principal. Accrue must have been called first.
func (lp *LpPosition) Deposit(amount uint64) error {
	next, err := fpmath.CheckedAdd(lp.SuppliedAmount, amount)
	if err != nil {
		return fmt.Errorf("lp deposit: %w", err)
	}
	lp.SuppliedAmount = next
	return nil
}

func (lp *LpPosition) Clone() *LpPosition {
	cp := *lp
	return &cp
}
