package state

import (
	"MetLev/internal/errs"
	fpmath "MetLev/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// LendingPool is the per-asset liquidity pool. Invariant:
// TotalBorrowed <= TotalSupplied.
type LendingPool struct {
	Authority       uuid.UUID
	Asset           string
	Decimals        uint8
	TotalSupplied   uint64
	TotalBorrowed   uint64
	InterestRateBps uint16
	LastUpdate      int64
}

// AvailableLiquidity is supplied minus borrowed, never negative.
func (p *LendingPool) AvailableLiquidity() uint64 {
	return fpmath.SaturatingSub(p.TotalSupplied, p.TotalBorrowed)
}

// Borrow reserves amount of the pool's liquidity.
func (p *LendingPool) Borrow(amount uint64) error {
	if available := p.AvailableLiquidity(); amount > available {
		return fmt.Errorf("borrow %d, available %d: %w", amount, available, errs.ErrInsufficientLiquidity)
	}
	next, err := fpmath.CheckedAdd(p.TotalBorrowed, amount)
	if err != nil {
		return fmt.Errorf("borrow: %w", err)
	}
	p.TotalBorrowed = next
	return nil
}

// Repay releases borrowed liquidity. Underflow means the books disagree
// with the positions and must never happen in correct operation.
func (p *LendingPool) Repay(amount uint64) error {
	next, err := fpmath.CheckedSub(p.TotalBorrowed, amount)
	if err != nil {
		return fmt.Errorf("repay: %w", err)
	}
	p.TotalBorrowed = next
	return nil
}

// Supply adds principal.
func (p *LendingPool) Supply(amount uint64) error {
	next, err := fpmath.CheckedAdd(p.TotalSupplied, amount)
	if err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	p.TotalSupplied = next
	return nil
}

// Withdraw removes principal. Principal still lent out cannot leave.
func (p *LendingPool) Withdraw(amount uint64) error {
	next, err := fpmath.CheckedSub(p.TotalSupplied, amount)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if p.TotalBorrowed > next {
		return fmt.Errorf("withdraw %d leaves supplied %d below borrowed %d: %w",
			amount, next, p.TotalBorrowed, errs.ErrInsufficientLiquidity)
	}
	p.TotalSupplied = next
	return nil
}

// Utilization returns borrowed / supplied in basis points.
func (p *LendingPool) Utilization() uint64 {
	if p.TotalSupplied == 0 {
		return 0
	}
	u, err := fpmath.MulDiv(p.TotalBorrowed, fpmath.BPSDenominator, p.TotalSupplied)
	if err != nil {
		return fpmath.BPSDenominator
	}
	return u
}

// Touch advances the pool's accrual clock.
func (p *LendingPool) Touch(now int64) {
	if now > p.LastUpdate {
		p.LastUpdate = now
	}
}

func (p *LendingPool) Clone() *LendingPool {
	cp := *p
	return &cp
}
