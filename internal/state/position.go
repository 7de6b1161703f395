// internal/state/position.go
package state

import (
	"MetLev/internal/errs"
	fpmath "MetLev/internal/math"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// PositionStatus tracks the position lifecycle
type PositionStatus int32

const (
	PositionStatusActive PositionStatus = iota
	PositionStatusClosed
	PositionStatusLiquidated
)

// Position is a user's leveraged position against one collateral asset.
type Position struct {
	Owner            uuid.UUID
	CollateralMint   string
	CollateralAmount uint64
	DebtAmount       uint64
	ExternalRef      string // AMM position reference, empty until opened
	LowerBin         int32
	UpperBin         int32
	CreatedAt        int64
	Status           PositionStatus
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusActive:
		return "Active"
	case PositionStatusClosed:
		return "Closed"
	case PositionStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// ParsePositionStatus is the inverse of String.
func ParsePositionStatus(s string) (PositionStatus, bool) {
	for _, st := range []PositionStatus{PositionStatusActive, PositionStatusClosed, PositionStatusLiquidated} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// CanTransitionTo validates state transitions
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusActive: {
			PositionStatusActive, // borrow on open
			PositionStatusClosed,
			PositionStatusLiquidated,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// IsTerminal reports Closed or Liquidated.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// NewPosition creates an Active position with no debt.
func NewPosition(owner uuid.UUID, mint string, now int64) *Position {
	return &Position{
		Owner:          owner,
		CollateralMint: mint,
		CreatedAt:      now,
		Status:         PositionStatusActive,
	}
}

func (p *Position) Key() PositionKey {
	return PositionKey{Owner: p.Owner, Mint: p.CollateralMint}
}

func (p *Position) IsActive() bool {
	return p.Status == PositionStatusActive
}

// HasExternalPosition reports whether an AMM position is linked.
func (p *Position) HasExternalPosition() bool {
	return p.ExternalRef != ""
}

// RequireActive fails with ErrPositionNotActive for terminal positions.
func (p *Position) RequireActive() error {
	if !p.IsActive() {
		return fmt.Errorf("position %s is %s: %w", p.Key(), p.Status, errs.ErrPositionNotActive)
	}
	return nil
}

// RequireOwner fails with ErrInvalidOwner unless signer owns the position.
func (p *Position) RequireOwner(signer uuid.UUID) error {
	if signer != p.Owner {
		return fmt.Errorf("signer %s does not own position %s: %w", signer, p.Key(), errs.ErrInvalidOwner)
	}
	return nil
}

// AddCollateral increases collateral on an Active position.
func (p *Position) AddCollateral(amount uint64) error {
	if err := p.RequireActive(); err != nil {
		return err
	}
	next, err := fpmath.CheckedAdd(p.CollateralAmount, amount)
	if err != nil {
		return fmt.Errorf("add collateral: %w", err)
	}
	p.CollateralAmount = next
	return nil
}

// SeizeCollateral removes amount from an Active position's collateral during
// liquidation.
func (p *Position) SeizeCollateral(amount uint64) error {
	if err := p.RequireActive(); err != nil {
		return err
	}
	next, err := fpmath.CheckedSub(p.CollateralAmount, amount)
	if err != nil {
		return fmt.Errorf("seize collateral: %w", err)
	}
	p.CollateralAmount = next
	return nil
}

// SetDebt records the borrow of a leverage open.
func (p *Position) SetDebt(amount uint64) error {
	if !p.Status.CanTransitionTo(PositionStatusActive) {
		return fmt.Errorf("set debt on %s position: %w", p.Status, errs.ErrPositionNotActive)
	}
	p.DebtAmount = amount
	return nil
}

// MarkClosed zeroes debt and ends the position.
func (p *Position) MarkClosed() error {
	return p.transition(PositionStatusClosed)
}

// MarkLiquidated zeroes debt and ends the position.
func (p *Position) MarkLiquidated() error {
	return p.transition(PositionStatusLiquidated)
}

func (p *Position) transition(next PositionStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("position %s: %s -> %s: %w", p.Key(), p.Status, next, errs.ErrPositionNotActive)
	}
	p.Status = next
	if next.IsTerminal() {
		p.DebtAmount = 0
	}
	return nil
}

func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// owner (16 bytes UUID binary)
	buf = append(buf, p.Owner[:]...)

	// collateral_mint (length-prefixed)
	buf = appendString(buf, p.CollateralMint)

	buf = binary.LittleEndian.AppendUint64(buf, p.CollateralAmount)
	buf = binary.LittleEndian.AppendUint64(buf, p.DebtAmount)

	// external_ref (length-prefixed)
	buf = appendString(buf, p.ExternalRef)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.LowerBin))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.UpperBin))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.CreatedAt))

	// status (1 byte)
	buf = append(buf, byte(p.Status))

	return buf
}
