package state

import (
	"MetLev/internal/errs"
	fpmath "MetLev/internal/math"
	"fmt"
)

// PenaltyBase selects what the liquidation penalty is a percentage of.
type PenaltyBase int32

const (
	PenaltyOnProceeds PenaltyBase = iota
	PenaltyOnSurplus
)

// Recipient names who receives a liquidation payout.
type Recipient int32

const (
	RecipientLiquidator Recipient = iota
	RecipientPool
	RecipientOwner
)

func (b PenaltyBase) String() string {
	if b == PenaltyOnSurplus {
		return "surplus"
	}
	return "proceeds"
}

func (r Recipient) String() string {
	switch r {
	case RecipientLiquidator:
		return "liquidator"
	case RecipientPool:
		return "pool"
	case RecipientOwner:
		return "owner"
	default:
		return "unknown"
	}
}

func ParsePenaltyBase(s string) (PenaltyBase, error) {
	switch s {
	case "proceeds", "":
		return PenaltyOnProceeds, nil
	case "surplus":
		return PenaltyOnSurplus, nil
	}
	return 0, fmt.Errorf("unknown penalty base %q", s)
}

func ParseRecipient(s string) (Recipient, error) {
	for _, r := range []Recipient{RecipientLiquidator, RecipientPool, RecipientOwner} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown recipient %q", s)
}

// LiquidationPolicy decides how unwind proceeds beyond the debt are shared.
// SeizeSlippageBps is the discount to the oracle price accepted when
// collateral is sold to cover a shortfall.
type LiquidationPolicy struct {
	PenaltyBase        PenaltyBase
	PenaltyRecipient   Recipient
	RemainderRecipient Recipient
	SeizeSlippageBps   uint16
}

// DefaultLiquidationPolicy pays the penalty, computed on gross proceeds, to
// the liquidator and returns what is left to the owner.
func DefaultLiquidationPolicy() LiquidationPolicy {
	return LiquidationPolicy{
		PenaltyBase:        PenaltyOnProceeds,
		PenaltyRecipient:   RecipientLiquidator,
		RemainderRecipient: RecipientOwner,
		SeizeSlippageBps:   200,
	}
}

func (p LiquidationPolicy) Validate() error {
	if p.PenaltyRecipient == RecipientOwner {
		return fmt.Errorf("penalty recipient cannot be the owner")
	}
	if p.RemainderRecipient == RecipientLiquidator {
		return fmt.Errorf("remainder recipient cannot be the liquidator")
	}
	if uint64(p.SeizeSlippageBps) >= fpmath.BPSDenominator {
		return fmt.Errorf("seize slippage %d bps must be below %d", p.SeizeSlippageBps, fpmath.BPSDenominator)
	}
	return nil
}

// LiquidationSplit is the distribution of one liquidation's proceeds.
type LiquidationSplit struct {
	Proceeds  uint64
	Debt      uint64
	Penalty   uint64
	Remainder uint64
}

// Split repays debt first, then takes the penalty (capped at what is left),
// then hands the rest to the remainder recipient. Proceeds below debt are
// bad debt.
func (p LiquidationPolicy) Split(proceeds, debt uint64, penaltyBps uint16) (LiquidationSplit, error) {
	surplus, err := fpmath.CheckedSub(proceeds, debt)
	if err != nil {
		return LiquidationSplit{}, fmt.Errorf("%w: proceeds %d below debt %d: %w",
			errs.ErrBadDebt, proceeds, debt, err)
	}

	base := proceeds
	if p.PenaltyBase == PenaltyOnSurplus {
		base = surplus
	}
	penalty, err := fpmath.LiquidationPenalty(base, penaltyBps)
	if err != nil {
		return LiquidationSplit{}, err
	}
	if penalty > surplus {
		penalty = surplus
	}

	return LiquidationSplit{
		Proceeds:  proceeds,
		Debt:      debt,
		Penalty:   penalty,
		Remainder: surplus - penalty,
	}, nil
}
