package event

import (
	"fmt"

	"github.com/google/uuid"
)

// WalletDeposit credits a user's wallet from outside the system. TxRef is
// the upstream transfer reference.
type WalletDeposit struct {
	TxRef     string    `json:"tx_ref"`
	User      uuid.UUID `json:"user"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (w *WalletDeposit) IdempotencyKey() string {
	return fmt.Sprintf("wallet:deposit:%s", w.TxRef)
}

func (w *WalletDeposit) EventType() EventType { return EventTypeWalletDeposit }
func (w *WalletDeposit) Actor() uuid.UUID     { return w.User }
func (w *WalletDeposit) EventTime() int64     { return w.Timestamp }
func (w *WalletDeposit) Stamp(ts int64)       { w.Timestamp = ts }

// WalletWithdrawal debits a user's wallet to outside the system.
type WalletWithdrawal struct {
	RequestID uuid.UUID `json:"request_id"`
	User      uuid.UUID `json:"user"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (w *WalletWithdrawal) IdempotencyKey() string {
	return fmt.Sprintf("wallet:withdrawal:%s", w.RequestID)
}

func (w *WalletWithdrawal) EventType() EventType { return EventTypeWalletWithdrawal }
func (w *WalletWithdrawal) Actor() uuid.UUID     { return w.User }
func (w *WalletWithdrawal) EventTime() int64     { return w.Timestamp }
func (w *WalletWithdrawal) Stamp(ts int64)       { w.Timestamp = ts }

// CollateralDeposited moves collateral from the owner's wallet into the
// position vault, creating the position on first deposit.
type CollateralDeposited struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Owner     uuid.UUID `json:"owner"`
	Mint      string    `json:"mint"`
	Amount    uint64    `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (c *CollateralDeposited) IdempotencyKey() string {
	return fmt.Sprintf("collateral:deposit:%s", c.RequestID)
}

func (c *CollateralDeposited) EventType() EventType { return EventTypeCollateralDeposited }
func (c *CollateralDeposited) Actor() uuid.UUID     { return c.Signer }
func (c *CollateralDeposited) EventTime() int64     { return c.Timestamp }
func (c *CollateralDeposited) Stamp(ts int64)       { c.Timestamp = ts }

// CollateralWithdrawn returns a terminal position's collateral to the owner.
type CollateralWithdrawn struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Owner     uuid.UUID `json:"owner"`
	Mint      string    `json:"mint"`
	Timestamp int64     `json:"timestamp"`
}

func (c *CollateralWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("collateral:withdraw:%s", c.RequestID)
}

func (c *CollateralWithdrawn) EventType() EventType { return EventTypeCollateralWithdrawn }
func (c *CollateralWithdrawn) Actor() uuid.UUID     { return c.Signer }
func (c *CollateralWithdrawn) EventTime() int64     { return c.Timestamp }
func (c *CollateralWithdrawn) Stamp(ts int64)       { c.Timestamp = ts }

// LiquiditySupplied adds principal to a pool on behalf of a provider.
type LiquiditySupplied struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Owner     uuid.UUID `json:"owner"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (l *LiquiditySupplied) IdempotencyKey() string {
	return fmt.Sprintf("liquidity:supply:%s", l.RequestID)
}

func (l *LiquiditySupplied) EventType() EventType { return EventTypeLiquiditySupplied }
func (l *LiquiditySupplied) Actor() uuid.UUID     { return l.Signer }
func (l *LiquiditySupplied) EventTime() int64     { return l.Timestamp }
func (l *LiquiditySupplied) Stamp(ts int64)       { l.Timestamp = ts }

// LiquidityWithdrawn pays out a provider's principal plus interest and
// closes the stake.
type LiquidityWithdrawn struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Owner     uuid.UUID `json:"owner"`
	Asset     string    `json:"asset"`
	Timestamp int64     `json:"timestamp"`
}

func (l *LiquidityWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("liquidity:withdraw:%s", l.RequestID)
}

func (l *LiquidityWithdrawn) EventType() EventType { return EventTypeLiquidityWithdrawn }
func (l *LiquidityWithdrawn) Actor() uuid.UUID     { return l.Signer }
func (l *LiquidityWithdrawn) EventTime() int64     { return l.Timestamp }
func (l *LiquidityWithdrawn) Stamp(ts int64)       { l.Timestamp = ts }
