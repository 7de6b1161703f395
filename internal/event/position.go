package event

import (
	"MetLev/internal/amm"
	"fmt"

	"github.com/google/uuid"
)

// PositionOpenRequested borrows against the owner's collateral and deploys
// the loan into the AMM. Leverage is in bps, 10_000 = 1x.
type PositionOpenRequested struct {
	RequestID            uuid.UUID       `json:"request_id"`
	Signer               uuid.UUID       `json:"signer"`
	Owner                uuid.UUID       `json:"owner"`
	Mint                 string          `json:"mint"`
	Leverage             uint64          `json:"leverage"`
	LowerBin             int32           `json:"lower_bin"`
	Width                int32           `json:"width"`
	ActiveBin            int32           `json:"active_bin"`
	MaxActiveBinSlippage int32           `json:"max_active_bin_slippage"`
	Distribution         []amm.BinWeight `json:"distribution"`
	Timestamp            int64           `json:"timestamp"`
}

func (p *PositionOpenRequested) IdempotencyKey() string {
	return fmt.Sprintf("position:open:%s", p.RequestID)
}

func (p *PositionOpenRequested) EventType() EventType { return EventTypePositionOpenRequested }
func (p *PositionOpenRequested) Actor() uuid.UUID     { return p.Signer }
func (p *PositionOpenRequested) EventTime() int64     { return p.Timestamp }
func (p *PositionOpenRequested) Stamp(ts int64)       { p.Timestamp = ts }

// PositionCloseRequested unwinds the AMM position and repays the debt.
// MinOutBps, when non-zero, bounds the unwind swap to that fraction of the
// oracle-implied output.
type PositionCloseRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Owner     uuid.UUID `json:"owner"`
	Mint      string    `json:"mint"`
	FromBin   int32     `json:"from_bin"`
	ToBin     int32     `json:"to_bin"`
	MinOutBps uint16    `json:"min_out_bps,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

func (p *PositionCloseRequested) IdempotencyKey() string {
	return fmt.Sprintf("position:close:%s", p.RequestID)
}

func (p *PositionCloseRequested) EventType() EventType { return EventTypePositionCloseRequested }
func (p *PositionCloseRequested) Actor() uuid.UUID     { return p.Signer }
func (p *PositionCloseRequested) EventTime() int64     { return p.Timestamp }
func (p *PositionCloseRequested) Stamp(ts int64)       { p.Timestamp = ts }

// LiquidationRequested asks the engine to liquidate an unhealthy position.
// Anyone may submit it.
type LiquidationRequested struct {
	RequestID  uuid.UUID `json:"request_id"`
	Liquidator uuid.UUID `json:"liquidator"`
	Owner      uuid.UUID `json:"owner"`
	Mint       string    `json:"mint"`
	FromBin    int32     `json:"from_bin"`
	ToBin      int32     `json:"to_bin"`
	Timestamp  int64     `json:"timestamp"`
}

func (l *LiquidationRequested) IdempotencyKey() string {
	return fmt.Sprintf("position:liquidate:%s", l.RequestID)
}

func (l *LiquidationRequested) EventType() EventType { return EventTypeLiquidationRequested }
func (l *LiquidationRequested) Actor() uuid.UUID     { return l.Liquidator }
func (l *LiquidationRequested) EventTime() int64     { return l.Timestamp }
func (l *LiquidationRequested) Stamp(ts int64)       { l.Timestamp = ts }
