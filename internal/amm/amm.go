// Package amm is the boundary to the external liquidity venue that holds a
// leveraged position's market exposure.
package amm

import (
	"MetLev/internal/errs"
	"fmt"
)

var (
	ErrPositionNotFound    = fmt.Errorf("amm position not found: %w", errs.ErrInvalidAMMPosition)
	ErrPositionExists      = fmt.Errorf("amm position already exists: %w", errs.ErrInvalidAMMPosition)
	ErrPositionNotEmpty    = fmt.Errorf("amm position still holds liquidity: %w", errs.ErrInvalidAMMPosition)
	ErrInvalidRange        = fmt.Errorf("invalid bin range: %w", errs.ErrInvalidAMMPosition)
	ErrInvalidDistribution = fmt.Errorf("invalid liquidity distribution: %w", errs.ErrInvalidAMMPosition)
	ErrActiveBinSlippage   = fmt.Errorf("active bin moved beyond allowed slippage: %w", errs.ErrInvalidAMMPosition)
	ErrSlippageExceeded    = fmt.Errorf("swap output below minimum: %w", errs.ErrInvalidAMMPosition)
	ErrSessionClosed       = fmt.Errorf("amm session already finished: %w", errs.ErrInvalidAMMPosition)
)

// Pair names the two assets of the venue. Base is the lending pool asset
// that positions are opened with; Other is the asset base liquidity turns
// into when the price crosses it.
type Pair struct {
	Base  string
	Other string
}

// Amounts is a two-sided token quantity.
type Amounts struct {
	Base  uint64
	Other uint64
}

// IsZero reports whether both sides are empty.
func (a Amounts) IsZero() bool {
	return a.Base == 0 && a.Other == 0
}

// BinWeight is one entry of a one-sided liquidity distribution.
type BinWeight struct {
	BinID  int32  `json:"bin_id" yaml:"bin_id"`
	Weight uint16 `json:"weight" yaml:"weight"`
}

// OpenParams describes a new position. Seed must be unique per position and
// deterministic so that replays produce the same reference.
type OpenParams struct {
	Seed     string
	LowerBin int32
	Width    int32
}

// LiquidityParams describes a one-sided base deposit.
type LiquidityParams struct {
	Amount               uint64
	ActiveBin            int32
	MaxActiveBinSlippage int32
	Distribution         []BinWeight
}

// MarketMove is the reserve change caused by external trading when the
// active bin moves. Positive In values flow into the venue; Out values flow
// out of it.
type MarketMove struct {
	From int32
	To   int32
	In   Amounts
	Out  Amounts
}

// Client opens transactional sessions on the venue.
type Client interface {
	Pair() Pair
	Begin() Session
}

// Session stages venue calls. Nothing is visible to other sessions until
// Commit; Rollback discards every staged change. A session is finished after
// either call.
type Session interface {
	ActiveBin() int32
	OpenPosition(p OpenParams) (ref string, rent uint64, err error)
	AddLiquidityOneSide(ref string, p LiquidityParams) error
	RemoveLiquidity(ref string, fromBin, toBin int32) (Amounts, error)
	ClaimFees(ref string) (Amounts, error)
	// Swap sells amountIn of Other for Base at the active bin.
	Swap(amountIn, minAmountOut uint64) (uint64, error)
	ClosePosition(ref string) (rentRefund uint64, err error)
	MoveActiveBin(to int32) (MarketMove, error)
	Commit()
	Rollback()
}
