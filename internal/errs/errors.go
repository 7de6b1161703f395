// Package errs declares the engine's error taxonomy. Every failure surfaced by
// the core wraps exactly one of these sentinels (bad debt wraps two), so
// callers classify with errors.Is and the wire layers map to a stable Code.
package errs

import "errors"

// Authorization
var (
	ErrUnauthorized = errors.New("unauthorized access")
	ErrInvalidOwner = errors.New("invalid position owner")
)

// Protocol state
var (
	ErrProtocolPaused    = errors.New("protocol is currently paused")
	ErrPositionNotActive = errors.New("position is not active")
	ErrPositionHealthy   = errors.New("position is healthy, cannot liquidate")
	ErrNotLiquidatable   = errors.New("position cannot be liquidated")
)

// Risk
var (
	ErrInvalidCollateralType       = errors.New("invalid or disabled collateral type")
	ErrInsufficientCollateral      = errors.New("insufficient collateral")
	ErrExceedsMaxLTV               = errors.New("position would exceed maximum LTV")
	ErrInvalidLiquidationThreshold = errors.New("liquidation threshold must be greater than max LTV")
)

// Liquidity
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity in lending pool")
	ErrBadDebt               = errors.New("bad debt: proceeds do not cover debt")
)

// Oracle
var (
	ErrOracleStale            = errors.New("oracle price is stale")
	ErrOraclePriceUnavailable = errors.New("oracle price unavailable")
)

// Arithmetic
var (
	ErrMathOverflow  = errors.New("math overflow")
	ErrMathUnderflow = errors.New("math underflow")
	ErrInvalidAmount = errors.New("invalid amount")
)

// External calls
var (
	ErrRepaymentFailed    = errors.New("repayment failed")
	ErrWithdrawalFailed   = errors.New("withdrawal failed")
	ErrInvalidAMMPosition = errors.New("invalid AMM position")
)

// Code is the wire-stable identifier of a taxonomy member.
type Code int32

const (
	CodeUnknown Code = iota
	CodeUnauthorized
	CodeInvalidOwner
	CodeProtocolPaused
	CodePositionNotActive
	CodePositionHealthy
	CodeNotLiquidatable
	CodeInvalidCollateralType
	CodeInsufficientCollateral
	CodeExceedsMaxLTV
	CodeInvalidLiquidationThreshold
	CodeInsufficientLiquidity
	CodeBadDebt
	CodeOracleStale
	CodeOraclePriceUnavailable
	CodeMathOverflow
	CodeMathUnderflow
	CodeInvalidAmount
	CodeRepaymentFailed
	CodeWithdrawalFailed
	CodeInvalidAMMPosition
)

// Category groups codes the way operators triage them.
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategoryProtocolState Category = "protocol_state"
	CategoryRisk          Category = "risk"
	CategoryLiquidity     Category = "liquidity"
	CategoryOracle        Category = "oracle"
	CategoryArithmetic    Category = "arithmetic"
	CategoryExternalCall  Category = "external_call"
	CategoryInternal      Category = "internal"
)

type entry struct {
	err      error
	code     Code
	name     string
	category Category
}

// Order matters: BadDebt is checked before MathUnderflow so a bad-debt
// failure (which wraps both) reports as BadDebt.
var table = []entry{
	{ErrUnauthorized, CodeUnauthorized, "Unauthorized", CategoryAuthorization},
	{ErrInvalidOwner, CodeInvalidOwner, "InvalidOwner", CategoryAuthorization},
	{ErrProtocolPaused, CodeProtocolPaused, "ProtocolPaused", CategoryProtocolState},
	{ErrPositionNotActive, CodePositionNotActive, "PositionNotActive", CategoryProtocolState},
	{ErrPositionHealthy, CodePositionHealthy, "PositionHealthy", CategoryProtocolState},
	{ErrNotLiquidatable, CodeNotLiquidatable, "NotLiquidatable", CategoryProtocolState},
	{ErrInvalidCollateralType, CodeInvalidCollateralType, "InvalidCollateralType", CategoryRisk},
	{ErrInsufficientCollateral, CodeInsufficientCollateral, "InsufficientCollateral", CategoryRisk},
	{ErrExceedsMaxLTV, CodeExceedsMaxLTV, "ExceedsMaxLTV", CategoryRisk},
	{ErrInvalidLiquidationThreshold, CodeInvalidLiquidationThreshold, "InvalidLiquidationThreshold", CategoryRisk},
	{ErrInsufficientLiquidity, CodeInsufficientLiquidity, "InsufficientLiquidity", CategoryLiquidity},
	{ErrBadDebt, CodeBadDebt, "BadDebt", CategoryLiquidity},
	{ErrOracleStale, CodeOracleStale, "OracleStale", CategoryOracle},
	{ErrOraclePriceUnavailable, CodeOraclePriceUnavailable, "OraclePriceUnavailable", CategoryOracle},
	{ErrMathOverflow, CodeMathOverflow, "MathOverflow", CategoryArithmetic},
	{ErrMathUnderflow, CodeMathUnderflow, "MathUnderflow", CategoryArithmetic},
	{ErrInvalidAmount, CodeInvalidAmount, "InvalidAmount", CategoryArithmetic},
	{ErrRepaymentFailed, CodeRepaymentFailed, "RepaymentFailed", CategoryExternalCall},
	{ErrWithdrawalFailed, CodeWithdrawalFailed, "WithdrawalFailed", CategoryExternalCall},
	{ErrInvalidAMMPosition, CodeInvalidAMMPosition, "InvalidAMMPosition", CategoryExternalCall},
}

// CodeOf returns the taxonomy code for err, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

func (c Code) String() string {
	for _, e := range table {
		if e.code == c {
			return e.name
		}
	}
	return "Unknown"
}

// Category returns the taxonomy group of the code.
func (c Code) Category() Category {
	for _, e := range table {
		if e.code == c {
			return e.category
		}
	}
	return CategoryInternal
}

// Sentinel returns the sentinel error for a code, or nil for CodeUnknown.
func (c Code) Sentinel() error {
	for _, e := range table {
		if e.code == c {
			return e.err
		}
	}
	return nil
}
