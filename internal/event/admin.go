package event

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtocolInitialized sets the protocol authority. Accepted once.
type ProtocolInitialized struct {
	RequestID uuid.UUID `json:"request_id"`
	Authority uuid.UUID `json:"authority"`
	Timestamp int64     `json:"timestamp"`
}

func (e *ProtocolInitialized) IdempotencyKey() string {
	return fmt.Sprintf("admin:init:%s", e.RequestID)
}

func (e *ProtocolInitialized) EventType() EventType { return EventTypeProtocolInitialized }
func (e *ProtocolInitialized) Actor() uuid.UUID     { return e.Authority }
func (e *ProtocolInitialized) EventTime() int64     { return e.Timestamp }
func (e *ProtocolInitialized) Stamp(ts int64)       { e.Timestamp = ts }

// PoolInitialized creates the lending pool for one base asset.
type PoolInitialized struct {
	RequestID       uuid.UUID `json:"request_id"`
	Signer          uuid.UUID `json:"signer"`
	Asset           string    `json:"asset"`
	Decimals        uint8     `json:"decimals"`
	InterestRateBps uint16    `json:"interest_rate_bps"`
	Timestamp       int64     `json:"timestamp"`
}

func (e *PoolInitialized) IdempotencyKey() string {
	return fmt.Sprintf("admin:pool:%s", e.RequestID)
}

func (e *PoolInitialized) EventType() EventType { return EventTypePoolInitialized }
func (e *PoolInitialized) Actor() uuid.UUID     { return e.Signer }
func (e *PoolInitialized) EventTime() int64     { return e.Timestamp }
func (e *PoolInitialized) Stamp(ts int64)       { e.Timestamp = ts }

// CollateralRegistered adds a collateral asset with its risk parameters.
type CollateralRegistered struct {
	RequestID            uuid.UUID `json:"request_id"`
	Signer               uuid.UUID `json:"signer"`
	Mint                 string    `json:"mint"`
	Oracle               string    `json:"oracle"`
	MaxLTV               uint16    `json:"max_ltv"`
	LiquidationThreshold uint16    `json:"liquidation_threshold"`
	LiquidationPenalty   uint16    `json:"liquidation_penalty"`
	MinDeposit           uint64    `json:"min_deposit"`
	InterestRateBps      uint16    `json:"interest_rate_bps"`
	OracleMaxAge         uint64    `json:"oracle_max_age"`
	Decimals             uint8     `json:"decimals"`
	Timestamp            int64     `json:"timestamp"`
}

func (e *CollateralRegistered) IdempotencyKey() string {
	return fmt.Sprintf("admin:collateral:%s", e.RequestID)
}

func (e *CollateralRegistered) EventType() EventType { return EventTypeCollateralRegistered }
func (e *CollateralRegistered) Actor() uuid.UUID     { return e.Signer }
func (e *CollateralRegistered) EventTime() int64     { return e.Timestamp }
func (e *CollateralRegistered) Stamp(ts int64)       { e.Timestamp = ts }

// CollateralUpdateKind selects which parameter group a CollateralUpdated
// event changes.
type CollateralUpdateKind string

const (
	UpdateSetEnabled            CollateralUpdateKind = "set_enabled"
	UpdateSetLTVParams          CollateralUpdateKind = "set_ltv_params"
	UpdateSetLiquidationPenalty CollateralUpdateKind = "set_liquidation_penalty"
	UpdateSetMinDeposit         CollateralUpdateKind = "set_min_deposit"
	UpdateSetOracle             CollateralUpdateKind = "set_oracle"
)

// CollateralUpdated changes one parameter group of a registered asset. Only
// the fields of the selected kind are read.
type CollateralUpdated struct {
	RequestID            uuid.UUID            `json:"request_id"`
	Signer               uuid.UUID            `json:"signer"`
	Mint                 string               `json:"mint"`
	Kind                 CollateralUpdateKind `json:"kind"`
	Enabled              bool                 `json:"enabled,omitempty"`
	MaxLTV               uint16               `json:"max_ltv,omitempty"`
	LiquidationThreshold uint16               `json:"liquidation_threshold,omitempty"`
	LiquidationPenalty   uint16               `json:"liquidation_penalty,omitempty"`
	MinDeposit           uint64               `json:"min_deposit,omitempty"`
	Oracle               string               `json:"oracle,omitempty"`
	OracleMaxAge         uint64               `json:"oracle_max_age,omitempty"`
	Timestamp            int64                `json:"timestamp"`
}

func (e *CollateralUpdated) IdempotencyKey() string {
	return fmt.Sprintf("admin:collateral_update:%s", e.RequestID)
}

func (e *CollateralUpdated) EventType() EventType { return EventTypeCollateralUpdated }
func (e *CollateralUpdated) Actor() uuid.UUID     { return e.Signer }
func (e *CollateralUpdated) EventTime() int64     { return e.Timestamp }
func (e *CollateralUpdated) Stamp(ts int64)       { e.Timestamp = ts }

// PauseSet halts or resumes user operations.
type PauseSet struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Paused    bool      `json:"paused"`
	Timestamp int64     `json:"timestamp"`
}

func (e *PauseSet) IdempotencyKey() string {
	return fmt.Sprintf("admin:pause:%s", e.RequestID)
}

func (e *PauseSet) EventType() EventType { return EventTypePauseSet }
func (e *PauseSet) Actor() uuid.UUID     { return e.Signer }
func (e *PauseSet) EventTime() int64     { return e.Timestamp }
func (e *PauseSet) Stamp(ts int64)       { e.Timestamp = ts }

// FeedInitialized creates a push oracle feed. FeedAuthority is the identity
// allowed to publish prices to it.
type FeedInitialized struct {
	RequestID     uuid.UUID `json:"request_id"`
	Signer        uuid.UUID `json:"signer"`
	FeedID        string    `json:"feed_id"`
	FeedAuthority uuid.UUID `json:"feed_authority"`
	Price         uint64    `json:"price"`
	Decimals      uint8     `json:"decimals"`
	Timestamp     int64     `json:"timestamp"`
}

func (e *FeedInitialized) IdempotencyKey() string {
	return fmt.Sprintf("admin:feed:%s", e.RequestID)
}

func (e *FeedInitialized) EventType() EventType { return EventTypeFeedInitialized }
func (e *FeedInitialized) Actor() uuid.UUID     { return e.Signer }
func (e *FeedInitialized) EventTime() int64     { return e.Timestamp }
func (e *FeedInitialized) Stamp(ts int64)       { e.Timestamp = ts }
