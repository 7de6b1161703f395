package event

import (
	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProtocolInitialized
	EventTypePoolInitialized
	EventTypeCollateralRegistered
	EventTypeCollateralUpdated
	EventTypePauseSet
	EventTypeFeedInitialized
	EventTypeOraclePriceUpdate
	EventTypeAMMActiveBinMove
	EventTypeWalletDeposit
	EventTypeWalletWithdrawal
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeLiquiditySupplied
	EventTypeLiquidityWithdrawn
	EventTypePositionOpenRequested
	EventTypePositionCloseRequested
	EventTypeLiquidationRequested
)

var eventTypeNames = map[EventType]string{
	EventTypeProtocolInitialized:    "ProtocolInitialized",
	EventTypePoolInitialized:        "PoolInitialized",
	EventTypeCollateralRegistered:   "CollateralRegistered",
	EventTypeCollateralUpdated:      "CollateralUpdated",
	EventTypePauseSet:               "PauseSet",
	EventTypeFeedInitialized:        "FeedInitialized",
	EventTypeOraclePriceUpdate:      "OraclePriceUpdate",
	EventTypeAMMActiveBinMove:       "AMMActiveBinMove",
	EventTypeWalletDeposit:          "WalletDeposit",
	EventTypeWalletWithdrawal:       "WalletWithdrawal",
	EventTypeCollateralDeposited:    "CollateralDeposited",
	EventTypeCollateralWithdrawn:    "CollateralWithdrawn",
	EventTypeLiquiditySupplied:      "LiquiditySupplied",
	EventTypeLiquidityWithdrawn:     "LiquidityWithdrawn",
	EventTypePositionOpenRequested:  "PositionOpenRequested",
	EventTypePositionCloseRequested: "PositionCloseRequested",
	EventTypeLiquidationRequested:   "LiquidationRequested",
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Identity that signed the event
	Actor uuid.UUID

	// Versioned input timestamp, unix seconds (NOT wall-clock)
	Timestamp int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Actor returns the signer of the event
	Actor() uuid.UUID

	// EventTime returns the timestamp the core clock advances to. The core
	// never moves its clock backwards, so an older EventTime runs at the
	// current clock.
	EventTime() int64

	// Stamp records the arrival time assigned by ingestion, replacing any
	// caller-supplied timestamp.
	Stamp(ts int64)
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a type name back to its discriminator.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// New returns an empty payload for et, ready to be decoded into.
func New(et EventType) (Event, bool) {
	switch et {
	case EventTypeProtocolInitialized:
		return &ProtocolInitialized{}, true
	case EventTypePoolInitialized:
		return &PoolInitialized{}, true
	case EventTypeCollateralRegistered:
		return &CollateralRegistered{}, true
	case EventTypeCollateralUpdated:
		return &CollateralUpdated{}, true
	case EventTypePauseSet:
		return &PauseSet{}, true
	case EventTypeFeedInitialized:
		return &FeedInitialized{}, true
	case EventTypeOraclePriceUpdate:
		return &OraclePriceUpdate{}, true
	case EventTypeAMMActiveBinMove:
		return &AMMActiveBinMove{}, true
	case EventTypeWalletDeposit:
		return &WalletDeposit{}, true
	case EventTypeWalletWithdrawal:
		return &WalletWithdrawal{}, true
	case EventTypeCollateralDeposited:
		return &CollateralDeposited{}, true
	case EventTypeCollateralWithdrawn:
		return &CollateralWithdrawn{}, true
	case EventTypeLiquiditySupplied:
		return &LiquiditySupplied{}, true
	case EventTypeLiquidityWithdrawn:
		return &LiquidityWithdrawn{}, true
	case EventTypePositionOpenRequested:
		return &PositionOpenRequested{}, true
	case EventTypePositionCloseRequested:
		return &PositionCloseRequested{}, true
	case EventTypeLiquidationRequested:
		return &LiquidationRequested{}, true
	default:
		return nil, false
	}
}
