package event

import (
	"fmt"

	"github.com/google/uuid"
)

// OraclePriceUpdate publishes a new observation to a feed. PublishTime is
// the oracle's own timestamp and must not go backwards per feed. ReceivedAt
// is stamped at ingestion and drives the engine clock.
type OraclePriceUpdate struct {
	FeedID      string    `json:"feed_id"`
	Signer      uuid.UUID `json:"signer"`
	Price       uint64    `json:"price"`
	PublishTime int64     `json:"publish_time"`
	ReceivedAt  int64     `json:"received_at,omitempty"`
}

func (o *OraclePriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("oracle:%s:%d", o.FeedID, o.PublishTime)
}

func (o *OraclePriceUpdate) EventType() EventType { return EventTypeOraclePriceUpdate }
func (o *OraclePriceUpdate) Actor() uuid.UUID     { return o.Signer }
func (o *OraclePriceUpdate) Stamp(ts int64)       { o.ReceivedAt = ts }

func (o *OraclePriceUpdate) EventTime() int64 {
	if o.ReceivedAt > 0 {
		return o.ReceivedAt
	}
	return o.PublishTime
}

// AMMActiveBinMove records external trading that moved the venue's active
// bin. Carrying market moves as events keeps replay deterministic.
type AMMActiveBinMove struct {
	RequestID uuid.UUID `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	ActiveBin int32     `json:"active_bin"`
	Timestamp int64     `json:"timestamp"`
}

func (a *AMMActiveBinMove) IdempotencyKey() string {
	return fmt.Sprintf("amm:move:%s", a.RequestID)
}

func (a *AMMActiveBinMove) EventType() EventType { return EventTypeAMMActiveBinMove }
func (a *AMMActiveBinMove) Actor() uuid.UUID     { return a.Signer }
func (a *AMMActiveBinMove) EventTime() int64     { return a.Timestamp }
func (a *AMMActiveBinMove) Stamp(ts int64)       { a.Timestamp = ts }
