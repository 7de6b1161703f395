package ingestion

import (
	"MetLev/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidPayload wraps every parse and field validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event stamped with the message's arrival time.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	evt, err := ParseEvent(eventType, raw.Data)
	if err != nil {
		return nil, err
	}
	if !raw.Timestamp.IsZero() {
		evt.Stamp(raw.Timestamp.Unix())
	}
	return evt, nil
}

// ParseEvent decodes a snake_case JSON payload into the event named by
// eventType. Unknown fields are rejected and identifiers are checked before
// the event reaches the core; amounts and risk parameters are left to the
// core, which owns those rules. A payload timestamp is advisory: callers
// stamp the arrival time before submitting.
func ParseEvent(eventType string, data []byte) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %s", ErrInvalidPayload, eventType)
	}
	evt, _ := event.New(et)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", eventType, ErrInvalidPayload, err)
	}
	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", eventType, ErrInvalidPayload, err)
	}
	return evt, nil
}

func validate(evt event.Event) error {
	if evt.Actor() == uuid.Nil {
		return errors.New("missing actor")
	}

	switch e := evt.(type) {
	case *event.ProtocolInitialized:
		return requireID("request_id", e.RequestID)
	case *event.PoolInitialized:
		return first(requireID("request_id", e.RequestID), requireStr("asset", e.Asset))
	case *event.CollateralRegistered:
		return first(requireID("request_id", e.RequestID), requireStr("mint", e.Mint), requireStr("oracle", e.Oracle))
	case *event.CollateralUpdated:
		if err := first(requireID("request_id", e.RequestID), requireStr("mint", e.Mint)); err != nil {
			return err
		}
		switch e.Kind {
		case event.UpdateSetEnabled, event.UpdateSetLTVParams, event.UpdateSetLiquidationPenalty,
			event.UpdateSetMinDeposit:
			return nil
		case event.UpdateSetOracle:
			return requireStr("oracle", e.Oracle)
		default:
			return fmt.Errorf("unknown update kind %q", e.Kind)
		}
	case *event.PauseSet:
		return requireID("request_id", e.RequestID)
	case *event.FeedInitialized:
		return first(requireID("request_id", e.RequestID), requireStr("feed_id", e.FeedID), requireID("feed_authority", e.FeedAuthority))
	case *event.OraclePriceUpdate:
		return requireStr("feed_id", e.FeedID)
	case *event.AMMActiveBinMove:
		return requireID("request_id", e.RequestID)
	case *event.WalletDeposit:
		return first(requireStr("tx_ref", e.TxRef), requireStr("asset", e.Asset))
	case *event.WalletWithdrawal:
		return first(requireID("request_id", e.RequestID), requireStr("asset", e.Asset))
	case *event.CollateralDeposited:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("mint", e.Mint))
	case *event.CollateralWithdrawn:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("mint", e.Mint))
	case *event.LiquiditySupplied:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("asset", e.Asset))
	case *event.LiquidityWithdrawn:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("asset", e.Asset))
	case *event.PositionOpenRequested:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("mint", e.Mint))
	case *event.PositionCloseRequested:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("mint", e.Mint))
	case *event.LiquidationRequested:
		return first(requireID("request_id", e.RequestID), requireID("owner", e.Owner), requireStr("mint", e.Mint))
	}
	return nil
}

func requireID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing %s", field)
	}
	return nil
}

func requireStr(field, s string) error {
	if s == "" {
		return fmt.Errorf("missing %s", field)
	}
	return nil
}

func first(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
