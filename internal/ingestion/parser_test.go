package ingestion_test

import (
	"MetLev/internal/core"
	"MetLev/internal/event"
	"MetLev/internal/ingestion"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// arrival is the broker time stamped on every test message.
const arrival = 1_700_000_500

func rawFromJSON(t *testing.T, subject string, v interface{}) (ingestion.RawEvent, *ackState) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	st := &ackState{}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Unix(arrival, 0),
		AckFunc:   func() { st.acked++ },
		NakFunc:   func() { st.naked++ },
	}, st
}

type ackState struct {
	acked, naked int
}

func TestParsePositionOpenRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":              "550e8400-e29b-41d4-a716-446655440000",
		"signer":                  "660e8400-e29b-41d4-a716-446655440001",
		"owner":                   "660e8400-e29b-41d4-a716-446655440001",
		"mint":                    "SOL",
		"leverage":                30_000,
		"lower_bin":               -2,
		"width":                   3,
		"active_bin":              0,
		"max_active_bin_slippage": 1,
		"distribution":            []map[string]interface{}{{"bin_id": 0, "weight": 1}},
		"timestamp":               1_700_000_000,
	}

	raw, _ := rawFromJSON(t, "metlev.position.open.x", payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionOpenRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	open, ok := evt.(*event.PositionOpenRequested)
	if !ok {
		t.Fatalf("expected *event.PositionOpenRequested, got %T", evt)
	}
	if open.Mint != "SOL" {
		t.Errorf("mint: got %s, want SOL", open.Mint)
	}
	if open.Leverage != 30_000 {
		t.Errorf("leverage: got %d, want 30_000", open.Leverage)
	}
	if open.LowerBin != -2 || open.Width != 3 {
		t.Errorf("range: got lower=%d width=%d, want -2/3", open.LowerBin, open.Width)
	}
	if len(open.Distribution) != 1 || open.Distribution[0].Weight != 1 {
		t.Errorf("distribution: got %+v", open.Distribution)
	}
	if open.EventTime() != arrival {
		t.Errorf("timestamp: got %d, want arrival time %d", open.EventTime(), arrival)
	}
	if !strings.HasPrefix(open.IdempotencyKey(), "position:open:") {
		t.Errorf("idempotency key: got %s", open.IdempotencyKey())
	}
}

func TestParseWalletDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"tx_ref":    "sig-123",
		"user":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":     "USDC",
		"amount":    uint64(18_446_744_073_709_551_615),
		"timestamp": 1_700_000_000,
	}

	raw, _ := rawFromJSON(t, "metlev.wallet.deposit.x", payload)
	evt, err := ingestion.ParseRawEvent(raw, "WalletDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dep := evt.(*event.WalletDeposit)
	if dep.Amount != 18_446_744_073_709_551_615 {
		t.Errorf("amount: got %d, want full uint64 range preserved", dep.Amount)
	}
	if dep.IdempotencyKey() != "wallet:deposit:sig-123" {
		t.Errorf("idempotency key: got %s", dep.IdempotencyKey())
	}
}

func TestParseOraclePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":      "SOL/USD",
		"signer":       "660e8400-e29b-41d4-a716-446655440001",
		"price":        150_000_000,
		"publish_time": 1_700_000_000,
	}

	raw, _ := rawFromJSON(t, "metlev.oracle.price.sol", payload)
	evt, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	upd := evt.(*event.OraclePriceUpdate)
	if upd.Price != 150_000_000 {
		t.Errorf("price: got %d", upd.Price)
	}
	if upd.IdempotencyKey() != "oracle:SOL/USD:1700000000" {
		t.Errorf("idempotency key: got %s", upd.IdempotencyKey())
	}
	if upd.PublishTime != 1_700_000_000 || upd.ReceivedAt != arrival {
		t.Errorf("times: publish=%d received=%d", upd.PublishTime, upd.ReceivedAt)
	}
	if upd.EventTime() != arrival {
		t.Errorf("event time: got %d, want arrival time %d", upd.EventTime(), arrival)
	}
}

func TestParseRawEvent_ArrivalTimeOverridesPayload(t *testing.T) {
	// a caller claiming a time far in the future does not move the clock
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"signer":     "660e8400-e29b-41d4-a716-446655440001",
		"owner":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "USDC",
		"timestamp":  4_000_000_000,
	}
	raw, _ := rawFromJSON(t, "metlev.liquidity.withdraw.x", payload)
	evt, err := ingestion.ParseRawEvent(raw, "LiquidityWithdrawn")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.EventTime() != arrival {
		t.Errorf("event time: got %d, want arrival time %d", evt.EventTime(), arrival)
	}

	// the timestamp may be left out entirely
	delete(payload, "timestamp")
	raw, _ = rawFromJSON(t, "metlev.liquidity.withdraw.x", payload)
	evt, err = ingestion.ParseRawEvent(raw, "LiquidityWithdrawn")
	if err != nil {
		t.Fatalf("parse without timestamp failed: %v", err)
	}
	if evt.EventTime() != arrival {
		t.Errorf("event time: got %d, want arrival time %d", evt.EventTime(), arrival)
	}
}

func TestParseRejectsBadPayloads(t *testing.T) {
	owner := "660e8400-e29b-41d4-a716-446655440001"
	cases := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{"unknown field", "LiquiditySupplied", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "signer": owner, "owner": owner,
			"asset": "USDC", "amount": 1, "timestamp": 1, "memo": "x",
		}},
		{"missing request id", "LiquiditySupplied", map[string]interface{}{
			"signer": owner, "owner": owner, "asset": "USDC", "amount": 1, "timestamp": 1,
		}},
		{"missing actor", "CollateralDeposited", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "mint": "SOL", "amount": 1, "timestamp": 1,
		}},
		{"missing signer", "PositionCloseRequested", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "owner": owner, "mint": "SOL",
		}},
		{"missing owner", "LiquiditySupplied", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "signer": owner,
			"asset": "USDC", "amount": 1,
		}},
		{"bad uuid", "PauseSet", map[string]interface{}{
			"request_id": "not-a-uuid", "signer": owner, "paused": true, "timestamp": 1,
		}},
		{"negative amount", "WalletDeposit", map[string]interface{}{
			"tx_ref": "a", "user": owner, "asset": "USDC", "amount": -5, "timestamp": 1,
		}},
		{"unknown update kind", "CollateralUpdated", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "signer": owner,
			"mint": "SOL", "kind": "set_everything", "timestamp": 1,
		}},
		{"liquidation without owner", "LiquidationRequested", map[string]interface{}{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "liquidator": owner,
			"mint": "SOL", "timestamp": 1,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, _ := rawFromJSON(t, "test", tc.payload)
			_, err := ingestion.ParseRawEvent(raw, tc.eventType)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ingestion.ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawEvent(raw, "TradeFill"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestDefaultSubjectsCoverEveryEventType(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range ingestion.DefaultSubjects() {
		if _, ok := event.ParseEventType(s.EventType); !ok {
			t.Errorf("subject %s maps to unknown type %s", s.Subject, s.EventType)
		}
		if s.StreamName != ingestion.InboundStream {
			t.Errorf("subject %s on stream %s", s.Subject, s.StreamName)
		}
		seen[s.EventType] = true
	}
	for et := event.EventTypeProtocolInitialized; et <= event.EventTypeLiquidationRequested; et++ {
		if !seen[et.String()] {
			t.Errorf("no subject for %s", et)
		}
	}
}

func TestResolveEventType(t *testing.T) {
	prefixes := ingestion.SubjectPrefixes(ingestion.DefaultSubjects())

	cases := map[string]string{
		"metlev.position.open.abc":       "PositionOpenRequested",
		"metlev.position.liquidate.k1":   "LiquidationRequested",
		"metlev.collateral.deposit.u1":   "CollateralDeposited",
		"metlev.collateral.register.SOL": "CollateralRegistered",
		"metlev.oracle.price.SOL-USD":    "OraclePriceUpdate",
		"metlev.position.rebalance.abc":  "",
		"other.trades.BTC":               "",
	}
	for subject, want := range cases {
		if got := ingestion.ResolveEventType(subject, prefixes); got != want {
			t.Errorf("%s: got %q, want %q", subject, got, want)
		}
	}
}

type fakeSubmitter struct {
	enqueued []event.Event
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, evt event.Event) (core.Receipt, error) {
	f.enqueued = append(f.enqueued, evt)
	return core.Receipt{Sequence: int64(len(f.enqueued))}, f.err
}

func (f *fakeSubmitter) Enqueue(_ context.Context, evt event.Event) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, evt)
	return nil
}

func TestPump(t *testing.T) {
	good, goodAck := rawFromJSON(t, "metlev.liquidity.withdraw.1", map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"signer":     "660e8400-e29b-41d4-a716-446655440001",
		"owner":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "USDC",
		"timestamp":  1,
	})
	bad, badAck := rawFromJSON(t, "metlev.liquidity.withdraw.2", map[string]interface{}{"asset": "USDC"})
	stray, strayAck := rawFromJSON(t, "metlev.unknown.x", map[string]interface{}{})

	in := make(chan ingestion.RawEvent, 3)
	in <- good
	in <- bad
	in <- stray
	close(in)

	sub := &fakeSubmitter{}
	pump := ingestion.NewPump(in, ingestion.DefaultSubjects(), sub, nil)
	if err := pump.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sub.enqueued) != 1 {
		t.Fatalf("enqueued %d events, want 1", len(sub.enqueued))
	}
	if _, ok := sub.enqueued[0].(*event.LiquidityWithdrawn); !ok {
		t.Errorf("enqueued %T", sub.enqueued[0])
	}
	for name, st := range map[string]*ackState{"good": goodAck, "bad": badAck, "stray": strayAck} {
		if st.acked != 1 || st.naked != 0 {
			t.Errorf("%s: acked=%d naked=%d, want 1/0", name, st.acked, st.naked)
		}
	}
}

func TestPump_NaksWhenCoreStopped(t *testing.T) {
	raw, st := rawFromJSON(t, "metlev.admin.pause.1", map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"signer":     "660e8400-e29b-41d4-a716-446655440001",
		"paused":     true,
		"timestamp":  1,
	})
	in := make(chan ingestion.RawEvent, 1)
	in <- raw
	close(in)

	pump := ingestion.NewPump(in, ingestion.DefaultSubjects(), &fakeSubmitter{err: core.ErrRunnerStopped}, nil)
	if err := pump.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.naked != 1 || st.acked != 0 {
		t.Errorf("acked=%d naked=%d, want 0/1", st.acked, st.naked)
	}
}

func TestGRPCIngestService_Submit(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := ingestion.NewGRPCIngestService(sub)
	before := time.Now().Unix()

	receipt, err := svc.Submit(context.Background(), "AMMActiveBinMove", []byte(
		`{"request_id":"550e8400-e29b-41d4-a716-446655440000","signer":"660e8400-e29b-41d4-a716-446655440001","active_bin":-3,"timestamp":5}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Sequence != 1 {
		t.Errorf("sequence: got %d", receipt.Sequence)
	}
	move := sub.enqueued[0].(*event.AMMActiveBinMove)
	if move.ActiveBin != -3 {
		t.Errorf("active bin: got %d", move.ActiveBin)
	}
	if move.Timestamp < before {
		t.Errorf("timestamp: got %d, want the service clock (>= %d), not the payload's", move.Timestamp, before)
	}

	if _, err := svc.Submit(context.Background(), "AMMActiveBinMove", []byte(`{`)); !errors.Is(err, ingestion.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestPublishableEvent(t *testing.T) {
	out := core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: "wallet:deposit:x",
		EventType:      event.EventTypeWalletDeposit,
		Timestamp:      99,
		Payload:        []byte(`{"tx_ref":"x"}`),
		StateHash:      [32]byte{0xab},
	}}
	pe := ingestion.NewPublishableEvent(out)
	if pe.Subject() != "metlev.out.WalletDeposit" {
		t.Errorf("subject: got %s", pe.Subject())
	}
	if !strings.HasPrefix(pe.StateHash, "ab00") || len(pe.StateHash) != 64 {
		t.Errorf("state hash: got %s", pe.StateHash)
	}
	data, err := json.Marshal(pe)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"payload":{"tx_ref":"x"}`) {
		t.Errorf("payload not embedded raw: %s", data)
	}
}
