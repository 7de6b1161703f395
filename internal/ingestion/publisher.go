package ingestion

import (
	"MetLev/internal/core"
	"MetLev/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// OutboundStream carries every accepted event for downstream consumers.
const OutboundStream = "METLEV_OUT"

// OutboundPublisher publishes processed events to NATS. Subjects follow the
// pattern metlev.out.{event_type}. The publish channel drops on full, so
// consumers needing every event read the event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
}

// PublishableEvent is the outbound wire form of an accepted event.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Actor          uuid.UUID       `json:"actor"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      int64           `json:"timestamp"`
}

// NewPublishableEvent converts a core output for publishing.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Actor:          env.Actor,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject is the outbound subject for the event.
func (e PublishableEvent) Subject() string {
	return "metlev.out." + e.EventType
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			evt := NewPublishableEvent(out)
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				op.count(evt.Subject(), "error")
				continue
			}
			op.count(evt.Subject(), "published")
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the JetStream dedup ID so a republish after
	// restart is dropped by the server.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

func (op *OutboundPublisher) count(subject, result string) {
	if op.metrics != nil {
		op.metrics.NATSMessages.WithLabelValues(subject, result).Inc()
	}
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{"metlev.out.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream %s", OutboundStream)
	return nil
}
