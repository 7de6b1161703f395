package ingestion

import (
	"MetLev/internal/observability"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// InboundStream holds every input subject.
const InboundStream = "METLEV_IN"

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// messages into eventChan. Each subject maps to one event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
}

// RawEvent is an untyped message from NATS, ready for the shell to resolve
// and parse before it is sent to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after it has been handed on
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	subjects := []struct{ subject, eventType, consumer string }{
		{"metlev.admin.init.>", "ProtocolInitialized", "metlev-admin-init"},
		{"metlev.admin.pool.>", "PoolInitialized", "metlev-admin-pool"},
		{"metlev.admin.pause.>", "PauseSet", "metlev-admin-pause"},
		{"metlev.admin.feed.>", "FeedInitialized", "metlev-admin-feed"},
		{"metlev.collateral.register.>", "CollateralRegistered", "metlev-collateral-register"},
		{"metlev.collateral.update.>", "CollateralUpdated", "metlev-collateral-update"},
		{"metlev.collateral.deposit.>", "CollateralDeposited", "metlev-collateral-deposit"},
		{"metlev.collateral.withdraw.>", "CollateralWithdrawn", "metlev-collateral-withdraw"},
		{"metlev.wallet.deposit.>", "WalletDeposit", "metlev-wallet-deposit"},
		{"metlev.wallet.withdraw.>", "WalletWithdrawal", "metlev-wallet-withdraw"},
		{"metlev.liquidity.supply.>", "LiquiditySupplied", "metlev-liquidity-supply"},
		{"metlev.liquidity.withdraw.>", "LiquidityWithdrawn", "metlev-liquidity-withdraw"},
		{"metlev.position.open.>", "PositionOpenRequested", "metlev-position-open"},
		{"metlev.position.close.>", "PositionCloseRequested", "metlev-position-close"},
		{"metlev.position.liquidate.>", "LiquidationRequested", "metlev-position-liquidate"},
		{"metlev.oracle.price.>", "OraclePriceUpdate", "metlev-oracle-price"},
		{"metlev.amm.move.>", "AMMActiveBinMove", "metlev-amm-move"},
	}
	out := make([]SubjectConfig, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, SubjectConfig{
			Subject:      s.subject,
			EventType:    s.eventType,
			ConsumerName: s.consumer,
			StreamName:   InboundStream,
		})
	}
	return out
}

// SubjectPrefixes maps the literal prefix of each subject filter to its
// event type, for ResolveEventType.
func SubjectPrefixes(subjects []SubjectConfig) map[string]string {
	m := make(map[string]string, len(subjects))
	for _, s := range subjects {
		m[strings.TrimSuffix(s.Subject, ">")] = s.EventType
	}
	return m
}

// ResolveEventType finds the event type for a subject by matching the
// longest prefix. Returns "" when nothing matches.
func ResolveEventType(subject string, prefixes map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		filter := cfg.Subject
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			received := time.Now()
			// The stream's storage time survives redelivery, so a retried
			// message keeps its original arrival time.
			arrived := received
			if md, err := msg.Metadata(); err == nil {
				arrived = md.Timestamp
				if ns.metrics != nil {
					ns.metrics.NATSPullLatency.WithLabelValues(filter).Observe(received.Sub(md.Timestamp).Seconds())
				}
			}

			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: arrived,
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the inbound stream if it doesn't exist. The stream
// uses FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name: InboundStream,
		Subjects: []string{
			"metlev.admin.>",
			"metlev.wallet.>",
			"metlev.collateral.>",
			"metlev.liquidity.>",
			"metlev.position.>",
			"metlev.oracle.>",
			"metlev.amm.>",
		},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	log.Printf("INFO: ensured stream %s", cfg.Name)
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("metlev"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
