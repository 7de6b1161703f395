package ingestion

import (
	"MetLev/internal/core"
	"MetLev/internal/event"
	"MetLev/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Submitter hands typed events to the core. *core.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (core.Receipt, error)
	Enqueue(ctx context.Context, evt event.Event) error
}

// Pump resolves, parses and enqueues raw NATS messages in arrival order.
// Unknown subjects and unparseable payloads are logged and acked so they
// are not redelivered; a message is acked only after the core has accepted
// it into its queue.
type Pump struct {
	in       <-chan RawEvent
	prefixes map[string]string
	core     Submitter
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewPump(in <-chan RawEvent, subjects []SubjectConfig, core Submitter, metrics *observability.Metrics) *Pump {
	return &Pump{
		in:       in,
		prefixes: SubjectPrefixes(subjects),
		core:     core,
		metrics:  metrics,
		logger:   observability.NewLogger("ingestion"),
	}
}

// Run drains the raw channel until ctx is cancelled or the channel closes.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.in:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pump) handle(ctx context.Context, raw RawEvent) {
	eventType := ResolveEventType(raw.Subject, p.prefixes)
	if eventType == "" {
		p.logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
		p.count(raw.Subject, "unknown_subject")
		raw.AckFunc()
		return
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		p.logger.Warn().Str("subject", raw.Subject).Err(err).Msg("parse event failed")
		p.count(raw.Subject, "invalid")
		raw.AckFunc()
		return
	}

	if err := p.core.Enqueue(ctx, evt); err != nil {
		p.count(raw.Subject, "nak")
		raw.NakFunc()
		return
	}
	p.count(raw.Subject, "accepted")
	raw.AckFunc()
}

func (p *Pump) count(subject, result string) {
	if p.metrics != nil {
		p.metrics.NATSMessages.WithLabelValues(subject, result).Inc()
	}
}
