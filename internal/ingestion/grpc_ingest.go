package ingestion

import (
	"MetLev/internal/core"
	"MetLev/internal/event"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GRPCIngestService submits events synchronously for the gRPC and HTTP
// surfaces. NATS is the high-throughput path; this one returns the core's
// verdict to the caller.
type GRPCIngestService struct {
	core Submitter
	now  func() time.Time
}

func NewGRPCIngestService(core Submitter) *GRPCIngestService {
	return &GRPCIngestService{core: core, now: time.Now}
}

// Submit parses payload as the named event, stamps it with the service
// clock and waits for the core.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (core.Receipt, error) {
	evt, err := ParseEvent(eventType, payload)
	if err != nil {
		return core.Receipt{}, err
	}
	evt.Stamp(s.now().Unix())
	return s.core.Submit(ctx, evt)
}

// InjectDeposit credits a wallet from an operator action. The transfer
// reference is generated, so each call is a distinct deposit.
func (s *GRPCIngestService) InjectDeposit(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
	amount uint64,
) (core.Receipt, error) {
	if amount == 0 {
		return core.Receipt{}, fmt.Errorf("amount must be positive")
	}
	return s.core.Submit(ctx, &event.WalletDeposit{
		TxRef:     "admin-" + uuid.NewString(),
		User:      userID,
		Asset:     asset,
		Amount:    amount,
		Timestamp: s.now().Unix(),
	})
}

// InjectPrice publishes a feed observation stamped with the wall clock.
func (s *GRPCIngestService) InjectPrice(
	ctx context.Context,
	signer uuid.UUID,
	feedID string,
	price uint64,
) (core.Receipt, error) {
	if price == 0 {
		return core.Receipt{}, fmt.Errorf("price must be positive")
	}
	return s.core.Submit(ctx, &event.OraclePriceUpdate{
		FeedID:      feedID,
		Signer:      signer,
		Price:       price,
		PublishTime: s.now().Unix(),
	})
}
