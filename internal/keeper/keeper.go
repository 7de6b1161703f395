package keeper

import (
	"MetLev/internal/core"
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/observability"
	"MetLev/internal/oracle"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the part of core.Runner the keeper drives.
type Engine interface {
	View(ctx context.Context) (*core.View, error)
	Submit(ctx context.Context, evt event.Event) (core.Receipt, error)
}

// requestNamespace derives liquidation request IDs, so two scans of the same
// committed state ask for the same liquidation and the second is a duplicate.
var requestNamespace = uuid.MustParse("5b0d8d8e-3f57-4c44-9d0e-0c4d52b7b9a1")

// ScanResult summarizes one keeper pass.
type ScanResult struct {
	Sequence   int64
	Candidates int
	Submitted  int
	Rejected   int
	Unpriced   int
	Skipped    bool // protocol paused
}

// Keeper periodically evaluates every active position and requests
// liquidation of those at or above their liquidation threshold.
type Keeper struct {
	engine     Engine
	liquidator uuid.UUID
	interval   time.Duration
	now        func() time.Time
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewKeeper(engine Engine, liquidator uuid.UUID, interval time.Duration, metrics *observability.Metrics) *Keeper {
	return &Keeper{
		engine:     engine,
		liquidator: liquidator,
		interval:   interval,
		now:        time.Now,
		metrics:    metrics,
		logger:     observability.NewLogger("keeper"),
	}
}

// WithClock replaces the wall clock used for oracle freshness and request
// timestamps.
func (k *Keeper) WithClock(now func() time.Time) *Keeper {
	k.now = now
	return k
}

// Run scans every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k.interval <= 0 {
		return fmt.Errorf("keeper interval must be positive, got %s", k.interval)
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := k.Scan(ctx)
			if err != nil {
				if errors.Is(err, core.ErrRunnerStopped) || ctx.Err() != nil {
					return err
				}
				k.logger.Warn().Err(err).Msg("keeper scan failed")
				continue
			}
			if res.Submitted > 0 || res.Unpriced > 0 {
				k.logger.Info().
					Int64("sequence", res.Sequence).
					Int("candidates", res.Candidates).
					Int("submitted", res.Submitted).
					Int("rejected", res.Rejected).
					Int("unpriced", res.Unpriced).
					Msg("keeper scan")
			}
		}
	}
}

// Scan runs a single pass over a fresh view of the core.
func (k *Keeper) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	defer func() {
		if k.metrics != nil {
			k.metrics.KeeperScans.Inc()
			k.metrics.KeeperScanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	view, err := k.engine.View(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("keeper view: %w", err)
	}
	res := ScanResult{Sequence: view.Sequence}
	if view.Paused {
		res.Skipped = true
		return res, nil
	}

	now := k.now().Unix()
	candidates, failed := view.Liquidatable(ctx, oracle.NewReader(view.Feeds), now)
	res.Candidates = len(candidates)
	res.Unpriced = len(failed)
	for key, err := range failed {
		k.logger.Debug().Err(err).Str("owner", key.Owner.String()).Str("mint", key.Mint).Msg("position not priced")
	}
	if k.metrics != nil {
		k.metrics.KeeperCandidates.Add(float64(len(candidates)))
	}

	for _, c := range candidates {
		pos := c.Position
		req := &event.LiquidationRequested{
			RequestID:  uuid.NewSHA1(requestNamespace, []byte(fmt.Sprintf("%s:%s:%d", pos.Owner, pos.CollateralMint, view.Sequence))),
			Liquidator: k.liquidator,
			Owner:      pos.Owner,
			Mint:       pos.CollateralMint,
			FromBin:    pos.LowerBin,
			ToBin:      pos.UpperBin,
			Timestamp:  now,
		}
		receipt, err := k.engine.Submit(ctx, req)
		switch {
		case err == nil:
			res.Submitted++
			k.record("accepted")
			k.logger.Info().
				Str("owner", pos.Owner.String()).
				Str("mint", pos.CollateralMint).
				Uint64("ltv_bps", c.Health.LTV).
				Int64("sequence", receipt.Sequence).
				Msg("liquidation submitted")
		case errors.Is(err, core.ErrRunnerStopped), ctx.Err() != nil:
			k.record("error")
			return res, err
		default:
			res.Rejected++
			k.record("rejected")
			k.logger.Warn().
				Err(err).
				Str("code", errs.CodeOf(err).String()).
				Str("owner", pos.Owner.String()).
				Str("mint", pos.CollateralMint).
				Msg("liquidation rejected")
		}
	}
	return res, nil
}

func (k *Keeper) record(result string) {
	if k.metrics != nil {
		k.metrics.KeeperSubmitted.WithLabelValues(result).Inc()
	}
}
