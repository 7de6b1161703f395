package core

import (
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"context"
)

// View is a detached copy of the records the keeper and query paths read.
// It is safe to use outside the core goroutine.
type View struct {
	Sequence   int64
	Positions  []*state.Position // Active positions with debt, sorted by key
	Collateral map[string]*state.CollateralConfig
	Pool       *state.LendingPool // base pool; nil before it is initialized
	Feeds      *oracle.FeedStore
	Paused     bool
}

// View copies the current state. It must be called on the core goroutine.
func (c *DeterministicCore) View() *View {
	v := &View{
		Sequence:   c.sequence - 1,
		Collateral: make(map[string]*state.CollateralConfig),
		Feeds:      oracle.NewFeedStore(),
		Paused:     c.store.Protocol.Paused,
	}
	for _, p := range c.store.ActiveDebtPositions() {
		v.Positions = append(v.Positions, p.Clone())
	}
	for _, cfg := range c.store.Collateral.All() {
		v.Collateral[cfg.Mint] = cfg.Clone()
	}
	if pool, ok := c.store.GetPool(c.amm.Pair().Base); ok {
		v.Pool = pool.Clone()
	}
	for _, f := range c.store.Feeds.All() {
		v.Feeds.Set(f.Clone())
	}
	return v
}

// Candidate is a position the view considers liquidatable.
type Candidate struct {
	Position *state.Position
	Health   state.Health
}

// Liquidatable evaluates every position in the view at now, reading prices
// through reader. Positions whose price cannot be read are skipped and
// returned in failed.
func (v *View) Liquidatable(ctx context.Context, reader *oracle.Reader, now int64) (candidates []Candidate, failed map[state.PositionKey]error) {
	failed = make(map[state.PositionKey]error)
	if v.Pool == nil {
		return nil, failed
	}
	for _, pos := range v.Positions {
		cfg, ok := v.Collateral[pos.CollateralMint]
		if !ok {
			continue
		}
		price, err := reader.Read(ctx, cfg.Oracle, cfg.OracleMaxAge, now)
		if err != nil {
			failed[pos.Key()] = err
			continue
		}
		health, err := state.EvaluateHealth(pos, cfg, v.Pool, price.Price)
		if err != nil {
			failed[pos.Key()] = err
			continue
		}
		if health.Liquidatable {
			candidates = append(candidates, Candidate{Position: pos, Health: health})
		}
	}
	return candidates, failed
}
