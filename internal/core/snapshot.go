package core

import (
	"MetLev/internal/amm"
	"MetLev/internal/ledger"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"fmt"
)

// VenueSnapshotter is implemented by AMM clients whose state lives in
// process and therefore has to travel with core snapshots.
type VenueSnapshotter interface {
	Snapshot() *amm.SimulatorState
	Restore(*amm.SimulatorState)
}

// SnapshotState holds the serializable in-memory state for restore.
// Balances are keyed by account path so the snapshot is independent of the
// process-local asset IDs.
type SnapshotState struct {
	Sequence        int64
	Clock           int64
	StateHash       [32]byte
	Balances        map[string]int64
	Protocol        state.ProtocolConfig
	Collateral      []*state.CollateralConfig
	Feeds           []*oracle.Feed
	Pools           []*state.LendingPool
	LpPositions     []*state.LpPosition
	Positions       []*state.Position
	FeedWatermarks  map[string]int64
	Venue           *amm.SimulatorState `json:",omitempty"`
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := make(map[string]int64)
	for key, balance := range c.balanceTracker.Snapshot() {
		if balance != 0 {
			balances[key.AccountPath()] = balance
		}
	}

	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		Clock:           c.clock,
		StateHash:       c.hasher.Tip(),
		Balances:        balances,
		Protocol:        *c.store.Protocol,
		FeedWatermarks:  c.sequenceValidator.GetAllFeeds(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	for _, cfg := range c.store.Collateral.All() {
		snap.Collateral = append(snap.Collateral, cfg.Clone())
	}
	for _, f := range c.store.Feeds.All() {
		snap.Feeds = append(snap.Feeds, f.Clone())
	}
	for _, p := range c.store.AllPools() {
		snap.Pools = append(snap.Pools, p.Clone())
	}
	for _, lp := range c.store.AllLpPositions() {
		snap.LpPositions = append(snap.LpPositions, lp.Clone())
	}
	for _, p := range c.store.AllPositions() {
		snap.Positions = append(snap.Positions, p.Clone())
	}
	if v, ok := c.amm.(VenueSnapshotter); ok {
		snap.Venue = v.Snapshot()
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// The core must be fresh; events after the snapshot are then replayed.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	for path, balance := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore balance: %w", err)
		}
		c.balanceTracker.SetBalance(key, balance)
	}

	store := state.NewStore()
	protocol := snap.Protocol
	store.Protocol = &protocol
	for _, cfg := range snap.Collateral {
		ledger.RegisterAsset(cfg.Mint)
		store.Collateral.Set(cfg.Clone())
	}
	for _, f := range snap.Feeds {
		store.Feeds.Set(f.Clone())
	}
	for _, p := range snap.Pools {
		ledger.RegisterAsset(p.Asset)
		store.SetPool(p.Clone())
	}
	for _, lp := range snap.LpPositions {
		store.SetLpPosition(lp.Clone())
	}
	for _, p := range snap.Positions {
		store.SetPosition(p.Clone())
	}
	c.store = store

	for feed, ts := range snap.FeedWatermarks {
		c.sequenceValidator.RestoreFeed(feed, ts)
	}

	if snap.Venue != nil {
		v, ok := c.amm.(VenueSnapshotter)
		if !ok {
			return fmt.Errorf("snapshot carries venue state but the AMM client cannot restore it")
		}
		v.Restore(snap.Venue)
	}

	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.clock = snap.Clock
	c.hasher.Reset(snap.StateHash)
	c.WarmLRU(snap.IdempotencyKeys)

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored ledger: %w", err)
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache so a restart
// avoids cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
