package state

import (
	"MetLev/internal/oracle"
	"sort"
)

// Store is the engine's record set: protocol config, pools, collateral
// configs, LP positions, leveraged positions and oracle feeds. Records are
// addressed by their logical keys. Not thread-safe; owned by the core.
type Store struct {
	Protocol   *ProtocolConfig
	Collateral *CollateralRegistry
	Feeds      *oracle.FeedStore

	pools       map[string]*LendingPool
	lpPositions map[LpKey]*LpPosition
	positions   map[PositionKey]*Position
}

func NewStore() *Store {
	return &Store{
		Protocol:    &ProtocolConfig{},
		Collateral:  NewCollateralRegistry(),
		Feeds:       oracle.NewFeedStore(),
		pools:       make(map[string]*LendingPool),
		lpPositions: make(map[LpKey]*LpPosition),
		positions:   make(map[PositionKey]*Position),
	}
}

// === Pools ===

func (s *Store) GetPool(asset string) (*LendingPool, bool) {
	p, ok := s.pools[asset]
	return p, ok
}

func (s *Store) SetPool(p *LendingPool) {
	s.pools[p.Asset] = p
}

// AllPools returns pools sorted by asset.
func (s *Store) AllPools() []*LendingPool {
	out := make([]*LendingPool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// === LP positions ===

func (s *Store) GetLpPosition(key LpKey) (*LpPosition, bool) {
	lp, ok := s.lpPositions[key]
	return lp, ok
}

func (s *Store) SetLpPosition(lp *LpPosition) {
	s.lpPositions[lp.Key()] = lp
}

func (s *Store) DeleteLpPosition(key LpKey) {
	delete(s.lpPositions, key)
}

// AllLpPositions returns LP positions sorted by key.
func (s *Store) AllLpPositions() []*LpPosition {
	out := make([]*LpPosition, 0, len(s.lpPositions))
	for _, lp := range s.lpPositions {
		out = append(out, lp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// === Positions ===

func (s *Store) GetPosition(key PositionKey) (*Position, bool) {
	p, ok := s.positions[key]
	return p, ok
}

func (s *Store) SetPosition(p *Position) {
	s.positions[p.Key()] = p
}

func (s *Store) DeletePosition(key PositionKey) {
	delete(s.positions, key)
}

// AllPositions returns positions sorted by key.
func (s *Store) AllPositions() []*Position {
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// ActiveDebtPositions returns Active positions carrying debt, sorted by key.
func (s *Store) ActiveDebtPositions() []*Position {
	all := s.AllPositions()
	out := all[:0]
	for _, p := range all {
		if p.IsActive() && p.DebtAmount > 0 {
			out = append(out, p)
		}
	}
	return out
}
