package core

import (
	"MetLev/internal/amm"
	"MetLev/internal/errs"
	"MetLev/internal/ledger"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"context"
	"errors"
	"fmt"
	"sort"
)

// Tx is the working set of one event. Records are copied on first touch and
// every read after that sees the copy, so a handler can mutate freely and
// abort at any step: Commit writes the copies back, Rollback (or simply
// dropping the Tx) leaves the store exactly as it was. Ledger transfers are
// staged in the journal generator and AMM calls in an amm.Session.
type Tx struct {
	store   *state.Store
	journal *ledger.JournalGenerator
	amm     amm.Session
	pair    amm.Pair

	sequence int64
	now      int64

	protocol   *state.ProtocolConfig
	collateral map[string]*state.CollateralConfig
	feeds      map[string]*oracle.Feed
	pools      map[string]*state.LendingPool
	lps        map[state.LpKey]*state.LpPosition
	positions  map[state.PositionKey]*state.Position

	deletedLps       map[state.LpKey]bool
	deletedPositions map[state.PositionKey]bool
}

func newTx(store *state.Store, journal *ledger.JournalGenerator, session amm.Session, pair amm.Pair, sequence, now int64) *Tx {
	return &Tx{
		store:            store,
		journal:          journal,
		amm:              session,
		pair:             pair,
		sequence:         sequence,
		now:              now,
		collateral:       make(map[string]*state.CollateralConfig),
		feeds:            make(map[string]*oracle.Feed),
		pools:            make(map[string]*state.LendingPool),
		lps:              make(map[state.LpKey]*state.LpPosition),
		positions:        make(map[state.PositionKey]*state.Position),
		deletedLps:       make(map[state.LpKey]bool),
		deletedPositions: make(map[state.PositionKey]bool),
	}
}

// Now is the event's versioned timestamp.
func (tx *Tx) Now() int64 { return tx.now }

// === Records ===

func (tx *Tx) Protocol() *state.ProtocolConfig {
	if tx.protocol == nil {
		cp := *tx.store.Protocol
		tx.protocol = &cp
	}
	return tx.protocol
}

func (tx *Tx) Collateral(mint string) (*state.CollateralConfig, bool) {
	if cfg, ok := tx.collateral[mint]; ok {
		return cfg, true
	}
	cfg, ok := tx.store.Collateral.Get(mint)
	if !ok {
		return nil, false
	}
	cp := cfg.Clone()
	tx.collateral[mint] = cp
	return cp, true
}

// RegisterCollateral stages a new collateral config. It fails when the mint
// is already known or the parameters do not validate.
func (tx *Tx) RegisterCollateral(cfg *state.CollateralConfig) error {
	if _, exists := tx.Collateral(cfg.Mint); exists {
		return fmt.Errorf("collateral %s already registered: %w", cfg.Mint, errs.ErrInvalidCollateralType)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register collateral: %w", err)
	}
	cfg.Enabled = true
	tx.collateral[cfg.Mint] = cfg
	return nil
}

func (tx *Tx) Feed(id string) (*oracle.Feed, bool) {
	if f, ok := tx.feeds[id]; ok {
		return f, true
	}
	f, ok := tx.store.Feeds.Get(id)
	if !ok {
		return nil, false
	}
	cp := f.Clone()
	tx.feeds[id] = cp
	return cp, true
}

func (tx *Tx) PutFeed(f *oracle.Feed) {
	tx.feeds[f.ID] = f
}

// Latest implements oracle.Source over the staged feeds, so a price update
// and a read inside the same event agree.
func (tx *Tx) Latest(_ context.Context, id string) (oracle.PriceFeed, error) {
	f, ok := tx.Feed(id)
	if !ok {
		return oracle.PriceFeed{}, fmt.Errorf("feed %q not found: %w", id, errs.ErrOraclePriceUnavailable)
	}
	return f.Observation(), nil
}

func (tx *Tx) Pool(asset string) (*state.LendingPool, bool) {
	if p, ok := tx.pools[asset]; ok {
		return p, true
	}
	p, ok := tx.store.GetPool(asset)
	if !ok {
		return nil, false
	}
	cp := p.Clone()
	tx.pools[asset] = cp
	return cp, true
}

func (tx *Tx) PutPool(p *state.LendingPool) {
	tx.pools[p.Asset] = p
}

// BasePool is the pool positions borrow from: the one lending the AMM's
// base asset.
func (tx *Tx) BasePool() (*state.LendingPool, error) {
	pool, ok := tx.Pool(tx.pair.Base)
	if !ok {
		return nil, fmt.Errorf("no lending pool for %s: %w", tx.pair.Base, errs.ErrInsufficientLiquidity)
	}
	return pool, nil
}

func (tx *Tx) LpPosition(key state.LpKey) (*state.LpPosition, bool) {
	if tx.deletedLps[key] {
		return nil, false
	}
	if lp, ok := tx.lps[key]; ok {
		return lp, true
	}
	lp, ok := tx.store.GetLpPosition(key)
	if !ok {
		return nil, false
	}
	cp := lp.Clone()
	tx.lps[key] = cp
	return cp, true
}

func (tx *Tx) PutLpPosition(lp *state.LpPosition) {
	delete(tx.deletedLps, lp.Key())
	tx.lps[lp.Key()] = lp
}

func (tx *Tx) DeleteLpPosition(key state.LpKey) {
	delete(tx.lps, key)
	tx.deletedLps[key] = true
}

func (tx *Tx) Position(key state.PositionKey) (*state.Position, bool) {
	if tx.deletedPositions[key] {
		return nil, false
	}
	if p, ok := tx.positions[key]; ok {
		return p, true
	}
	p, ok := tx.store.GetPosition(key)
	if !ok {
		return nil, false
	}
	cp := p.Clone()
	tx.positions[key] = cp
	return cp, true
}

func (tx *Tx) PutPosition(p *state.Position) {
	delete(tx.deletedPositions, p.Key())
	tx.positions[p.Key()] = p
}

func (tx *Tx) DeletePosition(key state.PositionKey) {
	delete(tx.positions, key)
	tx.deletedPositions[key] = true
}

// === Ledger ===

// Transfer stages a ledger movement of asset. A short source balance is
// reported as failure, so each call site chooses the error its caller sees.
func (tx *Tx) Transfer(from, to ledger.AccountKey, amount uint64, jt ledger.JournalType, failure error) error {
	if err := tx.journal.Transfer(from, to, amount, jt); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", failure, err)
		}
		if errors.Is(err, ledger.ErrAmountTooLarge) {
			return fmt.Errorf("%w: %w", errs.ErrMathOverflow, err)
		}
		return fmt.Errorf("%w: %w", errs.ErrInvalidAmount, err)
	}
	return nil
}

// Balance is the staged balance of key.
func (tx *Tx) Balance(key ledger.AccountKey) int64 {
	return tx.journal.Balance(key)
}

// === Commit ===

// StateChanges lists the records an event wrote, already in hash order.
// Projections consume it to update read models without reading core state.
type StateChanges struct {
	Protocol         *state.ProtocolConfig
	Collateral       []*state.CollateralConfig
	Feeds            []*oracle.Feed
	Pools            []*state.LendingPool
	LpPositions      []*state.LpPosition
	Positions        []*state.Position
	DeletedLps       []state.LpKey
	DeletedPositions []state.PositionKey
	ActiveBin        int32
}

// changes collects the staged records in deterministic order.
func (tx *Tx) changes() *StateChanges {
	ch := &StateChanges{Protocol: tx.protocol, ActiveBin: tx.amm.ActiveBin()}

	for _, cfg := range tx.collateral {
		ch.Collateral = append(ch.Collateral, cfg)
	}
	sort.Slice(ch.Collateral, func(i, j int) bool { return ch.Collateral[i].Mint < ch.Collateral[j].Mint })

	for _, f := range tx.feeds {
		ch.Feeds = append(ch.Feeds, f)
	}
	sort.Slice(ch.Feeds, func(i, j int) bool { return ch.Feeds[i].ID < ch.Feeds[j].ID })

	for _, p := range tx.pools {
		ch.Pools = append(ch.Pools, p)
	}
	sort.Slice(ch.Pools, func(i, j int) bool { return ch.Pools[i].Asset < ch.Pools[j].Asset })

	for _, lp := range tx.lps {
		ch.LpPositions = append(ch.LpPositions, lp)
	}
	sort.Slice(ch.LpPositions, func(i, j int) bool { return ch.LpPositions[i].Key().Less(ch.LpPositions[j].Key()) })

	for _, p := range tx.positions {
		ch.Positions = append(ch.Positions, p)
	}
	sort.Slice(ch.Positions, func(i, j int) bool { return ch.Positions[i].Key().Less(ch.Positions[j].Key()) })

	for k := range tx.deletedLps {
		ch.DeletedLps = append(ch.DeletedLps, k)
	}
	sort.Slice(ch.DeletedLps, func(i, j int) bool { return ch.DeletedLps[i].Less(ch.DeletedLps[j]) })

	for k := range tx.deletedPositions {
		ch.DeletedPositions = append(ch.DeletedPositions, k)
	}
	sort.Slice(ch.DeletedPositions, func(i, j int) bool { return ch.DeletedPositions[i].Less(ch.DeletedPositions[j]) })

	return ch
}

// commit writes every staged record back to the store and commits the AMM
// session. The ledger batch is applied by the caller.
func (tx *Tx) commit() *StateChanges {
	ch := tx.changes()

	if ch.Protocol != nil {
		tx.store.Protocol = ch.Protocol
	}
	for _, cfg := range ch.Collateral {
		tx.store.Collateral.Set(cfg)
	}
	for _, f := range ch.Feeds {
		tx.store.Feeds.Set(f)
	}
	for _, p := range ch.Pools {
		tx.store.SetPool(p)
	}
	for _, lp := range ch.LpPositions {
		tx.store.SetLpPosition(lp)
	}
	for _, p := range ch.Positions {
		tx.store.SetPosition(p)
	}
	for _, k := range ch.DeletedLps {
		tx.store.DeleteLpPosition(k)
	}
	for _, k := range ch.DeletedPositions {
		tx.store.DeletePosition(k)
	}

	tx.amm.Commit()
	return ch
}

func (tx *Tx) rollback() {
	tx.amm.Rollback()
}
