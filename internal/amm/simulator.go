package amm

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// SimulatorConfig parameterises the in-memory venue.
type SimulatorConfig struct {
	Pair         Pair
	BinStep      uint16 // bps between adjacent bins
	FeeBps       uint16 // charged on the input side of every swap
	ActiveBin    int32
	PositionRent uint64 // base units charged on open, refunded on close
	MaxWidth     int32
}

// DefaultSimulatorConfig mirrors a typical SOL/USDC DLMM pair, with the
// borrowed USDC as the base.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Pair:     Pair{Base: "USDC", Other: "SOL"},
		BinStep:  25,
		FeeBps:   25,
		MaxWidth: 70,
	}
}

// BinReserve is one bin's share of a position.
type BinReserve struct {
	Base  uint64 `json:"base"`
	Other uint64 `json:"other"`
}

// PositionState is the serializable form of one venue position.
type PositionState struct {
	Ref      string                `json:"ref"`
	LowerBin int32                 `json:"lower_bin"`
	UpperBin int32                 `json:"upper_bin"`
	Bins     map[int32]*BinReserve `json:"bins"`
	Fees     Amounts               `json:"fees"`
	Rent     uint64                `json:"rent"`
}

func (p *PositionState) clone() *PositionState {
	cp := *p
	cp.Bins = make(map[int32]*BinReserve, len(p.Bins))
	for id, b := range p.Bins {
		r := *b
		cp.Bins[id] = &r
	}
	return &cp
}

func (p *PositionState) isEmpty() bool {
	for _, b := range p.Bins {
		if b.Base != 0 || b.Other != 0 {
			return false
		}
	}
	return p.Fees.IsZero()
}

// Holdings sums the position's reserves across its bins.
func (p *PositionState) Holdings() Amounts {
	var a Amounts
	for _, b := range p.Bins {
		a.Base += b.Base
		a.Other += b.Other
	}
	return a
}

// SimulatorState is a full snapshot of the venue.
type SimulatorState struct {
	ActiveBin int32            `json:"active_bin"`
	Positions []*PositionState `json:"positions"`
}

// Simulator is a deterministic discretized-liquidity venue. Prices are
// Base per unit of Other: price(bin) = (1 + binStep/10000)^bin.
type Simulator struct {
	mu        sync.Mutex
	cfg       SimulatorConfig
	activeBin int32
	positions map[string]*PositionState
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 70
	}
	return &Simulator{
		cfg:       cfg,
		activeBin: cfg.ActiveBin,
		positions: make(map[string]*PositionState),
	}
}

func (s *Simulator) Pair() Pair { return s.cfg.Pair }

// Begin opens a session. The core runs one session at a time.
func (s *Simulator) Begin() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &simSession{
		sim:       s,
		activeBin: s.activeBin,
		touched:   make(map[string]*PositionState),
		deleted:   make(map[string]bool),
	}
}

// BinPrice returns the Base-per-Other price of bin.
func (s *Simulator) BinPrice(bin int32) decimal.Decimal {
	return binPrice(s.cfg.BinStep, bin)
}

// ActiveBin returns the committed active bin.
func (s *Simulator) ActiveBin() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeBin
}

// Position returns a copy of the committed position.
func (s *Simulator) Position(ref string) (*PositionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ref]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Snapshot captures the committed venue state, positions sorted by ref.
func (s *Simulator) Snapshot() *SimulatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &SimulatorState{ActiveBin: s.activeBin, Positions: make([]*PositionState, 0, len(s.positions))}
	for _, p := range s.positions {
		out.Positions = append(out.Positions, p.clone())
	}
	sort.Slice(out.Positions, func(i, j int) bool { return out.Positions[i].Ref < out.Positions[j].Ref })
	return out
}

// Restore replaces the venue state.
func (s *Simulator) Restore(st *SimulatorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeBin = st.ActiveBin
	s.positions = make(map[string]*PositionState, len(st.Positions))
	for _, p := range st.Positions {
		s.positions[p.Ref] = p.clone()
	}
}

func binPrice(step uint16, bin int32) decimal.Decimal {
	base := decimal.NewFromInt(1).Add(decimal.New(int64(step), -4))
	return base.Pow(decimal.NewFromInt32(bin))
}

// toUnits floors d into a token amount.
func toUnits(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	return d.Floor().BigInt().Uint64()
}

func units(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)
}

func feeOn(amount uint64, feeBps uint16) uint64 {
	return toUnits(units(amount).Mul(decimal.New(int64(feeBps), -4)))
}

// simSession stages changes against copies of the positions it touches.
type simSession struct {
	sim       *Simulator
	activeBin int32
	touched   map[string]*PositionState
	deleted   map[string]bool
	done      bool
}

func (ss *simSession) ActiveBin() int32 { return ss.activeBin }

func (ss *simSession) get(ref string) (*PositionState, error) {
	if ss.deleted[ref] {
		return nil, fmt.Errorf("%s: %w", ref, ErrPositionNotFound)
	}
	if p, ok := ss.touched[ref]; ok {
		return p, nil
	}
	ss.sim.mu.Lock()
	p, ok := ss.sim.positions[ref]
	ss.sim.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrPositionNotFound)
	}
	cp := p.clone()
	ss.touched[ref] = cp
	return cp, nil
}

// refs lists every position visible to the session, sorted.
func (ss *simSession) refs() []string {
	seen := make(map[string]bool)
	ss.sim.mu.Lock()
	for ref := range ss.sim.positions {
		seen[ref] = true
	}
	ss.sim.mu.Unlock()
	for ref := range ss.touched {
		seen[ref] = true
	}
	out := make([]string, 0, len(seen))
	for ref := range seen {
		if !ss.deleted[ref] {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

func (ss *simSession) OpenPosition(p OpenParams) (string, uint64, error) {
	if ss.done {
		return "", 0, ErrSessionClosed
	}
	if p.Width <= 0 || p.Width > ss.sim.cfg.MaxWidth {
		return "", 0, fmt.Errorf("width %d: %w", p.Width, ErrInvalidRange)
	}
	upper := int64(p.LowerBin) + int64(p.Width) - 1
	if upper > math.MaxInt32 {
		return "", 0, fmt.Errorf("lower %d width %d: %w", p.LowerBin, p.Width, ErrInvalidRange)
	}
	ref := "dlmm:" + p.Seed
	if _, err := ss.get(ref); err == nil {
		return "", 0, fmt.Errorf("%s: %w", ref, ErrPositionExists)
	}
	delete(ss.deleted, ref)
	ss.touched[ref] = &PositionState{
		Ref:      ref,
		LowerBin: p.LowerBin,
		UpperBin: int32(upper),
		Bins:     make(map[int32]*BinReserve),
		Rent:     ss.sim.cfg.PositionRent,
	}
	return ref, ss.sim.cfg.PositionRent, nil
}

// AddLiquidityOneSide spreads Amount of Base over the distribution bins,
// pro rata by weight. Flooring dust goes to the last bin so the whole amount
// is deposited.
func (ss *simSession) AddLiquidityOneSide(ref string, p LiquidityParams) error {
	if ss.done {
		return ErrSessionClosed
	}
	pos, err := ss.get(ref)
	if err != nil {
		return err
	}
	if diff := ss.activeBin - p.ActiveBin; diff > p.MaxActiveBinSlippage || -diff > p.MaxActiveBinSlippage {
		return fmt.Errorf("expected %d, active %d, allowed %d: %w",
			p.ActiveBin, ss.activeBin, p.MaxActiveBinSlippage, ErrActiveBinSlippage)
	}
	if len(p.Distribution) == 0 || p.Amount == 0 {
		return fmt.Errorf("empty deposit: %w", ErrInvalidDistribution)
	}

	var total uint64
	seen := make(map[int32]bool, len(p.Distribution))
	for _, w := range p.Distribution {
		if w.BinID < pos.LowerBin || w.BinID > pos.UpperBin {
			return fmt.Errorf("bin %d outside [%d,%d]: %w", w.BinID, pos.LowerBin, pos.UpperBin, ErrInvalidDistribution)
		}
		if w.BinID > ss.activeBin {
			return fmt.Errorf("base liquidity in bin %d above active %d: %w", w.BinID, ss.activeBin, ErrInvalidDistribution)
		}
		if seen[w.BinID] {
			return fmt.Errorf("duplicate bin %d: %w", w.BinID, ErrInvalidDistribution)
		}
		seen[w.BinID] = true
		total += uint64(w.Weight)
	}
	if total == 0 {
		return fmt.Errorf("zero total weight: %w", ErrInvalidDistribution)
	}

	amount := units(p.Amount)
	weightSum := decimal.NewFromInt(int64(total))
	var placed uint64
	for i, w := range p.Distribution {
		share := toUnits(amount.Mul(decimal.NewFromInt(int64(w.Weight))).Div(weightSum))
		if i == len(p.Distribution)-1 {
			share = p.Amount - placed
		}
		placed += share
		b := pos.Bins[w.BinID]
		if b == nil {
			b = &BinReserve{}
			pos.Bins[w.BinID] = b
		}
		b.Base += share
	}
	return nil
}

func (ss *simSession) RemoveLiquidity(ref string, fromBin, toBin int32) (Amounts, error) {
	if ss.done {
		return Amounts{}, ErrSessionClosed
	}
	pos, err := ss.get(ref)
	if err != nil {
		return Amounts{}, err
	}
	if fromBin > toBin {
		return Amounts{}, fmt.Errorf("from %d > to %d: %w", fromBin, toBin, ErrInvalidRange)
	}
	var out Amounts
	for id, b := range pos.Bins {
		if id < fromBin || id > toBin {
			continue
		}
		out.Base += b.Base
		out.Other += b.Other
		delete(pos.Bins, id)
	}
	return out, nil
}

func (ss *simSession) ClaimFees(ref string) (Amounts, error) {
	if ss.done {
		return Amounts{}, ErrSessionClosed
	}
	pos, err := ss.get(ref)
	if err != nil {
		return Amounts{}, err
	}
	fees := pos.Fees
	pos.Fees = Amounts{}
	return fees, nil
}

// Swap sells Other for Base at the session's active bin price, net of fee.
// The counterparty is the wider market, not the positions in the venue.
func (ss *simSession) Swap(amountIn, minAmountOut uint64) (uint64, error) {
	if ss.done {
		return 0, ErrSessionClosed
	}
	if amountIn == 0 {
		return 0, nil
	}
	fee := feeOn(amountIn, ss.sim.cfg.FeeBps)
	net := units(amountIn - fee)
	out := toUnits(net.Mul(binPrice(ss.sim.cfg.BinStep, ss.activeBin)))
	if out < minAmountOut {
		return 0, fmt.Errorf("out %d < min %d: %w", out, minAmountOut, ErrSlippageExceeded)
	}
	return out, nil
}

func (ss *simSession) ClosePosition(ref string) (uint64, error) {
	if ss.done {
		return 0, ErrSessionClosed
	}
	pos, err := ss.get(ref)
	if err != nil {
		return 0, err
	}
	if !pos.isEmpty() {
		return 0, fmt.Errorf("%s: %w", ref, ErrPositionNotEmpty)
	}
	delete(ss.touched, ref)
	ss.deleted[ref] = true
	return pos.Rent, nil
}

// MoveActiveBin replays external trading that moves the price to bin `to`.
// Bins above the new active bin end up holding Other only, bins below it
// Base only. Each conversion pays the swap fee, in the trader's input asset,
// to the position owning the bin.
func (ss *simSession) MoveActiveBin(to int32) (MarketMove, error) {
	if ss.done {
		return MarketMove{}, ErrSessionClosed
	}
	move := MarketMove{From: ss.activeBin, To: to}
	if to == ss.activeBin {
		return move, nil
	}
	feeRate := decimal.New(int64(ss.sim.cfg.FeeBps), -4)

	for _, ref := range ss.refs() {
		pos, err := ss.get(ref)
		if err != nil {
			return MarketMove{}, err
		}
		ids := make([]int32, 0, len(pos.Bins))
		for id := range pos.Bins {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			b := pos.Bins[id]
			price := binPrice(ss.sim.cfg.BinStep, id)
			switch {
			case id > to && b.Base > 0:
				// traders sell Other into the bin and take its Base
				other := toUnits(units(b.Base).Div(price))
				fee := toUnits(units(other).Mul(feeRate))
				move.Out.Base += b.Base
				move.In.Other += other + fee
				pos.Fees.Other += fee
				b.Other += other
				b.Base = 0
			case id < to && b.Other > 0:
				// traders buy the bin's Other back with Base
				base := toUnits(units(b.Other).Mul(price))
				fee := toUnits(units(base).Mul(feeRate))
				move.Out.Other += b.Other
				move.In.Base += base + fee
				pos.Fees.Base += fee
				b.Base += base
				b.Other = 0
			}
		}
	}
	ss.activeBin = to
	return move, nil
}

func (ss *simSession) Commit() {
	if ss.done {
		return
	}
	ss.done = true
	s := ss.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref := range ss.deleted {
		delete(s.positions, ref)
	}
	for ref, p := range ss.touched {
		s.positions[ref] = p
	}
	s.activeBin = ss.activeBin
}

func (ss *simSession) Rollback() {
	ss.done = true
	ss.touched = nil
	ss.deleted = nil
}
