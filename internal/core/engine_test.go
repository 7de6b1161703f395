package core_test

import (
	"MetLev/internal/amm"
	"MetLev/internal/core"
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	"MetLev/internal/state"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdc = "USDC"
	sol  = "SOL"

	solPrice   = 150_000_000 // $150, 6 decimals
	oneSOL     = 1_000_000_000
	lpSupply   = 5_000_000_000
	borrow300  = 300_000_000
	rent       = 50
	leverage2x = 20_000 // 2x of $150 of SOL = 300 USDC
)

// world is a core with a protocol, a USDC pool with liquidity, a SOL feed
// and SOL registered as collateral. The venue trades SOL against USDC at
// price 1.01^bin with a 1% fee.
type world struct {
	t     *testing.T
	core  *core.DeterministicCore
	sim   *amm.Simulator
	now   int64
	admin uuid.UUID
	feed  uuid.UUID
	user  uuid.UUID
	lp    uuid.UUID
	liq   uuid.UUID
}

func simConfig() amm.SimulatorConfig {
	return amm.SimulatorConfig{
		Pair:         amm.Pair{Base: usdc, Other: sol},
		BinStep:      100,
		FeeBps:       100,
		PositionRent: rent,
		MaxWidth:     70,
	}
}

func newCore(sim *amm.Simulator, policy state.LiquidationPolicy) *core.DeterministicCore {
	cfg := core.DefaultConfig()
	cfg.LRUCapacity = 1024
	cfg.Policy = policy
	return core.NewDeterministicCore(cfg, sim, nil, nil, nil, nil, nil)
}

func newWorld(t *testing.T) *world {
	return newWorldWithPolicy(t, state.DefaultLiquidationPolicy())
}

func newWorldWithPolicy(t *testing.T, policy state.LiquidationPolicy) *world {
	t.Helper()
	sim := amm.NewSimulator(simConfig())
	w := &world{
		t:     t,
		core:  newCore(sim, policy),
		sim:   sim,
		now:   1_000,
		admin: uuid.New(),
		feed:  uuid.New(),
		user:  uuid.New(),
		lp:    uuid.New(),
		liq:   uuid.New(),
	}
	for _, evt := range w.setupEvents() {
		w.apply(evt)
	}
	return w
}

func (w *world) setupEvents() []event.Event {
	return []event.Event{
		&event.ProtocolInitialized{RequestID: uuid.New(), Authority: w.admin, Timestamp: w.now},
		&event.PoolInitialized{RequestID: uuid.New(), Signer: w.admin, Asset: usdc, Decimals: 6, InterestRateBps: 1_000, Timestamp: w.now},
		&event.FeedInitialized{RequestID: uuid.New(), Signer: w.admin, FeedID: "SOL/USD", FeedAuthority: w.feed, Price: solPrice, Decimals: 6, Timestamp: w.now},
		&event.CollateralRegistered{
			RequestID: uuid.New(), Signer: w.admin, Mint: sol, Oracle: "SOL/USD",
			MaxLTV: 7_500, LiquidationThreshold: 8_000, LiquidationPenalty: 500,
			MinDeposit: 1_000, OracleMaxAge: 60, Decimals: 9, Timestamp: w.now,
		},
		&event.WalletDeposit{TxRef: "lp-funding", User: w.lp, Asset: usdc, Amount: 10_000_000_000, Timestamp: w.now},
		&event.LiquiditySupplied{RequestID: uuid.New(), Signer: w.lp, Owner: w.lp, Asset: usdc, Amount: lpSupply, Timestamp: w.now},
		&event.WalletDeposit{TxRef: "user-sol", User: w.user, Asset: sol, Amount: oneSOL, Timestamp: w.now},
		&event.WalletDeposit{TxRef: "user-usdc", User: w.user, Asset: usdc, Amount: 1_000, Timestamp: w.now},
		&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Amount: oneSOL, Timestamp: w.now},
	}
}

func (w *world) apply(evt event.Event) core.Receipt {
	w.t.Helper()
	receipt, err := w.core.ProcessEvent(evt)
	require.NoError(w.t, err, "%s", evt.EventType())
	return receipt
}

func (w *world) reject(evt event.Event) error {
	w.t.Helper()
	seq := w.core.GetSequence()
	hash := w.core.GetStateHash()
	_, err := w.core.ProcessEvent(evt)
	require.Error(w.t, err)
	assert.Equal(w.t, seq, w.core.GetSequence(), "rejected event consumed a sequence")
	assert.Equal(w.t, hash, w.core.GetStateHash(), "rejected event moved the hash chain")
	return err
}

func (w *world) tick() int64 {
	w.now++
	return w.now
}

func (w *world) balance(key ledger.AccountKey) int64 {
	return w.core.Balance(key)
}

func (w *world) wallet(user uuid.UUID, asset string) int64 {
	return w.balance(ledger.NewWalletKey(user, ledger.RegisterAsset(asset)))
}

func (w *world) custody() int64 {
	return w.balance(ledger.NewPoolCustodyKey(ledger.RegisterAsset(usdc)))
}

func (w *world) escrow(asset string) int64 {
	return w.balance(ledger.NewAMMEscrowKey(ledger.RegisterAsset(asset)))
}

func (w *world) pool() *state.LendingPool {
	pool, ok := w.core.Store().GetPool(usdc)
	require.True(w.t, ok)
	return pool
}

func (w *world) position() (*state.Position, bool) {
	return w.core.Store().GetPosition(state.PositionKey{Owner: w.user, Mint: sol})
}

func (w *world) openRequest(leverage uint64) *event.PositionOpenRequested {
	return &event.PositionOpenRequested{
		RequestID:            uuid.New(),
		Signer:               w.user,
		Owner:                w.user,
		Mint:                 sol,
		Leverage:             leverage,
		LowerBin:             -2,
		Width:                3,
		ActiveBin:            0,
		MaxActiveBinSlippage: 1,
		Distribution:         []amm.BinWeight{{BinID: 0, Weight: 1}},
		Timestamp:            w.tick(),
	}
}

func (w *world) open() {
	w.t.Helper()
	w.apply(w.openRequest(leverage2x))
}

// earnFees moves the market down one bin and back, so the position holds
// its base again plus 3 USDC and 3 SOL of fees.
func (w *world) earnFees() {
	w.t.Helper()
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: -1, Timestamp: w.tick()})
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: 1, Timestamp: w.tick()})
}

func (w *world) setPrice(price uint64) {
	w.t.Helper()
	ts := w.tick()
	w.apply(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: price, PublishTime: ts})
}

func (w *world) closeRequest(minOutBps uint16) *event.PositionCloseRequested {
	return &event.PositionCloseRequested{
		RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, MinOutBps: minOutBps, Timestamp: w.tick(),
	}
}

func (w *world) liquidateRequest() *event.LiquidationRequested {
	return &event.LiquidationRequested{
		RequestID: uuid.New(), Liquidator: w.liq, Owner: w.user, Mint: sol, Timestamp: w.tick(),
	}
}

func TestSetup_SequencesAndBalances(t *testing.T) {
	w := newWorld(t)

	assert.Equal(t, int64(9), w.core.GetSequence())
	assert.Equal(t, int64(lpSupply), w.custody())
	assert.Equal(t, int64(5_000_000_000), w.wallet(w.lp, usdc))
	assert.Equal(t, int64(0), w.wallet(w.user, sol))

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, uint64(oneSOL), pos.CollateralAmount)
	assert.Equal(t, state.PositionStatusActive, pos.Status)
	assert.Equal(t, int64(oneSOL), w.balance(ledger.NewVaultKey(pos.Key().ID(), ledger.RegisterAsset(sol))))
}

func TestOpen_BorrowsAndDeploys(t *testing.T) {
	w := newWorld(t)
	w.open()

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, uint64(borrow300), pos.DebtAmount)
	assert.True(t, pos.HasExternalPosition())
	assert.Equal(t, int32(-2), pos.LowerBin)
	assert.Equal(t, int32(0), pos.UpperBin)

	assert.Equal(t, uint64(borrow300), w.pool().TotalBorrowed)
	assert.Equal(t, int64(lpSupply-borrow300), w.custody())
	assert.Equal(t, int64(borrow300+rent), w.escrow(usdc))
	assert.Equal(t, int64(1_000-rent), w.wallet(w.user, usdc))

	venue, ok := w.sim.Position(pos.ExternalRef)
	require.True(t, ok)
	assert.Equal(t, amm.Amounts{Base: borrow300}, venue.Holdings())
}

func TestOpen_BorrowSizedByOracleValue(t *testing.T) {
	cases := map[uint64]uint64{
		10_000: 150_000_000, // ltv 150 / 300 = 5000
		20_000: borrow300,   // ltv 300 / 450 = 6667
		30_000: 450_000_000, // ltv 450 / 600 = 7500, at the cap
	}
	for leverage, debt := range cases {
		w := newWorld(t)
		w.apply(w.openRequest(leverage))

		pos, ok := w.position()
		require.True(t, ok)
		assert.Equal(t, debt, pos.DebtAmount, "leverage %d", leverage)
		assert.Equal(t, debt, w.pool().TotalBorrowed, "leverage %d", leverage)
	}

	// the same 2x borrows twice as much when SOL doubles
	w := newWorld(t)
	w.setPrice(2 * solPrice)
	w.open()
	pos, _ := w.position()
	assert.Equal(t, uint64(2*borrow300), pos.DebtAmount)
}

func TestOpen_RangeOverflowRejected(t *testing.T) {
	w := newWorld(t)
	req := w.openRequest(leverage2x)
	req.LowerBin = math.MaxInt32 - 1
	req.Width = 3
	err := w.reject(req)
	assert.ErrorIs(t, err, amm.ErrInvalidRange)
	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)
	assert.Empty(t, w.sim.Snapshot().Positions)
}

func TestOpen_ExceedsMaxLTVRollsBackBorrow(t *testing.T) {
	w := newWorld(t)

	// 4x: 600 USDC against $150 of SOL, ltv 600 / 750 = 8000 > 7500
	err := w.reject(w.openRequest(40_000))
	assert.ErrorIs(t, err, errs.ErrExceedsMaxLTV)

	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)
	assert.Equal(t, int64(lpSupply), w.custody())
	assert.Equal(t, int64(1_000), w.wallet(w.user, usdc))
	assert.Empty(t, w.sim.Snapshot().Positions)

	pos, _ := w.position()
	assert.Equal(t, uint64(0), pos.DebtAmount)
	assert.False(t, pos.HasExternalPosition())
}

func TestOpen_Failures(t *testing.T) {
	w := newWorld(t)

	// 40x: 6000 USDC against 5000 supplied
	err := w.reject(w.openRequest(400_000))
	assert.ErrorIs(t, err, errs.ErrInsufficientLiquidity)

	err = w.reject(w.openRequest(0))
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	req := w.openRequest(leverage2x)
	req.ActiveBin = 5
	err = w.reject(req)
	assert.ErrorIs(t, err, amm.ErrActiveBinSlippage)
	assert.ErrorIs(t, err, errs.ErrInvalidAMMPosition)
	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)

	// stale price: the feed was published at 1000 with a 60s budget
	req = w.openRequest(leverage2x)
	req.Timestamp = 1_100
	err = w.reject(req)
	assert.ErrorIs(t, err, errs.ErrOracleStale)
}

func TestOpen_Twice(t *testing.T) {
	w := newWorld(t)
	w.open()
	err := w.reject(w.openRequest(leverage2x))
	assert.ErrorIs(t, err, errs.ErrInvalidAMMPosition)
}

func TestClose_RepaysAndReturnsSurplus(t *testing.T) {
	w := newWorld(t)
	w.open()
	w.earnFees()

	// venue now holds 303 USDC of base for the position and 3 SOL-units of fees
	assert.Equal(t, int64(borrow300+3_000_000+rent), w.escrow(usdc))
	assert.Equal(t, int64(3_000_000), w.escrow(sol))

	w.apply(w.closeRequest(0))

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, state.PositionStatusClosed, pos.Status)
	assert.Equal(t, uint64(0), pos.DebtAmount)
	assert.False(t, pos.HasExternalPosition())

	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)
	assert.Equal(t, int64(lpSupply), w.custody())
	assert.Equal(t, int64(0), w.escrow(usdc))
	assert.Equal(t, int64(0), w.escrow(sol))

	// 300 + 3 fee + swap(3 SOL-units, 1% fee, price 1.01) = 305.9997; surplus 5.9997
	assert.Equal(t, int64(1_000-rent+rent+5_999_700), w.wallet(w.user, usdc))
	assert.Empty(t, w.sim.Snapshot().Positions)
}

func TestClose_WithoutVenuePosition(t *testing.T) {
	w := newWorld(t)
	w.apply(w.closeRequest(0))

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, state.PositionStatusClosed, pos.Status)
}

func TestClose_BadDebtAborts(t *testing.T) {
	w := newWorld(t)
	w.open()
	pos, _ := w.position()
	ref := pos.ExternalRef

	// price falls one bin and stays: the position is all SOL and swapping it
	// back at 1/1.01 minus fee does not cover 300 USDC
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: -1, Timestamp: w.tick()})
	escrowBefore := w.escrow(sol)

	err := w.reject(w.closeRequest(0))
	assert.ErrorIs(t, err, errs.ErrBadDebt)
	assert.ErrorIs(t, err, errs.ErrMathUnderflow)
	assert.Equal(t, errs.CodeBadDebt, errs.CodeOf(err))

	pos, _ = w.position()
	assert.Equal(t, state.PositionStatusActive, pos.Status)
	assert.Equal(t, uint64(borrow300), pos.DebtAmount)
	assert.Equal(t, uint64(borrow300), w.pool().TotalBorrowed)
	assert.Equal(t, escrowBefore, w.escrow(sol))
	_, ok := w.sim.Position(ref)
	assert.True(t, ok, "venue position must survive an aborted close")
}

func TestClose_OracleFloor(t *testing.T) {
	w := newWorld(t)
	w.open()
	w.earnFees()

	// at $1500 the 3M SOL-units of fees are worth 4.5 USDC; a 1% floor of
	// 4.455 USDC is above the 2.9997 the venue pays
	w.setPrice(1_500_000_000)
	err := w.reject(w.closeRequest(100))
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)

	w.setPrice(solPrice)
	w.apply(w.closeRequest(100))
	pos, _ := w.position()
	assert.Equal(t, state.PositionStatusClosed, pos.Status)
}

func TestClose_NotOwnerOrInactive(t *testing.T) {
	w := newWorld(t)
	w.open()

	req := w.closeRequest(0)
	req.Owner = uuid.New()
	err := w.reject(req)
	assert.ErrorIs(t, err, errs.ErrPositionNotActive)

	req = w.closeRequest(0)
	req.Signer = uuid.New()
	err = w.reject(req)
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)

	w.apply(w.closeRequest(0))
	err = w.reject(w.closeRequest(0))
	assert.ErrorIs(t, err, errs.ErrPositionNotActive)
}

func TestLiquidate_Healthy(t *testing.T) {
	w := newWorld(t)
	w.open()

	err := w.reject(w.liquidateRequest())
	assert.ErrorIs(t, err, errs.ErrPositionHealthy)
}

func TestLiquidate_NoDebt(t *testing.T) {
	w := newWorld(t)
	err := w.reject(w.liquidateRequest())
	assert.ErrorIs(t, err, errs.ErrNotLiquidatable)
}

func TestLiquidate_DefaultPolicyCapsPenalty(t *testing.T) {
	w := newWorld(t)
	w.open()
	w.earnFees()
	w.setPrice(50_000_000) // ltv 300 / (50 + 300) = 8571

	w.apply(w.liquidateRequest())

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, state.PositionStatusLiquidated, pos.Status)
	assert.Equal(t, uint64(0), pos.DebtAmount)
	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)
	assert.Equal(t, int64(lpSupply), w.custody())

	// 5% of 305.9997 exceeds the 5.9997 surplus, so the liquidator takes it all
	assert.Equal(t, int64(5_999_700), w.wallet(w.liq, usdc))
	assert.Equal(t, int64(1_000), w.wallet(w.user, usdc))

	// collateral stays in the vault until withdrawn
	assert.Equal(t, int64(oneSOL), w.balance(ledger.NewVaultKey(pos.Key().ID(), ledger.RegisterAsset(sol))))
}

func TestLiquidate_SeizesCollateralForShortfall(t *testing.T) {
	w := newWorld(t)
	w.open()
	// the venue falls one bin and stays: the unwind returns about 297 USDC
	// against 300 of debt
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: -1, Timestamp: w.tick()})
	w.setPrice(50_000_000)

	w.apply(w.liquidateRequest())

	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, state.PositionStatusLiquidated, pos.Status)
	assert.Equal(t, uint64(0), pos.DebtAmount)
	assert.Equal(t, uint64(0), w.pool().TotalBorrowed)
	assert.Equal(t, int64(lpSupply), w.custody())

	// 3 USDC at $50 is 0.06 SOL, grossed up by the 2% slippage allowance
	vault := w.balance(ledger.NewVaultKey(pos.Key().ID(), ledger.RegisterAsset(sol)))
	seized := int64(oneSOL) - vault
	assert.InDelta(t, 61_225_000, seized, 2_000)
	assert.Equal(t, uint64(vault), pos.CollateralAmount)
	assert.Positive(t, w.wallet(w.liq, usdc))

	withdraw := &event.CollateralWithdrawn{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Timestamp: w.tick()}
	w.apply(withdraw)
	assert.Equal(t, vault, w.wallet(w.user, sol))
}

func TestLiquidate_ShortfallBeyondCollateralIsBadDebt(t *testing.T) {
	w := newWorld(t)
	w.open()
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: -1_000, Timestamp: w.tick()})
	w.setPrice(10_000) // one cent: the whole SOL covers nothing

	err := w.reject(w.liquidateRequest())
	assert.ErrorIs(t, err, errs.ErrBadDebt)

	pos, _ := w.position()
	assert.Equal(t, state.PositionStatusActive, pos.Status)
	assert.Equal(t, uint64(borrow300), pos.DebtAmount)
	assert.Equal(t, uint64(oneSOL), pos.CollateralAmount)
	assert.Equal(t, int64(oneSOL), w.balance(ledger.NewVaultKey(pos.Key().ID(), ledger.RegisterAsset(sol))))
}

func TestLiquidate_SeizureBelowOracleFloorAborts(t *testing.T) {
	w := newWorld(t)
	w.open()
	// the venue prices SOL far below the $50 oracle, so selling the
	// collateral there would miss the floor
	w.apply(&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: w.admin, ActiveBin: -1_000, Timestamp: w.tick()})
	w.setPrice(50_000_000)

	err := w.reject(w.liquidateRequest())
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)

	pos, _ := w.position()
	assert.Equal(t, uint64(oneSOL), pos.CollateralAmount)
	assert.Equal(t, uint64(borrow300), w.pool().TotalBorrowed)
}

func TestLiquidate_PenaltyOnSurplus(t *testing.T) {
	policy := state.DefaultLiquidationPolicy()
	policy.PenaltyBase = state.PenaltyOnSurplus
	w := newWorldWithPolicy(t, policy)
	w.open()
	w.earnFees()
	w.setPrice(50_000_000)

	w.apply(w.liquidateRequest())

	assert.Equal(t, int64(299_985), w.wallet(w.liq, usdc))
	assert.Equal(t, int64(1_000+5_699_715), w.wallet(w.user, usdc))
}

func TestLiquidate_RemainderToPool(t *testing.T) {
	policy := state.LiquidationPolicy{
		PenaltyBase:        state.PenaltyOnSurplus,
		PenaltyRecipient:   state.RecipientPool,
		RemainderRecipient: state.RecipientPool,
	}
	w := newWorldWithPolicy(t, policy)
	w.open()
	w.earnFees()
	w.setPrice(50_000_000)

	w.apply(w.liquidateRequest())

	assert.Equal(t, int64(0), w.wallet(w.liq, usdc))
	assert.Equal(t, int64(lpSupply+5_999_700), w.custody())
}

func TestWithdrawCollateral(t *testing.T) {
	w := newWorld(t)
	w.open()

	withdraw := func() *event.CollateralWithdrawn {
		return &event.CollateralWithdrawn{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Timestamp: w.tick()}
	}

	err := w.reject(withdraw())
	assert.ErrorIs(t, err, errs.ErrWithdrawalFailed)

	w.apply(w.closeRequest(0))
	w.apply(withdraw())

	_, ok := w.position()
	assert.False(t, ok, "withdrawal frees the position key")
	assert.Equal(t, int64(oneSOL), w.wallet(w.user, sol))

	// a fresh position can be opened under the same key
	w.apply(&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Amount: oneSOL, Timestamp: w.tick()})
	pos, ok := w.position()
	require.True(t, ok)
	assert.Equal(t, state.PositionStatusActive, pos.Status)
}

func TestCollateralDeposit_Guards(t *testing.T) {
	w := newWorld(t)

	err := w.reject(&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Amount: 999, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInsufficientCollateral)

	err = w.reject(&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: "BONK", Amount: 5_000, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidCollateralType)

	// wallet is empty after setup
	err = w.reject(&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Amount: 5_000, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInsufficientCollateral)

	w.apply(&event.CollateralUpdated{RequestID: uuid.New(), Signer: w.admin, Mint: sol, Kind: event.UpdateSetEnabled, Enabled: false, Timestamp: w.tick()})
	err = w.reject(&event.CollateralDeposited{RequestID: uuid.New(), Signer: w.user, Owner: w.user, Mint: sol, Amount: 5_000, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidCollateralType)
}

func TestPaused_BlocksUserOperations(t *testing.T) {
	w := newWorld(t)
	w.apply(&event.PauseSet{RequestID: uuid.New(), Signer: w.admin, Paused: true, Timestamp: w.tick()})

	err := w.reject(w.openRequest(leverage2x))
	assert.ErrorIs(t, err, errs.ErrProtocolPaused)
	err = w.reject(&event.LiquiditySupplied{RequestID: uuid.New(), Signer: w.lp, Owner: w.lp, Asset: usdc, Amount: 1, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrProtocolPaused)
	err = w.reject(&event.LiquidityWithdrawn{RequestID: uuid.New(), Signer: w.lp, Owner: w.lp, Asset: usdc, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrProtocolPaused)
	err = w.reject(w.closeRequest(0))
	assert.ErrorIs(t, err, errs.ErrProtocolPaused)

	w.apply(&event.PauseSet{RequestID: uuid.New(), Signer: w.admin, Paused: false, Timestamp: w.tick()})
	w.open()
}

func TestAdmin_Authority(t *testing.T) {
	w := newWorld(t)
	stranger := uuid.New()

	err := w.reject(&event.PauseSet{RequestID: uuid.New(), Signer: stranger, Paused: true, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = w.reject(&event.ProtocolInitialized{RequestID: uuid.New(), Authority: stranger, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = w.reject(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: stranger, Price: 1, PublishTime: w.tick()})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = w.reject(&event.CollateralUpdated{
		RequestID: uuid.New(), Signer: w.admin, Mint: sol, Kind: event.UpdateSetLTVParams,
		MaxLTV: 8_000, LiquidationThreshold: 8_000, Timestamp: w.tick(),
	})
	assert.ErrorIs(t, err, errs.ErrInvalidLiquidationThreshold)
	cfg, _ := w.core.Store().Collateral.Get(sol)
	assert.Equal(t, uint16(7_500), cfg.MaxLTV)
}

func TestOracle_OutOfOrderRejected(t *testing.T) {
	w := newWorld(t)
	w.apply(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: 140_000_000, PublishTime: 1_020})

	err := w.reject(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: 160_000_000, PublishTime: 1_010})
	assert.ErrorIs(t, err, errs.ErrOracleStale)

	feed, _ := w.core.Store().Feeds.Get("SOL/USD")
	assert.Equal(t, uint64(140_000_000), feed.Price)
}

func TestLiquidity_RoundTripAndInterest(t *testing.T) {
	w := newWorld(t)
	lp2 := uuid.New()
	w.apply(&event.WalletDeposit{TxRef: "lp2", User: lp2, Asset: usdc, Amount: 1_000_000_000, Timestamp: w.now})

	// elapsed zero: exactly the principal comes back
	w.apply(&event.LiquiditySupplied{RequestID: uuid.New(), Signer: lp2, Owner: lp2, Asset: usdc, Amount: 1_000_000_000, Timestamp: w.now})
	w.apply(&event.LiquidityWithdrawn{RequestID: uuid.New(), Signer: lp2, Owner: lp2, Asset: usdc, Timestamp: w.now})
	assert.Equal(t, int64(1_000_000_000), w.wallet(lp2, usdc))
	_, ok := w.core.Store().GetLpPosition(state.LpKey{Owner: lp2, Asset: usdc})
	assert.False(t, ok)

	// one year at 10%
	const year = 365 * 24 * 3600
	w.apply(&event.LiquiditySupplied{RequestID: uuid.New(), Signer: lp2, Owner: lp2, Asset: usdc, Amount: 1_000_000_000, Timestamp: w.now})
	w.apply(&event.LiquidityWithdrawn{RequestID: uuid.New(), Signer: lp2, Owner: lp2, Asset: usdc, Timestamp: w.now + year})
	assert.Equal(t, int64(1_100_000_000), w.wallet(lp2, usdc))
	assert.Equal(t, uint64(lpSupply), w.pool().TotalSupplied)
	assert.Equal(t, int64(lpSupply-100_000_000), w.custody())
}

func TestSigner_MustOwnTheFunds(t *testing.T) {
	w := newWorld(t)
	mallory := uuid.New()

	open := w.openRequest(leverage2x)
	open.Signer = mallory
	err := w.reject(open)
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)

	err = w.reject(&event.CollateralDeposited{RequestID: uuid.New(), Signer: mallory, Owner: w.user, Mint: sol, Amount: 5_000, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)

	err = w.reject(&event.LiquiditySupplied{RequestID: uuid.New(), Signer: mallory, Owner: w.lp, Asset: usdc, Amount: 1, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)

	err = w.reject(&event.LiquidityWithdrawn{RequestID: uuid.New(), Signer: mallory, Owner: w.lp, Asset: usdc, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)

	w.apply(w.closeRequest(0))
	err = w.reject(&event.CollateralWithdrawn{RequestID: uuid.New(), Signer: mallory, Owner: w.user, Mint: sol, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInvalidOwner)
	assert.Equal(t, int64(0), w.wallet(w.user, sol))
	assert.Equal(t, int64(0), w.wallet(mallory, sol))
}

func TestClock_BackdatedEventRunsAtEngineTime(t *testing.T) {
	w := newWorld(t)
	w.apply(&event.WalletDeposit{TxRef: "later", User: w.user, Asset: usdc, Amount: 1, Timestamp: 1_100})
	assert.Equal(t, int64(1_100), w.core.Clock())

	// claiming 1_010 does not bring the 1_000 price back into its 60s window
	req := w.openRequest(leverage2x)
	req.Timestamp = 1_010
	err := w.reject(req)
	assert.ErrorIs(t, err, errs.ErrOracleStale)

	w.apply(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: solPrice, PublishTime: 1_100})
	req = w.openRequest(leverage2x)
	req.Timestamp = 1_010
	w.apply(req)
	assert.Equal(t, int64(1_100), w.core.Clock())
}

func TestClock_EnvelopeCarriesClampedTime(t *testing.T) {
	persist := make(chan core.CoreOutput, 4)
	cfg := core.DefaultConfig()
	cfg.LRUCapacity = 16
	c := core.NewDeterministicCore(cfg, amm.NewSimulator(simConfig()), persist, nil, nil, nil, nil)

	admin := uuid.New()
	_, err := c.ProcessEvent(&event.ProtocolInitialized{RequestID: uuid.New(), Authority: admin, Timestamp: 50})
	require.NoError(t, err)
	_, err = c.ProcessEvent(&event.PauseSet{RequestID: uuid.New(), Signer: admin, Paused: true, Timestamp: 20})
	require.NoError(t, err)

	require.Len(t, persist, 2)
	assert.Equal(t, int64(50), (<-persist).Envelope.Timestamp)
	assert.Equal(t, int64(50), (<-persist).Envelope.Timestamp)
	assert.Equal(t, int64(50), c.Clock())
}

func TestOracle_PublishTimeAheadOfArrivalRejected(t *testing.T) {
	w := newWorld(t)

	err := w.reject(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: 1, PublishTime: 2_000, ReceivedAt: 1_010})
	assert.ErrorIs(t, err, errs.ErrOracleStale)

	// a few seconds of lead is tolerated
	w.apply(&event.OraclePriceUpdate{FeedID: "SOL/USD", Signer: w.feed, Price: 140_000_000, PublishTime: 1_014, ReceivedAt: 1_010})
	feed, _ := w.core.Store().Feeds.Get("SOL/USD")
	assert.Equal(t, uint64(140_000_000), feed.Price)
	assert.Equal(t, int64(1_010), w.core.Clock())
}

func TestLiquidity_WithdrawBlockedByBorrow(t *testing.T) {
	w := newWorld(t)
	w.open()

	err := w.reject(&event.LiquidityWithdrawn{RequestID: uuid.New(), Signer: w.lp, Owner: w.lp, Asset: usdc, Timestamp: w.tick()})
	assert.ErrorIs(t, err, errs.ErrInsufficientLiquidity)
	assert.Equal(t, uint64(lpSupply), w.pool().TotalSupplied)
}

func TestDuplicateEventIgnored(t *testing.T) {
	w := newWorld(t)
	dep := &event.WalletDeposit{TxRef: "dup", User: w.user, Asset: usdc, Amount: 10, Timestamp: w.tick()}

	first := w.apply(dep)
	second := w.apply(dep)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Sequence, second.Sequence)
	assert.Equal(t, int64(1_010), w.wallet(w.user, usdc))
}

func bareWorld(t *testing.T, ids *world) *world {
	sim := amm.NewSimulator(simConfig())
	return &world{
		t: t, core: newCore(sim, state.DefaultLiquidationPolicy()), sim: sim, now: 1_000,
		admin: ids.admin, feed: ids.feed, user: ids.user, lp: ids.lp, liq: ids.liq,
	}
}

func TestHashChain_Deterministic(t *testing.T) {
	ids := &world{admin: uuid.New(), feed: uuid.New(), user: uuid.New(), lp: uuid.New(), liq: uuid.New()}
	a := bareWorld(t, ids)
	b := bareWorld(t, ids)

	events := a.setupEvents()
	events = append(events,
		a.openRequest(leverage2x),
		&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: ids.admin, ActiveBin: -1, Timestamp: 1_002},
		&event.AMMActiveBinMove{RequestID: uuid.New(), Signer: ids.admin, ActiveBin: 1, Timestamp: 1_003},
		&event.PositionCloseRequested{RequestID: uuid.New(), Signer: ids.user, Owner: ids.user, Mint: sol, Timestamp: 1_004},
	)

	for _, evt := range events {
		ra := a.apply(evt)
		rb := b.apply(evt)
		require.Equal(t, ra.Sequence, rb.Sequence)
		require.Equal(t, ra.StateHash, rb.StateHash, "diverged at %s", evt.EventType())
	}
	assert.NotEqual(t, core.GenesisHash(), a.core.GetStateHash())
	assert.Equal(t, int64(len(events)), a.core.GetSequence())
}

func TestSnapshotRestore(t *testing.T) {
	w := newWorld(t)
	w.open()
	w.earnFees()
	dep := &event.WalletDeposit{TxRef: "before-snapshot", User: w.user, Asset: usdc, Amount: 1, Timestamp: w.tick()}
	w.apply(dep)

	snap := w.core.CreateSnapshotState()

	sim := amm.NewSimulator(simConfig())
	restored := newCore(sim, state.DefaultLiquidationPolicy())
	require.NoError(t, restored.RestoreFromSnapshot(snap))

	assert.Equal(t, w.core.GetSequence(), restored.GetSequence())
	assert.Equal(t, w.core.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, w.core.Clock(), restored.Clock())
	assert.Equal(t, int32(1), sim.ActiveBin())

	closeReq := w.closeRequest(0)
	ra, err := w.core.ProcessEvent(closeReq)
	require.NoError(t, err)
	rb, err := restored.ProcessEvent(closeReq)
	require.NoError(t, err)
	assert.Equal(t, ra.Sequence, rb.Sequence)
	assert.Equal(t, ra.StateHash, rb.StateHash)

	// keys carried in the snapshot still deduplicate
	dup, err := restored.ProcessEvent(dep)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
}

func TestOutputsEmitted(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	projection := make(chan core.CoreOutput, 1)
	cfg := core.DefaultConfig()
	cfg.LRUCapacity = 16
	c := core.NewDeterministicCore(cfg, amm.NewSimulator(simConfig()), persist, projection, nil, nil, nil)

	admin := uuid.New()
	_, err := c.ProcessEvent(&event.ProtocolInitialized{RequestID: uuid.New(), Authority: admin, Timestamp: 1})
	require.NoError(t, err)
	_, err = c.ProcessEvent(&event.PoolInitialized{RequestID: uuid.New(), Signer: admin, Asset: usdc, Decimals: 6, Timestamp: 2})
	require.NoError(t, err)

	require.Len(t, persist, 2)
	assert.Len(t, projection, 1, "projection channel drops when full")

	first := <-persist
	second := <-persist
	assert.Equal(t, int64(1), first.Envelope.Sequence)
	assert.Equal(t, core.GenesisHash(), first.Envelope.PrevHash)
	assert.Equal(t, first.Envelope.StateHash, second.Envelope.PrevHash)
	require.NotNil(t, second.Changes)
	require.Len(t, second.Changes.Pools, 1)
	assert.Equal(t, usdc, second.Changes.Pools[0].Asset)
	assert.Nil(t, first.Batch, "admin events move no funds")
}

func TestAttachOutputs(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.LRUCapacity = 16
	c := core.NewDeterministicCore(cfg, amm.NewSimulator(simConfig()), nil, nil, nil, nil, nil)

	admin := uuid.New()
	_, err := c.ProcessEvent(&event.ProtocolInitialized{RequestID: uuid.New(), Authority: admin, Timestamp: 1})
	require.NoError(t, err)

	persist := make(chan core.CoreOutput, 4)
	publish := make(chan core.CoreOutput, 4)
	c.AttachOutputs(persist, nil, publish)

	_, err = c.ProcessEvent(&event.PauseSet{RequestID: uuid.New(), Signer: admin, Paused: true, Timestamp: 2})
	require.NoError(t, err)

	require.Len(t, persist, 1)
	require.Len(t, publish, 1)
	assert.Equal(t, int64(2), (<-persist).Envelope.Sequence)
}

type seenKeys map[string]bool

func (s seenKeys) IsDuplicate(_ string, key string) (bool, error) {
	return s[key], nil
}

func TestAttachDBIdempotency(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.LRUCapacity = 16
	c := core.NewDeterministicCore(cfg, amm.NewSimulator(simConfig()), nil, nil, nil, nil, nil)

	genesis := &event.ProtocolInitialized{RequestID: uuid.New(), Authority: uuid.New(), Timestamp: 1}
	c.AttachDBIdempotency(seenKeys{genesis.IdempotencyKey(): true})

	receipt, err := c.ProcessEvent(genesis)
	require.NoError(t, err)
	assert.True(t, receipt.Duplicate)
	assert.Equal(t, int64(0), c.GetSequence())
}
