package core

import (
	"MetLev/internal/amm"
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/ledger"
	"MetLev/internal/observability"
	"MetLev/internal/oracle"
	"MetLev/internal/state"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Config tunes the core.
type Config struct {
	// StartSequence is the sequence the next accepted event receives.
	StartSequence int64
	LRUCapacity   int
	Policy        state.LiquidationPolicy
	// MaxFeedLead bounds how far a price's publish time may run ahead of
	// its arrival.
	MaxFeedLead time.Duration
}

// DefaultConfig starts a fresh chain at sequence 1.
func DefaultConfig() Config {
	return Config{
		StartSequence: 1,
		LRUCapacity:   1_000_000,
		Policy:        state.DefaultLiquidationPolicy(),
		MaxFeedLead:   5 * time.Second,
	}
}

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	clock             int64 // unix seconds of the last accepted event, never decreases
	maxFeedLead       int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	store             *state.Store
	amm               amm.Client
	policy            state.LiquidationPolicy
	idempotency       *IdempotencyChecker
	sequenceValidator *FeedSequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Changes    *StateChanges
}

// Receipt reports how an event was handled.
type Receipt struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool
}

func NewDeterministicCore(
	cfg Config,
	ammClient amm.Client,
	persistChan, projectionChan, publishChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	if cfg.StartSequence < 1 {
		cfg.StartSequence = 1
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = DefaultConfig().LRUCapacity
	}
	if cfg.MaxFeedLead <= 0 {
		cfg.MaxFeedLead = DefaultConfig().MaxFeedLead
	}
	if err := cfg.Policy.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: liquidation policy: %v", err))
	}

	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		maxFeedLead:       int64(cfg.MaxFeedLead / time.Second),
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		store:             state.NewStore(),
		amm:               ammClient,
		policy:            cfg.Policy,
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		sequenceValidator: NewFeedSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		publishChan:       publishChan,
	}
}

// ProcessEvent is the main processing pipeline. A rejected event leaves
// every record, balance and AMM position exactly as it was and consumes no
// sequence number.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (Receipt, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	if c.idempotency.IsDuplicate(eventType, idempotencyKey) {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return Receipt{Sequence: c.sequence - 1, StateHash: c.hasher.Tip(), Duplicate: true}, nil
	}

	// Step 2: Oracle updates must not go back in time, nor claim a publish
	// time ahead of their arrival
	if upd, ok := evt.(*event.OraclePriceUpdate); ok {
		if upd.ReceivedAt > 0 && upd.PublishTime > upd.ReceivedAt+c.maxFeedLead {
			return c.reject(eventType, fmt.Errorf("%w: feed %s published at %d, received at %d",
				errs.ErrOracleStale, upd.FeedID, upd.PublishTime, upd.ReceivedAt))
		}
		if err := c.sequenceValidator.Check(upd.FeedID, upd.PublishTime); err != nil {
			if c.metrics != nil {
				c.metrics.OracleOutOfOrder.WithLabelValues(upd.FeedID).Inc()
			}
			return c.reject(eventType, fmt.Errorf("%w: %w", errs.ErrOracleStale, err))
		}
	}

	// Step 3: Dispatch inside a transaction, at the event's time clamped to
	// the clock
	now := max(evt.EventTime(), c.clock)
	journal := ledger.NewJournalGenerator(c.balanceTracker, idempotencyKey, c.sequence, now)
	tx := newTx(c.store, journal, c.amm.Begin(), c.amm.Pair(), c.sequence, now)

	if err := c.dispatchEvent(tx, evt); err != nil {
		tx.rollback()
		return c.reject(eventType, err)
	}

	// Step 4: Validate and apply the ledger batch
	batch := journal.Batch()
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	changes := tx.commit()
	if batch != nil {
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch after commit: %v", err))
		}
	}
	if upd, ok := evt.(*event.OraclePriceUpdate); ok {
		c.sequenceValidator.Advance(upd.FeedID, upd.PublishTime)
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(journal.Touched(), changes); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State hash
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(journal.Touched(), changes)
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Link(c.sequence, idempotencyKey, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal accepted event %s: %v", idempotencyKey, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Actor:          evt.Actor(),
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Changes:    changes,
	}

	// Step 7: Emit outputs.
	// Persistence: blocking send. The core stalls until the persistence
	// worker drains, so no accepted event is lost.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	// Projections and outbound publishing drop on full; both can be rebuilt
	// from the event log.
	c.emitNonBlocking(c.projectionChan, output, "projection")
	c.emitNonBlocking(c.publishChan, output, "publish")

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	receipt := Receipt{Sequence: c.sequence, StateHash: stateHash}
	c.sequence++
	c.clock = now

	c.recordApplied(eventType, batch, changes, start)
	return receipt, nil
}

func (c *DeterministicCore) reject(eventType string, err error) (Receipt, error) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, errs.CodeOf(err).String()).Inc()
	}
	return Receipt{}, err
}

func (c *DeterministicCore) emitNonBlocking(ch chan<- CoreOutput, output CoreOutput, name string) {
	if ch == nil {
		return
	}
	select {
	case ch <- output:
	default:
		if c.metrics != nil {
			if name == "publish" {
				c.metrics.PublishDrops.Inc()
			} else {
				c.metrics.ProjectionDrops.WithLabelValues(name).Inc()
			}
		}
	}
}

func (c *DeterministicCore) recordApplied(eventType string, batch *ledger.Batch, changes *StateChanges, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence - 1))
	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, p := range changes.Pools {
		c.metrics.PoolTotalSupplied.WithLabelValues(p.Asset).Set(float64(p.TotalSupplied))
		c.metrics.PoolTotalBorrowed.WithLabelValues(p.Asset).Set(float64(p.TotalBorrowed))
		c.metrics.PoolUtilization.WithLabelValues(p.Asset).Set(float64(p.Utilization()))
	}
	c.metrics.ActivePositions.Set(float64(len(c.store.ActiveDebtPositions())))
	c.metrics.AMMActiveBin.Set(float64(changes.ActiveBin))
}

func (c *DeterministicCore) dispatchEvent(tx *Tx, evt event.Event) error {
	switch e := evt.(type) {
	case *event.ProtocolInitialized:
		return c.handleProtocolInitialized(tx, e)
	case *event.PoolInitialized:
		return c.handlePoolInitialized(tx, e)
	case *event.CollateralRegistered:
		return c.handleCollateralRegistered(tx, e)
	case *event.CollateralUpdated:
		return c.handleCollateralUpdated(tx, e)
	case *event.PauseSet:
		return c.handlePauseSet(tx, e)
	case *event.FeedInitialized:
		return c.handleFeedInitialized(tx, e)
	case *event.OraclePriceUpdate:
		return c.handleOraclePriceUpdate(tx, e)
	case *event.AMMActiveBinMove:
		return c.handleAMMActiveBinMove(tx, e)
	case *event.WalletDeposit:
		return c.handleWalletDeposit(tx, e)
	case *event.WalletWithdrawal:
		return c.handleWalletWithdrawal(tx, e)
	case *event.CollateralDeposited:
		return c.handleCollateralDeposited(tx, e)
	case *event.CollateralWithdrawn:
		return c.handleCollateralWithdrawn(tx, e)
	case *event.LiquiditySupplied:
		return c.handleLiquiditySupplied(tx, e)
	case *event.LiquidityWithdrawn:
		return c.handleLiquidityWithdrawn(tx, e)
	case *event.PositionOpenRequested:
		return c.handlePositionOpen(tx, e)
	case *event.PositionCloseRequested:
		return c.handlePositionClose(tx, e)
	case *event.LiquidationRequested:
		return c.handleLiquidation(tx, e)
	default:
		return fmt.Errorf("unknown event type %T: %w", evt, errs.ErrInvalidAmount)
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// touched account with its balance, then every written record.
func (c *DeterministicCore) computeStateDigest(touched []ledger.AccountKey, changes *StateChanges) []byte {
	accounts := make([]ledger.AccountKey, len(touched))
	copy(accounts, touched)

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+256)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = binary.AppendUvarint(digest, uint64(len(path)))
		digest = append(digest, path...)
		digest = binary.LittleEndian.AppendUint64(digest, uint64(c.balanceTracker.GetBalance(key)))
	}

	if changes.Protocol != nil {
		digest = append(digest, 'P')
		digest = append(digest, changes.Protocol.CanonicalBytes()...)
	}
	for _, cfg := range changes.Collateral {
		digest = append(digest, 'C')
		digest = append(digest, cfg.CanonicalBytes()...)
	}
	for _, f := range changes.Feeds {
		digest = append(digest, 'F')
		digest = append(digest, feedCanonicalBytes(f)...)
	}
	for _, p := range changes.Pools {
		digest = append(digest, 'L')
		digest = append(digest, p.CanonicalBytes()...)
	}
	for _, lp := range changes.LpPositions {
		digest = append(digest, 'S')
		digest = append(digest, lp.CanonicalBytes()...)
	}
	for _, p := range changes.Positions {
		digest = append(digest, 'X')
		digest = append(digest, p.CanonicalBytes()...)
	}
	for _, k := range changes.DeletedLps {
		id := k.ID()
		digest = append(digest, 's')
		digest = append(digest, id[:]...)
	}
	for _, k := range changes.DeletedPositions {
		id := k.ID()
		digest = append(digest, 'x')
		digest = append(digest, id[:]...)
	}
	digest = append(digest, 'A')
	digest = binary.LittleEndian.AppendUint32(digest, uint32(changes.ActiveBin))

	return digest
}

func feedCanonicalBytes(f *oracle.Feed) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.AppendUvarint(buf, uint64(len(f.ID)))
	buf = append(buf, f.ID...)
	buf = append(buf, f.Authority[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, f.Price)
	buf = append(buf, f.Decimals)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Timestamp))
	return buf
}

// postCheckInvariants validates invariants after the event was applied
func (c *DeterministicCore) postCheckInvariants(touched []ledger.AccountKey, changes *StateChanges) error {
	assets := make(map[ledger.AssetID]bool)
	for _, key := range touched {
		assets[key.AssetID] = true
	}
	for assetID := range assets {
		if err := c.validator.ValidateTransientZero(assetID); err != nil {
			return fmt.Errorf("transient accounts: %w", err)
		}
	}

	if err := c.validator.ValidateAccountsNonNegative(touched); err != nil {
		return fmt.Errorf("non-negative balances: %w", err)
	}

	for _, p := range changes.Pools {
		if p.TotalBorrowed > p.TotalSupplied {
			return fmt.Errorf("pool %s: borrowed %d > supplied %d", p.Asset, p.TotalBorrowed, p.TotalSupplied)
		}
	}

	for _, p := range changes.Positions {
		if p.DebtAmount > 0 && !p.IsActive() {
			return fmt.Errorf("position %s: %s with debt %d", p.Key(), p.Status, p.DebtAmount)
		}
	}

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("zero-sum: %w", err)
	}

	return nil
}

// GetSequence returns the sequence of the last accepted event.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence - 1
}

// Clock returns the engine time in unix seconds.
func (c *DeterministicCore) Clock() int64 {
	return c.clock
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

// Balance reads a ledger balance.
func (c *DeterministicCore) Balance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// Store exposes the committed records. Callers outside the core goroutine
// must use View instead.
func (c *DeterministicCore) Store() *state.Store {
	return c.store
}

// AttachOutputs replaces the output channels. Recovery replays with the
// persist and publish channels detached, then attaches them before the
// runner starts.
func (c *DeterministicCore) AttachOutputs(persistChan, projectionChan, publishChan chan<- CoreOutput) {
	c.persistChan = persistChan
	c.projectionChan = projectionChan
	c.publishChan = publishChan
}

// AttachDBIdempotency sets the Postgres dedup tier. It is attached after
// replay, since every replayed event is already in the log.
func (c *DeterministicCore) AttachDBIdempotency(db DBIdempotencyChecker) {
	c.idempotency.dbChecker = db
}
