package projection

import (
	"MetLev/internal/core"
	"MetLev/internal/ledger"
	"MetLev/internal/observability"
	"MetLev/internal/persistence"
	"MetLev/internal/state"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const workerID = "main"

// ProjectionWorker keeps the Postgres read models in step with the core.
// The projection channel drops on full, so the read models are eventually
// consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

// LastSequence is the last sequence this worker applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply writes one output's record changes and balance moves in a single
// transaction, then advances the watermark.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if ch := output.Changes; ch != nil {
		for _, p := range ch.Pools {
			if err := upsertPool(ctx, tx, p, seq); err != nil {
				return fmt.Errorf("pool projection: %w", err)
			}
		}
		for _, lp := range ch.LpPositions {
			if err := upsertLp(ctx, tx, lp, seq); err != nil {
				return fmt.Errorf("lp projection: %w", err)
			}
		}
		for _, key := range ch.DeletedLps {
			if _, err := tx.ExecContext(ctx, `
				UPDATE lp_positions_rm SET deleted = TRUE, last_sequence = $2, updated_at = NOW()
				WHERE lp_id = $1
			`, state.IDString(key.ID()), seq); err != nil {
				return fmt.Errorf("lp delete: %w", err)
			}
		}
		for _, p := range ch.Positions {
			if err := upsertPosition(ctx, tx, p, seq); err != nil {
				return fmt.Errorf("position projection: %w", err)
			}
		}
		for _, key := range ch.DeletedPositions {
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions_rm SET deleted = TRUE, last_sequence = $2, updated_at = NOW()
				WHERE position_id = $1
			`, state.IDString(key.ID()), seq); err != nil {
				return fmt.Errorf("position delete: %w", err)
			}
		}
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := updateBalance(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("read_models").Observe(time.Since(start).Seconds())
	}
	return nil
}

func upsertPool(ctx context.Context, tx *sql.Tx, p *state.LendingPool, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pools_rm (asset, decimals, total_supplied, total_borrowed, interest_rate_bps, last_update, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset) DO UPDATE SET
			total_supplied = EXCLUDED.total_supplied,
			total_borrowed = EXCLUDED.total_borrowed,
			interest_rate_bps = EXCLUDED.interest_rate_bps,
			last_update = EXCLUDED.last_update,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE pools_rm.last_sequence < EXCLUDED.last_sequence
	`, p.Asset, int16(p.Decimals), decimal.NewFromUint64(p.TotalSupplied), decimal.NewFromUint64(p.TotalBorrowed),
		int32(p.InterestRateBps), p.LastUpdate, seq)
	return err
}

func upsertLp(ctx context.Context, tx *sql.Tx, lp *state.LpPosition, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lp_positions_rm (lp_id, owner, asset, supplied_amount, interest_earned, last_update, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lp_id) DO UPDATE SET
			supplied_amount = EXCLUDED.supplied_amount,
			interest_earned = EXCLUDED.interest_earned,
			last_update = EXCLUDED.last_update,
			deleted = FALSE,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE lp_positions_rm.last_sequence < EXCLUDED.last_sequence
	`, state.IDString(lp.Key().ID()), lp.Owner, lp.Asset,
		decimal.NewFromUint64(lp.SuppliedAmount), decimal.NewFromUint64(lp.InterestEarned), lp.LastUpdate, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *state.Position, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions_rm
			(position_id, owner, mint, collateral_amount, debt_amount, external_ref,
			 lower_bin, upper_bin, status, created_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (position_id) DO UPDATE SET
			collateral_amount = EXCLUDED.collateral_amount,
			debt_amount = EXCLUDED.debt_amount,
			external_ref = EXCLUDED.external_ref,
			lower_bin = EXCLUDED.lower_bin,
			upper_bin = EXCLUDED.upper_bin,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			deleted = FALSE,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE positions_rm.last_sequence < EXCLUDED.last_sequence
	`, state.IDString(p.Key().ID()), p.Owner, p.CollateralMint,
		decimal.NewFromUint64(p.CollateralAmount), decimal.NewFromUint64(p.DebtAmount), p.ExternalRef,
		p.LowerBin, p.UpperBin, p.Status.String(), p.CreatedAt, seq)
	return err
}

// updateBalance applies one journal: the debit account gains, the credit
// account loses.
func updateBalance(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	asset, _ := ledger.GetAssetName(j.AssetID)
	for _, leg := range []struct {
		path  string
		delta int64
	}{
		{j.DebitAccount.AccountPath(), j.Amount},
		{j.CreditAccount.AccountPath(), -j.Amount},
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances_rm (account_path, asset, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path)
			DO UPDATE SET balance = balances_rm.balance + $3, last_sequence = $4, updated_at = NOW()
		`, leg.path, asset, leg.delta, seq); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild truncates the read models and replays the whole event log through
// a fresh core, applying every output synchronously. newCore must build a
// core configured like the live one and wired to the given projection
// channel.
func Rebuild(ctx context.Context, db *sql.DB, newCore func(projection chan<- core.CoreOutput) *core.DeterministicCore) error {
	for _, stmt := range []string{
		`TRUNCATE positions_rm`,
		`TRUNCATE pools_rm`,
		`TRUNCATE lp_positions_rm`,
		`TRUNCATE balances_rm`,
		`DELETE FROM projection_watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	outputs := make(chan core.CoreOutput, 1)
	c := newCore(outputs)
	worker := NewProjectionWorker(db, nil, nil)
	sm := persistence.NewSnapshotManager(db)

	const batchSize = 1000
	from := int64(1)
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			evt, err := persistence.DecodeEvent(row)
			if err != nil {
				return err
			}
			if _, err := c.ProcessEvent(evt); err != nil {
				return fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
			select {
			case out := <-outputs:
				if err := worker.Apply(ctx, out); err != nil {
					return fmt.Errorf("apply seq %d: %w", row.Sequence, err)
				}
			default:
				return fmt.Errorf("replay seq %d produced no output", row.Sequence)
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	worker.logger.Info().Int64("sequence", c.GetSequence()).Msg("projection rebuild complete")
	return nil
}
