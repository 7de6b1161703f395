package query

import (
	"MetLev/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueryService provides read-only access to the projection tables. All
// responses carry as_of_sequence, the projection watermark at read time.
type QueryService struct {
	db        *sql.DB
	baseAsset string
	metrics   *observability.Metrics
}

// NewQueryService returns a service reading the read models in db.
// baseAsset is the borrowed asset, used to format position debt.
func NewQueryService(db *sql.DB, baseAsset string, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, baseAsset: baseAsset, metrics: metrics}
}

// GetPosition returns the live position of owner against mint.
func (qs *QueryService) GetPosition(ctx context.Context, owner uuid.UUID, mint string) (resp *PositionResponse, err error) {
	defer qs.observe("GetPosition", &err)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := PositionResponse{Owner: owner, Mint: mint, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT position_id, collateral_amount, debt_amount, external_ref,
		       lower_bin, upper_bin, status, created_at
		FROM positions_rm
		WHERE owner = $1 AND mint = $2 AND NOT deleted
	`, owner, mint).Scan(
		&p.PositionID, &p.CollateralAmount, &p.DebtAmount, &p.ExternalRef,
		&p.LowerBin, &p.UpperBin, &p.Status, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s:%s: %w", owner, mint, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if decimals, ok, err := qs.poolDecimals(ctx, qs.baseAsset); err != nil {
		return nil, err
	} else if ok {
		p.DebtDisplay = FormatUnits(p.DebtAmount, decimals)
	}
	return &p, nil
}

// GetPositions returns every live position of owner ordered by mint.
func (qs *QueryService) GetPositions(ctx context.Context, owner uuid.UUID) (out []PositionResponse, err error) {
	defer qs.observe("GetPositions", &err)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, mint, collateral_amount, debt_amount, external_ref,
		       lower_bin, upper_bin, status, created_at
		FROM positions_rm
		WHERE owner = $1 AND NOT deleted
		ORDER BY mint
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p := PositionResponse{Owner: owner, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&p.PositionID, &p.Mint, &p.CollateralAmount, &p.DebtAmount, &p.ExternalRef,
			&p.LowerBin, &p.UpperBin, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPool returns the lending pool for asset.
func (qs *QueryService) GetPool(ctx context.Context, asset string) (resp *PoolResponse, err error) {
	defer qs.observe("GetPool", &err)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var (
		p        = PoolResponse{Asset: asset, AsOfSequence: asOfSeq}
		decimals int16
		rate     int32
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT decimals, total_supplied, total_borrowed, interest_rate_bps, last_update
		FROM pools_rm
		WHERE asset = $1
	`, asset).Scan(&decimals, &p.TotalSupplied, &p.TotalBorrowed, &rate, &p.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", asset, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.Decimals = uint8(decimals)
	p.InterestRateBps = uint16(rate)
	p.Available = decimal.Max(p.TotalSupplied.Sub(p.TotalBorrowed), decimal.Zero)
	p.SuppliedDisplay = FormatUnits(p.TotalSupplied, p.Decimals)
	p.BorrowedDisplay = FormatUnits(p.TotalBorrowed, p.Decimals)
	p.Utilization = Utilization(p.TotalSupplied, p.TotalBorrowed)
	return &p, nil
}

// GetLpPosition returns owner's stake in the asset pool.
func (qs *QueryService) GetLpPosition(ctx context.Context, owner uuid.UUID, asset string) (resp *LpPositionResponse, err error) {
	defer qs.observe("GetLpPosition", &err)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	lp := LpPositionResponse{Owner: owner, Asset: asset, AsOfSequence: asOfSeq}
	var decimals sql.NullInt16
	err = qs.db.QueryRowContext(ctx, `
		SELECT l.supplied_amount, l.interest_earned, l.last_update, p.decimals
		FROM lp_positions_rm l
		LEFT JOIN pools_rm p ON p.asset = l.asset
		WHERE l.owner = $1 AND l.asset = $2 AND NOT l.deleted
	`, owner, asset).Scan(&lp.SuppliedAmount, &lp.InterestEarned, &lp.LastUpdate, &decimals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lp position %s:%s: %w", owner, asset, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	lp.Claimable = lp.SuppliedAmount.Add(lp.InterestEarned)
	if decimals.Valid {
		lp.Display = FormatUnits(lp.Claimable, uint8(decimals.Int16))
	}
	return &lp, nil
}

// GetJournalHistory returns journal entries touching any of userID's wallet
// accounts, newest first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer qs.observe("GetJournalHistory", &err)()

	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, event_time
		FROM journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.EventTime,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum of projected balances per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("VerifyIntegrity", &err)()

	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log e1
		JOIN event_log e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM balances_rm
		GROUP BY asset
		HAVING SUM(balance) <> 0
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projection_watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// observe records one request. Use as defer qs.observe(method, &err)().
func (qs *QueryService) observe(method string, err *error) func() {
	start := time.Now()
	return func() {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryRequests.WithLabelValues(method).Inc()
		qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if *err != nil {
			code := "internal"
			if errors.Is(*err, ErrNotFound) {
				code = "not_found"
			}
			qs.metrics.QueryErrors.WithLabelValues(method, code).Inc()
		}
	}
}
