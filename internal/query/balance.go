package query

import (
	"MetLev/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is a user's wallet balance of one asset as projected from
// the journal.
type BalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Asset        string    `json:"asset"`
	AccountPath  string    `json:"account_path"`
	Balance      int64     `json:"balance"`
	Display      string    `json:"display,omitempty"` // set when the asset has a pool
	AsOfSequence int64     `json:"as_of_sequence"`
}

// GetBalance returns a user's wallet balance. Unknown accounts read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (resp *BalanceResponse, err error) {
	defer qs.observe("GetBalance", &err)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	assetID := ledger.RegisterAsset(asset)
	path := ledger.NewWalletKey(userID, assetID).AccountPath()
	balance, err := qs.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}

	resp = &BalanceResponse{
		UserID:       userID,
		Asset:        asset,
		AccountPath:  path,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}
	if decimals, ok, err := qs.poolDecimals(ctx, asset); err != nil {
		return nil, err
	} else if ok {
		resp.Display = FormatUnits(decimal.NewFromInt(balance), decimals)
	}
	return resp, nil
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM balances_rm WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (qs *QueryService) poolDecimals(ctx context.Context, asset string) (uint8, bool, error) {
	var decimals int16
	err := qs.db.QueryRowContext(ctx, `SELECT decimals FROM pools_rm WHERE asset = $1`, asset).Scan(&decimals)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint8(decimals), true, nil
}
