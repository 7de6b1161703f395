// Package oracle reads collateral prices and rejects stale or missing data.
package oracle

import (
	"MetLev/internal/errs"
	"context"
	"fmt"
)

// PriceFeed is a single price observation. Price carries 6 decimals.
type PriceFeed struct {
	ID        string
	Price     uint64
	Decimals  uint8
	Timestamp int64 // unix seconds
}

// Source returns the latest observation for a feed. Implementations return
// errs.ErrOraclePriceUnavailable when the feed does not exist.
type Source interface {
	Latest(ctx context.Context, feedID string) (PriceFeed, error)
}

// IsStale reports whether an observation taken at ts is older than maxAge
// seconds at now. Observations from the future are never stale.
func IsStale(ts int64, maxAge uint64, now int64) bool {
	age := now - ts
	if age <= 0 {
		return false
	}
	return uint64(age) > maxAge
}

// ValidatePrice checks a feed for a zero price and for staleness.
func ValidatePrice(feed PriceFeed, maxAge uint64, now int64) error {
	if feed.Price == 0 {
		return fmt.Errorf("feed %q: zero price: %w", feed.ID, errs.ErrOraclePriceUnavailable)
	}
	if IsStale(feed.Timestamp, maxAge, now) {
		return fmt.Errorf("feed %q: age %ds exceeds %ds: %w",
			feed.ID, now-feed.Timestamp, maxAge, errs.ErrOracleStale)
	}
	return nil
}

// Reader validates every read against the caller's maximum age. It holds no
// cache: each call goes to the source.
type Reader struct {
	source Source
}

func NewReader(source Source) *Reader {
	return &Reader{source: source}
}

// Read returns a fresh, non-zero price for feedID as of now.
func (r *Reader) Read(ctx context.Context, feedID string, maxAge uint64, now int64) (PriceFeed, error) {
	if r == nil || r.source == nil {
		return PriceFeed{}, fmt.Errorf("no oracle source: %w", errs.ErrOraclePriceUnavailable)
	}
	feed, err := r.source.Latest(ctx, feedID)
	if err != nil {
		return PriceFeed{}, err
	}
	if err := ValidatePrice(feed, maxAge, now); err != nil {
		return PriceFeed{}, err
	}
	return feed, nil
}
