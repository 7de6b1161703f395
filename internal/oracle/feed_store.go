package oracle

import (
	"MetLev/internal/errs"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Feed is a push-updated price record owned by a single authority. It backs
// the in-process oracle used by the engine; external price services write to
// it through OraclePriceUpdate events.
type Feed struct {
	ID        string
	Authority uuid.UUID
	Price     uint64
	Decimals  uint8
	Timestamp int64
}

func (f *Feed) Observation() PriceFeed {
	return PriceFeed{ID: f.ID, Price: f.Price, Decimals: f.Decimals, Timestamp: f.Timestamp}
}

// Clone returns an independent copy.
func (f *Feed) Clone() *Feed {
	c := *f
	return &c
}

// NewFeed validates and builds a feed record.
func NewFeed(id string, authority uuid.UUID, price uint64, decimals uint8, ts int64) (*Feed, error) {
	if id == "" {
		return nil, fmt.Errorf("feed id is empty: %w", errs.ErrOraclePriceUnavailable)
	}
	if authority == uuid.Nil {
		return nil, fmt.Errorf("feed %q has no authority: %w", id, errs.ErrUnauthorized)
	}
	return &Feed{ID: id, Authority: authority, Price: price, Decimals: decimals, Timestamp: ts}, nil
}

// Update applies a new observation after checking the signer.
func (f *Feed) Update(signer uuid.UUID, price uint64, ts int64) error {
	if signer != f.Authority {
		return fmt.Errorf("feed %q update by %s: %w", f.ID, signer, errs.ErrUnauthorized)
	}
	f.Price = price
	f.Timestamp = ts
	return nil
}

// FeedStore holds feeds by ID. Not thread-safe; owned by the core.
type FeedStore struct {
	feeds map[string]*Feed
}

func NewFeedStore() *FeedStore {
	return &FeedStore{feeds: make(map[string]*Feed)}
}

func (s *FeedStore) Get(id string) (*Feed, bool) {
	f, ok := s.feeds[id]
	return f, ok
}

func (s *FeedStore) Set(f *Feed) {
	s.feeds[f.ID] = f
}

// Latest implements Source.
func (s *FeedStore) Latest(_ context.Context, id string) (PriceFeed, error) {
	f, ok := s.feeds[id]
	if !ok {
		return PriceFeed{}, fmt.Errorf("feed %q not found: %w", id, errs.ErrOraclePriceUnavailable)
	}
	return f.Observation(), nil
}

// All returns feeds sorted by ID.
func (s *FeedStore) All() []*Feed {
	out := make([]*Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
