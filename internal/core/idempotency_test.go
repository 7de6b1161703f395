package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	seen map[string]bool
	err  error
	hits int
}

func (f *fakeDB) IsDuplicate(eventType, key string) (bool, error) {
	f.hits++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[eventType+"/"+key], nil
}

func TestLRU_EvictsOldestAndKeepsOrder(t *testing.T) {
	lru := NewIdempotencyLRU(3)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c")
	assert.True(t, lru.Contains("a")) // promotes a
	lru.Add("d")                      // evicts b

	assert.False(t, lru.Contains("b"))
	assert.Equal(t, int64(1), lru.Evictions())
	assert.Equal(t, []string{"c", "a", "d"}, lru.GetAllKeys())

	warm := NewIdempotencyLRU(3)
	warm.WarmFromKeys(lru.GetAllKeys())
	assert.Equal(t, lru.GetAllKeys(), warm.GetAllKeys())
}

func TestIdempotency_TwoTiers(t *testing.T) {
	db := &fakeDB{seen: map[string]bool{"WalletDeposit/old": true}}
	ic := NewIdempotencyChecker(8, db, nil)

	assert.False(t, ic.IsDuplicate("WalletDeposit", "new"))
	ic.MarkProcessed("WalletDeposit", "new")
	assert.True(t, ic.IsDuplicate("WalletDeposit", "new"))
	assert.Equal(t, 1, db.hits, "hot key must not reach the database")

	// the same key under another event type is distinct
	assert.False(t, ic.IsDuplicate("PauseSet", "new"))

	assert.True(t, ic.IsDuplicate("WalletDeposit", "old"))
	hits := db.hits
	assert.True(t, ic.IsDuplicate("WalletDeposit", "old"))
	assert.Equal(t, hits, db.hits, "database hit is cached")
}

func TestIdempotency_DBErrorIsNotDuplicate(t *testing.T) {
	ic := NewIdempotencyChecker(8, &fakeDB{err: errors.New("connection refused")}, nil)
	assert.False(t, ic.IsDuplicate("WalletDeposit", "k"))
}

func TestFeedSequenceValidator(t *testing.T) {
	v := NewFeedSequenceValidator()
	require.NoError(t, v.Check("SOL/USD", 100))
	v.Advance("SOL/USD", 100)

	require.NoError(t, v.Check("SOL/USD", 100), "republish at the same time is accepted")
	require.Error(t, v.Check("SOL/USD", 99))
	require.NoError(t, v.Check("BTC/USD", 1), "feeds are independent")

	v.Advance("SOL/USD", 50)
	assert.Equal(t, int64(100), v.GetAllFeeds()["SOL/USD"], "watermark never moves back")

	v.RestoreFeed("BTC/USD", 7)
	assert.Equal(t, []string{"BTC/USD", "SOL/USD"}, v.Feeds())
}

func TestStateHasher_Chains(t *testing.T) {
	a := NewStateHasher()
	b := NewStateHasher()
	assert.Equal(t, GenesisHash(), a.Tip())

	h1 := a.Link(1, "k1", []byte("x"))
	assert.Equal(t, h1, b.Link(1, "k1", []byte("x")))
	assert.Equal(t, h1, a.Tip())

	h2 := a.Link(2, "k2", []byte("x"))
	assert.NotEqual(t, h1, h2)

	c := NewStateHasher()
	c.Reset(h1)
	assert.Equal(t, h2, c.Link(2, "k2", []byte("x")))

	// same effects under a different event identity fork the chain
	d := NewStateHasher()
	d.Reset(h1)
	assert.NotEqual(t, h2, d.Link(2, "other", []byte("x")))
}
