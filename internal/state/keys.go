package state

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// PositionKey addresses a leveraged position: one per (owner, collateral).
type PositionKey struct {
	Owner uuid.UUID
	Mint  string
}

// ID derives the stable 16-byte identifier used for the position's vault
// account, AMM reference and read-model primary key.
func (k PositionKey) ID() [16]byte {
	return deriveID("position", k.Owner, k.Mint)
}

func (k PositionKey) String() string {
	return k.Owner.String() + ":" + k.Mint
}

// Less orders keys by owner bytes then mint.
func (k PositionKey) Less(o PositionKey) bool {
	if c := compareUUID(k.Owner, o.Owner); c != 0 {
		return c < 0
	}
	return k.Mint < o.Mint
}

// LpKey addresses a liquidity provider's stake in one pool.
type LpKey struct {
	Owner uuid.UUID
	Asset string
}

func (k LpKey) ID() [16]byte {
	return deriveID("lp_position", k.Owner, k.Asset)
}

func (k LpKey) String() string {
	return k.Owner.String() + ":" + k.Asset
}

func (k LpKey) Less(o LpKey) bool {
	if c := compareUUID(k.Owner, o.Owner); c != 0 {
		return c < 0
	}
	return k.Asset < o.Asset
}

// IDString renders a derived ID as hex.
func IDString(id [16]byte) string {
	return hex.EncodeToString(id[:])
}

func deriveID(prefix string, owner uuid.UUID, asset string) [16]byte {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(owner[:])
	h.Write([]byte(asset))
	var id [16]byte
	copy(id[:], h.Sum(nil))
	return id
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
