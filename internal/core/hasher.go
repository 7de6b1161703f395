package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "MetLev:genesis:v1"

// StateHasher chains one hash per accepted event. Each link commits to the
// previous tip, the event's identity and the digest of what it changed, so
// two replicas agree on the tip only if they accepted the same events in
// the same order with the same effects.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// GenesisHash is the chain tip before the first event.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Link extends the chain:
//
//	tip[N] = SHA-256(tip[N-1] || seq (8B LE) || len(key) (4B LE) || key || digest)
func (h *StateHasher) Link(sequence int64, idempotencyKey string, stateDigest []byte) [32]byte {
	d := sha256.New()
	d.Write(h.tip[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(sequence))
	d.Write(buf[:])

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(idempotencyKey)))
	d.Write(buf[:4])
	d.Write([]byte(idempotencyKey))

	d.Write(stateDigest)

	copy(h.tip[:], d.Sum(nil))
	return h.tip
}

// Tip returns the current chain tip.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}

// Reset moves the tip, used when restoring from a snapshot.
func (h *StateHasher) Reset(tip [32]byte) {
	h.tip = tip
}
