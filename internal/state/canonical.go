package state

import (
	"encoding/binary"
)

// CanonicalBytes returns deterministic serialization for hashing
func (p *LendingPool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, p.Authority[:]...)
	buf = appendString(buf, p.Asset)
	buf = append(buf, p.Decimals)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalSupplied)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalBorrowed)
	buf = binary.LittleEndian.AppendUint16(buf, p.InterestRateBps)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.LastUpdate))
	return buf
}

// CanonicalBytes returns deterministic serialization for hashing
func (lp *LpPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, lp.Owner[:]...)
	buf = appendString(buf, lp.Asset)
	buf = binary.LittleEndian.AppendUint64(buf, lp.SuppliedAmount)
	buf = binary.LittleEndian.AppendUint64(buf, lp.InterestEarned)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(lp.LastUpdate))
	return buf
}

// CanonicalBytes returns deterministic serialization for hashing
func (c *CollateralConfig) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, c.Mint)
	buf = appendString(buf, c.Oracle)
	buf = binary.LittleEndian.AppendUint16(buf, c.MaxLTV)
	buf = binary.LittleEndian.AppendUint16(buf, c.LiquidationThreshold)
	buf = binary.LittleEndian.AppendUint16(buf, c.LiquidationPenalty)
	buf = binary.LittleEndian.AppendUint64(buf, c.MinDeposit)
	buf = binary.LittleEndian.AppendUint16(buf, c.InterestRateBps)
	buf = binary.LittleEndian.AppendUint64(buf, c.OracleMaxAge)
	buf = append(buf, c.Decimals)
	if c.Enabled {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *ProtocolConfig) CanonicalBytes() []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, p.Authority[:]...)
	if p.Paused {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
