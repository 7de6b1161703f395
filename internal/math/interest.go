// internal/math/interest.go
package math

import (
	"github.com/holiman/uint256"
)

var interestDenominator = new(uint256.Int).Mul(
	uint256.NewInt(SecondsPerYear),
	uint256.NewInt(BPSDenominator),
)

// SimpleInterest computes principal * rateBps * elapsed / (year * 10_000)
// with a 256-bit intermediate. A non-positive elapsed accrues nothing; a
// result that does not fit in 64 bits saturates.
func SimpleInterest(principal uint64, rateBps uint16, elapsed int64) uint64 {
	if elapsed <= 0 || principal == 0 || rateBps == 0 {
		return 0
	}
	num := new(uint256.Int).Mul(uint256.NewInt(principal), uint256.NewInt(uint64(rateBps)))
	num.Mul(num, uint256.NewInt(uint64(elapsed)))
	num.Div(num, interestDenominator)
	if !num.IsUint64() {
		return MaxUint64
	}
	return num.Uint64()
}

// Elapsed returns max(now - last, 0).
func Elapsed(last, now int64) int64 {
	if now <= last {
		return 0
	}
	return now - last
}
