package aggregator

import (
	"fmt"

	"github.com/holiman/uint256"
)

// u128Bytes is the size of a big-endian u128 encoding.
const u128Bytes = 16

// U128 builds a 128-bit value from its high and low 64-bit halves.
func U128(hi, lo uint64) uint256.Int {
	return uint256.Int{lo, hi, 0, 0}
}

// FromUint64 builds a 128-bit value from a uint64.
func FromUint64(v uint64) uint256.Int {
	return uint256.Int{v, 0, 0, 0}
}

// Split returns the high and low 64-bit halves of a 128-bit value.
// The upper 128 bits are ignored; callers check FitsU128 first.
func Split(v *uint256.Int) (hi, lo uint64) {
	return v[1], v[0]
}

// FitsU128 reports whether v fits in 128 bits.
func FitsU128(v *uint256.Int) bool {
	return v[2] == 0 && v[3] == 0
}

// checkU128 returns ErrValueTooWide if v does not fit in 128 bits.
func checkU128(name string, v *uint256.Int) error {
	if !FitsU128(v) {
		return fmt.Errorf("%s %s:\n%w", name, v.Hex(), ErrValueTooWide)
	}

	return nil
}

// putU128 writes the big-endian 16-byte encoding of v into dst.
func putU128(dst []byte, v *uint256.Int) {
	b := v.Bytes32()
	copy(dst, b[32-u128Bytes:])
}
