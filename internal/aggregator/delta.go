package aggregator

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Delta is a signed offset against an unknown base value.
// Zero is always stored as non-negative.
type Delta struct {
	negative  bool        // negative is the sign of the offset
	magnitude uint256.Int // magnitude is the absolute value of the offset
}

// PositiveDelta returns the delta +v.
func PositiveDelta(v uint256.Int) Delta {
	return Delta{magnitude: v}
}

// NegativeDelta returns the delta -v.
func NegativeDelta(v uint256.Int) Delta {
	return Delta{negative: !v.IsZero(), magnitude: v}
}

// IsNegative reports whether the delta is strictly negative.
func (d Delta) IsNegative() bool {
	return d.negative
}

// IsZero reports whether the delta is zero.
func (d Delta) IsZero() bool {
	return d.magnitude.IsZero()
}

// Magnitude returns the absolute value of the delta.
func (d Delta) Magnitude() uint256.Int {
	return d.magnitude
}

// String renders the delta with an explicit sign.
func (d Delta) String() string {
	if d.negative {
		return "-" + d.magnitude.Dec()
	}

	return "+" + d.magnitude.Dec()
}

// Merge returns d + other.
// The 256-bit magnitude only overflows after 2^128 maximal u128 operations;
// that case is reported as ErrOverflow or ErrUnderflow by sign.
func (d Delta) Merge(other Delta) (Delta, error) {
	if d.negative == other.negative {
		var sum uint256.Int
		if _, overflow := sum.AddOverflow(&d.magnitude, &other.magnitude); overflow {
			if d.negative {
				return d, fmt.Errorf("merge %s and %s:\n%w", d, other, ErrUnderflow)
			}
			return d, fmt.Errorf("merge %s and %s:\n%w", d, other, ErrOverflow)
		}

		return Delta{negative: d.negative, magnitude: sum}, nil
	}

	// Opposite signs: the larger magnitude wins the sign.
	var diff uint256.Int
	if d.magnitude.Cmp(&other.magnitude) >= 0 {
		diff.Sub(&d.magnitude, &other.magnitude)
		return Delta{negative: d.negative && !diff.IsZero(), magnitude: diff}, nil
	}

	diff.Sub(&other.magnitude, &d.magnitude)

	return Delta{negative: other.negative, magnitude: diff}, nil
}
