package aggregator

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Resolve applies delta to base and checks the result against [0, limit].
// The sum is computed in 256 bits so both directions are detected before any truncation.
func Resolve(base uint256.Int, delta Delta, limit uint256.Int) (uint256.Int, error) {
	var result uint256.Int

	if delta.IsNegative() {
		if delta.magnitude.Gt(&base) {
			return uint256.Int{}, fmt.Errorf("base %s %s:\n%w", base.Dec(), delta, ErrUnderflow)
		}

		result.Sub(&base, &delta.magnitude)
	} else {
		_, overflow := result.AddOverflow(&base, &delta.magnitude)
		if overflow || result.Gt(&limit) {
			return uint256.Int{}, fmt.Errorf("base %s %s exceeds limit %s:\n%w", base.Dec(), delta, limit.Dec(), ErrOverflow)
		}
	}

	// A negative delta on an out-of-bound base can still land above the limit.
	if result.Gt(&limit) {
		return uint256.Int{}, fmt.Errorf("base %s %s exceeds limit %s:\n%w", base.Dec(), delta, limit.Dec(), ErrOverflow)
	}

	return result, nil
}

// checkDelta fails if no base in [0, limit] can absorb delta.
func checkDelta(delta Delta, limit *uint256.Int) error {
	if !delta.magnitude.Gt(limit) {
		return nil
	}

	if delta.IsNegative() {
		return fmt.Errorf("delta %s below any base under limit %s:\n%w", delta, limit.Dec(), ErrUnderflow)
	}

	return fmt.Errorf("delta %s above limit %s:\n%w", delta, limit.Dec(), ErrOverflow)
}
