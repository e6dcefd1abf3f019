package aggregator

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

// TestResolve_Bounds covers the edges of [0, limit].
func TestResolve_Bounds(t *testing.T) {
	limit := FromUint64(100)

	cases := []struct {
		name  string
		base  uint64
		delta Delta
		want  uint64
		err   error
	}{
		{"within", 50, PositiveDelta(FromUint64(10)), 60, nil},
		{"at limit", 90, PositiveDelta(FromUint64(10)), 100, nil},
		{"above limit", 90, PositiveDelta(FromUint64(20)), 0, ErrOverflow},
		{"to zero", 5, NegativeDelta(FromUint64(5)), 0, nil},
		{"below zero", 5, NegativeDelta(FromUint64(10)), 0, ErrUnderflow},
		{"zero delta", 42, Delta{}, 42, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(FromUint64(tc.base), tc.delta, limit)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if got != FromUint64(tc.want) {
				t.Errorf("got %s, want %d", got.Dec(), tc.want)
			}
		})
	}
}

// TestResolve_MaxU128 verifies no wraparound at the top of the u128 range.
func TestResolve_MaxU128(t *testing.T) {
	maxU128 := U128(math.MaxUint64, math.MaxUint64)

	got, err := Resolve(maxU128, PositiveDelta(uint256.Int{}), maxU128)
	if err != nil || got != maxU128 {
		t.Fatalf("expected max u128, got %s, %v", got.Hex(), err)
	}

	_, err = Resolve(maxU128, PositiveDelta(FromUint64(1)), maxU128)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// TestResolve_BaseAboveLimit verifies an out-of-bound base is still classified.
func TestResolve_BaseAboveLimit(t *testing.T) {
	_, err := Resolve(FromUint64(200), NegativeDelta(FromUint64(50)), FromUint64(100))
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// TestDelta_MergeOverflow verifies 256-bit magnitude exhaustion is classified by sign.
func TestDelta_MergeOverflow(t *testing.T) {
	huge := uint256.Int{math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64}

	if _, err := PositiveDelta(huge).Merge(PositiveDelta(FromUint64(1))); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}

	if _, err := NegativeDelta(huge).Merge(NegativeDelta(FromUint64(1))); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}
