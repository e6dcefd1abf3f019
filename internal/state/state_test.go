package state

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
	"deltavm/internal/storage"
)

// newTestStore creates a Store over in-memory storage.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return New(db)
}

// testID builds an ID from small integers.
func testID(handle, key uint64) aggregator.ID {
	return aggregator.NewID(aggregator.FromUint64(handle), aggregator.FromUint64(key))
}

// mustValue reads a value and fails if it is missing.
func mustValue(t *testing.T, s *Store, id aggregator.ID) uint256.Int {
	t.Helper()

	v, ok, err := s.Value(id)
	if err != nil {
		t.Fatalf("Value(%s) failed: %v", id, err)
	}

	if !ok {
		t.Fatalf("Value(%s) missing", id)
	}

	return v
}

// TestStore_BaseMissing verifies unknown aggregators resolve to zero.
func TestStore_BaseMissing(t *testing.T) {
	s := newTestStore(t)

	v, err := s.Base(testID(1, 1))
	if err != nil {
		t.Fatal(err)
	}

	if !v.IsZero() {
		t.Errorf("expected 0, got %s", v.Dec())
	}
}

// TestStore_ApplyDelta verifies deltas fold onto the stored value.
func TestStore_ApplyDelta(t *testing.T) {
	s := newTestStore(t)
	id := testID(1, 1)
	limit := aggregator.FromUint64(1000)

	err := s.Apply([]aggregator.Effect{
		aggregator.DeltaEffect{ID: id, Delta: aggregator.PositiveDelta(aggregator.FromUint64(700)), Limit: limit},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Apply([]aggregator.Effect{
		aggregator.DeltaEffect{ID: id, Delta: aggregator.NegativeDelta(aggregator.FromUint64(200)), Limit: limit},
	})
	if err != nil {
		t.Fatal(err)
	}

	if v := mustValue(t, s, id); v != aggregator.FromUint64(500) {
		t.Errorf("expected 500, got %s", v.Dec())
	}
}

// TestStore_ApplyOrderIndependent verifies delta-only transactions fold to the same value in any order.
func TestStore_ApplyOrderIndependent(t *testing.T) {
	id := testID(2, 2)
	limit := aggregator.FromUint64(100)

	txs := [][]aggregator.Effect{
		{aggregator.DeltaEffect{ID: id, Delta: aggregator.PositiveDelta(aggregator.FromUint64(30)), Limit: limit}},
		{aggregator.DeltaEffect{ID: id, Delta: aggregator.NegativeDelta(aggregator.FromUint64(10)), Limit: limit}},
		{aggregator.DeltaEffect{ID: id, Delta: aggregator.PositiveDelta(aggregator.FromUint64(25)), Limit: limit}},
	}

	forward := newTestStore(t)
	backward := newTestStore(t)

	for i := range txs {
		if err := forward.Apply(txs[i]); err != nil {
			t.Fatal(err)
		}
	}

	// Backward order: +25, -10, +30 stays within [0, 100] throughout.
	for i := len(txs) - 1; i >= 0; i-- {
		if err := backward.Apply(txs[i]); err != nil {
			t.Fatal(err)
		}
	}

	if mustValue(t, forward, id) != mustValue(t, backward, id) {
		t.Error("fold order changed the result")
	}
}

// TestStore_ApplyAtomic verifies a failing effect prevents every write of the set.
func TestStore_ApplyAtomic(t *testing.T) {
	s := newTestStore(t)
	a, b := testID(1, 1), testID(1, 2)

	err := s.Apply([]aggregator.Effect{
		aggregator.WriteEffect{ID: a, Value: aggregator.FromUint64(5)},
		aggregator.DeltaEffect{ID: b, Delta: aggregator.NegativeDelta(aggregator.FromUint64(1)), Limit: aggregator.FromUint64(10)},
	})
	if !errors.Is(err, aggregator.ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}

	if _, ok, _ := s.Value(a); ok {
		t.Error("write from failed set should not land")
	}
}

// TestStore_ApplyOverflow verifies the fold-time bound check.
func TestStore_ApplyOverflow(t *testing.T) {
	s := newTestStore(t)
	id := testID(3, 3)
	limit := aggregator.FromUint64(100)

	if err := s.Apply([]aggregator.Effect{aggregator.WriteEffect{ID: id, Value: aggregator.FromUint64(90)}}); err != nil {
		t.Fatal(err)
	}

	effects := []aggregator.Effect{
		aggregator.DeltaEffect{ID: id, Delta: aggregator.PositiveDelta(aggregator.FromUint64(20)), Limit: limit},
	}

	if err := s.Apply(effects); !errors.Is(err, aggregator.ErrOverflow) {
		t.Errorf("Apply: expected ErrOverflow, got %v", err)
	}

	if v := mustValue(t, s, id); v != aggregator.FromUint64(90) {
		t.Errorf("value changed to %s", v.Dec())
	}
}

// TestStore_ApplyDelete verifies delete effects remove values.
func TestStore_ApplyDelete(t *testing.T) {
	s := newTestStore(t)
	id := testID(4, 4)

	if err := s.Apply([]aggregator.Effect{aggregator.WriteEffect{ID: id, Value: aggregator.FromUint64(1)}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Apply([]aggregator.Effect{aggregator.DeleteEffect{ID: id}}); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := s.Value(id); ok {
		t.Error("value should be deleted")
	}
}

// TestStore_ExportOrdered verifies export walks IDs in order.
func TestStore_ExportOrdered(t *testing.T) {
	s := newTestStore(t)

	var effects []aggregator.Effect
	for _, k := range []uint64{5, 1, 3} {
		effects = append(effects, aggregator.WriteEffect{ID: testID(1, k), Value: aggregator.FromUint64(k * 10)})
	}

	if err := s.Apply(effects); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	for i, k := range []uint64{1, 3, 5} {
		if entries[i].ID != testID(1, k) || entries[i].Value != aggregator.FromUint64(k*10) {
			t.Errorf("entry %d = %s:%s", i, entries[i].ID, entries[i].Value.Dec())
		}
	}
}
