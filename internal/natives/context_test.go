package natives

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
)

// countingResolver returns base for every ID and counts calls.
type countingResolver struct {
	base  uint64
	calls int
}

func (r *countingResolver) resolve(aggregator.ID) (uint256.Int, error) {
	r.calls++
	return aggregator.FromUint64(r.base), nil
}

// newTestContext creates a context for txn 1 with default gas.
func newTestContext(t *testing.T, r *countingResolver) *Context {
	t.Helper()

	c, err := NewContext(context.Background(), aggregator.U128(0, 1), r.resolve, nil, DefaultGasParameters())
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	return c
}

// TestContext_EndToEndPureDelta creates a counter, adds twice and commits without reading.
func TestContext_EndToEndPureDelta(t *testing.T) {
	r := &countingResolver{}
	c := newTestContext(t, r)

	desc, gas, err := c.Create(aggregator.FromUint64(7), aggregator.FromUint64(1000))
	if err != nil {
		t.Fatal(err)
	}

	if gas != DefaultGasParameters().New {
		t.Errorf("expected new cost %d, got %d", DefaultGasParameters().New, gas)
	}

	if _, err := c.Add(desc.ID(), aggregator.FromUint64(400)); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Add(desc.ID(), aggregator.FromUint64(300)); err != nil {
		t.Fatal(err)
	}

	effects, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if len(effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(effects))
	}

	de, ok := effects[0].(aggregator.DeltaEffect)
	if !ok {
		t.Fatalf("expected DeltaEffect, got %T", effects[0])
	}

	if de.Delta.String() != "+700" || de.Limit != aggregator.FromUint64(1000) {
		t.Errorf("unexpected effect %s limit %s", de.Delta, de.Limit.Dec())
	}

	if r.calls != 0 {
		t.Errorf("resolver called %d times, want 0", r.calls)
	}

	if c.Materialized() {
		t.Error("no read happened")
	}
}

// TestContext_CreateDescriptor verifies the descriptor carries the derived key.
func TestContext_CreateDescriptor(t *testing.T) {
	c := newTestContext(t, &countingResolver{})
	handle := aggregator.FromUint64(7)

	first, _, err := c.Create(handle, aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	second, _, err := c.Create(handle, aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	txn := aggregator.U128(0, 1)
	d := aggregator.DefaultDeriver()

	if first.Key != d.Key(&txn, 0) || second.Key != d.Key(&txn, 1) {
		t.Error("keys should follow the creation sequence")
	}

	if first.Handle != handle || first.Limit != aggregator.FromUint64(10) {
		t.Errorf("unexpected descriptor %+v", first)
	}
}

// TestContext_ReadMaterializes verifies reads go through the resolver once.
func TestContext_ReadMaterializes(t *testing.T) {
	r := &countingResolver{base: 50}
	c := newTestContext(t, r)

	desc, _, err := c.Create(aggregator.FromUint64(1), aggregator.FromUint64(100))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Add(desc.ID(), aggregator.FromUint64(10)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		v, gas, err := c.Read(desc.ID())
		if err != nil {
			t.Fatal(err)
		}

		if v != aggregator.FromUint64(60) {
			t.Errorf("read %d: got %s, want 60", i, v.Dec())
		}

		if gas != DefaultGasParameters().Read {
			t.Errorf("unexpected read cost %d", gas)
		}
	}

	if r.calls != 1 {
		t.Errorf("resolver called %d times, want 1", r.calls)
	}

	if !c.Materialized() {
		t.Error("expected materialized context")
	}

	effects, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if we, ok := effects[0].(aggregator.WriteEffect); !ok || we.Value != aggregator.FromUint64(60) {
		t.Errorf("expected write of 60, got %#v", effects[0])
	}
}

// TestContext_ReadBounds verifies overflow and underflow surface from reads.
func TestContext_ReadBounds(t *testing.T) {
	over := newTestContext(t, &countingResolver{base: 90})
	desc, _, _ := over.Create(aggregator.FromUint64(1), aggregator.FromUint64(100))
	over.Add(desc.ID(), aggregator.FromUint64(20))

	if _, _, err := over.Read(desc.ID()); !errors.Is(err, aggregator.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}

	under := newTestContext(t, &countingResolver{base: 5})
	desc, _, _ = under.Create(aggregator.FromUint64(1), aggregator.FromUint64(100))
	under.Subtract(desc.ID(), aggregator.FromUint64(10))

	if _, _, err := under.Read(desc.ID()); !errors.Is(err, aggregator.ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}

// TestContext_UnknownAggregator verifies operations on unseen IDs fail.
func TestContext_UnknownAggregator(t *testing.T) {
	c := newTestContext(t, &countingResolver{})
	id := aggregator.NewID(aggregator.FromUint64(1), aggregator.FromUint64(2))

	if _, err := c.Add(id, aggregator.FromUint64(1)); !errors.Is(err, aggregator.ErrUnknownAggregator) {
		t.Errorf("add: expected ErrUnknownAggregator, got %v", err)
	}

	if _, err := c.Subtract(id, aggregator.FromUint64(1)); !errors.Is(err, aggregator.ErrUnknownAggregator) {
		t.Errorf("sub: expected ErrUnknownAggregator, got %v", err)
	}

	if _, _, err := c.Read(id); !errors.Is(err, aggregator.ErrUnknownAggregator) {
		t.Errorf("read: expected ErrUnknownAggregator, got %v", err)
	}

	if _, err := c.Destroy(id); !errors.Is(err, aggregator.ErrUnknownAggregator) {
		t.Errorf("destroy: expected ErrUnknownAggregator, got %v", err)
	}
}

// TestContext_Open verifies attached counters accept deltas and resolve against durable state.
func TestContext_Open(t *testing.T) {
	r := &countingResolver{base: 40}
	c := newTestContext(t, r)

	desc := Descriptor{Handle: aggregator.FromUint64(1), Key: aggregator.FromUint64(99), Limit: aggregator.FromUint64(100)}

	if _, err := c.Open(desc); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Subtract(desc.ID(), aggregator.FromUint64(15)); err != nil {
		t.Fatal(err)
	}

	v, _, err := c.Read(desc.ID())
	if err != nil {
		t.Fatal(err)
	}

	if v != aggregator.FromUint64(25) {
		t.Errorf("got %s, want 25", v.Dec())
	}

	// Open is not a creation: the next key is still derived at sequence 0.
	created, _, err := c.Create(aggregator.FromUint64(1), aggregator.FromUint64(100))
	if err != nil {
		t.Fatal(err)
	}

	txn := aggregator.U128(0, 1)
	if created.Key != aggregator.DefaultDeriver().Key(&txn, 0) {
		t.Error("open should not count as a creation")
	}
}

// TestContext_OpenValidation verifies wide handles and conflicting limits are rejected.
func TestContext_OpenValidation(t *testing.T) {
	c := newTestContext(t, &countingResolver{})

	wide := Descriptor{Handle: uint256.Int{0, 0, 1, 0}, Key: aggregator.FromUint64(1), Limit: aggregator.FromUint64(10)}
	if _, err := c.Open(wide); !errors.Is(err, aggregator.ErrValueTooWide) {
		t.Errorf("wide handle: expected ErrValueTooWide, got %v", err)
	}

	desc := Descriptor{Handle: aggregator.FromUint64(1), Key: aggregator.FromUint64(1), Limit: aggregator.FromUint64(10)}
	if _, err := c.Open(desc); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Open(desc); err != nil {
		t.Errorf("reopen with the same limit: %v", err)
	}

	other := desc
	other.Limit = aggregator.FromUint64(20)

	_, err := c.Open(other)
	if !errors.Is(err, aggregator.ErrLimitMismatch) {
		t.Fatalf("expected ErrLimitMismatch, got %v", err)
	}

	if Kind(err) != "limit_mismatch" {
		t.Errorf("Kind = %q, want limit_mismatch", Kind(err))
	}

	// The counter keeps the limit it was first opened with.
	if _, err := c.Add(desc.ID(), aggregator.FromUint64(15)); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Finish(); !errors.Is(err, aggregator.ErrOverflow) {
		t.Errorf("expected ErrOverflow against the original limit, got %v", err)
	}
}

// TestContext_DestroyCreated verifies a created counter cannot be revived after destroy.
func TestContext_DestroyCreated(t *testing.T) {
	c := newTestContext(t, &countingResolver{})

	desc, _, err := c.Create(aggregator.FromUint64(2), aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Destroy(desc.ID()); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Open(desc); !errors.Is(err, aggregator.ErrUnknownAggregator) {
		t.Errorf("expected ErrUnknownAggregator, got %v", err)
	}

	effects, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if len(effects) != 0 {
		t.Errorf("expected no effects, got %d", len(effects))
	}
}

// TestContext_Counter verifies one counter per handle.
func TestContext_Counter(t *testing.T) {
	c := newTestContext(t, &countingResolver{})
	handle := aggregator.FromUint64(5)

	a, _, err := c.Counter(handle, aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	b, _, err := c.Counter(handle, aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Error("expected the same counter")
	}

	// A later Create under the same handle must not collide with the counter.
	created, _, err := c.Create(handle, aggregator.FromUint64(10))
	if err != nil {
		t.Fatal(err)
	}

	if created.Key == a.Key {
		t.Error("create reused the counter key")
	}
}

// TestContext_Destroy verifies destroying an opened counter yields a delete effect.
func TestContext_Destroy(t *testing.T) {
	c := newTestContext(t, &countingResolver{})
	desc := Descriptor{Handle: aggregator.FromUint64(1), Key: aggregator.FromUint64(2), Limit: aggregator.FromUint64(3)}

	if _, err := c.Open(desc); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Destroy(desc.ID()); err != nil {
		t.Fatal(err)
	}

	effects, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if len(effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(effects))
	}

	if _, ok := effects[0].(aggregator.DeleteEffect); !ok {
		t.Errorf("expected DeleteEffect, got %T", effects[0])
	}
}

// TestNewContext_Validation verifies wide hashes and nil resolvers are rejected.
func TestNewContext_Validation(t *testing.T) {
	r := &countingResolver{}

	wide := uint256.Int{0, 0, 1, 0}
	if _, err := NewContext(context.Background(), wide, r.resolve, nil, GasParameters{}); !errors.Is(err, aggregator.ErrValueTooWide) {
		t.Errorf("expected ErrValueTooWide, got %v", err)
	}

	if _, err := NewContext(context.Background(), uint256.Int{}, nil, nil, GasParameters{}); err == nil {
		t.Error("expected error for nil resolver")
	}
}

// TestKind covers error classification.
func TestKind(t *testing.T) {
	cases := map[error]string{
		nil:                             "",
		aggregator.ErrOverflow:          "overflow",
		aggregator.ErrUnderflow:         "underflow",
		aggregator.ErrUnknownAggregator: "unknown",
		aggregator.ErrDuplicateIdentity: "duplicate",
		aggregator.ErrValueTooWide:      "too_wide",
		aggregator.ErrLimitMismatch:     "limit_mismatch",
		errors.New("boom"):              "other",
	}

	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
