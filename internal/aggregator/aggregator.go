package aggregator

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BaseResolver returns the last durable value of an aggregator.
type BaseResolver func(id ID) (uint256.Int, error)

// state is either deltaState or materializedState.
type state interface {
	isState()
}

// deltaState holds an offset against an unknown base.
type deltaState struct {
	delta Delta
}

// materializedState holds a concrete value in [0, limit].
type materializedState struct {
	value uint256.Int
}

func (deltaState) isState()        {}
func (materializedState) isState() {}

// Aggregator is a counter mutated through commutative deltas.
// Bounds are only checked once the value is materialized.
type Aggregator struct {
	id    ID          // id is the aggregator identity
	limit uint256.Int // limit is the inclusive upper bound
	state state       // state is deltaState until the first read
}

// newAggregator creates an aggregator in the Delta(0) state.
func newAggregator(id ID, limit uint256.Int) *Aggregator {
	return &Aggregator{
		id:    id,
		limit: limit,
		state: deltaState{},
	}
}

// ID returns the aggregator identity.
func (a *Aggregator) ID() ID {
	return a.id
}

// Limit returns the inclusive upper bound.
func (a *Aggregator) Limit() uint256.Int {
	return a.limit
}

// IsMaterialized reports whether the value has been resolved against a base.
func (a *Aggregator) IsMaterialized() bool {
	_, ok := a.state.(materializedState)
	return ok
}

// Delta returns the pending offset, or false once materialized.
func (a *Aggregator) Delta() (Delta, bool) {
	s, ok := a.state.(deltaState)
	return s.delta, ok
}

// Add merges +v. Materialized values are bound-checked immediately.
func (a *Aggregator) Add(v uint256.Int) error {
	if err := checkU128("add", &v); err != nil {
		return err
	}

	switch s := a.state.(type) {
	case deltaState:
		merged, err := s.delta.Merge(PositiveDelta(v))
		if err != nil {
			return fmt.Errorf("add to %s:\n%w", a.id, err)
		}
		a.state = deltaState{delta: merged}

	case materializedState:
		var sum uint256.Int
		_, overflow := sum.AddOverflow(&s.value, &v)
		if overflow || sum.Gt(&a.limit) {
			return fmt.Errorf("add %s to %s (value %s, limit %s):\n%w", v.Dec(), a.id, s.value.Dec(), a.limit.Dec(), ErrOverflow)
		}
		a.state = materializedState{value: sum}

	default:
		panic(fmt.Sprintf("unexpected aggregator state %T", s))
	}

	return nil
}

// Sub merges -v. Materialized values are bound-checked immediately.
func (a *Aggregator) Sub(v uint256.Int) error {
	if err := checkU128("subtract", &v); err != nil {
		return err
	}

	switch s := a.state.(type) {
	case deltaState:
		merged, err := s.delta.Merge(NegativeDelta(v))
		if err != nil {
			return fmt.Errorf("subtract from %s:\n%w", a.id, err)
		}
		a.state = deltaState{delta: merged}

	case materializedState:
		if v.Gt(&s.value) {
			return fmt.Errorf("subtract %s from %s (value %s):\n%w", v.Dec(), a.id, s.value.Dec(), ErrUnderflow)
		}

		var diff uint256.Int
		diff.Sub(&s.value, &v)
		a.state = materializedState{value: diff}

	default:
		panic(fmt.Sprintf("unexpected aggregator state %T", s))
	}

	return nil
}

// ReadValue returns the current value, resolving the pending delta on first use.
// resolve is called at most once per aggregator; a failed resolution leaves the state unchanged.
func (a *Aggregator) ReadValue(resolve BaseResolver) (uint256.Int, error) {
	switch s := a.state.(type) {
	case materializedState:
		return s.value, nil

	case deltaState:
		base, err := resolve(a.id)
		if err != nil {
			return uint256.Int{}, fmt.Errorf("resolve base of %s:\n%w", a.id, err)
		}

		value, err := Resolve(base, s.delta, a.limit)
		if err != nil {
			return uint256.Int{}, fmt.Errorf("materialize %s:\n%w", a.id, err)
		}

		a.state = materializedState{value: value}

		return value, nil

	default:
		panic(fmt.Sprintf("unexpected aggregator state %T", s))
	}
}

// Commit returns the effect of this aggregator on durable state.
func (a *Aggregator) Commit() (Effect, error) {
	switch s := a.state.(type) {
	case deltaState:
		if err := checkDelta(s.delta, &a.limit); err != nil {
			return nil, fmt.Errorf("commit %s:\n%w", a.id, err)
		}

		return DeltaEffect{ID: a.id, Delta: s.delta, Limit: a.limit}, nil

	case materializedState:
		return WriteEffect{ID: a.id, Value: s.value}, nil

	default:
		panic(fmt.Sprintf("unexpected aggregator state %T", s))
	}
}
