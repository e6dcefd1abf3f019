package aggregator

import (
	"fmt"
	"slices"

	"github.com/holiman/uint256"
)

// Table owns the aggregators touched by one transaction.
// It is not safe for concurrent use; each execution context has its own table.
type Table struct {
	aggregators map[ID]*Aggregator // aggregators holds every live aggregator
	created     map[ID]struct{}    // created holds IDs created in this context
	destroyed   map[ID]struct{}    // destroyed holds attached IDs removed in this context
	retired     map[ID]struct{}    // retired holds created IDs removed in this context
	byHandle    map[uint256.Int]ID // byHandle binds a handle to its GetOrCreate counter
	count       uint64             // count is the number of aggregators created so far
	readRemoved bool               // readRemoved is set when a materialized aggregator was removed
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		aggregators: make(map[ID]*Aggregator),
		created:     make(map[ID]struct{}),
		destroyed:   make(map[ID]struct{}),
		retired:     make(map[ID]struct{}),
		byHandle:    make(map[uint256.Int]ID),
	}
}

// NumAggregators returns how many aggregators this table has created.
// The counter never decreases, even when an aggregator is removed.
func (t *Table) NumAggregators() uint64 {
	return t.count
}

// Len returns the number of live aggregators.
func (t *Table) Len() int {
	return len(t.aggregators)
}

// CreateNew inserts a fresh aggregator in the Delta(0) state.
// An existing aggregator with the same ID is left untouched. An ID removed
// earlier in this context can never be created again.
func (t *Table) CreateNew(id ID, limit uint256.Int) error {
	if err := checkU128("limit", &limit); err != nil {
		return err
	}

	if _, exists := t.aggregators[id]; exists {
		return fmt.Errorf("create %s:\n%w", id, ErrDuplicateIdentity)
	}

	if t.removed(id) {
		return fmt.Errorf("create %s (destroyed in this context):\n%w", id, ErrDuplicateIdentity)
	}

	t.aggregators[id] = newAggregator(id, limit)
	t.created[id] = struct{}{}
	t.count++

	return nil
}

// Get returns the aggregator with the given ID.
func (t *Table) Get(id ID) (*Aggregator, error) {
	agg, ok := t.aggregators[id]
	if !ok {
		return nil, fmt.Errorf("get %s:\n%w", id, ErrUnknownAggregator)
	}

	return agg, nil
}

// Attach brings an aggregator created by an earlier transaction into this table.
// Attaching an ID already present returns the existing aggregator as long as
// the limit matches the one it was opened with.
func (t *Table) Attach(id ID, limit uint256.Int) (*Aggregator, error) {
	if err := checkU128("handle", &id.Handle); err != nil {
		return nil, err
	}

	if err := checkU128("limit", &limit); err != nil {
		return nil, err
	}

	if agg, ok := t.aggregators[id]; ok {
		if agg.limit != limit {
			return nil, fmt.Errorf("attach %s with limit %s, opened with %s:\n%w",
				id, limit.Dec(), agg.limit.Dec(), ErrLimitMismatch)
		}
		return agg, nil
	}

	if t.removed(id) {
		return nil, fmt.Errorf("attach %s (destroyed in this context):\n%w", id, ErrUnknownAggregator)
	}

	agg := newAggregator(id, limit)
	t.aggregators[id] = agg

	return agg, nil
}

// GetOrCreate returns the counter bound to handle, creating it on first use.
// derive receives the current creation counter and must return a fresh ID under handle.
func (t *Table) GetOrCreate(handle uint256.Int, limit uint256.Int, derive func(seq uint64) ID) (*Aggregator, error) {
	if id, ok := t.byHandle[handle]; ok {
		if agg, live := t.aggregators[id]; live {
			return agg, nil
		}
	}

	id := derive(t.count)
	if id.Handle != handle {
		return nil, fmt.Errorf("derived id %s outside handle %s", id, handle.Hex())
	}

	if err := t.CreateNew(id, limit); err != nil {
		return nil, err
	}

	t.byHandle[handle] = id

	return t.aggregators[id], nil
}

// Remove destroys an aggregator.
// Aggregators created in this context disappear; attached ones produce a DeleteEffect on commit.
func (t *Table) Remove(id ID) error {
	if _, ok := t.aggregators[id]; !ok {
		return fmt.Errorf("remove %s:\n%w", id, ErrUnknownAggregator)
	}

	if t.aggregators[id].IsMaterialized() {
		t.readRemoved = true
	}

	delete(t.aggregators, id)

	if _, ok := t.created[id]; ok {
		delete(t.created, id)
		t.retired[id] = struct{}{}
	} else {
		t.destroyed[id] = struct{}{}
	}

	if bound, ok := t.byHandle[id.Handle]; ok && bound == id {
		delete(t.byHandle, id.Handle)
	}

	return nil
}

func (t *Table) removed(id ID) bool {
	_, destroyed := t.destroyed[id]
	_, retired := t.retired[id]

	return destroyed || retired
}

// Materialized reports whether any aggregator in the table has been read.
func (t *Table) Materialized() bool {
	if t.readRemoved {
		return true
	}

	for _, agg := range t.aggregators {
		if agg.IsMaterialized() {
			return true
		}
	}

	return false
}

// Commit returns the effects of every aggregator, ordered by ID.
// A failing aggregator fails the whole commit; nothing is partially returned.
func (t *Table) Commit() ([]Effect, error) {
	effects := make([]Effect, 0, len(t.aggregators)+len(t.destroyed))

	for _, agg := range t.aggregators {
		effect, err := agg.Commit()
		if err != nil {
			return nil, err
		}
		effects = append(effects, effect)
	}

	for id := range t.destroyed {
		effects = append(effects, DeleteEffect{ID: id})
	}

	slices.SortFunc(effects, func(a, b Effect) int {
		return a.AggregatorID().Compare(b.AggregatorID())
	})

	return effects, nil
}
