package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
	"deltavm/internal/logger"
	"deltavm/internal/storage"
)

// Store holds the durable value of every aggregator and folds committed effects into it.
// Base is safe to call concurrently; Apply must be called by a single writer.
type Store struct {
	values *valueStore
}

// New creates a Store over the given storage.
func New(db *storage.Storage) *Store {
	return &Store{values: newValueStore(db)}
}

// Base returns the durable value of an aggregator.
// Aggregators never folded resolve to zero. It satisfies aggregator.BaseResolver.
func (s *Store) Base(id aggregator.ID) (uint256.Int, error) {
	v, _, err := s.values.get(id)
	return v, err
}

// Value returns the durable value of an aggregator and whether it exists.
func (s *Store) Value(id aggregator.ID) (uint256.Int, bool, error) {
	return s.values.get(id)
}

// Apply folds the effects of one committed transaction.
// Deltas are resolved against the current value with their limit; any failure
// aborts the whole set and nothing is written.
func (s *Store) Apply(effects []aggregator.Effect) error {
	writes, err := s.plan(effects)
	if err != nil {
		return err
	}

	if err := s.values.db.Apply(writes); err != nil {
		return fmt.Errorf("write effects:\n%w", err)
	}

	logger.Debug("applied effects", "count", len(effects))

	return nil
}

// plan resolves effects into storage writes.
// Later effects on the same ID see the values planned by earlier ones.
func (s *Store) plan(effects []aggregator.Effect) ([]storage.Write, error) {
	writes := make([]storage.Write, 0, len(effects))
	pending := make(map[aggregator.ID]*uint256.Int)

	current := func(id aggregator.ID) (uint256.Int, error) {
		if v, ok := pending[id]; ok {
			if v == nil {
				return uint256.Int{}, nil
			}
			return *v, nil
		}
		return s.Base(id)
	}

	for _, effect := range effects {
		switch e := effect.(type) {
		case aggregator.DeltaEffect:
			base, err := current(e.ID)
			if err != nil {
				return nil, fmt.Errorf("read base:\n%w", err)
			}

			v, err := aggregator.Resolve(base, e.Delta, e.Limit)
			if err != nil {
				return nil, fmt.Errorf("fold %s:\n%w", e.ID, err)
			}

			pending[e.ID] = &v
			writes = append(writes, s.values.setWrite(e.ID, &v))

		case aggregator.WriteEffect:
			v := e.Value
			pending[e.ID] = &v
			writes = append(writes, s.values.setWrite(e.ID, &v))

		case aggregator.DeleteEffect:
			pending[e.ID] = nil
			writes = append(writes, s.values.deleteWrite(e.ID))

		default:
			return nil, fmt.Errorf("unknown effect %T", effect)
		}
	}

	return writes, nil
}

// Export returns every stored aggregator value in ID order.
func (s *Store) Export() ([]Entry, error) {
	return s.values.export()
}

// Import loads entries, overwriting existing values.
func (s *Store) Import(entries []Entry) error {
	return s.values.importBatch(entries)
}
