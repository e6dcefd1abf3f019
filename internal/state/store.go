package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
	"deltavm/internal/storage"
)

// valueKeyPrefix is the Pebble key prefix for aggregator values.
var valueKeyPrefix = []byte("a:")

// idSize is the encoded size of an aggregator ID (handle || key).
const idSize = 64

// Entry holds an aggregator ID and its durable value.
type Entry struct {
	ID    aggregator.ID // ID is the aggregator identity
	Value uint256.Int   // Value is the last folded value
}

// valueStore stores aggregator ID -> value mappings in Pebble.
type valueStore struct {
	db *storage.Storage // db is the underlying Pebble storage
}

// newValueStore creates a value store backed by the given storage.
func newValueStore(db *storage.Storage) *valueStore {
	return &valueStore{db: db}
}

// get retrieves the value of an aggregator. Returns false if not found.
func (s *valueStore) get(id aggregator.ID) (uint256.Int, bool, error) {
	data, err := s.db.Get(s.makeKey(id))
	if err != nil {
		return uint256.Int{}, false, fmt.Errorf("get %s:\n%w", id, err)
	}

	if data == nil {
		return uint256.Int{}, false, nil
	}

	if len(data) != 32 {
		return uint256.Int{}, false, fmt.Errorf("corrupt value for %s: %d bytes", id, len(data))
	}

	var v uint256.Int
	v.SetBytes32(data)

	return v, true, nil
}

// setWrite builds the batch write storing v for id.
func (s *valueStore) setWrite(id aggregator.ID, v *uint256.Int) storage.Write {
	b := v.Bytes32()
	return storage.Write{Key: s.makeKey(id), Value: b[:]}
}

// deleteWrite builds the batch write removing id.
func (s *valueStore) deleteWrite(id aggregator.ID) storage.Write {
	return storage.Write{Key: s.makeKey(id), Delete: true}
}

// export returns all entries in key order.
func (s *valueStore) export() ([]Entry, error) {
	var entries []Entry

	err := s.db.IteratePrefix(valueKeyPrefix, func(key, value []byte) error {
		id, err := aggregator.IDFromBytes(key[len(valueKeyPrefix):])
		if err != nil {
			return err
		}

		if len(value) != 32 {
			return fmt.Errorf("corrupt value for %s: %d bytes", id, len(value))
		}

		var v uint256.Int
		v.SetBytes32(value)

		entries = append(entries, Entry{ID: id, Value: v})

		return nil
	})

	return entries, err
}

// importBatch loads entries in one atomic batch.
func (s *valueStore) importBatch(entries []Entry) error {
	writes := make([]storage.Write, len(entries))

	for i := range entries {
		writes[i] = s.setWrite(entries[i].ID, &entries[i].Value)
	}

	return s.db.Apply(writes)
}

// makeKey builds the Pebble key for an aggregator: "a:" + handle + key.
func (s *valueStore) makeKey(id aggregator.ID) []byte {
	key := make([]byte, 0, len(valueKeyPrefix)+idSize)
	key = append(key, valueKeyPrefix...)

	return append(key, id.Bytes()...)
}
