package aggregator

import "github.com/holiman/uint256"

// Effect is what a committed aggregator hands to durable storage.
// It is one of DeltaEffect, WriteEffect or DeleteEffect.
type Effect interface {
	// AggregatorID returns the aggregator the effect applies to.
	AggregatorID() ID

	isEffect()
}

// DeltaEffect is a never-read aggregator: apply Delta to whatever base exists at fold time.
type DeltaEffect struct {
	ID    ID          // ID is the aggregator identity
	Delta Delta       // Delta is the net signed offset
	Limit uint256.Int // Limit is the inclusive upper bound checked when folding
}

// WriteEffect is a materialized aggregator: overwrite the stored value.
type WriteEffect struct {
	ID    ID          // ID is the aggregator identity
	Value uint256.Int // Value is the final value
}

// DeleteEffect removes an aggregator created by an earlier transaction.
type DeleteEffect struct {
	ID ID // ID is the aggregator identity
}

// AggregatorID implements Effect.
func (e DeltaEffect) AggregatorID() ID { return e.ID }

// AggregatorID implements Effect.
func (e WriteEffect) AggregatorID() ID { return e.ID }

// AggregatorID implements Effect.
func (e DeleteEffect) AggregatorID() ID { return e.ID }

func (DeltaEffect) isEffect()  {}
func (WriteEffect) isEffect()  {}
func (DeleteEffect) isEffect() {}
