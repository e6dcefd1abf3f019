package aggregator

import "errors"

var (
	// ErrDuplicateIdentity is returned when creating an aggregator whose ID is already in the table.
	ErrDuplicateIdentity = errors.New("duplicate aggregator identity")

	// ErrOverflow is returned when a value would exceed the aggregator limit.
	ErrOverflow = errors.New("aggregator overflow")

	// ErrUnderflow is returned when a value would go below zero.
	ErrUnderflow = errors.New("aggregator underflow")

	// ErrUnknownAggregator is returned when an operation references an ID the table has never seen.
	ErrUnknownAggregator = errors.New("unknown aggregator")

	// ErrLimitMismatch is returned when an aggregator is opened again with a different limit.
	ErrLimitMismatch = errors.New("aggregator limit mismatch")

	// ErrValueTooWide is returned when a u128 argument does not fit in 128 bits.
	ErrValueTooWide = errors.New("value does not fit in 128 bits")

	// ErrInvalidKeyWidth is returned when a deriver is configured with an unsupported key width.
	ErrInvalidKeyWidth = errors.New("invalid key width")
)
