package natives

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
	"deltavm/internal/logger"
	"deltavm/internal/metrics"
)

// Descriptor is the caller-visible form of an aggregator.
type Descriptor struct {
	Handle uint256.Int // Handle identifies the owning collection
	Key    uint256.Int // Key identifies the instance within the handle
	Limit  uint256.Int // Limit is the inclusive upper bound
}

// ID returns the aggregator identity of the descriptor.
func (d Descriptor) ID() aggregator.ID {
	return aggregator.NewID(d.Handle, d.Key)
}

// Context is the per-transaction handle through which the dispatch layer operates on aggregators.
// It owns its table and must not be shared across transactions.
type Context struct {
	ctx     context.Context         // ctx carries metric attributes
	txnHash uint256.Int             // txnHash identifies the executing transaction
	table   *aggregator.Table       // table holds the aggregators of this transaction
	deriver *aggregator.Deriver     // deriver produces keys for new aggregators
	gas     GasParameters           // gas holds the flat operation costs
	resolve aggregator.BaseResolver // resolve returns durable base values on materialization
}

// NewContext creates the aggregator context of one transaction.
// A nil deriver uses aggregator.DefaultDeriver.
func NewContext(ctx context.Context, txnHash uint256.Int, resolve aggregator.BaseResolver, deriver *aggregator.Deriver, gas GasParameters) (*Context, error) {
	if !aggregator.FitsU128(&txnHash) {
		return nil, fmt.Errorf("txn hash %s:\n%w", txnHash.Hex(), aggregator.ErrValueTooWide)
	}

	if resolve == nil {
		return nil, errors.New("nil base resolver")
	}

	if deriver == nil {
		deriver = aggregator.DefaultDeriver()
	}

	return &Context{
		ctx:     ctx,
		txnHash: txnHash,
		table:   aggregator.NewTable(),
		deriver: deriver,
		gas:     gas,
		resolve: resolve,
	}, nil
}

// TxnHash returns the transaction identity.
func (c *Context) TxnHash() uint256.Int {
	return c.txnHash
}

// Create derives a fresh key under handle and creates an aggregator in the Delta(0) state.
func (c *Context) Create(handle, limit uint256.Int) (Descriptor, Gas, error) {
	if !aggregator.FitsU128(&handle) {
		err := fmt.Errorf("handle %s:\n%w", handle.Hex(), aggregator.ErrValueTooWide)
		return Descriptor{}, c.gas.New, c.record("new", err)
	}

	id := c.deriver.Derive(&handle, &c.txnHash, c.table.NumAggregators())
	if err := c.table.CreateNew(id, limit); err != nil {
		return Descriptor{}, c.gas.New, c.record("new", err)
	}

	logger.Debug("aggregator created", "id", id, "limit", limit.Dec())

	return Descriptor{Handle: handle, Key: id.Key, Limit: limit}, c.gas.New, c.record("new", nil)
}

// Open attaches an aggregator created by an earlier transaction.
func (c *Context) Open(desc Descriptor) (Gas, error) {
	_, err := c.table.Attach(desc.ID(), desc.Limit)
	return c.gas.Open, c.record("open", err)
}

// Counter returns the counter bound to handle in this transaction, creating it on first use.
func (c *Context) Counter(handle, limit uint256.Int) (Descriptor, Gas, error) {
	if !aggregator.FitsU128(&handle) {
		err := fmt.Errorf("handle %s:\n%w", handle.Hex(), aggregator.ErrValueTooWide)
		return Descriptor{}, c.gas.New, c.record("counter", err)
	}

	agg, err := c.table.GetOrCreate(handle, limit, func(seq uint64) aggregator.ID {
		return c.deriver.Derive(&handle, &c.txnHash, seq)
	})
	if err != nil {
		return Descriptor{}, c.gas.New, c.record("counter", err)
	}

	id := agg.ID()

	return Descriptor{Handle: id.Handle, Key: id.Key, Limit: agg.Limit()}, c.gas.New, c.record("counter", nil)
}

// Add adds v to the aggregator.
func (c *Context) Add(id aggregator.ID, v uint256.Int) (Gas, error) {
	agg, err := c.table.Get(id)
	if err == nil {
		err = agg.Add(v)
	}

	return c.gas.Add, c.record("add", err)
}

// Subtract subtracts v from the aggregator.
func (c *Context) Subtract(id aggregator.ID, v uint256.Int) (Gas, error) {
	agg, err := c.table.Get(id)
	if err == nil {
		err = agg.Sub(v)
	}

	return c.gas.Sub, c.record("sub", err)
}

// Read returns the value of the aggregator, materializing it against durable state on first use.
func (c *Context) Read(id aggregator.ID) (uint256.Int, Gas, error) {
	agg, err := c.table.Get(id)
	if err != nil {
		return uint256.Int{}, c.gas.Read, c.record("read", err)
	}

	wasDelta := !agg.IsMaterialized()

	v, err := agg.ReadValue(c.resolve)
	if err != nil {
		return uint256.Int{}, c.gas.Read, c.record("read", err)
	}

	if wasDelta {
		metrics.Materializations.Add(c.ctx, 1)
	}

	return v, c.gas.Read, c.record("read", nil)
}

// Destroy removes the aggregator.
func (c *Context) Destroy(id aggregator.ID) (Gas, error) {
	return c.gas.Destroy, c.record("destroy", c.table.Remove(id))
}

// Materialized reports whether this transaction read any aggregator.
// Such a transaction depends on prior history and cannot be folded speculatively.
func (c *Context) Materialized() bool {
	return c.table.Materialized()
}

// Finish commits every aggregator of the transaction.
func (c *Context) Finish() ([]aggregator.Effect, error) {
	effects, err := c.table.Commit()
	if err != nil {
		return nil, c.record("commit", err)
	}

	return effects, nil
}

// record counts op and passes err through.
func (c *Context) record(op string, err error) error {
	kind := ""
	if err != nil {
		kind = Kind(err)
		logger.Debug("aggregator operation failed", "op", op, "kind", kind, "err", err)
	}

	metrics.RecordOp(c.ctx, op, kind)

	return err
}

// Kind classifies an aggregator error for metrics and status codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, aggregator.ErrOverflow):
		return "overflow"
	case errors.Is(err, aggregator.ErrUnderflow):
		return "underflow"
	case errors.Is(err, aggregator.ErrUnknownAggregator):
		return "unknown"
	case errors.Is(err, aggregator.ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, aggregator.ErrValueTooWide):
		return "too_wide"
	case errors.Is(err, aggregator.ErrLimitMismatch):
		return "limit_mismatch"
	default:
		return "other"
	}
}

// KeyWidth returns the width in bytes of keys derived by this context.
func (c *Context) KeyWidth() int {
	return c.deriver.KeyWidth()
}
