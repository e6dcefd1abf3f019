package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"deltavm/internal/aggregator"
	"deltavm/internal/logger"
	"deltavm/internal/metrics"
	"deltavm/internal/natives"
	"deltavm/internal/state"
)

// Transaction is one unit of work operating on aggregators through its context.
// Run must be deterministic given the values it reads: readers are executed twice.
type Transaction struct {
	Hash uint256.Int                  // Hash identifies the transaction and seeds key derivation
	Run  func(*natives.Context) error // Run performs the transaction's aggregator operations
}

// Receipt records the outcome of one transaction.
type Receipt struct {
	Hash       uint256.Int         // Hash is the transaction identity
	Committed  bool                // Committed is true when the effects were folded
	Reexecuted bool                // Reexecuted is true when the transaction read a counter
	Effects    []aggregator.Effect // Effects are the folded effects, nil when aborted
	Err        error               // Err is the abort reason
}

// Executor runs batches of transactions against a durable store.
// Transactions run speculatively in parallel; their effects are folded in batch order.
type Executor struct {
	store   *state.Store          // store holds the durable values
	deriver *aggregator.Deriver   // deriver produces keys for new aggregators
	gas     natives.GasParameters // gas holds the operation costs
	workers int                   // workers bounds speculative parallelism

	batches    atomic.Uint64 // batches counts executed batches
	committed  atomic.Uint64 // committed counts committed transactions
	aborted    atomic.Uint64 // aborted counts aborted transactions
	reexecuted atomic.Uint64 // reexecuted counts re-executed readers
}

// Stats summarizes the work done by an Executor since creation.
type Stats struct {
	Batches    uint64 `json:"batches"`
	Committed  uint64 `json:"committed"`
	Aborted    uint64 `json:"aborted"`
	Reexecuted uint64 `json:"reexecuted"`
}

// New creates an Executor. A nil deriver uses aggregator.DefaultDeriver.
func New(store *state.Store, deriver *aggregator.Deriver, gas natives.GasParameters, workers int) *Executor {
	if deriver == nil {
		deriver = aggregator.DefaultDeriver()
	}

	if workers < 1 {
		workers = 1
	}

	return &Executor{
		store:   store,
		deriver: deriver,
		gas:     gas,
		workers: workers,
	}
}

// speculation is the result of running a transaction against the pre-batch state.
type speculation struct {
	effects []aggregator.Effect
	read    bool
	err     error
}

// Execute runs txs and folds their effects into the store in order.
// A transaction that consulted durable state is re-executed against the state
// left by the transactions before it. A failing transaction is aborted without
// affecting the others. The returned error only reports cancellation.
func (e *Executor) Execute(ctx context.Context, txs []Transaction) ([]Receipt, error) {
	start := time.Now()

	specs, err := e.speculate(ctx, txs)
	if err != nil {
		return nil, err
	}

	receipts := make([]Receipt, len(txs))
	committed, reexecuted := 0, 0

	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		spec := specs[i]
		receipt := Receipt{Hash: tx.Hash}

		if spec.read {
			receipt.Reexecuted = true
			reexecuted++
			metrics.Reexecutions.Add(ctx, 1)

			spec = e.run(ctx, tx)
		}

		if spec.err == nil {
			spec.err = e.store.Apply(spec.effects)
		}

		if spec.err != nil {
			receipt.Err = spec.err
			logger.Debug("transaction aborted", "txn", tx.Hash.Hex(), "err", spec.err)
		} else {
			receipt.Committed = true
			receipt.Effects = spec.effects
			committed++
		}

		metrics.Transactions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(receipt))))
		receipts[i] = receipt
	}

	e.batches.Add(1)
	e.committed.Add(uint64(committed))
	e.aborted.Add(uint64(len(txs) - committed))
	e.reexecuted.Add(uint64(reexecuted))

	logger.Info("batch executed",
		"txs", len(txs),
		"committed", committed,
		"aborted", len(txs)-committed,
		"reexecuted", reexecuted,
		logger.Timed(start),
	)

	return receipts, nil
}

// speculate runs every transaction in parallel against the pre-batch state.
func (e *Executor) speculate(ctx context.Context, txs []Transaction) ([]speculation, error) {
	specs := make([]speculation, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, tx := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			specs[i] = e.run(gctx, tx)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("speculative execution:\n%w", err)
	}

	return specs, nil
}

// run executes tx on a fresh context and commits its table.
func (e *Executor) run(ctx context.Context, tx Transaction) speculation {
	var spec speculation

	// A read that fails its bounds check leaves nothing materialized but
	// still depended on the base value.
	resolved := false
	resolve := func(id aggregator.ID) (uint256.Int, error) {
		resolved = true
		return e.store.Base(id)
	}

	nc, err := natives.NewContext(ctx, tx.Hash, resolve, e.deriver, e.gas)
	if err != nil {
		spec.err = err
		return spec
	}

	if tx.Run == nil {
		spec.err = errors.New("transaction has no body")
		return spec
	}

	err = tx.Run(nc)
	spec.read = resolved || nc.Materialized()

	if err != nil {
		hash := nc.TxnHash()
		spec.err = fmt.Errorf("run transaction %s:\n%w", hash.Hex(), err)
		return spec
	}

	spec.effects, spec.err = nc.Finish()

	return spec
}

// Stats returns the running totals of the executor.
func (e *Executor) Stats() Stats {
	return Stats{
		Batches:    e.batches.Load(),
		Committed:  e.committed.Load(),
		Aborted:    e.aborted.Load(),
		Reexecuted: e.reexecuted.Load(),
	}
}

func outcome(r Receipt) string {
	if r.Committed {
		return "committed"
	}

	return "aborted"
}
