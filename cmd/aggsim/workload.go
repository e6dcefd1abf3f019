package main

import (
	"context"

	"github.com/holiman/uint256"

	"deltavm/internal/aggregator"
	"deltavm/internal/config"
	"deltavm/internal/executor"
	"deltavm/internal/natives"
	"deltavm/internal/podvm"
)

// workload generates simulator transactions over a fixed set of counters.
type workload struct {
	counters    []natives.Descriptor         // counters are the shared counters, created at genesis
	delta       uint256.Int                  // delta is added by every transaction
	readerEvery uint64                       // readerEvery makes every n-th transaction read its counter
	module      func(*natives.Context) error // module optionally runs a WASM module first
}

// newWorkload derives the shared counters from the zero transaction hash.
func newWorkload(cfg *config.Config, deriver *aggregator.Deriver) *workload {
	var genesis uint256.Int

	counters := make([]natives.Descriptor, cfg.Counters)
	for i := range counters {
		counters[i] = natives.Descriptor{
			Handle: aggregator.FromUint64(uint64(i) + 1),
			Key:    deriver.Key(&genesis, uint64(i)),
			Limit:  aggregator.FromUint64(cfg.Limit),
		}
	}

	return &workload{
		counters:    counters,
		delta:       aggregator.FromUint64(cfg.Delta),
		readerEvery: uint64(cfg.ReaderEvery),
	}
}

// withModule runs the loaded module at the start of every transaction.
func (w *workload) withModule(ctx context.Context, pool *podvm.Pool, id [32]byte, gasLimit uint64) {
	w.module = func(nc *natives.Context) error {
		inv, err := podvm.NewInvocation(nc, gasLimit)
		if err != nil {
			return err
		}

		return pool.Execute(ctx, id, inv)
	}
}

// transaction returns the seq-th transaction of the workload.
// Sequence numbers start at zero; hashes start at one so none collides with genesis.
func (w *workload) transaction(seq uint64) executor.Transaction {
	desc := w.counters[seq%uint64(len(w.counters))]
	reader := w.readerEvery > 0 && (seq+1)%w.readerEvery == 0

	return executor.Transaction{
		Hash: aggregator.FromUint64(seq + 1),
		Run: func(c *natives.Context) error {
			if w.module != nil {
				if err := w.module(c); err != nil {
					return err
				}
			}

			if _, err := c.Open(desc); err != nil {
				return err
			}

			if _, err := c.Add(desc.ID(), w.delta); err != nil {
				return err
			}

			if reader {
				_, _, err := c.Read(desc.ID())
				return err
			}

			return nil
		},
	}
}

// batch returns the transactions numbered [from, to).
func (w *workload) batch(from, to uint64) []executor.Transaction {
	txs := make([]executor.Transaction, 0, to-from)
	for seq := from; seq < to; seq++ {
		txs = append(txs, w.transaction(seq))
	}

	return txs
}
