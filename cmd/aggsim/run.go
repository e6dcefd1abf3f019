package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deltavm/internal/api"
	"deltavm/internal/executor"
	"deltavm/internal/logger"
	"deltavm/internal/metrics"
	"deltavm/internal/natives"
	"deltavm/internal/podvm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a simulated workload",
	Args:  cobra.NoArgs,
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().Int("txs", 1000, "number of transactions")
	cobra.CheckErr(viper.BindPFlag("txs", runCmd.Flags().Lookup("txs")))

	runCmd.Flags().Int("batch", 100, "transactions per batch")
	cobra.CheckErr(viper.BindPFlag("batch", runCmd.Flags().Lookup("batch")))

	runCmd.Flags().Int("workers", 8, "parallel speculative workers")
	cobra.CheckErr(viper.BindPFlag("workers", runCmd.Flags().Lookup("workers")))

	runCmd.Flags().Int("counters", 4, "number of shared counters")
	cobra.CheckErr(viper.BindPFlag("counters", runCmd.Flags().Lookup("counters")))

	runCmd.Flags().Uint64("limit", 1_000_000, "upper bound of every counter")
	cobra.CheckErr(viper.BindPFlag("limit", runCmd.Flags().Lookup("limit")))

	runCmd.Flags().Uint64("delta", 1, "amount added by each transaction")
	cobra.CheckErr(viper.BindPFlag("delta", runCmd.Flags().Lookup("delta")))

	runCmd.Flags().Int("reader-every", 0, "make every n-th transaction read its counter (0 disables)")
	cobra.CheckErr(viper.BindPFlag("reader_every", runCmd.Flags().Lookup("reader-every")))

	runCmd.Flags().String("digest", "blake3", "key derivation digest (blake3, sha3)")
	cobra.CheckErr(viper.BindPFlag("digest", runCmd.Flags().Lookup("digest")))

	runCmd.Flags().Int("key-width", 16, "derived key width in bytes")
	cobra.CheckErr(viper.BindPFlag("key_width", runCmd.Flags().Lookup("key-width")))

	runCmd.Flags().String("metrics-addr", "", "serve /metrics, /status and /counters on this address")
	cobra.CheckErr(viper.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr")))

	runCmd.Flags().String("snapshot", "", "write a snapshot to this file when done")
	cobra.CheckErr(viper.BindPFlag("snapshot", runCmd.Flags().Lookup("snapshot")))

	runCmd.Flags().String("wasm", "", "WASM module executed at the start of every transaction")
	cobra.CheckErr(viper.BindPFlag("wasm", runCmd.Flags().Lookup("wasm")))

	runCmd.Flags().Uint64("gas-limit", 10_000_000, "gas limit of each WASM invocation")
	cobra.CheckErr(viper.BindPFlag("gas_limit", runCmd.Flags().Lookup("gas-limit")))
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deriver, err := cfg.Deriver()
	if err != nil {
		return fmt.Errorf("create deriver:\n%w", err)
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	exec := executor.New(store, deriver, natives.DefaultGasParameters(), cfg.Workers)
	work := newWorkload(cfg, deriver)

	if cfg.MetricsAddr != "" {
		if err := metrics.Init(); err != nil {
			return err
		}

		server := api.New(cfg.MetricsAddr, store, exec)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start http server:\n%w", err)
		}
		defer server.Stop()
	}

	if cfg.Wasm != "" {
		pool := podvm.New(ctx)
		defer pool.Close(ctx)

		code, err := os.ReadFile(cfg.Wasm)
		if err != nil {
			return fmt.Errorf("read wasm module:\n%w", err)
		}

		id, err := pool.Load(ctx, code)
		if err != nil {
			return fmt.Errorf("load wasm module:\n%w", err)
		}

		work.withModule(ctx, pool, id, cfg.GasLimit)
	}

	logger.Info("starting simulation",
		"txs", cfg.Txs,
		"batch", cfg.Batch,
		"workers", cfg.Workers,
		"counters", cfg.Counters,
		"digest", cfg.Digest,
		"key_width", cfg.KeyWidth,
	)

	start := time.Now()
	total := uint64(cfg.Txs)

	for from := uint64(0); from < total; from += uint64(cfg.Batch) {
		to := min(from+uint64(cfg.Batch), total)

		if _, err := exec.Execute(ctx, work.batch(from, to)); err != nil {
			return fmt.Errorf("execute batch %d:\n%w", from/uint64(cfg.Batch), err)
		}
	}

	stats := exec.Stats()
	logger.Info("simulation finished",
		"batches", stats.Batches,
		"committed", stats.Committed,
		"aborted", stats.Aborted,
		"reexecuted", stats.Reexecuted,
		logger.Timed(start),
	)

	for _, desc := range work.counters {
		v, err := store.Base(desc.ID())
		if err != nil {
			return fmt.Errorf("read counter:\n%w", err)
		}

		logger.Info("counter", "handle", desc.Handle.Dec(), "key", desc.Key.Hex(), "value", v.Dec())
	}

	if cfg.Snapshot != "" {
		data, err := store.Snapshot()
		if err != nil {
			return fmt.Errorf("create snapshot:\n%w", err)
		}

		if err := os.WriteFile(cfg.Snapshot, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot:\n%w", err)
		}

		logger.Info("snapshot written", "path", cfg.Snapshot, "bytes", len(data))
	}

	return nil
}
