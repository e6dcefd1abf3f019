package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deltavm/internal/config"
	"deltavm/internal/logger"
	"deltavm/internal/state"
	"deltavm/internal/storage"
)

const shortDescription = "aggsim - aggregator execution simulator"

const longDescription = `
aggsim runs batches of transactions that update bounded counters through
commutative deltas, folding their effects into a pebble-backed store.
`

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "aggsim",
		Short:         shortDescription,
		Long:          longDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.PersistentFlags().String("log-level", "info", "logging level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.PersistentFlags().String("data", "data", "data directory path")
	cobra.CheckErr(viper.BindPFlag("data_path", rootCmd.PersistentFlags().Lookup("data")))

	rootCmd.PersistentFlags().Bool("in-memory", false, "keep state in memory instead of on disk")
	cobra.CheckErr(viper.BindPFlag("in_memory", rootCmd.PersistentFlags().Lookup("in-memory")))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
}

func initConfig() {
	viper.SetEnvPrefix("AGGSIM")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
	}
}

func main() {
	logger.Init()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openStore opens the storage selected by cfg.
func openStore(cfg *config.Config) (*storage.Storage, *state.Store, error) {
	var (
		db  *storage.Storage
		err error
	)

	if cfg.InMemory {
		db, err = storage.NewInMemory()
	} else {
		db, err = storage.New(cfg.DataPath)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("open storage:\n%w", err)
	}

	return db, state.New(db), nil
}
