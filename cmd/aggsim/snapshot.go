package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deltavm/internal/logger"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <file>",
	Short: "Write a compressed snapshot of every counter value",
	Args:  cobra.ExactArgs(1),
	RunE:  writeSnapshot,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Load counter values from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  restoreSnapshot,
}

func writeSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("create snapshot:\n%w", err)
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	logger.Info("snapshot written", "path", args[0], "bytes", len(data))

	return nil
}

func restoreSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := store.Restore(data)
	if err != nil {
		return fmt.Errorf("restore snapshot:\n%w", err)
	}

	logger.Info("snapshot restored", "path", args[0], "entries", n)

	return nil
}
