package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/config"
)

var writeConfig bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the bucket and index",
	Long: `Creates the configured bucket and index if they do not exist. An existing
index is checked against the configured dimension and distance metric.

With --write-config, the effective settings (without secrets) are saved to
the config file when it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&writeConfig, "write-config", false, "save the effective settings to the config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	spec, err := a.cfg.IndexSpec()
	if err != nil {
		return err
	}
	info, err := store.EnsureIndex(ctx, spec)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", a.target(), err)
	}

	if writeConfig {
		path := configPath
		if path == "" {
			path = config.DefaultFile
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := config.Save(path, a.cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if a.table() {
				fmt.Printf("Wrote %s\n", path)
			}
		}
	}

	if a.table() {
		fmt.Println("RAG pipeline initialized")
		fmt.Printf("  Backend: %s\n", a.cfg.Store.Backend)
	}
	if err := a.print(info); err != nil {
		return err
	}

	if a.cfg.Embedding.Provider == config.ProviderLocal {
		if _, err := os.Stat(a.cfg.Embedding.ModelDir); errors.Is(err, os.ErrNotExist) && a.table() {
			fmt.Println()
			fmt.Printf("Tip: no model found in %s. Run: rag model install\n", a.cfg.Embedding.ModelDir)
		}
	}
	return nil
}
