package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var confirmDelete bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect or delete the index",
}

var indexDescribeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show dimension, metric and vector count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		info, err := store.DescribeIndex(cmd.Context(), a.cfg.Store.Bucket, a.cfg.Store.Index)
		if err != nil {
			return fmt.Errorf("describe %s: %w", a.target(), err)
		}
		return a.print(info)
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the index and all of its vectors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		if !confirmDelete {
			return fmt.Errorf("refusing to delete %s without --yes", a.target())
		}
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteIndex(cmd.Context(), a.cfg.Store.Bucket, a.cfg.Store.Index); err != nil {
			return fmt.Errorf("delete %s: %w", a.target(), err)
		}
		fmt.Printf("Deleted index %s\n", a.target())
		return nil
	},
}

func init() {
	indexDeleteCmd.Flags().BoolVarP(&confirmDelete, "yes", "y", false, "confirm deletion")
	indexCmd.AddCommand(indexDescribeCmd, indexDeleteCmd)
}
