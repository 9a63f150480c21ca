package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newLoadGradingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-grading <file.csv|file.xlsx>",
		Short: "Upsert the grading reference table from a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := openData(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.Loader.Load(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d references from %s (skipped %d, keyed by %s)\n",
				sum.Rows, sum.Source, sum.Skipped, sum.KeyedBy)
			return nil
		},
	}
}
