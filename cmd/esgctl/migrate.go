package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
			if err != nil {
				return err
			}
			defer db.Close(logger)

			if err := repository.Migrate(ctx, db, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
