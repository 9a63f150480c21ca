package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/constants"
)

func newExportCmd() *cobra.Command {
	var (
		runID   string
		company string
		date    string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit records of one audit to an XLSX file",
		Long: `Export selects the audit records of a company and audit date, either given
directly or taken from the supplier details of --run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openData(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if runID != "" {
				run, err := a.Runs.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				company, date = run.CompanyName, run.AuditDate
			}
			if company == "" || date == "" {
				return fmt.Errorf("need --run, or both --company and --date")
			}

			data, err := a.Export.AuditRecordsXLSX(ctx, company, date)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "take company and audit date from this run")
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&date, "date", "", "audit date, YYYY-MM-DD")
	cmd.Flags().StringVarP(&out, "out", "o", constants.ExportFile, "output file")
	return cmd
}
