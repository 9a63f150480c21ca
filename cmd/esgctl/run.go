package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/internal/app"
	"github.com/joseph-ayodele/esg-compliance/internal/ingest"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

func newRunCmd() *cobra.Command {
	var (
		runID      string
		configPath string
		key        string
	)
	cmd := &cobra.Command{
		Use:   "run [report.pdf]",
		Short: "Run the compliance workflow synchronously",
		Long: `Run uploads a report and its section configuration under the run id and
executes the whole workflow in this process.

Pass --key instead of a file to run a report that is already in storage.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (len(args) == 0) == (key == "") {
				return fmt.Errorf("give either a report file or --key")
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if key == "" {
				if runID == "" {
					return fmt.Errorf("--run-id is required when uploading a report")
				}
				keys := storage.Keys{RunID: runID}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				key = path.Join(strings.TrimSuffix(keys.InputsPrefix(), "/"), filepath.Base(args[0]))
				if err := a.Store.Put(ctx, key, data); err != nil {
					return err
				}
				if configPath != "" {
					raw, err := os.ReadFile(configPath)
					if err != nil {
						return err
					}
					if err := a.Store.Put(ctx, keys.Config(), raw); err != nil {
						return err
					}
				}
			}

			id, ok := ingest.ParseRunKey(key)
			if !ok {
				return fmt.Errorf("%q is not a report input key ({run_id}/inputs/*.pdf)", key)
			}
			out, err := a.Runner.Run(ctx, id, key)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %s completed: %s, audit date %s\n", id, out.Supplier.CompanyName, out.Supplier.AuditDate)
			for _, b := range out.Branches {
				if b.Err != nil {
					fmt.Fprintf(w, "  %-30s caught: %v\n", b.Section.Name, b.Err)
					continue
				}
				fmt.Fprintf(w, "  %-30s issues=%d observations=%d exact=%d fallback=%d\n",
					b.Section.Name, b.Result.Issues, b.Result.Observations, b.Result.Exact, b.Rated)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to upload the report under")
	cmd.Flags().StringVar(&configPath, "config", "", "section configuration YAML to upload with the report")
	cmd.Flags().StringVar(&key, "key", "", "storage key of an already uploaded report")
	return cmd
}
