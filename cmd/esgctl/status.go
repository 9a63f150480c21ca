package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joseph-ayodele/esg-compliance/internal/server"
)

func newStatusCmd() *cobra.Command {
	var (
		remote string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run, or list recent runs",
		Long: `Status prints the run row, its sections and the completion marker as JSON.
With --remote it asks a running esgd over gRPC instead of opening the database.
Without a run id it lists the most recent runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if remote != "" {
				if len(args) == 0 {
					return fmt.Errorf("--remote needs a run id")
				}
				conn, err := grpc.NewClient(remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
				if err != nil {
					return err
				}
				defer conn.Close()
				out, err := server.NewRunServiceClient(conn).GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(raw))
				return err
			}

			a, err := openData(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				runs, err := a.Runs.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(w, "%-24s %-10s %-22s %s %s\n", r.ID, r.Status, r.CurrentState, r.CompanyName, r.AuditDate)
				}
				return nil
			}
			view, err := a.Status.RunStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(w, view)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "esgd gRPC address, e.g. localhost:8080")
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to list when no run id is given")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
