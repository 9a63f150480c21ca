// Command esgctl runs and inspects compliance workflows from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/internal/app"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

var (
	verbose bool
	cfg     *common.Config
	logger  *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "esgctl",
		Short:         "Run and inspect ESG audit compliance workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			cfg = common.LoadConfig()
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		newRunCmd(),
		newClassifyCmd(),
		newLoadGradingCmd(),
		newExportCmd(),
		newDecideCmd(),
		newStatusCmd(),
		newMigrateCmd(),
	)
	return root
}

// openData connects storage and the database without the model backend.
func openData(ctx context.Context) (*app.App, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	return app.OpenData(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
