package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/review"
)

func newDecideCmd() *cobra.Command {
	var (
		runID string
		token string
	)
	cmd := &cobra.Command{
		Use:       "decide <approve|reject>",
		Short:     "Apply a human review decision to a completed run",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{review.Approve, review.Reject},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openData(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Review == nil {
				return fmt.Errorf("%w: human review is disabled (REVIEW_ENABLED)", common.ErrNotReady)
			}

			sup, err := a.Review.Decide(ctx, runID, token, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", sup.ApprovalStatus, sup.CompanyName, sup.AuditDate)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&token, "token", "", "token from the review link")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
