package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/esg-compliance/internal/pdfdoc"
	"github.com/joseph-ayodele/esg-compliance/internal/sections"
)

// classify needs neither the database nor the model backend.
func newClassifyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "classify <report.pdf>",
		Short: "Show which pages each configured section matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}
			secCfg, err := sections.ParseConfig(raw)
			if err != nil {
				return err
			}
			pdf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pages, err := pdfdoc.New(logger).PageTexts(cmd.Context(), pdf)
			if err != nil {
				return err
			}
			out, err := sections.Classify(pages, secCfg)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d pages\n", len(pages))
			for _, s := range out.Sections {
				mark := " "
				if s.Selected {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %-30s clause=%-6s pages=%v\n", mark, s.Name, s.Clause, s.Pages)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "section configuration YAML")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
