package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ctregions/internal/diag"
	"ctregions/pkg/pipeline"
)

// stageCmd wraps a single pipeline stage as a subcommand.
func stageCmd(use, short string, stage func(*pipeline.Runner, context.Context) (*diag.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, logger, closer, err := newRunner(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			logger.Info("starting stage", "stage", use, "run", r.RunID())
			report, err := stage(r, cmd.Context())
			printReport(cmd.OutOrStdout(), report)
			if err != nil {
				return fmt.Errorf("%s aborted: %w", use, err)
			}
			return nil
		},
	}
}

var partitionCmd = stageCmd("partition",
	"Copy each case's slices into the region roots using the boundary masks",
	(*pipeline.Runner).Partition)

var reconcileCmd = stageCmd("reconcile",
	"Backfill slices missing between bucket pairs from the reference dataset",
	(*pipeline.Runner).Reconcile)

var mergeCmd = stageCmd("merge",
	"Merge overlapping region outputs into one unified dataset",
	(*pipeline.Runner).Merge)

var extractCmd = stageCmd("extract",
	"Copy the slices of each configured organ into its own dataset",
	(*pipeline.Runner).Extract)

var combineCmd = stageCmd("combine",
	"Union organ masks into combined boundary masks",
	(*pipeline.Runner).Combine)

var previewCmd = stageCmd("preview",
	"Render an image of each case's boundary masks with the boundary planes marked",
	(*pipeline.Runner).Preview)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured stage in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, logger, closer, err := newRunner(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		logger.Info("starting run", "run", r.RunID())
		reports, err := r.All(cmd.Context())
		for _, report := range reports {
			printReport(cmd.OutOrStdout(), report)
		}
		if err != nil {
			return fmt.Errorf("run aborted: %w", err)
		}
		return nil
	},
}
