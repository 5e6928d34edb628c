package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"ctregions/internal/diag"
	"ctregions/pkg/config"
	"ctregions/pkg/logging"
	"ctregions/pkg/pipeline"
)

var (
	cfgFile string
	workers int
	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "ctregions",
	Short: "Partition CT slice exports into anatomical regions",
	Long: `ctregions splits per-case CT slice exports into ordered body regions
using the first appearance of organ segmentation masks as boundaries.

The pipeline includes:
  - Boundary extraction from NIfTI organ masks
  - Region partitioning and copying of slice files per acquisition
  - Gap reconciliation between independently produced region buckets
  - Weighted merging of overlapping region outputs into one dataset`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "config.yaml", "config file (defaults are used when it does not exist)",
	)
	rootCmd.PersistentFlags().IntVar(
		&workers, "workers", 0, "number of cases processed concurrently (default: processing.workers)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFile, "log-file", "", "write logs to a rotating file (default: logging.file or stderr)",
	)

	rootCmd.AddCommand(partitionCmd, reconcileCmd, mergeCmd, extractCmd, combineCmd, previewCmd, runCmd, initConfigCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Processing.Workers = workers
	}
	if verbose {
		cfg.Logging.Verbose = true
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	return cfg, nil
}

// newRunner builds the logger and runner for a command. The returned closer
// flushes the log sink.
func newRunner(cmd *cobra.Command) (*pipeline.Runner, *slog.Logger, io.Closer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer := logging.New(logging.Options{
		File:    cfg.Logging.File,
		MaxSize: cfg.Logging.MaxSize,
		MaxAge:  cfg.Logging.MaxAge,
		Verbose: cfg.Logging.Verbose,
	})
	r, err := pipeline.NewRunner(cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}
	return r, logger, closer, nil
}

func printReport(w io.Writer, report *diag.Report) {
	if report == nil {
		return
	}
	fmt.Fprintln(w, report.Summary())
	for _, d := range report.Diagnostics() {
		fmt.Fprintf(w, "  [%s] %v\n", d.Kind, d)
	}
}
