// Package pipeline drives the region steps over every case of a dataset
// with a bounded pool of case workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/config"
	"ctregions/pkg/copier"
	"ctregions/pkg/dicomio"
	"ctregions/pkg/merge"
	"ctregions/pkg/nifti"
	"ctregions/pkg/reconcile"
	"ctregions/pkg/slicefs"
)

// Runner executes pipeline stages for a configuration.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string

	naming   slicefs.Naming
	copier   slicefs.Copier
	codec    merge.PixelCodec
	loadMask copier.MaskLoader
	validate func(string) error
}

// NewRunner validates cfg and creates a Runner. Every log line of the run
// carries the same run id.
func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()

	r := &Runner{
		cfg:    cfg,
		logger: logger.With("run", runID),
		runID:  runID,
		naming: slicefs.Naming{Width: cfg.Dataset.SliceWidth, Ext: cfg.Dataset.SliceExtension},
		copier: slicefs.Copier{
			Attempts: uint(cfg.Processing.CopyAttempts),
			Delay:    cfg.Processing.CopyDelay,
		},
		codec:    dicomio.Codec{},
		loadMask: nifti.Load,
	}
	if cfg.Processing.ValidateSlices {
		r.validate = dicomio.Validate
	}
	return r, nil
}

// RunID identifies this run in logs.
func (r *Runner) RunID() string {
	return r.runID
}

// caseFunc processes one case. It returns the per-unit diagnostics and, when
// the whole case could not be processed, an error.
type caseFunc func(ctx context.Context, caseID string) (diags []*diag.Error, files int, bytes int64, err error)

// forEachCase runs fn for every case on the worker pool. Case failures are
// recorded in the report; only fatal errors stop the remaining cases.
func (r *Runner) forEachCase(ctx context.Context, report *diag.Report, cases []string, fn caseFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Processing.Workers)

	for _, c := range cases {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			diags, files, bytes, err := fn(ctx, c)
			report.AddFiles(files, bytes)
			for _, d := range diags {
				report.Add(d)
				r.logDiag(report.Stage, d)
			}

			if err != nil {
				if diag.IsFatal(err) {
					return fmt.Errorf("case %s: %w", c, err)
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				var de *diag.Error
				if !errors.As(err, &de) {
					de = diag.New(diag.MissingInput, c, "", err)
				}
				report.Add(de)
				r.logDiag(report.Stage, de)
				report.SetOutcome(c, diag.Skipped)
				return nil
			}

			if len(diags) > 0 {
				report.SetOutcome(c, diag.Partial)
			} else {
				report.SetOutcome(c, diag.Processed)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) logDiag(stage string, d *diag.Error) {
	attrs := []any{"stage", stage, "kind", d.Kind.String(), "case", d.Case}
	if d.Acquisition != "" {
		attrs = append(attrs, "acquisition", d.Acquisition)
	}
	if d.Slice >= 0 {
		attrs = append(attrs, "slice", d.Slice)
	}
	r.logger.Warn(d.Err.Error(), attrs...)
}

func (r *Runner) finish(report *diag.Report, start time.Time, err error) (*diag.Report, error) {
	r.logger.Info(report.Summary(), "elapsed", time.Since(start).Round(time.Millisecond))
	return report, err
}

// casesUnder returns the sorted union of case directories under roots.
// Roots that do not exist are ignored.
func casesUnder(roots ...string) []string {
	seen := make(map[string]bool)
	for _, root := range roots {
		dirs, err := slicefs.Dirs(root, "")
		if err != nil {
			continue
		}
		for _, d := range dirs {
			seen[d] = true
		}
	}
	cases := make([]string, 0, len(seen))
	for c := range seen {
		cases = append(cases, c)
	}
	sort.Strings(cases)
	return cases
}

// Cases lists the case directories of the dataset root, sorted by name.
func (r *Runner) Cases() ([]string, error) {
	cases, err := slicefs.Dirs(r.cfg.Dataset.Root, "")
	if err != nil {
		return nil, fmt.Errorf("listing dataset root: %w", err)
	}
	return cases, nil
}

func (r *Runner) sliceCopier() *copier.SliceSetCopier {
	return copier.New(copier.Options{
		Naming:            r.naming,
		AcquisitionPrefix: r.cfg.Dataset.AcquisitionPrefix,
		Validate:          r.validate,
		Copier:            r.copier,
		LoadMask:          r.loadMask,
		Logger:            r.logger,
	})
}

// Partition splits every case of the dataset into the configured region
// roots using the boundary masks.
func (r *Runner) Partition(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("partition")

	p := r.cfg.Partition
	if len(p.Boundaries) == 0 {
		return report, diag.New(diag.ConfigurationError, "", "", errors.New("partition needs at least one boundary"))
	}
	cases, err := r.Cases()
	if err != nil {
		return report, err
	}

	regions := make([]copier.Region, len(p.Regions))
	for i, reg := range p.Regions {
		regions[i] = copier.Region{Label: models.RegionLabel(reg.Name), Root: reg.Dir}
	}
	cp := r.sliceCopier()

	r.logger.Info("partitioning dataset", "root", r.cfg.Dataset.Root, "cases", len(cases), "regions", len(regions))
	err = r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
		masks := make([]string, len(p.Boundaries))
		for i, b := range p.Boundaries {
			masks[i] = config.ExpandCase(b.Mask, c)
		}
		stats, err := cp.CopyCase(ctx, copier.Case{
			ID:      c,
			Dir:     filepath.Join(r.cfg.Dataset.Root, c),
			Masks:   masks,
			Regions: regions,
		})
		return stats.Diagnostics, stats.Files, stats.Bytes, err
	})
	return r.finish(report, start, err)
}

// Reconcile backfills the gaps of every configured bucket pair.
func (r *Runner) Reconcile(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("reconcile")
	rec := reconcile.New(r.naming, r.copier, r.logger)

	for _, pair := range r.cfg.Reconcile.Pairs {
		cases := casesUnder(pair.A, pair.B)
		r.logger.Info("reconciling buckets", "a", pair.A, "b", pair.B, "reference", pair.Reference, "cases", len(cases))

		err := r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
			res, err := rec.ReconcileCase(ctx, c, pair.A, pair.B, pair.Reference)
			return res.Diagnostics, res.Copied, res.Bytes, err
		})
		if err != nil {
			return r.finish(report, start, err)
		}
	}
	return r.finish(report, start, nil)
}

// Merge writes the unified dataset from the configured region outputs.
func (r *Runner) Merge(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("merge")

	m := r.cfg.Merge
	if len(m.Inputs) == 0 || m.Output == "" {
		return report, diag.New(diag.ConfigurationError, "", "", errors.New("merge needs inputs and an output directory"))
	}

	roots := make([]merge.RootInput, len(m.Inputs))
	dirs := make([]string, len(m.Inputs))
	for i, in := range m.Inputs {
		roots[i] = merge.RootInput{Label: models.RegionLabel(in.Region), Root: in.Dir}
		dirs[i] = in.Dir
	}
	weights := make(map[models.RegionLabel]float64)
	for label, w := range r.cfg.Weights() {
		weights[models.RegionLabel(label)] = w
	}

	mg := merge.New(r.codec, r.naming, r.copier, r.logger)
	cases := casesUnder(dirs...)
	r.logger.Info("merging region outputs", "inputs", len(roots), "output", m.Output, "cases", len(cases))

	err := r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
		res, err := mg.MergeCase(ctx, c, roots, weights, m.Output)
		return res.Diagnostics, res.Merged + res.Passed, res.Bytes, err
	})
	return r.finish(report, start, err)
}

// Extract copies each configured organ's slices into the job's directory.
func (r *Runner) Extract(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("extract")

	cases, err := r.Cases()
	if err != nil {
		return report, err
	}
	cp := r.sliceCopier()

	for _, job := range r.cfg.Extract.Jobs {
		r.logger.Info("extracting organ slices", "organ", job.Organ, "mode", job.Mode, "dir", job.Dir)
		err := r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
			stats, err := cp.ExtractOrgan(ctx, c, filepath.Join(r.cfg.Dataset.Root, c),
				config.ExpandCase(job.Mask, c), job.Dir, copier.ExtractMode(job.Mode))
			return stats.Diagnostics, stats.Files, stats.Bytes, err
		})
		if err != nil {
			return r.finish(report, start, err)
		}
	}
	return r.finish(report, start, nil)
}

// Combine writes the union mask of every configured combine job.
func (r *Runner) Combine(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("combine")

	cases, err := r.Cases()
	if err != nil {
		return report, err
	}

	for _, job := range r.cfg.Combine.Jobs {
		err := r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
			return combineCase(c, job, r.loadMask)
		})
		if err != nil {
			return r.finish(report, start, err)
		}
	}
	return r.finish(report, start, nil)
}

// All runs every configured stage in dependency order: combined masks
// first since boundaries may refer to them, then extraction, partition with
// its preview images, reconciliation and finally the merge.
func (r *Runner) All(ctx context.Context) ([]*diag.Report, error) {
	type stage struct {
		enabled bool
		run     func(context.Context) (*diag.Report, error)
	}
	stages := []stage{
		{len(r.cfg.Combine.Jobs) > 0, r.Combine},
		{len(r.cfg.Extract.Jobs) > 0, r.Extract},
		{len(r.cfg.Partition.Boundaries) > 0, r.Partition},
		{len(r.cfg.Partition.Boundaries) > 0 && r.cfg.Preview.Dir != "", r.Preview},
		{len(r.cfg.Reconcile.Pairs) > 0, r.Reconcile},
		{len(r.cfg.Merge.Inputs) > 0 && r.cfg.Merge.Output != "", r.Merge},
	}

	var reports []*diag.Report
	for _, s := range stages {
		if !s.enabled {
			continue
		}
		report, err := s.run(ctx)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
