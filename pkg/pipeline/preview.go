package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/boundary"
	"ctregions/pkg/config"
	"ctregions/pkg/preview"
	"ctregions/pkg/slicefs"
)

// Preview renders one boundary image per case into preview.dir.
func (r *Runner) Preview(ctx context.Context) (*diag.Report, error) {
	start := time.Now()
	report := diag.NewReport("preview")

	dir := r.cfg.Preview.Dir
	if dir == "" || len(r.cfg.Partition.Boundaries) == 0 {
		return report, diag.New(diag.ConfigurationError, "", "", errors.New("preview needs preview.dir and partition boundaries"))
	}
	if err := slicefs.EnsureDir(dir); err != nil {
		return report, err
	}
	cases, err := r.Cases()
	if err != nil {
		return report, err
	}

	err = r.forEachCase(ctx, report, cases, func(ctx context.Context, c string) ([]*diag.Error, int, int64, error) {
		out := filepath.Join(dir, c+".png")
		if err := r.previewCase(c, out); err != nil {
			return nil, 0, 0, err
		}
		info, err := os.Stat(out)
		if err != nil {
			return nil, 0, 0, err
		}
		return nil, 1, info.Size(), nil
	})
	return r.finish(report, start, err)
}

func (r *Runner) previewCase(caseID, out string) error {
	var masks []*models.SegmentationMask
	var bounds []int
	for _, b := range r.cfg.Partition.Boundaries {
		path := config.ExpandCase(b.Mask, caseID)
		if !slicefs.Exists(path) {
			return diag.New(diag.MissingInput, caseID, "", fmt.Errorf("%s mask %s not found", b.Organ, path))
		}
		m, err := r.loadMask(path)
		if err != nil {
			return diag.New(diag.MissingInput, caseID, "", fmt.Errorf("loading %s: %w", path, err))
		}
		d, err := boundary.Find(m)
		if err != nil {
			return diag.New(diag.UndefinedBoundary, caseID, "", fmt.Errorf("%s: %w", b.Organ, err))
		}
		masks = append(masks, m)
		bounds = append(bounds, d)
	}

	union, err := boundary.Combine(masks, boundary.DefaultThreshold)
	if err != nil {
		return diag.New(diag.ShapeMismatch, caseID, "", err)
	}
	img, err := preview.Render(union, bounds)
	if err != nil {
		return err
	}
	return preview.Save(img, out)
}
