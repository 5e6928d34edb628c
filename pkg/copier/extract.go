package copier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/boundary"
	"ctregions/pkg/slicefs"
)

// ExtractMode selects which slices an organ extraction copies.
type ExtractMode string

const (
	// UpTo copies every slice from identity 1 through the organ's plane
	// farthest from the tail, so the whole organ is included.
	UpTo ExtractMode = "upTo"
	// Present copies only the slices in which the organ appears.
	Present ExtractMode = "present"
)

// OrganSlices returns the slice identities an extraction copies. Slice files
// are numbered from 1 at the tail plane, so tail distance d is identity d+1.
func OrganSlices(mask *models.SegmentationMask, mode ExtractMode) ([]models.SliceID, error) {
	profile, err := boundary.Profile(mask)
	if err != nil {
		return nil, err
	}

	var ids []models.SliceID
	switch mode {
	case UpTo:
		last := -1
		for d, ok := range profile {
			if ok {
				last = d
			}
		}
		if last < 0 {
			return nil, boundary.ErrUndefined
		}
		for d := 0; d <= last; d++ {
			ids = append(ids, models.SliceID(d+1))
		}
	case Present:
		for d, ok := range profile {
			if ok {
				ids = append(ids, models.SliceID(d+1))
			}
		}
		if len(ids) == 0 {
			return nil, boundary.ErrUndefined
		}
	default:
		return nil, fmt.Errorf("unknown extract mode %q", mode)
	}
	return ids, nil
}

// ExtractOrgan copies the slices selected by mode from every acquisition of
// the case into destRoot/<case>/<acquisition>. Identities without a source
// file are reported and skipped.
func (c *SliceSetCopier) ExtractOrgan(ctx context.Context, caseID, caseDir, maskPath, destRoot string, mode ExtractMode) (Stats, error) {
	stats := Stats{PerRegion: make(map[models.RegionLabel]int)}

	if !slicefs.Exists(maskPath) {
		return stats, diag.New(diag.MissingInput, caseID, "", fmt.Errorf("segmentation mask %s not found", maskPath))
	}
	mask, err := c.opts.LoadMask(maskPath)
	if err != nil {
		return stats, diag.New(diag.MissingInput, caseID, "", err)
	}
	ids, err := OrganSlices(mask, mode)
	if errors.Is(err, boundary.ErrUndefined) {
		return stats, diag.New(diag.UndefinedBoundary, caseID, "", fmt.Errorf("%s: %w", maskPath, err))
	}
	if err != nil {
		return stats, diag.New(diag.ConfigurationError, caseID, "", err)
	}

	acquisitions, err := slicefs.Dirs(caseDir, c.opts.AcquisitionPrefix)
	if err != nil {
		return stats, diag.New(diag.MissingInput, caseID, "", err)
	}

	label := models.RegionLabel(filepath.Base(destRoot))
	for _, acq := range acquisitions {
		srcDir := filepath.Join(caseDir, acq)
		dstDir := filepath.Join(destRoot, caseID, acq)
		if err := slicefs.EnsureDir(dstDir); err != nil {
			return stats, err
		}

		for _, id := range ids {
			name := c.opts.Naming.Name(id)
			src := filepath.Join(srcDir, name)
			if !slicefs.Exists(src) {
				stats.Diagnostics = append(stats.Diagnostics,
					diag.NewSlice(diag.MissingInput, caseID, acq, int(id), fmt.Errorf("%s does not exist", src)))
				continue
			}
			n, err := c.opts.Copier.Copy(ctx, src, filepath.Join(dstDir, name))
			if err != nil {
				if diag.IsFatal(err) || ctx.Err() != nil {
					return stats, err
				}
				stats.Diagnostics = append(stats.Diagnostics, diag.NewSlice(diag.MissingInput, caseID, acq, int(id), err))
				continue
			}
			stats.Files++
			stats.Bytes += n
			stats.PerRegion[label]++
		}
	}

	c.opts.Logger.Info("organ slices extracted", "case", caseID, "mask", maskPath, "mode", string(mode), "files", stats.Files)
	return stats, nil
}
