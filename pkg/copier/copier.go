// Package copier places the slice files of a case into per-region buckets
// according to boundaries derived from organ masks.
package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/boundary"
	"ctregions/pkg/partition"
	"ctregions/pkg/slicefs"
)

// MaskLoader loads a segmentation mask from disk.
type MaskLoader func(path string) (*models.SegmentationMask, error)

// Options configures a SliceSetCopier
type Options struct {
	// Naming is the slice file convention
	Naming slicefs.Naming

	// AcquisitionPrefix selects the acquisition directories of a case
	AcquisitionPrefix string

	// Validate, when set, is run on each slice before it is copied.
	// Slices failing validation are skipped.
	Validate func(path string) error

	// Copier performs the file copies
	Copier slicefs.Copier

	// LoadMask reads organ masks
	LoadMask MaskLoader

	Logger *slog.Logger
}

// Region is one destination bucket root
type Region struct {
	Label models.RegionLabel
	Root  string
}

// Case describes one case to partition
type Case struct {
	// ID is the case directory name
	ID string

	// Dir is the case directory holding acquisition sub-directories
	Dir string

	// Masks are the boundary masks, ordered head to tail
	Masks []string

	// Regions are the destination buckets, len(Masks)+1 of them
	Regions []Region
}

// Stats summarizes what a copy run did.
type Stats struct {
	Files     int
	Bytes     int64
	PerRegion map[models.RegionLabel]int

	// Boundaries are the tail distances derived from the masks
	Boundaries []int

	// Diagnostics are the per-slice problems that were skipped over
	Diagnostics []*diag.Error
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.Bytes += o.Bytes
	for k, v := range o.PerRegion {
		s.PerRegion[k] += v
	}
	s.Diagnostics = append(s.Diagnostics, o.Diagnostics...)
}

// SliceSetCopier copies slice files into region buckets.
type SliceSetCopier struct {
	opts Options
}

// New creates a SliceSetCopier.
func New(opts Options) *SliceSetCopier {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SliceSetCopier{opts: opts}
}

// Boundaries loads the case's masks and returns their tail distances. A
// missing mask file skips the whole case before anything is copied.
func (c *SliceSetCopier) Boundaries(cs Case) ([]int, error) {
	for _, m := range cs.Masks {
		if !slicefs.Exists(m) {
			return nil, diag.New(diag.MissingInput, cs.ID, "", fmt.Errorf("segmentation mask %s not found", m))
		}
	}

	bounds := make([]int, len(cs.Masks))
	for i, m := range cs.Masks {
		mask, err := c.opts.LoadMask(m)
		if err != nil {
			return nil, diag.New(diag.MissingInput, cs.ID, "", fmt.Errorf("loading mask: %w", err))
		}
		b, err := boundary.Find(mask)
		if errors.Is(err, boundary.ErrUndefined) {
			return nil, diag.New(diag.UndefinedBoundary, cs.ID, "", fmt.Errorf("%s: %w", m, err))
		}
		if err != nil {
			return nil, diag.New(diag.MissingInput, cs.ID, "", fmt.Errorf("%s: %w", m, err))
		}
		bounds[i] = b
	}
	return bounds, nil
}

// CopyCase partitions every selected acquisition of a case into the region
// buckets. Case level problems (missing or empty masks, unordered
// boundaries) are returned as *diag.Error and nothing is copied. Per-slice
// problems are collected in Stats.Diagnostics and do not stop the case.
func (c *SliceSetCopier) CopyCase(ctx context.Context, cs Case) (Stats, error) {
	stats := Stats{PerRegion: make(map[models.RegionLabel]int)}

	bounds, err := c.Boundaries(cs)
	if err != nil {
		return stats, err
	}
	stats.Boundaries = bounds

	labels := make([]models.RegionLabel, len(cs.Regions))
	roots := make(map[models.RegionLabel]string, len(cs.Regions))
	for i, r := range cs.Regions {
		labels[i] = r.Label
		roots[r.Label] = filepath.Join(r.Root, cs.ID)
	}
	p, err := partition.New(labels, bounds)
	if err != nil {
		return stats, diag.New(diag.ConfigurationError, cs.ID, "", err)
	}

	c.opts.Logger.Info("case boundaries", "case", cs.ID, "boundaries", bounds)

	acquisitions, err := slicefs.Dirs(cs.Dir, c.opts.AcquisitionPrefix)
	if err != nil {
		return stats, diag.New(diag.MissingInput, cs.ID, "", err)
	}
	if len(acquisitions) == 0 {
		return stats, diag.New(diag.MissingInput, cs.ID, "",
			fmt.Errorf("no acquisition directories with prefix %q in %s", c.opts.AcquisitionPrefix, cs.Dir))
	}

	for _, acq := range acquisitions {
		listing, err := slicefs.List(filepath.Join(cs.Dir, acq), c.opts.Naming)
		if err != nil {
			stats.Diagnostics = append(stats.Diagnostics, diag.New(diag.MissingInput, cs.ID, acq, err))
			continue
		}
		for _, name := range listing.Malformed {
			stats.Diagnostics = append(stats.Diagnostics,
				diag.New(diag.MalformedIdentity, cs.ID, acq, fmt.Errorf("%w: %s", slicefs.ErrMalformed, name)))
		}

		dest := make(map[models.RegionLabel]string, len(roots))
		for label, root := range roots {
			dest[label] = filepath.Join(root, acq)
		}
		s, err := c.CopySlices(ctx, cs.ID, acq, listing.Slices, p.Assign, dest)
		stats.add(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// CopySlices copies each slice into the directory of the region regionOf
// assigns to it. Destination directories are created up front, so every
// region bucket exists even when it receives no slice. Existing files are
// overwritten. Only fatal errors (resource exhaustion, cancellation) are
// returned; anything else is recorded per slice.
func (c *SliceSetCopier) CopySlices(ctx context.Context, caseID, acq string, slices []models.Slice,
	regionOf func(int) models.RegionLabel, dest map[models.RegionLabel]string) (Stats, error) {

	stats := Stats{PerRegion: make(map[models.RegionLabel]int)}
	for _, dir := range dest {
		if err := slicefs.EnsureDir(dir); err != nil {
			return stats, err
		}
	}

	for _, s := range slices {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if c.opts.Validate != nil {
			if err := c.opts.Validate(s.Path); err != nil {
				stats.Diagnostics = append(stats.Diagnostics,
					diag.NewSlice(diag.MissingInput, caseID, acq, int(s.ID), err))
				continue
			}
		}

		label := regionOf(int(s.ID))
		dir, ok := dest[label]
		if !ok {
			stats.Diagnostics = append(stats.Diagnostics, diag.NewSlice(diag.ConfigurationError, caseID, acq, int(s.ID),
				fmt.Errorf("no destination for region %q", label)))
			continue
		}

		n, err := c.opts.Copier.Copy(ctx, s.Path, filepath.Join(dir, s.Name))
		if err != nil {
			if diag.IsFatal(err) || ctx.Err() != nil {
				return stats, err
			}
			stats.Diagnostics = append(stats.Diagnostics, diag.NewSlice(diag.MissingInput, caseID, acq, int(s.ID), err))
			continue
		}
		stats.Files++
		stats.Bytes += n
		stats.PerRegion[label]++
	}

	c.opts.Logger.Debug("acquisition partitioned", "case", caseID, "acquisition", acq,
		"files", stats.Files, "regions", stats.PerRegion)
	return stats, nil
}
