// Package merge consolidates region outputs that claim the same slice
// identities into one unified dataset. Slices claimed by a single region are
// copied through; slices claimed by several are replaced by the weighted
// average of their pixel data.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/slicefs"
)

var (
	// ErrZeroWeight is returned when every weight contributing to a slice is zero.
	ErrZeroWeight = errors.New("contributing weights sum to zero")

	// ErrInvalidWeight is returned for negative, NaN or infinite weights.
	ErrInvalidWeight = errors.New("merge weight must be finite and non-negative")

	// ErrShapeMismatch is returned when contributors disagree in dimensions.
	ErrShapeMismatch = errors.New("contributor pixel arrays differ in shape")
)

// PixelCodec reads and writes the pixel matrix of a slice file.
type PixelCodec interface {
	// Decode reads the pixel matrix of the file at path
	Decode(path string) (*models.SliceImage, error)

	// Encode writes pixels to path, taking every other field from img
	Encode(path string, img *models.SliceImage, pixels []float64) error
}

// Input is one region output for a single case and acquisition.
type Input struct {
	Label models.RegionLabel

	// Dir holds the acquisition's slice files
	Dir string
}

// Request describes the merge of one case and acquisition.
type Request struct {
	Case        string
	Acquisition string

	// Inputs are ordered; the first input holding a slice supplies the
	// metadata of its merged file
	Inputs []Input

	// Weights maps region labels to their weight. Labels without an entry
	// weigh 1.0.
	Weights map[models.RegionLabel]float64

	// Output is the unified root; files land in Output/<case>/<acquisition>
	Output string
}

// Result summarizes a merge.
type Result struct {
	// Merged counts slices written from two or more contributors
	Merged int

	// Passed counts slices copied through from a single contributor
	Passed int

	Bytes int64

	// Diagnostics are the slices and inputs that were skipped
	Diagnostics []*diag.Error
}

func (r *Result) add(o Result) {
	r.Merged += o.Merged
	r.Passed += o.Passed
	r.Bytes += o.Bytes
	r.Diagnostics = append(r.Diagnostics, o.Diagnostics...)
}

type contributor struct {
	label models.RegionLabel
	slice models.Slice
}

// Merger merges region outputs.
type Merger struct {
	codec  PixelCodec
	naming slicefs.Naming
	copier slicefs.Copier
	logger *slog.Logger
}

// New creates a Merger.
func New(codec PixelCodec, naming slicefs.Naming, copier slicefs.Copier, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{codec: codec, naming: naming, copier: copier, logger: logger}
}

// UnifiedName is the file name of a slice in the unified namespace. The case
// is part of the name so that outputs of different cases never collide.
func UnifiedName(caseID, name string) string {
	return caseID + "_" + name
}

// ValidWeight reports whether w is usable as a merge weight. NaN fails every
// comparison, so the test is written to reject it.
func ValidWeight(w float64) bool {
	return w >= 0 && !math.IsInf(w, 0)
}

// WeightedAverage returns Σ wᵢ·pᵢ / Σ wᵢ over the contributing pixel arrays.
// All arrays must have the same length.
func WeightedAverage(pixels [][]float64, weights []float64) ([]float64, error) {
	if len(pixels) == 0 || len(pixels) != len(weights) {
		return nil, fmt.Errorf("need one weight per contributor, got %d arrays and %d weights", len(pixels), len(weights))
	}
	for _, w := range weights {
		if !ValidWeight(w) {
			return nil, fmt.Errorf("%w: %g", ErrInvalidWeight, w)
		}
	}
	total := floats.Sum(weights)
	if total == 0 {
		return nil, ErrZeroWeight
	}

	n := len(pixels[0])
	for _, p := range pixels[1:] {
		if len(p) != n {
			return nil, fmt.Errorf("%w: %d vs %d values", ErrShapeMismatch, len(p), n)
		}
	}
	if n == 0 {
		return []float64{}, nil
	}

	acc := mat.NewVecDense(n, nil)
	for i, p := range pixels {
		if weights[i] == 0 {
			continue
		}
		acc.AddScaledVec(acc, weights[i], mat.NewVecDense(n, p))
	}
	acc.ScaleVec(1/total, acc)
	return acc.RawVector().Data, nil
}

// Merge collects the slice identities of every input, fully listing each
// before deciding, and writes the unified acquisition. Problems with one
// slice are recorded in Result.Diagnostics and do not stop the others. The
// returned error is set for fatal failures only.
func (m *Merger) Merge(ctx context.Context, req Request) (Result, error) {
	var res Result

	byID := make(map[models.SliceID][]contributor)
	for _, in := range req.Inputs {
		listing, err := slicefs.List(in.Dir, m.naming)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.MissingInput, req.Case, req.Acquisition,
				fmt.Errorf("region %s: %w", in.Label, err)))
			continue
		}
		for _, name := range listing.Malformed {
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.MalformedIdentity, req.Case, req.Acquisition,
				fmt.Errorf("%w: %s in region %s", slicefs.ErrMalformed, name, in.Label)))
		}
		for _, s := range listing.Slices {
			byID[s.ID] = append(byID[s.ID], contributor{label: in.Label, slice: s})
		}
	}
	if len(byID) == 0 {
		return res, nil
	}

	ids := make([]models.SliceID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	outDir := filepath.Join(req.Output, req.Case, req.Acquisition)
	if err := slicefs.EnsureDir(outDir); err != nil {
		return res, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		contribs := byID[id]
		dst := filepath.Join(outDir, UnifiedName(req.Case, contribs[0].slice.Name))

		if len(contribs) == 1 {
			n, err := m.copier.Copy(ctx, contribs[0].slice.Path, dst)
			if err != nil {
				if diag.IsFatal(err) || ctx.Err() != nil {
					return res, err
				}
				res.Diagnostics = append(res.Diagnostics, diag.NewSlice(diag.MissingInput, req.Case, req.Acquisition, int(id), err))
				continue
			}
			res.Passed++
			res.Bytes += n
			continue
		}

		n, err := m.mergeSlice(contribs, req.Weights, dst)
		if err != nil {
			if diag.IsFatal(err) {
				return res, err
			}
			res.Diagnostics = append(res.Diagnostics, diag.NewSlice(kindOf(err), req.Case, req.Acquisition, int(id), err))
			continue
		}
		res.Merged++
		res.Bytes += n
	}

	m.logger.Info("acquisition merged", "case", req.Case, "acquisition", req.Acquisition,
		"merged", res.Merged, "passed", res.Passed, "skipped", len(res.Diagnostics))
	return res, nil
}

func (m *Merger) mergeSlice(contribs []contributor, table map[models.RegionLabel]float64, dst string) (int64, error) {
	weights := make([]float64, len(contribs))
	for i, c := range contribs {
		w, ok := table[c.label]
		if !ok {
			w = 1.0
		}
		weights[i] = w
	}
	for _, w := range weights {
		if !ValidWeight(w) {
			return 0, fmt.Errorf("%w: %g", ErrInvalidWeight, w)
		}
	}
	if floats.Sum(weights) == 0 {
		return 0, fmt.Errorf("%w for %d contributors", ErrZeroWeight, len(contribs))
	}

	images := make([]*models.SliceImage, len(contribs))
	pixels := make([][]float64, len(contribs))
	for i, c := range contribs {
		img, err := m.codec.Decode(c.slice.Path)
		if err != nil {
			return 0, fmt.Errorf("decoding %s from region %s: %w", c.slice.Name, c.label, err)
		}
		if i > 0 && !img.SameShape(images[0]) {
			return 0, fmt.Errorf("%w: region %s has %dx%dx%d, region %s has %dx%dx%d", ErrShapeMismatch,
				contribs[0].label, images[0].Rows, images[0].Cols, images[0].Samples,
				c.label, img.Rows, img.Cols, img.Samples)
		}
		images[i] = img
		pixels[i] = img.Pixels
	}

	avg, err := WeightedAverage(pixels, weights)
	if err != nil {
		return 0, err
	}
	if err := m.codec.Encode(dst, images[0], avg); err != nil {
		return 0, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func kindOf(err error) diag.Kind {
	switch {
	case errors.Is(err, ErrZeroWeight), errors.Is(err, ErrInvalidWeight):
		return diag.ConfigurationError
	case errors.Is(err, ErrShapeMismatch):
		return diag.ShapeMismatch
	}
	return diag.MissingInput
}

// RootInput is one region root holding <case>/<acquisition> folders.
type RootInput struct {
	Label models.RegionLabel
	Root  string
}

// MergeCase merges every acquisition that appears under at least one of the
// roots. A root lacking the case entirely is reported; the case is skipped
// only when no root holds it.
func (m *Merger) MergeCase(ctx context.Context, caseID string, roots []RootInput,
	weights map[models.RegionLabel]float64, output string) (Result, error) {

	var res Result
	acqs := make(map[string][]Input)
	found := 0
	for _, r := range roots {
		caseDir := filepath.Join(r.Root, caseID)
		dirs, err := slicefs.Dirs(caseDir, "")
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.MissingInput, caseID, "",
				fmt.Errorf("region %s: %w", r.Label, err)))
			continue
		}
		found++
		for _, d := range dirs {
			acqs[d] = append(acqs[d], Input{Label: r.Label, Dir: filepath.Join(caseDir, d)})
		}
	}
	if found == 0 {
		return res, diag.New(diag.MissingInput, caseID, "", errors.New("case not present under any region root"))
	}

	names := make([]string, 0, len(acqs))
	for n := range acqs {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, acq := range names {
		one, err := m.Merge(ctx, Request{
			Case:        caseID,
			Acquisition: acq,
			Inputs:      acqs[acq],
			Weights:     weights,
			Output:      output,
		})
		res.add(one)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}
