package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/boundary"
	"ctregions/pkg/config"
	"ctregions/pkg/copier"
	"ctregions/pkg/nifti"
	"ctregions/pkg/slicefs"
)

// combineCase unions the component masks of one case. Missing components are
// reported and left out; when none load the case is skipped.
func combineCase(caseID string, job config.CombineJob, load copier.MaskLoader) ([]*diag.Error, int, int64, error) {
	var diags []*diag.Error
	var masks []*models.SegmentationMask
	for _, tmpl := range job.Masks {
		path := config.ExpandCase(tmpl, caseID)
		if !slicefs.Exists(path) {
			diags = append(diags, diag.New(diag.MissingInput, caseID, "", fmt.Errorf("component mask %s not found", path)))
			continue
		}
		m, err := load(path)
		if err != nil {
			diags = append(diags, diag.New(diag.MissingInput, caseID, "", fmt.Errorf("loading %s: %w", path, err)))
			continue
		}
		masks = append(masks, m)
	}
	if len(masks) == 0 {
		return diags, 0, 0, diag.New(diag.MissingInput, caseID, "", errors.New("no component mask could be loaded"))
	}

	combined, err := boundary.Combine(masks, boundary.DefaultThreshold)
	if err != nil {
		return diags, 0, 0, diag.New(diag.ShapeMismatch, caseID, "", err)
	}

	out := config.ExpandCase(job.Output, caseID)
	if err := slicefs.EnsureDir(filepath.Dir(out)); err != nil {
		return diags, 0, 0, err
	}
	if err := nifti.Save(out, combined, nifti.Uint8); err != nil {
		return diags, 0, 0, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return diags, 0, 0, err
	}
	return diags, 1, info.Size(), nil
}
