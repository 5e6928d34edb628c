package boundary

import (
	"errors"
	"fmt"

	"ctregions/internal/models"
)

// DefaultThreshold is the voxel value above which a component mask marks
// presence when masks are combined.
const DefaultThreshold = 0.5

// Combine unions several organ masks into one binary mask. A voxel is 1
// when any component exceeds threshold. All masks must share one shape.
func Combine(masks []*models.SegmentationMask, threshold float64) (*models.SegmentationMask, error) {
	if len(masks) == 0 {
		return nil, errors.New("no masks to combine")
	}

	first := masks[0]
	if err := first.Validate(); err != nil {
		return nil, fmt.Errorf("mask 0: %w", err)
	}
	out := models.NewVolume(first.Width, first.Height, first.Depth)
	out.VoxelSize = first.VoxelSize

	for i, m := range masks {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		if !m.SameShape(first) {
			return nil, fmt.Errorf("mask %d has shape %dx%dx%d, expected %dx%dx%d",
				i, m.Width, m.Height, m.Depth, first.Width, first.Height, first.Depth)
		}
		for j, v := range m.Data {
			if v > threshold {
				out.Data[j] = 1
			}
		}
	}
	return out, nil
}
