// Package boundary converts segmentation masks into slice boundary indices.
//
// All indices produced here are measured from the tail of the stack: plane
// z of a volume with depth D sits at tail distance D-1-z. Head relative
// offsets are derived with HeadIndex rather than by scanning a second time.
package boundary

import (
	"errors"
	"fmt"

	"ctregions/internal/models"
)

// ErrUndefined is returned when a mask has no positive voxel, so no
// boundary can be derived from it.
var ErrUndefined = errors.New("mask has no positive voxel")

// Profile reports, for every tail distance d, whether the plane at that
// distance contains a positive voxel. A plane is present when its voxel sum
// is greater than zero; mask values are not thresholded otherwise.
func Profile(mask *models.SegmentationMask) ([]bool, error) {
	if err := mask.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mask: %w", err)
	}

	present := make([]bool, mask.Depth)
	for d := 0; d < mask.Depth; d++ {
		z := mask.Depth - 1 - d
		sum := 0.0
		for _, v := range mask.Plane(z) {
			sum += v
		}
		present[d] = sum > 0
	}
	return present, nil
}

// Find returns the tail distance of the first present plane met when
// scanning from the tail toward the head. With several disjoint positive
// runs the run nearest the tail wins.
func Find(mask *models.SegmentationMask) (int, error) {
	present, err := Profile(mask)
	if err != nil {
		return 0, err
	}
	for d, ok := range present {
		if ok {
			return d, nil
		}
	}
	return 0, ErrUndefined
}

// HeadIndex converts a tail distance into a head relative plane index.
func HeadIndex(depth, tail int) int {
	return depth - 1 - tail
}
