package models

import (
	"fmt"
	"path/filepath"
)

// SliceID is the numeric identity of a slice file, taken from its
// zero-padded integer stem (e.g. 00000042.DCM -> 42).
type SliceID int

// Slice is one on-disk slice file of an acquisition
type Slice struct {
	// ID is the parsed integer stem of the file name
	ID SliceID

	// Name is the file name as found on disk
	Name string

	// Path is the absolute or root-relative path to the file
	Path string
}

// Volume represents a 3D scalar volume such as a CT series or a
// segmentation mask.
type Volume struct {
	// Data is the 3D volume data as a 1D array, x varying fastest, then y, then z
	Data []float64

	// Width is the size of the volume along x in voxels
	Width int

	// Height is the size of the volume along y in voxels
	Height int

	// Depth is the number of slice planes along z
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zeroed volume of the given shape.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Plane returns the voxels of slice plane z without copying.
func (v *Volume) Plane(z int) []float64 {
	size := v.Width * v.Height
	return v.Data[z*size : (z+1)*size]
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Validate checks that Data matches the declared dimensions.
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume shape %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return fmt.Errorf("volume data has %d voxels, shape %dx%dx%d needs %d",
			len(v.Data), v.Width, v.Height, v.Depth, v.Width*v.Height*v.Depth)
	}
	return nil
}

// SegmentationMask is a Volume whose voxels mark organ presence.
// Any positive value counts as present.
type SegmentationMask = Volume

// RegionLabel names one of the ordered, contiguous body regions
// (e.g. upper, middle, lower).
type RegionLabel string

// CaseBucket is the set of slice files placed under one region for one
// case and acquisition.
type CaseBucket struct {
	// Root is the region root directory (e.g. dataset_upper)
	Root string

	// Case is the case directory name
	Case string

	// Acquisition is the acquisition sub-directory name (e.g. CT1)
	Acquisition string
}

// Dir returns the directory that holds the bucket's slice files.
func (b CaseBucket) Dir() string {
	return filepath.Join(b.Root, b.Case, b.Acquisition)
}

func (b CaseBucket) String() string {
	return fmt.Sprintf("%s/%s@%s", b.Case, b.Acquisition, b.Root)
}

// SliceImage is the decoded pixel matrix of one slice file.
type SliceImage struct {
	// Rows and Cols are the matrix dimensions
	Rows, Cols int

	// Samples is the number of samples per pixel
	Samples int

	// Pixels holds Rows*Cols*Samples values in file order
	Pixels []float64

	// Min and Max bound the integer range of the stored pixel type
	Min, Max float64

	// Carrier holds the decoder specific file content (metadata) that an
	// encoder reuses when writing new pixels
	Carrier any
}

// SameShape reports whether two images have identical dimensions.
func (s *SliceImage) SameShape(o *SliceImage) bool {
	return s.Rows == o.Rows && s.Cols == o.Cols && s.Samples == o.Samples && len(s.Pixels) == len(o.Pixels)
}
