// Package preview renders quality-control images of region boundaries: a
// coronal projection of the boundary masks with each boundary plane marked.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"ctregions/internal/models"
)

var (
	background = color.RGBA{A: 255}
	organ      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	marker     = color.RGBA{R: 255, G: 64, B: 64, A: 255}
)

// Projection collapses the mask along y. The image is Width wide and Depth
// tall, with the tail plane (tail distance 0) on the bottom row, so row
// Depth-1-d shows tail distance d.
func Projection(mask *models.SegmentationMask) (*image.RGBA, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, mask.Width, mask.Depth))
	for z := 0; z < mask.Depth; z++ {
		for x := 0; x < mask.Width; x++ {
			c := background
			for y := 0; y < mask.Height; y++ {
				if mask.Data[mask.Index(x, y, z)] > 0 {
					c = organ
					break
				}
			}
			img.SetRGBA(x, z, c)
		}
	}
	return img, nil
}

// Render draws the projection of mask with a marker row at each boundary,
// given as tail distances.
func Render(mask *models.SegmentationMask, boundaries []int) (*image.RGBA, error) {
	img, err := Projection(mask)
	if err != nil {
		return nil, err
	}
	for _, b := range boundaries {
		if b < 0 || b >= mask.Depth {
			return nil, fmt.Errorf("boundary %d outside depth %d", b, mask.Depth)
		}
		row := mask.Depth - 1 - b
		for x := 0; x < mask.Width; x++ {
			img.SetRGBA(x, row, marker)
		}
	}
	return img, nil
}

// Save writes img as a PNG file.
func Save(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}
