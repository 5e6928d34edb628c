// Package dicomio decodes and re-encodes the pixel data of single-frame,
// natively encoded DICOM slices.
package dicomio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctregions/internal/models"
)

// ErrUnsupported is returned for pixel encodings the codec cannot rewrite.
var ErrUnsupported = errors.New("unsupported pixel data")

// Validate parses path as DICOM without its pixel data. It is used to skip
// unreadable slices before they are copied.
func Validate(path string) error {
	if _, err := dicom.ParseFile(path, nil, dicom.SkipPixelData()); err != nil {
		return fmt.Errorf("failed to parse DICOM file %s: %v", path, err)
	}
	return nil
}

// sampleKind identifies the Go type backing the native frame.
type sampleKind int

const (
	kindUint8 sampleKind = iota
	kindUint16
	kindInt16
	kindUint32
	kindInt32
)

// carrier keeps everything needed to write the slice back.
type carrier struct {
	ds   dicom.Dataset
	kind sampleKind
	// signed marks 16 or 32 bit data stored in an unsigned frame with
	// PixelRepresentation 1
	signed bool
	bits   int
}

// Codec reads pixel matrices from DICOM files and writes merged pixels back
// using the decoded file as the metadata carrier.
type Codec struct{}

// Decode reads the pixel matrix of the slice at path.
func (Codec) Decode(path string) (*models.SliceImage, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file %s: %v", path, err)
	}

	rows, err := intTag(ds, tag.Rows)
	if err != nil {
		return nil, err
	}
	cols, err := intTag(ds, tag.Columns)
	if err != nil {
		return nil, err
	}
	samples, err := intTag(ds, tag.SamplesPerPixel)
	if err != nil {
		samples = 1
	}
	pixelRep, err := intTag(ds, tag.PixelRepresentation)
	if err != nil {
		pixelRep = 0
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s: no pixel data: %v", path, err)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if info.IsEncapsulated {
		return nil, fmt.Errorf("%w: %s has encapsulated pixel data", ErrUnsupported, path)
	}
	if len(info.Frames) != 1 {
		return nil, fmt.Errorf("%w: %s has %d frames", ErrUnsupported, path, len(info.Frames))
	}
	fr := info.Frames[0]
	if fr.Encapsulated {
		return nil, fmt.Errorf("%w: %s has an encapsulated frame", ErrUnsupported, path)
	}

	c := &carrier{ds: ds, signed: pixelRep == 1}
	img := &models.SliceImage{Rows: rows, Cols: cols, Samples: samples, Carrier: c}

	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		c.kind, c.bits = kindUint8, 8
		img.Pixels = toFloat(nf.RawData)
		img.Min, img.Max = 0, math.MaxUint8
	case *frame.NativeFrame[uint16]:
		c.kind, c.bits = kindUint16, 16
		if c.signed {
			img.Pixels = make([]float64, len(nf.RawData))
			for i, v := range nf.RawData {
				img.Pixels[i] = float64(int16(v))
			}
			img.Min, img.Max = math.MinInt16, math.MaxInt16
		} else {
			img.Pixels = toFloat(nf.RawData)
			img.Min, img.Max = 0, math.MaxUint16
		}
	case *frame.NativeFrame[int16]:
		c.kind, c.bits = kindInt16, 16
		img.Pixels = toFloat(nf.RawData)
		img.Min, img.Max = math.MinInt16, math.MaxInt16
	case *frame.NativeFrame[uint32]:
		c.kind, c.bits = kindUint32, 32
		if c.signed {
			img.Pixels = make([]float64, len(nf.RawData))
			for i, v := range nf.RawData {
				img.Pixels[i] = float64(int32(v))
			}
			img.Min, img.Max = math.MinInt32, math.MaxInt32
		} else {
			img.Pixels = toFloat(nf.RawData)
			img.Min, img.Max = 0, math.MaxUint32
		}
	case *frame.NativeFrame[int32]:
		c.kind, c.bits = kindInt32, 32
		img.Pixels = toFloat(nf.RawData)
		img.Min, img.Max = math.MinInt32, math.MaxInt32
	default:
		return nil, fmt.Errorf("%w: %s has native frame type %T", ErrUnsupported, path, fr.NativeData)
	}

	if len(img.Pixels) != rows*cols*samples {
		return nil, fmt.Errorf("%s: %d pixel values for %dx%dx%d", path, len(img.Pixels), rows, cols, samples)
	}
	return img, nil
}

// Encode writes pixels to path using img's decoded file as the carrier of
// every non-pixel element. Values are rounded and clamped to the stored
// pixel type's range.
func (Codec) Encode(path string, img *models.SliceImage, pixels []float64) error {
	c, ok := img.Carrier.(*carrier)
	if !ok {
		return fmt.Errorf("%w: image was not decoded by this codec", ErrUnsupported)
	}
	if len(pixels) != img.Rows*img.Cols*img.Samples {
		return fmt.Errorf("got %d pixels for a %dx%dx%d image", len(pixels), img.Rows, img.Cols, img.Samples)
	}

	q := make([]float64, len(pixels))
	for i, v := range pixels {
		q[i] = Quantize(v, img.Min, img.Max)
	}

	n := img.Rows * img.Cols
	var fr *frame.Frame
	switch c.kind {
	case kindUint8:
		nf := frame.NewNativeFrame[uint8](c.bits, img.Rows, img.Cols, n, img.Samples)
		for i, v := range q {
			nf.RawData[i] = uint8(v)
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nf}
	case kindUint16:
		nf := frame.NewNativeFrame[uint16](c.bits, img.Rows, img.Cols, n, img.Samples)
		for i, v := range q {
			if c.signed {
				nf.RawData[i] = uint16(int16(v))
			} else {
				nf.RawData[i] = uint16(v)
			}
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nf}
	case kindInt16:
		nf := frame.NewNativeFrame[int16](c.bits, img.Rows, img.Cols, n, img.Samples)
		for i, v := range q {
			nf.RawData[i] = int16(v)
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nf}
	case kindUint32:
		nf := frame.NewNativeFrame[uint32](c.bits, img.Rows, img.Cols, n, img.Samples)
		for i, v := range q {
			if c.signed {
				nf.RawData[i] = uint32(int32(v))
			} else {
				nf.RawData[i] = uint32(v)
			}
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nf}
	case kindInt32:
		nf := frame.NewNativeFrame[int32](c.bits, img.Rows, img.Cols, n, img.Samples)
		for i, v := range q {
			nf.RawData[i] = int32(v)
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nf}
	}

	pixelData, err := dicom.NewElement(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{fr},
	})
	if err != nil {
		return fmt.Errorf("building pixel data element: %w", err)
	}

	elements := make([]*dicom.Element, 0, len(c.ds.Elements))
	for _, el := range c.ds.Elements {
		if el.Tag == tag.PixelData {
			elements = append(elements, pixelData)
			continue
		}
		elements = append(elements, el)
	}

	err = writeAtomic(path, func(w io.Writer) error {
		return dicom.Write(w, dicom.Dataset{Elements: elements}, dicom.SkipVRVerification())
	})
	if err != nil {
		return fmt.Errorf("failed to write DICOM file %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes through a temporary file next to path and renames it
// into place. A failed write leaves neither path nor the temporary file.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".encode-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Quantize rounds v to the nearest integer and clamps it to [lo, hi].
func Quantize(v, lo, hi float64) float64 {
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat[I uint8 | uint16 | int16 | uint32 | int32](raw []I) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}

func intTag(ds dicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("missing tag %v: %v", t, err)
	}
	vals, ok := el.Value.GetValue().([]int)
	if !ok || len(vals) == 0 {
		return 0, fmt.Errorf("tag %v is not an integer", t)
	}
	return vals[0], nil
}
