package dicomio

import (
	"fmt"
	"os"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// WriteTestSlice writes a minimal single-frame, 16 bit unsigned CT slice.
// It exists for tests that need real DICOM fixtures.
func WriteTestSlice(path string, rows, cols int, pixels []uint16, instance int) error {
	if len(pixels) != rows*cols {
		return fmt.Errorf("got %d pixels for %dx%d", len(pixels), rows, cols)
	}

	nf := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
	copy(nf.RawData, pixels)

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustNewElement(tag.SOPInstanceUID, []string{fmt.Sprintf("1.2.826.0.1.3680043.2.1125.%d", instance)}),
		mustNewElement(tag.Modality, []string{"CT"}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instance)}),
		mustNewElement(tag.Rows, []int{rows}),
		mustNewElement(tag.Columns, []int{cols}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{16}),
		mustNewElement(tag.HighBit, []int{15}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
		}),
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, dicom.Dataset{Elements: elements}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mustNewElement(t tag.Tag, data any) *dicom.Element {
	el, err := dicom.NewElement(t, data)
	if err != nil {
		panic(fmt.Sprintf("building element %v: %v", t, err))
	}
	return el
}
