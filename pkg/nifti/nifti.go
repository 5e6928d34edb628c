// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz), the format segmentation masks are delivered in.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"ctregions/internal/models"
)

// Datatype codes from the NIfTI-1 header
type Datatype int16

const (
	Uint8   Datatype = 2
	Int16   Datatype = 4
	Int32   Datatype = 8
	Float32 Datatype = 16
	Float64 Datatype = 64
	Int8    Datatype = 256
	Uint16  Datatype = 512
	Uint32  Datatype = 768
)

const (
	headerSize = 348
	// voxOffset leaves room for the 4 byte extension flag after the header
	voxOffset = 352
)

// ErrUnsupported is returned for header features this reader does not handle.
var ErrUnsupported = errors.New("unsupported nifti file")

func (d Datatype) bytesPerVoxel() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// header holds the fields of the 348 byte header that the reader uses.
type header struct {
	SizeofHdr int32
	_         [36]byte
	Dim       [8]int16
	_         [14]byte
	Datatype  Datatype
	Bitpix    int16
	_         int16
	Pixdim    [8]float32
	VoxOffset float32
	SclSlope  float32
	SclInter  float32
	_         [224]byte
	Magic     [4]byte
}

// Load reads a NIfTI-1 volume from path. Gzip compression is detected from
// the file content, not the extension.
func Load(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vol, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vol, nil
}

// Decode reads a NIfTI-1 volume from r.
func Decode(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if order.Uint32(raw[0:4]) != headerSize {
		order = binary.BigEndian
		if order.Uint32(raw[0:4]) != headerSize {
			return nil, fmt.Errorf("%w: header size is not %d", ErrUnsupported, headerSize)
		}
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if string(hdr.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("%w: magic %q, only single-file n+1 is read", ErrUnsupported, hdr.Magic[:3])
	}

	ndim := int(hdr.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("%w: %d dimensions", ErrUnsupported, ndim)
	}
	shape := [3]int{1, 1, 1}
	for i := 1; i <= ndim; i++ {
		n := int(hdr.Dim[i])
		if n < 1 {
			return nil, fmt.Errorf("%w: dim[%d] = %d", ErrUnsupported, i, n)
		}
		if i <= 3 {
			shape[i-1] = n
		} else if n > 1 {
			return nil, fmt.Errorf("%w: dim[%d] = %d, only 3-D volumes are read", ErrUnsupported, i, n)
		}
	}

	bpv := hdr.Datatype.bytesPerVoxel()
	if bpv == 0 {
		return nil, fmt.Errorf("%w: datatype %d", ErrUnsupported, hdr.Datatype)
	}

	// Skip extensions between the header and the voxel data
	if skip := int64(hdr.VoxOffset) - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, src, skip); err != nil {
			return nil, fmt.Errorf("skipping to voxel data: %w", err)
		}
	}

	vol := models.NewVolume(shape[0], shape[1], shape[2])
	vol.VoxelSize.X = float64(hdr.Pixdim[1])
	vol.VoxelSize.Y = float64(hdr.Pixdim[2])
	vol.VoxelSize.Z = float64(hdr.Pixdim[3])

	data := make([]byte, len(vol.Data)*bpv)
	if _, err := io.ReadFull(src, data); err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", len(vol.Data), err)
	}
	for i := range vol.Data {
		vol.Data[i] = decodeVoxel(hdr.Datatype, order, data[i*bpv:(i+1)*bpv])
	}

	// A zero slope means the values are stored unscaled
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}

	return vol, nil
}

func decodeVoxel(dt Datatype, order binary.ByteOrder, b []byte) float64 {
	switch dt {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Uint16:
		return float64(order.Uint16(b))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Uint32:
		return float64(order.Uint32(b))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// Save writes vol as a little-endian NIfTI-1 file. Paths ending in .gz are
// gzip compressed.
func Save(path string, vol *models.Volume, dt Datatype) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	err = Encode(w, vol, dt)
	if zw != nil {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Encode writes vol to w as an uncompressed NIfTI-1 stream.
func Encode(w io.Writer, vol *models.Volume, dt Datatype) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	bpv := dt.bytesPerVoxel()
	if bpv == 0 {
		return fmt.Errorf("%w: datatype %d", ErrUnsupported, dt)
	}

	hdr := header{
		SizeofHdr: headerSize,
		Datatype:  dt,
		Bitpix:    int16(bpv * 8),
		VoxOffset: voxOffset,
		SclSlope:  1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, int16(vol.Width), int16(vol.Height), int16(vol.Depth), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	if vol.VoxelSize.X > 0 {
		hdr.Pixdim[1] = float32(vol.VoxelSize.X)
		hdr.Pixdim[2] = float32(vol.VoxelSize.Y)
		hdr.Pixdim[3] = float32(vol.VoxelSize.Z)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	// Extension flag: no extensions follow
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, bpv)
	for _, v := range vol.Data {
		encodeVoxel(dt, buf, v)
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("writing voxels: %w", err)
		}
	}
	return bw.Flush()
}

func encodeVoxel(dt Datatype, b []byte, v float64) {
	le := binary.LittleEndian
	switch dt {
	case Uint8:
		b[0] = uint8(v)
	case Int8:
		b[0] = uint8(int8(v))
	case Int16:
		le.PutUint16(b, uint16(int16(v)))
	case Uint16:
		le.PutUint16(b, uint16(v))
	case Int32:
		le.PutUint32(b, uint32(int32(v)))
	case Uint32:
		le.PutUint32(b, uint32(v))
	case Float32:
		le.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		le.PutUint64(b, math.Float64bits(v))
	}
}
