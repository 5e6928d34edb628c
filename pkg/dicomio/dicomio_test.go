package dicomio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"ctregions/internal/models"
)

func constantPixels(n int, v uint16) []uint16 {
	p := make([]uint16, n)
	for i := range p {
		p[i] = v
	}
	return p
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "00000042.DCM")
	pixels := []uint16{0, 1, 2, 3, 100, 200, 65535, 4}
	if err := WriteTestSlice(src, 2, 4, pixels, 42); err != nil {
		t.Fatalf("WriteTestSlice failed: %v", err)
	}

	var codec Codec
	img, err := codec.Decode(src)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Rows != 2 || img.Cols != 4 || img.Samples != 1 {
		t.Fatalf("shape = %dx%dx%d", img.Rows, img.Cols, img.Samples)
	}
	if img.Min != 0 || img.Max != 65535 {
		t.Errorf("range = [%v, %v], want [0, 65535]", img.Min, img.Max)
	}
	for i, v := range pixels {
		if img.Pixels[i] != float64(v) {
			t.Fatalf("pixel %d = %v, want %d", i, img.Pixels[i], v)
		}
	}

	// Values are rounded and clamped into the uint16 range
	out := filepath.Join(dir, "merged.DCM")
	merged := []float64{149.6, -3, 70000, 1, 2, 3, 4, 5}
	if err := codec.Encode(out, img, merged); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	back, err := codec.Decode(out)
	if err != nil {
		t.Fatalf("Decode of merged file failed: %v", err)
	}
	want := []float64{150, 0, 65535, 1, 2, 3, 4, 5}
	for i := range want {
		if back.Pixels[i] != want[i] {
			t.Errorf("merged pixel %d = %v, want %v", i, back.Pixels[i], want[i])
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "00000001.DCM")
	if err := WriteTestSlice(good, 2, 2, constantPixels(4, 7), 1); err != nil {
		t.Fatal(err)
	}
	if err := Validate(good); err != nil {
		t.Errorf("Validate(good) = %v", err)
	}

	bad := filepath.Join(dir, "00000002.DCM")
	if err := os.WriteFile(bad, []byte("not a dicom file"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Validate(bad); err == nil {
		t.Error("Validate should reject a non-DICOM file")
	}
}

func TestEncodeRejectsForeignImage(t *testing.T) {
	img := &models.SliceImage{Rows: 1, Cols: 1, Samples: 1, Pixels: []float64{1}}
	err := Codec{}.Encode(filepath.Join(t.TempDir(), "x.DCM"), img, []float64{1})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestWriteAtomicLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case01_00000042.DCM")

	err := writeAtomic(path, func(w io.Writer) error {
		if _, err := w.Write([]byte("DICM partial")); err != nil {
			return err
		}
		return errors.New("disk went away")
	})
	if err == nil {
		t.Fatal("expected write error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed write left %d entries, first %q", len(entries), entries[0].Name())
	}

	// a successful write replaces the target and leaves no temporary file
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte("complete"))
		return err
	}); err != nil {
		t.Fatal(err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		t.Errorf("entries after write = %v", entries)
	}
	if data, _ := os.ReadFile(path); string(data) != "complete" {
		t.Errorf("content = %q", data)
	}
}

func TestEncodeFailureWritesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "00000001.DCM")
	if err := WriteTestSlice(src, 2, 2, constantPixels(4, 7), 1); err != nil {
		t.Fatal(err)
	}
	img, err := Codec{}.Decode(src)
	if err != nil {
		t.Fatal(err)
	}

	// the output directory does not exist, so encoding fails before any file appears
	out := filepath.Join(dir, "missing", "case01_00000001.DCM")
	if err := (Codec{}).Encode(out, img, []float64{1, 2, 3, 4}); err == nil {
		t.Fatal("expected Encode to fail")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output exists after failed encode: %v", err)
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{149.5, 150},
		{149.4, 149},
		{-0.6, 0},
		{300, 255},
	}
	for _, tc := range tests {
		if got := Quantize(tc.in, 0, 255); got != tc.want {
			t.Errorf("Quantize(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
