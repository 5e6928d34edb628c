package slicefs

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"ctregions/internal/models"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNamingRoundTrip(t *testing.T) {
	n := DefaultNaming
	if got := n.Name(42); got != "00000042.DCM" {
		t.Errorf("Name(42) = %q", got)
	}
	for _, id := range []models.SliceID{0, 1, 99999999} {
		got, err := n.Parse(n.Name(id))
		if err != nil || got != id {
			t.Errorf("Parse(Name(%d)) = %d, %v", id, got, err)
		}
	}
}

func TestNamingParseRejects(t *testing.T) {
	for _, name := range []string{"localizer.DCM", ".DCM", "-0000001.DCM", "12a4.DCM"} {
		if _, err := DefaultNaming.Parse(name); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestListSortsNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"00000010.DCM", "00000002.dcm", "00000001.DCM", "scout.DCM", "notes.txt"} {
		writeFile(t, filepath.Join(dir, name), []byte(name))
	}
	if err := os.Mkdir(filepath.Join(dir, "00000003.DCM"), 0755); err != nil {
		t.Fatal(err)
	}

	l, err := List(dir, DefaultNaming)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	ids := l.IDs()
	want := []models.SliceID{1, 2, 10}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
	if len(l.Malformed) != 1 || l.Malformed[0] != "scout.DCM" {
		t.Errorf("malformed = %v", l.Malformed)
	}
	if l.ByID()[2].Name != "00000002.dcm" {
		t.Errorf("ByID lost the on-disk name: %+v", l.ByID()[2])
	}
}

func TestDirs(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"CT2", "CT1", "MR1"} {
		if err := os.Mkdir(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(root, "CT3"), nil)

	got, err := Dirs(root, "CT")
	if err != nil {
		t.Fatalf("Dirs failed: %v", err)
	}
	if len(got) != 2 || got[0] != "CT1" || got[1] != "CT2" {
		t.Errorf("Dirs = %v", got)
	}
}

func TestCopyIsByteIdenticalAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "00000001.DCM")
	dst := filepath.Join(dir, "dst", "nested", "00000001.DCM")
	payload := []byte{0x44, 0x49, 0x43, 0x4d, 0, 1, 2, 255}
	writeFile(t, src, payload)
	writeFile(t, dst, []byte("stale content that is longer than the payload"))

	c := Copier{Attempts: 2}
	for i := 0; i < 2; i++ {
		n, err := c.Copy(context.Background(), src, dst)
		if err != nil {
			t.Fatalf("Copy failed: %v", err)
		}
		if n != int64(len(payload)) {
			t.Errorf("copied %d bytes, want %d", n, len(payload))
		}
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("copied content = %v, want %v", got, payload)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source should be retained: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestCopyMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := DefaultCopier.Copy(context.Background(), filepath.Join(dir, "none.DCM"), filepath.Join(dir, "out.DCM"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
