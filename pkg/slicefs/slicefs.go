// Package slicefs handles the on-disk slice layout: the zero-padded file
// naming convention, sorted enumeration of slice files and of case and
// acquisition directories, and file copies.
package slicefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ctregions/internal/models"
)

// ErrMalformed is returned for slice file names whose stem is not an integer.
var ErrMalformed = errors.New("slice file stem is not an integer")

// Naming is the slice file naming convention, e.g. width 8 and extension
// ".DCM" for 00000042.DCM.
type Naming struct {
	Width int
	Ext   string
}

// DefaultNaming is the convention used by the CT exports.
var DefaultNaming = Naming{Width: 8, Ext: ".DCM"}

// Name renders the file name of a slice identity.
func (n Naming) Name(id models.SliceID) string {
	return fmt.Sprintf("%0*d%s", n.Width, int(id), n.Ext)
}

// Matches reports whether name carries the slice extension. The comparison
// ignores case.
func (n Naming) Matches(name string) bool {
	return strings.EqualFold(filepath.Ext(name), n.Ext)
}

// Parse extracts the slice identity from a file name.
func (n Naming) Parse(name string) (models.SliceID, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, name)
	}
	for _, c := range stem {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, name)
		}
	}
	id, err := strconv.Atoi(stem)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformed, name, err)
	}
	return models.SliceID(id), nil
}

// Listing is the result of enumerating one acquisition directory.
type Listing struct {
	// Slices are sorted by ascending identity
	Slices []models.Slice

	// Malformed lists file names with the slice extension but no integer stem
	Malformed []string
}

// IDs returns the identities of the listed slices in ascending order.
func (l Listing) IDs() []models.SliceID {
	ids := make([]models.SliceID, len(l.Slices))
	for i, s := range l.Slices {
		ids[i] = s.ID
	}
	return ids
}

// ByID indexes the listed slices by identity.
func (l Listing) ByID() map[models.SliceID]models.Slice {
	m := make(map[models.SliceID]models.Slice, len(l.Slices))
	for _, s := range l.Slices {
		m[s.ID] = s
	}
	return m
}

// List enumerates the slice files of dir sorted by identity. Files without
// the slice extension are ignored; directory listing order is never used.
func List(dir string, naming Naming) (Listing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Listing{}, err
	}

	var l Listing
	for _, e := range entries {
		if e.IsDir() || !naming.Matches(e.Name()) {
			continue
		}
		id, err := naming.Parse(e.Name())
		if err != nil {
			l.Malformed = append(l.Malformed, e.Name())
			continue
		}
		l.Slices = append(l.Slices, models.Slice{
			ID:   id,
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(l.Slices, func(i, j int) bool {
		if l.Slices[i].ID != l.Slices[j].ID {
			return l.Slices[i].ID < l.Slices[j].ID
		}
		return l.Slices[i].Name < l.Slices[j].Name
	})
	sort.Strings(l.Malformed)
	return l, nil
}

// Dirs returns the names of the sub-directories of dir that start with
// prefix, sorted by name.
func Dirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir and its parents. Concurrent callers racing on the
// same path all succeed.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
