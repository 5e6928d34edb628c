package slicefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"ctregions/internal/diag"
)

// Copier copies slice files, retrying transient failures.
type Copier struct {
	// Attempts is the total number of tries per file
	Attempts uint

	// Delay is the initial back-off between tries
	Delay time.Duration
}

// DefaultCopier tries each copy three times.
var DefaultCopier = Copier{Attempts: 3, Delay: 100 * time.Millisecond}

// Copy copies src to dst, replacing any existing dst, and returns the number
// of bytes written. The source is left in place and dst's parent directory
// is created on demand. Missing sources and resource exhaustion are not
// retried.
func (c Copier) Copy(ctx context.Context, src, dst string) (int64, error) {
	attempts := c.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var n int64
	err := retry.Do(
		func() error {
			var err error
			n, err = copyFile(src, dst)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, fs.ErrNotExist) && !diag.IsFatal(err)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return n, nil
}

// copyFile writes through a temporary file in the destination directory and
// renames it over dst so readers never see a partially written slice.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := EnsureDir(dir); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".copy-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}
	return n, nil
}
