// Package logging builds the slog logger shared by all pipeline stages.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"
)

// Options selects the log sink and level.
type Options struct {
	// File sends log records to a rotating file instead of stderr
	File string

	// MaxSize is the size in megabytes before the file is rotated
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int

	// Verbose enables debug records
	Verbose bool
}

// New returns a text logger for the given options along with a closer for
// the underlying sink. The closer is a no-op when logging to stderr.
func New(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSize, // megabytes
			MaxAge:   opts.MaxAge,  // days
		}
		w, closer = lj, lj
	}
	return NewWithWriter(w, opts.Verbose), closer
}

// NewWithWriter returns a text logger writing to w.
func NewWithWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
