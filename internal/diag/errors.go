// Package diag classifies per-unit failures of a batch run and accumulates
// the run report.
package diag

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kind classifies a failure by how the batch reacts to it.
type Kind int

const (
	// MissingInput means a required mask or source file is absent.
	MissingInput Kind = iota + 1
	// MalformedIdentity means a slice file stem is not an integer.
	MalformedIdentity
	// ConfigurationError covers unordered boundaries and all-zero merge weights.
	ConfigurationError
	// ShapeMismatch means merge contributors disagree in dimensions.
	ShapeMismatch
	// UndefinedBoundary means a mask has no positive voxel.
	UndefinedBoundary
	// Overlap means two buckets that should be disjoint share slices.
	Overlap
)

func (k Kind) String() string {
	switch k {
	case MissingInput:
		return "missing-input"
	case MalformedIdentity:
		return "malformed-identity"
	case ConfigurationError:
		return "configuration-error"
	case ShapeMismatch:
		return "shape-mismatch"
	case UndefinedBoundary:
		return "undefined-boundary"
	case Overlap:
		return "overlap"
	}
	return "unknown"
}

// Error carries the unit of work a failure belongs to.
type Error struct {
	Kind        Kind
	Case        string
	Acquisition string
	// Slice is the slice identity, or -1 when the failure is not slice scoped.
	Slice int
	Err   error
}

// New builds an Error for a case or acquisition level failure.
func New(kind Kind, caseID, acquisition string, err error) *Error {
	return &Error{Kind: kind, Case: caseID, Acquisition: acquisition, Slice: -1, Err: err}
}

// NewSlice builds an Error scoped to a single slice.
func NewSlice(kind Kind, caseID, acquisition string, slice int, err error) *Error {
	return &Error{Kind: kind, Case: caseID, Acquisition: acquisition, Slice: slice, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Case != "" {
		fmt.Fprintf(&b, " case=%s", e.Case)
	}
	if e.Acquisition != "" {
		fmt.Fprintf(&b, " acquisition=%s", e.Acquisition)
	}
	if e.Slice >= 0 {
		fmt.Fprintf(&b, " slice=%d", e.Slice)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsFatal reports whether err is resource exhaustion, the only condition
// that stops a whole batch.
func IsFatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.EDQUOT)
}
