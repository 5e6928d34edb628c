// Package reconcile fills the slice gaps left between two region buckets
// that were produced from different boundary masks.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/slicefs"
)

// ErrOverlap is returned when the two buckets share slice identities. Gap
// filling is not attempted for overlapping buckets.
var ErrOverlap = errors.New("buckets overlap")

// Result describes one reconciliation.
type Result struct {
	// Gaps are the identities found in neither bucket, ascending
	Gaps []models.SliceID

	// Copied counts files written, two per filled gap
	Copied int
	Bytes  int64

	// Diagnostics are the problems that were skipped over
	Diagnostics []*diag.Error
}

func (r *Result) add(o Result) {
	r.Gaps = append(r.Gaps, o.Gaps...)
	r.Copied += o.Copied
	r.Bytes += o.Bytes
	r.Diagnostics = append(r.Diagnostics, o.Diagnostics...)
}

// Reconciler backfills gaps from a complete reference dataset.
type Reconciler struct {
	naming slicefs.Naming
	copier slicefs.Copier
	logger *slog.Logger
}

// New creates a Reconciler.
func New(naming slicefs.Naming, copier slicefs.Copier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{naming: naming, copier: copier, logger: logger}
}

// FindGaps returns the identities in [min, max] of a ∪ b present in
// neither set. It reports the shared identities instead when a and b
// intersect, in which case gaps is nil.
func FindGaps(a, b []models.SliceID) (gaps, overlap []models.SliceID) {
	inA := make(map[models.SliceID]bool, len(a))
	for _, id := range a {
		inA[id] = true
	}
	inB := make(map[models.SliceID]bool, len(b))
	for _, id := range b {
		inB[id] = true
		if inA[id] {
			overlap = append(overlap, id)
		}
	}
	if len(overlap) > 0 {
		sort.Slice(overlap, func(i, j int) bool { return overlap[i] < overlap[j] })
		return nil, overlap
	}

	all := append(append([]models.SliceID(nil), a...), b...)
	if len(all) == 0 {
		return nil, nil
	}
	lo, hi := all[0], all[0]
	for _, id := range all {
		lo = min(lo, id)
		hi = max(hi, id)
	}
	for id := lo; id <= hi; id++ {
		if !inA[id] && !inB[id] {
			gaps = append(gaps, id)
		}
	}
	return gaps, nil
}

// Reconcile fills the gaps between buckets a and b by copying each missing
// slice from ref into both buckets. A gap slice is ambiguous between the two
// regions, so it is duplicated rather than assigned to one of them. Both
// buckets are fully listed before overlap and gaps are decided.
func (r *Reconciler) Reconcile(ctx context.Context, a, b, ref models.CaseBucket) (Result, error) {
	var res Result

	la, err := slicefs.List(a.Dir(), r.naming)
	if err != nil {
		return res, diag.New(diag.MissingInput, a.Case, a.Acquisition, err)
	}
	lb, err := slicefs.List(b.Dir(), r.naming)
	if err != nil {
		return res, diag.New(diag.MissingInput, b.Case, b.Acquisition, err)
	}

	gaps, overlap := FindGaps(la.IDs(), lb.IDs())
	if len(overlap) > 0 {
		return res, diag.New(diag.Overlap, a.Case, a.Acquisition,
			fmt.Errorf("%w: %d shared slices between %s and %s (first %d)", ErrOverlap, len(overlap), a.Root, b.Root, overlap[0]))
	}
	res.Gaps = gaps
	if len(gaps) == 0 {
		return res, nil
	}

	lref, err := slicefs.List(ref.Dir(), r.naming)
	if err != nil {
		return res, diag.New(diag.MissingInput, ref.Case, ref.Acquisition, err)
	}
	refByID := lref.ByID()

	for _, id := range gaps {
		src, ok := refByID[id]
		if !ok {
			res.Diagnostics = append(res.Diagnostics, diag.NewSlice(diag.MissingInput, a.Case, a.Acquisition, int(id),
				fmt.Errorf("gap slice not in reference %s", ref.Dir())))
			continue
		}
		for _, dst := range []models.CaseBucket{a, b} {
			n, err := r.copier.Copy(ctx, src.Path, filepath.Join(dst.Dir(), src.Name))
			if err != nil {
				if diag.IsFatal(err) || ctx.Err() != nil {
					return res, err
				}
				res.Diagnostics = append(res.Diagnostics, diag.NewSlice(diag.MissingInput, a.Case, a.Acquisition, int(id), err))
				continue
			}
			res.Copied++
			res.Bytes += n
		}
	}

	r.logger.Info("gaps filled", "case", a.Case, "acquisition", a.Acquisition,
		"gaps", len(gaps), "first", gaps[0], "last", gaps[len(gaps)-1])
	return res, nil
}

// ReconcileCase reconciles every acquisition of a case. Acquisitions are
// paired by name; one missing from either bucket or the reference is
// reported and skipped. Per-acquisition failures, overlap included, end up
// in Result.Diagnostics. The returned error is set only when the case
// cannot be reconciled at all or a fatal error occurred.
func (r *Reconciler) ReconcileCase(ctx context.Context, caseID, rootA, rootB, rootRef string) (Result, error) {
	var res Result

	roots := []string{rootA, rootB, rootRef}
	present := make([]map[string]bool, len(roots))
	names := make(map[string]bool)
	for i, root := range roots {
		dirs, err := slicefs.Dirs(filepath.Join(root, caseID), "")
		if err != nil {
			return res, diag.New(diag.MissingInput, caseID, "", err)
		}
		present[i] = make(map[string]bool, len(dirs))
		for _, d := range dirs {
			present[i][d] = true
			names[d] = true
		}
	}

	acquisitions := make([]string, 0, len(names))
	for n := range names {
		acquisitions = append(acquisitions, n)
	}
	sort.Strings(acquisitions)

	for _, acq := range acquisitions {
		missing := ""
		for i, root := range roots {
			if !present[i][acq] {
				missing = root
				break
			}
		}
		if missing != "" {
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.MissingInput, caseID, acq,
				fmt.Errorf("acquisition not present under %s", missing)))
			continue
		}

		one, err := r.Reconcile(ctx,
			models.CaseBucket{Root: rootA, Case: caseID, Acquisition: acq},
			models.CaseBucket{Root: rootB, Case: caseID, Acquisition: acq},
			models.CaseBucket{Root: rootRef, Case: caseID, Acquisition: acq},
		)
		res.add(one)
		if err != nil {
			if diag.IsFatal(err) || ctx.Err() != nil {
				return res, err
			}
			var de *diag.Error
			if !errors.As(err, &de) {
				de = diag.New(diag.MissingInput, caseID, acq, err)
			}
			res.Diagnostics = append(res.Diagnostics, de)
		}
	}
	return res, nil
}
