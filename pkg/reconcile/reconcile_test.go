package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ctregions/internal/diag"
	"ctregions/internal/models"
	"ctregions/pkg/logging"
	"ctregions/pkg/slicefs"
)

func ids(vals ...int) []models.SliceID {
	out := make([]models.SliceID, len(vals))
	for i, v := range vals {
		out[i] = models.SliceID(v)
	}
	return out
}

func span(lo, hi int) []int {
	var out []int
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func fillBucket(t *testing.T, b models.CaseBucket, vals ...int) {
	t.Helper()
	if err := os.MkdirAll(b.Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		name := slicefs.DefaultNaming.Name(models.SliceID(v))
		if err := os.WriteFile(filepath.Join(b.Dir(), name), []byte(fmt.Sprintf("ref-%d", v)), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func listIDs(t *testing.T, b models.CaseBucket) []models.SliceID {
	t.Helper()
	l, err := slicefs.List(b.Dir(), slicefs.DefaultNaming)
	if err != nil {
		t.Fatal(err)
	}
	return l.IDs()
}

func newTestReconciler() *Reconciler {
	return New(slicefs.DefaultNaming, slicefs.Copier{Attempts: 1}, logging.Discard())
}

func buckets(root, caseID, acq string) (a, b, ref models.CaseBucket) {
	a = models.CaseBucket{Root: filepath.Join(root, "upper"), Case: caseID, Acquisition: acq}
	b = models.CaseBucket{Root: filepath.Join(root, "middle"), Case: caseID, Acquisition: acq}
	ref = models.CaseBucket{Root: filepath.Join(root, "dataset"), Case: caseID, Acquisition: acq}
	return a, b, ref
}

func TestFindGaps(t *testing.T) {
	tests := []struct {
		name        string
		a, b        []models.SliceID
		wantGaps    string
		wantOverlap string
	}{
		{"gap between", ids(1, 2, 3), ids(7, 8, 9), "[4 5 6]", "[]"},
		{"contiguous", ids(1, 2), ids(3, 4), "[]", "[]"},
		{"interior hole", ids(1, 3), ids(6), "[2 4 5]", "[]"},
		{"overlap", ids(1, 2, 3, 4), ids(3, 4, 5, 6), "[]", "[3 4]"},
		{"one side empty", nil, ids(5, 7), "[6]", "[]"},
		{"both empty", nil, nil, "[]", "[]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gaps, overlap := FindGaps(tc.a, tc.b)
			if got := fmt.Sprint(gaps); got != tc.wantGaps {
				t.Errorf("gaps = %s, want %s", got, tc.wantGaps)
			}
			if got := fmt.Sprint(overlap); got != tc.wantOverlap {
				t.Errorf("overlap = %s, want %s", got, tc.wantOverlap)
			}
		})
	}
}

func TestReconcileFillsBothBuckets(t *testing.T) {
	root := t.TempDir()
	a, b, ref := buckets(root, "case01", "CT1")
	fillBucket(t, a, 1, 2, 3)
	fillBucket(t, b, 7, 8, 9)
	fillBucket(t, ref, span(1, 9)...)

	res, err := newTestReconciler().Reconcile(context.Background(), a, b, ref)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if fmt.Sprint(res.Gaps) != "[4 5 6]" {
		t.Errorf("gaps = %v", res.Gaps)
	}
	if res.Copied != 6 {
		t.Errorf("copied = %d, want 6", res.Copied)
	}

	if got := fmt.Sprint(listIDs(t, a)); got != "[1 2 3 4 5 6]" {
		t.Errorf("bucket a = %s", got)
	}
	if got := fmt.Sprint(listIDs(t, b)); got != "[4 5 6 7 8 9]" {
		t.Errorf("bucket b = %s", got)
	}

	// bucket_a ∩ bucket_b is exactly the filled gap
	_, shared := FindGaps(listIDs(t, a), listIDs(t, b))
	if fmt.Sprint(shared) != "[4 5 6]" {
		t.Errorf("intersection = %v, want [4 5 6]", shared)
	}

	data, err := os.ReadFile(filepath.Join(b.Dir(), "00000005.DCM"))
	if err != nil || string(data) != "ref-5" {
		t.Errorf("gap slice content = %q, %v", data, err)
	}
}

func TestReconcileOverlapCopiesNothing(t *testing.T) {
	root := t.TempDir()
	a, b, ref := buckets(root, "case01", "CT1")
	fillBucket(t, a, 1, 2, 3, 4)
	fillBucket(t, b, 3, 4, 5, 6)
	fillBucket(t, ref, span(1, 6)...)

	res, err := newTestReconciler().Reconcile(context.Background(), a, b, ref)
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
	if diag.KindOf(err) != diag.Overlap {
		t.Errorf("kind = %v, want overlap", diag.KindOf(err))
	}
	if res.Copied != 0 {
		t.Errorf("copied %d files on overlap", res.Copied)
	}
	if got := fmt.Sprint(listIDs(t, a)); got != "[1 2 3 4]" {
		t.Errorf("bucket a changed: %s", got)
	}
}

func TestReconcileMissingReferenceSlice(t *testing.T) {
	root := t.TempDir()
	a, b, ref := buckets(root, "case01", "CT1")
	fillBucket(t, a, 1)
	fillBucket(t, b, 4)
	fillBucket(t, ref, 1, 2, 4)

	res, err := newTestReconciler().Reconcile(context.Background(), a, b, ref)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Copied != 2 {
		t.Errorf("copied = %d, want 2", res.Copied)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Slice != 3 {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
}

func TestReconcileCase(t *testing.T) {
	root := t.TempDir()
	a1, b1, ref1 := buckets(root, "case01", "CT1")
	fillBucket(t, a1, 1, 2)
	fillBucket(t, b1, 5, 6)
	fillBucket(t, ref1, span(1, 6)...)

	// CT2 overlaps, CT3 has no reference
	a2, b2, ref2 := buckets(root, "case01", "CT2")
	fillBucket(t, a2, 1, 2, 3)
	fillBucket(t, b2, 3, 4)
	fillBucket(t, ref2, span(1, 4)...)
	a3, b3, _ := buckets(root, "case01", "CT3")
	fillBucket(t, a3, 1)
	fillBucket(t, b3, 3)

	res, err := newTestReconciler().ReconcileCase(context.Background(), "case01", a1.Root, b1.Root, ref1.Root)
	if err != nil {
		t.Fatalf("ReconcileCase failed: %v", err)
	}
	if fmt.Sprint(res.Gaps) != "[3 4]" || res.Copied != 4 {
		t.Errorf("gaps = %v copied = %d", res.Gaps, res.Copied)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	kinds := map[string]diag.Kind{}
	for _, d := range res.Diagnostics {
		kinds[d.Acquisition] = d.Kind
	}
	if kinds["CT2"] != diag.Overlap || kinds["CT3"] != diag.MissingInput {
		t.Errorf("diagnostic kinds = %v", kinds)
	}

	if _, err := newTestReconciler().ReconcileCase(context.Background(), "case99", a1.Root, b1.Root, ref1.Root); diag.KindOf(err) != diag.MissingInput {
		t.Errorf("expected MissingInput for unknown case, got %v", err)
	}
}
