package diag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
)

// Outcome is the final state of one case in a run.
type Outcome int

const (
	// Processed means every unit of the case completed.
	Processed Outcome = iota
	// Skipped means the case was not processed at all.
	Skipped
	// Partial means some units completed and some were reported.
	Partial
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	case Partial:
		return "partial"
	}
	return "unknown"
}

// Report accumulates per-case outcomes and diagnostics. It is safe for
// concurrent use by case workers.
type Report struct {
	// Stage names the pipeline step the report belongs to
	Stage string

	mu          sync.Mutex
	outcomes    map[string]Outcome
	diagnostics []*Error
	bytes       int64
	files       int
}

// NewReport creates an empty report for a stage.
func NewReport(stage string) *Report {
	return &Report{Stage: stage, outcomes: make(map[string]Outcome)}
}

// SetOutcome records the outcome of a case, keeping the worst one seen.
func (r *Report) SetOutcome(caseID string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.outcomes[caseID]; ok && prev >= o {
		return
	}
	r.outcomes[caseID] = o
}

// Add records a diagnostic.
func (r *Report) Add(e *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, e)
}

// AddFiles records written files and their total size.
func (r *Report) AddFiles(n int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files += n
	r.bytes += bytes
}

// Count returns how many cases ended with outcome o.
func (r *Report) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.outcomes {
		if v == o {
			n++
		}
	}
	return n
}

// Outcome returns the recorded outcome for a case.
func (r *Report) Outcome(caseID string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[caseID]
	return o, ok
}

// Diagnostics returns the recorded diagnostics ordered by case, acquisition
// and slice.
func (r *Report) Diagnostics() []*Error {
	r.mu.Lock()
	out := make([]*Error, len(r.diagnostics))
	copy(out, r.diagnostics)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Case != out[j].Case {
			return out[i].Case < out[j].Case
		}
		if out[i].Acquisition != out[j].Acquisition {
			return out[i].Acquisition < out[j].Acquisition
		}
		return out[i].Slice < out[j].Slice
	})
	return out
}

// Files returns the number of files written.
func (r *Report) Files() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files
}

// Summary renders the final counts line.
func (r *Report) Summary() string {
	r.mu.Lock()
	bytes, files := r.bytes, r.files
	r.mu.Unlock()
	return fmt.Sprintf("%s: %d processed, %d skipped, %d partial; %d files written (%s), %d diagnostics",
		r.Stage, r.Count(Processed), r.Count(Skipped), r.Count(Partial),
		files, humanize.Bytes(uint64(bytes)), len(r.Diagnostics()))
}
