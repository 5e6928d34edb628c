// Package partition assigns slice indices to ordered body regions.
package partition

import (
	"errors"
	"fmt"
	"sort"

	"ctregions/internal/models"
)

// ErrUnordered is returned when boundaries are not ascending.
var ErrUnordered = errors.New("boundaries are not in ascending order")

// Partitioner maps slice indices to one of len(boundaries)+1 regions.
// Each boundary is inclusive on the region before it.
type Partitioner struct {
	labels     []models.RegionLabel
	boundaries []int
}

// Range is the closed index interval assigned to one region. Lo > Hi means
// the region received no index of the requested span.
type Range struct {
	Label  models.RegionLabel
	Lo, Hi int
}

// New validates the boundaries and returns a Partitioner. Boundaries out of
// order are a configuration error and are never reordered.
func New(labels []models.RegionLabel, boundaries []int) (*Partitioner, error) {
	if len(boundaries) == 0 {
		return nil, errors.New("at least one boundary is required")
	}
	if len(labels) != len(boundaries)+1 {
		return nil, fmt.Errorf("%d boundaries need %d labels, got %d", len(boundaries), len(boundaries)+1, len(labels))
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i-1] > boundaries[i] {
			return nil, fmt.Errorf("%w: boundary %d (%d) > boundary %d (%d)",
				ErrUnordered, i-1, boundaries[i-1], i, boundaries[i])
		}
	}

	p := &Partitioner{
		labels:     append([]models.RegionLabel(nil), labels...),
		boundaries: append([]int(nil), boundaries...),
	}
	return p, nil
}

// Region returns the region number of idx: 0 when idx <= b1, i when
// b_i < idx <= b_(i+1), and K when idx > b_K.
func (p *Partitioner) Region(idx int) int {
	// SearchInts returns the number of boundaries strictly below idx
	return sort.SearchInts(p.boundaries, idx)
}

// Assign returns the region label of idx.
func (p *Partitioner) Assign(idx int) models.RegionLabel {
	return p.labels[p.Region(idx)]
}

// Labels returns the ordered region labels.
func (p *Partitioner) Labels() []models.RegionLabel {
	return append([]models.RegionLabel(nil), p.labels...)
}

// Ranges returns the sub-interval of [lo, hi] owned by each region, in
// region order. Together the ranges cover [lo, hi] without overlap.
func (p *Partitioner) Ranges(lo, hi int) []Range {
	out := make([]Range, len(p.labels))
	start := lo
	for i, label := range p.labels {
		end := hi
		if i < len(p.boundaries) {
			end = min(p.boundaries[i], hi)
		}
		out[i] = Range{Label: label, Lo: start, Hi: end}
		if end+1 > start {
			start = end + 1
		}
	}
	return out
}
