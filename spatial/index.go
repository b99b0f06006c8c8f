package spatial

import (
	"errors"
	"iter"
	"math"
)

var (
	// ErrInvalidResolution is returned by New when a grid dimension is below 1
	ErrInvalidResolution = errors.New("spatial: resolution must be at least 1x1")
	// ErrDegenerateBounds is returned by New when min >= max on an axis
	ErrDegenerateBounds = errors.New("spatial: bounds must satisfy min < max on both axes")
)

// Mapping selects how a normalized coordinate is turned into a cell index
type Mapping int

const (
	// MapUniform divides the bounds into equally sized cells. The normalized
	// coordinate is scaled by the column (row) count and the result is clamped to
	// the last index, so the maximum edge belongs to the last cell.
	MapUniform Mapping = iota
	// MapLastIndex scales the normalized coordinate by count-1 instead. Only points
	// on or beyond the maximum edge reach the last column or row.
	MapLastIndex
)

// Option configures an Index at construction time
type Option func(*options)

type options struct {
	mapping Mapping
}

// WithMapping overrides the default MapUniform cell mapping
func WithMapping(m Mapping) Option {
	return func(o *options) { o.mapping = m }
}

// Index is a uniform spatial hash grid over handles of type H.
// The zero value is not usable; construct one with New.
type Index[H comparable] struct {
	bounds  Bounds
	res     Resolution
	mapping Mapping

	// forward map: cell -> handles overlapping it
	cells map[Cell]map[H]struct{}
	// reverse map: handle -> span recorded at its last insert
	spans map[H]Span
}

// New creates an empty index covering bounds with the given resolution.
// It fails fast on a zero or negative dimension and on degenerate bounds.
func New[H comparable](bounds Bounds, res Resolution, opts ...Option) (*Index[H], error) {
	if err := res.validate(); err != nil {
		return nil, err
	}
	if err := bounds.validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Index[H]{
		bounds:  bounds,
		res:     res,
		mapping: o.mapping,
		cells:   make(map[Cell]map[H]struct{}),
		spans:   make(map[H]Span),
	}, nil
}

// Bounds returns the world rectangle covered by the index
func (idx *Index[H]) Bounds() Bounds { return idx.bounds }

// Resolution returns the grid dimensions
func (idx *Index[H]) Resolution() Resolution { return idx.res }

// CellFor maps a world point to its cell. Points outside the bounds saturate to
// the nearest edge cell instead of being rejected.
func (idx *Index[H]) CellFor(p Vec2) Cell {
	x := saturate((p.X - idx.bounds.Min.X) / idx.bounds.Width())
	y := saturate((p.Y - idx.bounds.Min.Y) / idx.bounds.Height())
	return Cell{
		Column: idx.axisIndex(x, idx.res.Columns),
		Row:    idx.axisIndex(y, idx.res.Rows),
	}
}

func (idx *Index[H]) axisIndex(n float64, count int) int {
	if idx.mapping == MapLastIndex {
		return int(math.Floor(n * float64(count-1)))
	}
	return min(int(math.Floor(n*float64(count))), count-1)
}

// Span returns the cells covered by b, from its minimum to its maximum corner
func (idx *Index[H]) Span(b BBox) Span {
	lo, hi := b.Corners()
	first, last := orderCells(idx.CellFor(lo), idx.CellFor(hi))
	return Span{Min: first, Max: last}
}

// Insert records h with bounding box b and adds it to every cell it overlaps.
// An existing record for h is overwritten without removing its old memberships,
// so h stays in those cells for good: a later Remove only clears the new span,
// and the untracked handle is still returned by queries over the old cells.
// Use Update to move a tracked handle.
func (idx *Index[H]) Insert(h H, b BBox) {
	span := idx.Span(b)
	idx.spans[h] = span
	for c := range span.All() {
		set, ok := idx.cells[c]
		if !ok {
			set = make(map[H]struct{})
			idx.cells[c] = set
		}
		set[h] = struct{}{}
	}
}

// Update moves h to bounding box b. It is exactly Remove followed by Insert.
func (idx *Index[H]) Update(h H, b BBox) {
	idx.Remove(h)
	idx.Insert(h, b)
}

// Remove drops h from every cell of its recorded span and forgets it.
// Removing an unknown handle does nothing. Cell sets left empty are kept
// until Compact is called.
func (idx *Index[H]) Remove(h H) {
	span, ok := idx.spans[h]
	if !ok {
		return
	}
	for c := range span.All() {
		if set := idx.cells[c]; set != nil {
			delete(set, h)
		}
	}
	delete(idx.spans, h)
}

// Contains reports whether h is tracked
func (idx *Index[H]) Contains(h H) bool {
	_, ok := idx.spans[h]
	return ok
}

// SpanOf returns the span recorded for h
func (idx *Index[H]) SpanOf(h H) (Span, bool) {
	s, ok := idx.spans[h]
	return s, ok
}

// Len returns the number of tracked handles
func (idx *Index[H]) Len() int { return len(idx.spans) }

// Handles enumerates every tracked handle in no particular order
func (idx *Index[H]) Handles() iter.Seq[H] {
	return func(yield func(H) bool) {
		for h := range idx.spans {
			if !yield(h) {
				return
			}
		}
	}
}

// Compact deletes empty cell sets left behind by Remove and returns how many
// were dropped.
func (idx *Index[H]) Compact() int {
	dropped := 0
	for c, set := range idx.cells {
		if len(set) == 0 {
			delete(idx.cells, c)
			dropped++
		}
	}
	return dropped
}

// Reset forgets every handle and cell
func (idx *Index[H]) Reset() {
	clear(idx.cells)
	clear(idx.spans)
}

// Stats summarizes the occupancy of an index
type Stats struct {
	Tracked       int // handles in the reverse map
	Cells         int // cell sets allocated in the forward map, empty ones included
	OccupiedCells int // cell sets with at least one handle
	Memberships   int // (cell, handle) pairs
}

// Stats returns the current occupancy counters
func (idx *Index[H]) Stats() Stats {
	s := Stats{Tracked: len(idx.spans), Cells: len(idx.cells)}
	for _, set := range idx.cells {
		if len(set) > 0 {
			s.OccupiedCells++
		}
		s.Memberships += len(set)
	}
	return s
}
