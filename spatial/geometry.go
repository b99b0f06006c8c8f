package spatial

import (
	"fmt"
	"iter"
	"math"
)

// Vec2 is a point or extent in world coordinates
type Vec2 struct {
	X, Y float64
}

// Bounds is the axis-aligned rectangle covered by a grid
type Bounds struct {
	Min, Max Vec2
}

// Width returns the extent of b on the X axis
func (b Bounds) Width() float64 { return b.Max.X - b.Min.X }

// Height returns the extent of b on the Y axis
func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }

func (b Bounds) validate() error {
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite corner in %v", ErrDegenerateBounds, b)
		}
	}
	if b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y {
		return fmt.Errorf("%w: got %v", ErrDegenerateBounds, b)
	}
	return nil
}

// Resolution is the number of columns and rows of a grid
type Resolution struct {
	Columns, Rows int
}

func (r Resolution) validate() error {
	if r.Columns < 1 || r.Rows < 1 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidResolution, r.Columns, r.Rows)
	}
	return nil
}

// Cells returns the total number of cells in the grid
func (r Resolution) Cells() int { return r.Columns * r.Rows }

// Cell addresses one grid cell
type Cell struct {
	Column, Row int
}

// BBox is an axis-aligned box given by its centre and full size
type BBox struct {
	Center Vec2
	Size   Vec2
}

// Corners returns the minimum and maximum corners of the box
func (b BBox) Corners() (Vec2, Vec2) {
	hw, hh := b.Size.X/2, b.Size.Y/2
	return Vec2{b.Center.X - hw, b.Center.Y - hh}, Vec2{b.Center.X + hw, b.Center.Y + hh}
}

// Span is the inclusive rectangle of cells between two corners.
// Spans produced by an Index always satisfy Min <= Max on both axes.
type Span struct {
	Min, Max Cell
}

// Contains reports whether c lies inside the span
func (s Span) Contains(c Cell) bool {
	return c.Column >= s.Min.Column && c.Column <= s.Max.Column &&
		c.Row >= s.Min.Row && c.Row <= s.Max.Row
}

// Cells returns how many cells the span covers
func (s Span) Cells() int {
	return (s.Max.Column - s.Min.Column + 1) * (s.Max.Row - s.Min.Row + 1)
}

// All enumerates the cells of the span in row-major order
func (s Span) All() iter.Seq[Cell] {
	return Rect(s.Min, s.Max)
}

// Rect lazily enumerates every cell in the inclusive rectangle spanned by a and b.
// Rows are visited in order and columns vary fastest. The corners may be given in
// any order.
func Rect(a, b Cell) iter.Seq[Cell] {
	lo, hi := orderCells(a, b)
	return func(yield func(Cell) bool) {
		for row := lo.Row; row <= hi.Row; row++ {
			for col := lo.Column; col <= hi.Column; col++ {
				if !yield(Cell{Column: col, Row: row}) {
					return
				}
			}
		}
	}
}

// orderCells returns the per-axis minimum and maximum of two cells
func orderCells(a, b Cell) (Cell, Cell) {
	return Cell{Column: min(a.Column, b.Column), Row: min(a.Row, b.Row)},
		Cell{Column: max(a.Column, b.Column), Row: max(a.Row, b.Row)}
}

// saturate clamps v to [0, 1]. NaN saturates to 0.
func saturate(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
