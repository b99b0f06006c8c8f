package spatial

import "iter"

// EntitiesIn returns the handles overlapping any of the given cells. Each handle
// appears once, however many of the cells it spans. Cells with no entry,
// including cells outside the grid, contribute nothing.
func (idx *Index[H]) EntitiesIn(cells iter.Seq[Cell]) []H {
	if cells == nil {
		return nil
	}
	var out []H
	seen := make(map[H]struct{})
	for c := range cells {
		for h := range idx.cells[c] {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// EntitiesInRect returns the handles overlapping the inclusive rectangle a..b
func (idx *Index[H]) EntitiesInRect(a, b Cell) []H {
	return idx.EntitiesIn(Rect(a, b))
}

// EntitiesNear returns the handles in the cell containing p and the cells
// within radius of it
func (idx *Index[H]) EntitiesNear(p Vec2, radius int) []H {
	return idx.EntitiesIn(idx.Neighborhood(idx.CellFor(p), radius))
}

// Neighborhood enumerates the square of cells within radius of c, clipped to the
// grid. A radius of 0 yields c alone (if it is inside the grid) and a negative
// radius yields nothing.
func (idx *Index[H]) Neighborhood(c Cell, radius int) iter.Seq[Cell] {
	if radius < 0 {
		return func(func(Cell) bool) {}
	}
	// no neighbourhood is wider than the grid; larger radii would overflow
	radius = min(radius, max(idx.res.Columns, idx.res.Rows))
	span, ok := idx.Clip(
		Cell{Column: c.Column - radius, Row: c.Row - radius},
		Cell{Column: c.Column + radius, Row: c.Row + radius},
	)
	if !ok {
		return func(func(Cell) bool) {}
	}
	return span.All()
}

// Clip intersects the rectangle a..b with the grid. The second result is false
// when the rectangle lies entirely outside it.
func (idx *Index[H]) Clip(a, b Cell) (Span, bool) {
	lo, hi := orderCells(a, b)
	lo = Cell{Column: max(lo.Column, 0), Row: max(lo.Row, 0)}
	hi = Cell{Column: min(hi.Column, idx.res.Columns-1), Row: min(hi.Row, idx.res.Rows-1)}
	if lo.Column > hi.Column || lo.Row > hi.Row {
		return Span{}, false
	}
	return Span{Min: lo, Max: hi}, true
}

// InGrid reports whether c is a valid cell of the grid
func (idx *Index[H]) InGrid(c Cell) bool {
	return c.Column >= 0 && c.Column < idx.res.Columns && c.Row >= 0 && c.Row < idx.res.Rows
}

// Clamp returns the grid cell nearest to c
func (idx *Index[H]) Clamp(c Cell) Cell {
	return Cell{
		Column: min(max(c.Column, 0), idx.res.Columns-1),
		Row:    min(max(c.Row, 0), idx.res.Rows-1),
	}
}
