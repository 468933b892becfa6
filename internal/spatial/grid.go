package spatial

import (
	"fmt"
	"io"
)

// Grid partitions its domain into cols×rows equal cells and stores each
// object in every cell its bounds touch.
//
// Because of that replication, Size and Items count an object once per cell
// it touches and Search may return the same object more than once. Len and
// SearchUnique report distinct objects instead.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type Grid[T Object] struct {
	area       Rect
	cols, rows int
	built      bool
	cellRects  []Rect
	cells      [][]gridEntry[T]
	inserted   uint32
}

// gridEntry pairs an object with its insertion serial so replicated copies
// can be told apart from distinct objects.
type gridEntry[T Object] struct {
	serial uint32
	obj    T
}

// NewGrid returns an empty grid over area with cols×rows cells.
func NewGrid[T Object](area Rect, cols, rows int) (*Grid[T], error) {
	g := &Grid[T]{}
	if err := g.SetArea(area, cols, rows); err != nil {
		return nil, err
	}
	return g, nil
}

// SetArea sets the domain and cell counts. It fails once the grid holds
// objects.
func (g *Grid[T]) SetArea(area Rect, cols, rows int) error {
	if g.built {
		return errAreaLocked(g.area)
	}
	if cols < 1 {
		return errInvalidConfig("cols", cols)
	}
	if rows < 1 {
		return errInvalidConfig("rows", rows)
	}
	g.area, g.cols, g.rows = area, cols, rows
	return nil
}

func (g *Grid[T]) build() {
	if g.cols == 0 {
		g.area, g.cols, g.rows = DefaultArea, DefaultGridCells, DefaultGridCells
	}
	_, _, cell := g.Dimensions()
	g.cellRects = make([]Rect, g.cols*g.rows)
	g.cells = make([][]gridEntry[T], g.cols*g.rows)
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			g.cellRects[row*g.cols+col] = Rect{
				Pos:  g.area.Pos.Add(Vec2{cell.X * float32(col), cell.Y * float32(row)}),
				Size: cell,
			}
		}
	}
	g.built = true
}

// Insert stores obj in every cell that contains or overlaps its bounds.
func (g *Grid[T]) Insert(obj T) {
	if !g.built {
		g.build()
	}
	b := obj.Bounds()
	e := gridEntry[T]{serial: g.inserted, obj: obj}
	g.inserted++
	for i, cell := range g.cellRects {
		if cell.Contains(b) || cell.Overlaps(b) {
			g.cells[i] = append(g.cells[i], e)
		}
	}
}

func (g *Grid[T]) searchEntries(query Rect, fn func(gridEntry[T])) {
	if !g.built || query.IsEmpty() || g.area.IsEmpty() {
		return
	}
	for i, cell := range g.cellRects {
		switch {
		case query.Contains(cell):
			for _, e := range g.cells[i] {
				fn(e)
			}
		case query.Overlaps(cell):
			for _, e := range g.cells[i] {
				b := e.obj.Bounds()
				if query.Overlaps(b) || query.Contains(b) {
					fn(e)
				}
			}
		}
	}
}

// Search returns every object whose bounds overlap query, once per matching
// cell.
func (g *Grid[T]) Search(query Rect) []T {
	var found []T
	g.searchEntries(query, func(e gridEntry[T]) {
		found = append(found, e.obj)
	})
	return found
}

// SearchUnique is Search with replicated copies removed.
func (g *Grid[T]) SearchUnique(query Rect) []T {
	var found []T
	seen := make(map[uint32]struct{})
	g.searchEntries(query, func(e gridEntry[T]) {
		if _, ok := seen[e.serial]; ok {
			return
		}
		seen[e.serial] = struct{}{}
		found = append(found, e.obj)
	})
	return found
}

// Items returns the contents of every cell in row-major order, replicated
// objects included.
func (g *Grid[T]) Items() []T {
	items := make([]T, 0, g.Size())
	for _, cell := range g.cells {
		for _, e := range cell {
			items = append(items, e.obj)
		}
	}
	return items
}

// Size returns the total number of cell entries.
func (g *Grid[T]) Size() int {
	n := 0
	for _, cell := range g.cells {
		n += len(cell)
	}
	return n
}

// Len returns the number of Insert calls.
func (g *Grid[T]) Len() int {
	return int(g.inserted)
}

// Area returns the domain.
func (g *Grid[T]) Area() Rect {
	if g.cols == 0 {
		return DefaultArea
	}
	return g.area
}

// Dimensions returns the cell counts and the size of one cell.
func (g *Grid[T]) Dimensions() (cols, rows int, cell Vec2) {
	area := g.area
	cols, rows = g.cols, g.rows
	if cols == 0 {
		area, cols, rows = DefaultArea, DefaultGridCells, DefaultGridCells
	}
	return cols, rows, Vec2{area.Size.X / float32(cols), area.Size.Y / float32(rows)}
}

// Walk visits every cell in row-major order.
func (g *Grid[T]) Walk(fn func(Node)) {
	for i, cell := range g.cellRects {
		fn(Node{Area: cell, Objects: len(g.cells[i])})
	}
}

// Stats returns grid statistics for debugging/profiling.
func (g *Grid[T]) Stats() GridStats {
	var totalEntries, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		count := len(cell)
		totalEntries += count
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(totalEntries) / float64(nonEmpty)
	}

	cols, rows, _ := g.Dimensions()
	return GridStats{
		TotalCells:     cols * rows,
		NonEmptyCells:  nonEmpty,
		TotalEntries:   totalEntries,
		Objects:        g.Len(),
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int
	NonEmptyCells  int
	TotalEntries   int
	Objects        int
	MaxInCell      int
	AvgPerNonEmpty float64
}

// Print writes one line per non-empty cell with its entry count.
func (g *Grid[T]) Print(w io.Writer) error {
	for i, cell := range g.cellRects {
		if len(g.cells[i]) == 0 {
			continue
		}
		row, col := i/g.cols, i%g.cols
		if _, err := fmt.Fprintf(w, "[%d,%d] %s %d\n", col, row, cell, len(g.cells[i])); err != nil {
			return err
		}
	}
	return nil
}
