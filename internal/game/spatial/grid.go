// Package spatial provides the broad-phase and navigation structures the
// simulation queries every tick: a bucketed neighbor grid, the walkability
// mask and goal flow fields.
//
// Grid structures use preallocated slices with integer indices (not pointers)
// to minimize GC pressure and keep per-tick rebuilds allocation free.
package spatial

import (
	"math"
)

// SpatialGrid buckets entity indices into fixed-size cells.
//
// The cell size should be at least the largest neighbor query radius so the
// 3x3 neighborhood around an entity covers every candidate.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col])
type SpatialGrid struct {
	cellSize     float64
	invCellSize  float64 // 1/cellSize for faster division
	cols, rows   int
	cells        [][]uint32 // cells[row*cols+col] = list of entity indices
	scratch      []uint32   // reusable buffer for query results
	maxNeighbors int
}

// forward half neighborhood: E, SW, S, SE. Pairing each cell with itself
// and these four visits every adjacent unordered cell pair exactly once.
var forwardOffsets = [4][2]int{{1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// NewSpatialGrid creates a grid for the given world bounds.
// maxNeighbors caps NeighborsOf results (0 = uncapped).
func NewSpatialGrid(worldWidth, worldHeight, cellSize float64, maxNeighbors int) *SpatialGrid {
	cols := int(math.Ceil(worldWidth / cellSize))
	rows := int(math.Ceil(worldHeight / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint32, cols*rows)
	for i := range cells {
		cells[i] = make([]uint32, 0, 4)
	}

	return &SpatialGrid{
		cellSize:     cellSize,
		invCellSize:  1.0 / cellSize,
		cols:         cols,
		rows:         rows,
		cells:        cells,
		scratch:      make([]uint32, 0, 64),
		maxNeighbors: maxNeighbors,
	}
}

// Clear resets all cells without deallocating underlying memory.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0] // Keep capacity, reset length
	}
}

// Insert adds an entity at position (x, y).
// The entityID should be the index into your entity slice.
func (g *SpatialGrid) Insert(entityID uint32, x, y float64) {
	col, row := g.cellCoords(x, y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], entityID)
}

// Rebuild clears the grid and inserts n entities whose positions are
// reported by pos. Entities for which pos returns ok=false are skipped.
func (g *SpatialGrid) Rebuild(n int, pos func(i int) (x, y float64, ok bool)) {
	g.Clear()
	for i := 0; i < n; i++ {
		x, y, ok := pos(i)
		if !ok {
			continue
		}
		g.Insert(uint32(i), x, y)
	}
}

// cellCoords truncates a position to clamped cell coordinates.
func (g *SpatialGrid) cellCoords(x, y float64) (col, row int) {
	col = int(x * g.invCellSize)
	row = int(y * g.invCellSize)

	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// NeighborsOf returns entity IDs in the cell containing (x, y) and the eight
// cells around it, excluding self, capped at the grid's neighbor limit.
// The cap bounds per-query cost under clustering; it trades accuracy for
// near-linear ticks.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
func (g *SpatialGrid) NeighborsOf(self uint32, x, y float64) []uint32 {
	g.scratch = g.scratch[:0]
	col, row := g.cellCoords(x, y)

	for dr := -1; dr <= 1; dr++ {
		r := row + dr
		if r < 0 || r >= g.rows {
			continue
		}
		for dc := -1; dc <= 1; dc++ {
			c := col + dc
			if c < 0 || c >= g.cols {
				continue
			}
			for _, id := range g.cells[r*g.cols+c] {
				if id == self {
					continue
				}
				g.scratch = append(g.scratch, id)
				if g.maxNeighbors > 0 && len(g.scratch) >= g.maxNeighbors {
					return g.scratch
				}
			}
		}
	}

	return g.scratch
}

// ForEachPair calls fn once for every unordered pair of entities that share a
// cell or sit in adjacent cells. Within a cell the pair is (earlier, later)
// in insertion order; across cells it is (this cell, forward neighbor).
func (g *SpatialGrid) ForEachPair(fn func(a, b uint32)) {
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			cell := g.cells[row*g.cols+col]
			if len(cell) == 0 {
				continue
			}

			for i := 0; i < len(cell); i++ {
				for j := i + 1; j < len(cell); j++ {
					fn(cell[i], cell[j])
				}
			}

			for _, off := range forwardOffsets {
				c, r := col+off[0], row+off[1]
				if c < 0 || c >= g.cols || r >= g.rows {
					continue
				}
				other := g.cells[r*g.cols+c]
				for _, a := range cell {
					for _, b := range other {
						fn(a, b)
					}
				}
			}
		}
	}
}

// QueryCell returns all entity IDs in the cell containing (x, y).
func (g *SpatialGrid) QueryCell(x, y float64) []uint32 {
	col, row := g.cellCoords(x, y)
	return g.cells[row*g.cols+col]
}

// Stats returns grid statistics for debugging/profiling.
func (g *SpatialGrid) Stats() GridStats {
	var totalEntities, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		count := len(cell)
		totalEntities += count
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(totalEntities) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  totalEntities,
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int     `json:"totalCells"`
	NonEmptyCells  int     `json:"nonEmptyCells"`
	TotalEntities  int     `json:"totalEntities"`
	MaxInCell      int     `json:"maxInCell"`
	AvgPerNonEmpty float64 `json:"avgPerNonEmpty"`
}

// Dimensions returns the grid dimensions.
func (g *SpatialGrid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
