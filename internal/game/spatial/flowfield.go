package spatial

import (
	"math"
)

// FlowField is a precomputed direction-to-goal vector per nav cell. Every
// agent heading to the same goal shares one field, so routing around blocked
// regions costs one BFS per goal instead of one search per agent.
//
// Origin: Treuille, Cooper, Popović. "Continuum Crowds." SIGGRAPH 2006.
type FlowField struct {
	cols, rows  int
	invCellSize float64
	integration []float32 // cost to reach the goal from each cell
	flowX       []float32
	flowY       []float32
	blocked     []bool
	queue       []int
}

var (
	flowDX   = [8]int{-1, 0, 1, -1, 1, -1, 0, 1}
	flowDY   = [8]int{-1, -1, -1, 0, 0, 1, 1, 1}
	flowCost = [8]float32{1.41421356, 1.0, 1.41421356, 1.0, 1.0, 1.41421356, 1.0, 1.41421356}
)

// NewFlowField creates an empty field on the mask's grid.
func NewFlowField(mask *NavMask) *FlowField {
	cols, rows, cellSize := mask.Dimensions()
	size := cols * rows

	return &FlowField{
		cols:        cols,
		rows:        rows,
		invCellSize: 1.0 / cellSize,
		integration: make([]float32, size),
		flowX:       make([]float32, size),
		flowY:       make([]float32, size),
		blocked:     mask.Blocked(),
		queue:       make([]int, 0, size),
	}
}

// Generate computes the field toward (goalX, goalY): a uniform-cost BFS from
// the goal fills the integration field, then each cell points at its
// cheapest neighbor. Diagonal steps that would cut a blocked corner are not
// taken. A blocked goal leaves the field empty (all zero vectors).
func (f *FlowField) Generate(goalX, goalY float64) {
	maxCost := float32(math.MaxFloat32)
	for i := range f.integration {
		f.integration[i] = maxCost
		f.flowX[i], f.flowY[i] = 0, 0
	}

	goalIdx, ok := f.index(goalX, goalY)
	if !ok || f.blocked[goalIdx] {
		return
	}
	f.integration[goalIdx] = 0

	f.queue = append(f.queue[:0], goalIdx)
	for head := 0; head < len(f.queue); head++ {
		current := f.queue[head]
		row, col := current/f.cols, current%f.cols
		currentCost := f.integration[current]

		for i := 0; i < 8; i++ {
			nidx, ok := f.step(col, row, i)
			if !ok {
				continue
			}
			if newCost := currentCost + flowCost[i]; newCost < f.integration[nidx] {
				f.integration[nidx] = newCost
				f.queue = append(f.queue, nidx)
			}
		}
	}

	for idx := range f.integration {
		if f.integration[idx] == maxCost {
			continue
		}
		row, col := idx/f.cols, idx%f.cols
		best := f.integration[idx]
		bestDir := -1
		for i := 0; i < 8; i++ {
			nidx, ok := f.step(col, row, i)
			if ok && f.integration[nidx] < best {
				best, bestDir = f.integration[nidx], i
			}
		}
		if bestDir < 0 {
			continue // goal cell
		}
		length := float32(math.Hypot(float64(flowDX[bestDir]), float64(flowDY[bestDir])))
		f.flowX[idx] = float32(flowDX[bestDir]) / length
		f.flowY[idx] = float32(flowDY[bestDir]) / length
	}
}

// step returns the neighbor index of (col,row) in direction i when it is in
// bounds, open, and (for diagonals) both orthogonal cells are open.
func (f *FlowField) step(col, row, i int) (int, bool) {
	nc, nr := col+flowDX[i], row+flowDY[i]
	if nc < 0 || nc >= f.cols || nr < 0 || nr >= f.rows {
		return 0, false
	}
	nidx := nr*f.cols + nc
	if f.blocked[nidx] {
		return 0, false
	}
	if flowDX[i] != 0 && flowDY[i] != 0 {
		if f.blocked[row*f.cols+nc] || f.blocked[nr*f.cols+col] {
			return 0, false
		}
	}
	return nidx, true
}

func (f *FlowField) index(x, y float64) (int, bool) {
	col := int(math.Floor(x * f.invCellSize))
	row := int(math.Floor(y * f.invCellSize))
	if col < 0 || col >= f.cols || row < 0 || row >= f.rows {
		return 0, false
	}
	return row*f.cols + col, true
}

// Lookup returns the flow direction at world position (x, y).
// Returns (0, 0) if position is out of bounds, unreachable, or the goal cell.
func (f *FlowField) Lookup(x, y float64) (vx, vy float64) {
	idx, ok := f.index(x, y)
	if !ok {
		return 0, 0
	}
	return float64(f.flowX[idx]), float64(f.flowY[idx])
}

// FlowFieldCache keeps one field per goal key (one per chest instance).
type FlowFieldCache struct {
	mask   *NavMask
	fields map[string]*FlowField
}

// NewFlowFieldCache creates a cache of fields over mask.
func NewFlowFieldCache(mask *NavMask) *FlowFieldCache {
	return &FlowFieldCache{
		mask:   mask,
		fields: make(map[string]*FlowField),
	}
}

// GetOrCreate returns the field for goalKey, generating it on first use.
func (c *FlowFieldCache) GetOrCreate(goalKey string, goalX, goalY float64) *FlowField {
	if field, ok := c.fields[goalKey]; ok {
		return field
	}

	field := NewFlowField(c.mask)
	field.Generate(goalX, goalY)
	c.fields[goalKey] = field
	return field
}

// Get returns the field for goalKey, or nil.
func (c *FlowFieldCache) Get(goalKey string) *FlowField {
	return c.fields[goalKey]
}

// Remove drops the field for goalKey.
func (c *FlowFieldCache) Remove(goalKey string) {
	delete(c.fields, goalKey)
}

// Len returns the number of cached fields.
func (c *FlowFieldCache) Len() int {
	return len(c.fields)
}
