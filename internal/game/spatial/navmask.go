package spatial

import (
	"fmt"
	"image"
	_ "image/gif"  // Support GIF masks
	_ "image/jpeg" // Support JPEG masks
	_ "image/png"  // Support PNG masks
	"log"
	"math"
	"math/rand"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Support WebP masks
)

// NavMask is the rasterized walkability lookup over the world grid.
// It is immutable after construction and safe to share between goroutines.
//
// A mask that failed to load, or that would block every cell, is fail-open:
// every in-bounds cell reports walkable so movement never deadlocks.
type NavMask struct {
	cols, rows  int
	cellSize    float64
	invCellSize float64
	worldWidth  float64
	worldHeight float64
	walkable    []bool // walkable[row*cols+col]
	open        []int  // indices of walkable cells, for random spawns
	failOpen    bool
}

// NewOpenMask returns a mask where every cell is walkable.
func NewOpenMask(worldWidth, worldHeight, cellSize float64) *NavMask {
	m := newMask(worldWidth, worldHeight, cellSize)
	m.setFailOpen()
	return m
}

// NewNavMaskFromCells builds a mask from an explicit row-major walkable grid.
// A grid of the wrong size or with no walkable cell yields a fail-open mask.
func NewNavMaskFromCells(worldWidth, worldHeight, cellSize float64, walkable []bool) *NavMask {
	m := newMask(worldWidth, worldHeight, cellSize)
	if len(walkable) != len(m.walkable) {
		log.Printf("⚠️ Nav mask has %d cells, expected %d - failing open", len(walkable), len(m.walkable))
		m.setFailOpen()
		return m
	}
	copy(m.walkable, walkable)
	m.finish()
	return m
}

// NewNavMaskFromImage thresholds the luminance of img per cell. The image is
// resampled to one pixel per cell, so each cell's value is the blended
// luminance of the source pixels it covers.
func NewNavMaskFromImage(img image.Image, worldWidth, worldHeight, cellSize float64, threshold uint8) *NavMask {
	m := newMask(worldWidth, worldHeight, cellSize)

	gray := image.NewGray(image.Rect(0, 0, m.cols, m.rows))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	for row := 0; row < m.rows; row++ {
		for col := 0; col < m.cols; col++ {
			m.walkable[row*m.cols+col] = gray.GrayAt(col, row).Y >= threshold
		}
	}
	m.finish()
	return m
}

// LoadNavMask reads a mask image from disk. The returned mask is never nil:
// on any load error it is fail-open and the error is returned for reporting.
func LoadNavMask(path string, worldWidth, worldHeight, cellSize float64, threshold uint8) (*NavMask, error) {
	if path == "" {
		return NewOpenMask(worldWidth, worldHeight, cellSize), nil
	}

	img, err := gg.LoadImage(path)
	if err != nil {
		log.Printf("⚠️ Nav mask %s failed to load, treating world as walkable: %v", path, err)
		return NewOpenMask(worldWidth, worldHeight, cellSize), fmt.Errorf("load nav mask %s: %w", path, err)
	}

	m := NewNavMaskFromImage(img, worldWidth, worldHeight, cellSize, threshold)
	log.Printf("🗺️ Nav mask loaded: %dx%d cells, %d walkable (fail-open=%v)", m.cols, m.rows, len(m.open), m.failOpen)
	return m, nil
}

func newMask(worldWidth, worldHeight, cellSize float64) *NavMask {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(math.Ceil(worldWidth / cellSize))
	rows := int(math.Ceil(worldHeight / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	return &NavMask{
		cols:        cols,
		rows:        rows,
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		worldWidth:  worldWidth,
		worldHeight: worldHeight,
		walkable:    make([]bool, cols*rows),
	}
}

// finish indexes walkable cells and fails open when there are none.
func (m *NavMask) finish() {
	m.open = m.open[:0]
	for i, ok := range m.walkable {
		if ok {
			m.open = append(m.open, i)
		}
	}
	if len(m.open) == 0 {
		log.Printf("⚠️ Nav mask blocks every cell - failing open")
		m.setFailOpen()
	}
}

func (m *NavMask) setFailOpen() {
	m.failOpen = true
	m.open = m.open[:0]
	for i := range m.walkable {
		m.walkable[i] = true
		m.open = append(m.open, i)
	}
}

// FailOpen reports whether the mask fell back to "everything walkable".
func (m *NavMask) FailOpen() bool {
	return m.failOpen
}

// IsWalkable reports whether grid cell (cx, cy) may be occupied.
// Cells outside the grid are never walkable.
func (m *NavMask) IsWalkable(cx, cy int) bool {
	if cx < 0 || cy < 0 || cx >= m.cols || cy >= m.rows {
		return false
	}
	return m.walkable[cy*m.cols+cx]
}

// CellOf returns the cell containing world position (x, y).
func (m *NavMask) CellOf(x, y float64) (cx, cy int) {
	return int(math.Floor(x * m.invCellSize)), int(math.Floor(y * m.invCellSize))
}

// CellCenter returns the world position of the middle of cell (cx, cy).
func (m *NavMask) CellCenter(cx, cy int) (x, y float64) {
	x = (float64(cx) + 0.5) * m.cellSize
	y = (float64(cy) + 0.5) * m.cellSize
	return math.Min(x, math.Nextafter(m.worldWidth, 0)), math.Min(y, math.Nextafter(m.worldHeight, 0))
}

// InBounds reports whether (x, y) lies inside the world rectangle.
func (m *NavMask) InBounds(x, y float64) bool {
	return x >= 0 && y >= 0 && x < m.worldWidth && y < m.worldHeight
}

// WalkableAt reports whether world position (x, y) is in bounds and walkable.
func (m *NavMask) WalkableAt(x, y float64) bool {
	if !m.InBounds(x, y) {
		return false
	}
	cx, cy := m.CellOf(x, y)
	return m.IsWalkable(cx, cy)
}

// NearestWalkable returns the center of the walkable cell closest to (x, y),
// searching outward ring by ring. The position itself is returned when it is
// already walkable.
func (m *NavMask) NearestWalkable(x, y float64) (float64, float64, bool) {
	if m.WalkableAt(x, y) {
		return x, y, true
	}

	cx, cy := m.CellOf(x, y)
	maxRing := m.cols
	if m.rows > maxRing {
		maxRing = m.rows
	}

	for ring := 1; ring <= maxRing; ring++ {
		bestD := math.MaxFloat64
		var bx, by float64
		found := false
		for dy := -ring; dy <= ring; dy++ {
			for dx := -ring; dx <= ring; dx++ {
				if max(abs(dx), abs(dy)) != ring {
					continue // only the ring's perimeter
				}
				if !m.IsWalkable(cx+dx, cy+dy) {
					continue
				}
				px, py := m.CellCenter(cx+dx, cy+dy)
				d := (px-x)*(px-x) + (py-y)*(py-y)
				if d < bestD {
					bestD, bx, by, found = d, px, py, true
				}
			}
		}
		if found {
			return bx, by, true
		}
	}

	return x, y, false
}

// RandomWalkable returns a uniformly chosen point inside a random walkable cell.
func (m *NavMask) RandomWalkable(rng *rand.Rand) (float64, float64, bool) {
	if len(m.open) == 0 {
		return 0, 0, false
	}
	idx := m.open[rng.Intn(len(m.open))]
	cx, cy := idx%m.cols, idx/m.cols

	x := (float64(cx) + 0.1 + rng.Float64()*0.8) * m.cellSize
	y := (float64(cy) + 0.1 + rng.Float64()*0.8) * m.cellSize
	if !m.InBounds(x, y) {
		x, y = m.CellCenter(cx, cy)
	}
	return x, y, true
}

// Blocked returns a row-major copy of the blocked cells, for flow fields.
func (m *NavMask) Blocked() []bool {
	out := make([]bool, len(m.walkable))
	for i, ok := range m.walkable {
		out[i] = !ok
	}
	return out
}

// WalkableCount returns the number of walkable cells.
func (m *NavMask) WalkableCount() int {
	return len(m.open)
}

// Dimensions returns the mask grid dimensions.
func (m *NavMask) Dimensions() (cols, rows int, cellSize float64) {
	return m.cols, m.rows, m.cellSize
}

// WorldSize returns the world extent the mask covers.
func (m *NavMask) WorldSize() (width, height float64) {
	return m.worldWidth, m.worldHeight
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
