// Package render draws debug frames of the simulation: the nav mask,
// agents with their trails and facing, the chest and live collisions.
// Frames are diagnostics for the API and the headless runner, not a
// presentation layer.
package render

import (
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
)

// DefaultScale is pixels per world unit.
const DefaultScale = 16.0

var (
	colorBackground = color.RGBA{24, 28, 22, 255}
	colorBlocked    = color.RGBA{58, 46, 40, 255}
	colorGrid       = color.RGBA{36, 42, 34, 255}
	colorChest      = color.RGBA{240, 190, 60, 255}
	colorChestOpen  = color.RGBA{255, 230, 140, 255}
	colorGoal       = color.RGBA{255, 255, 255, 90}
	colorCollision  = color.RGBA{255, 80, 80, 255}
	colorTrail      = color.RGBA{140, 200, 120, 70}
)

// stateColors indexed by game.AgentState.
var stateColors = [...]color.RGBA{
	game.Wandering:   {110, 170, 90, 255},
	game.Surprised:   {250, 240, 110, 255},
	game.Approaching: {90, 200, 230, 255},
	game.Digging:     {230, 140, 60, 255},
	game.Victorious:  {200, 120, 240, 255},
}

// Renderer draws frames at a fixed size. It is not safe for concurrent use;
// the background (mask and grid) is drawn once and reused.
type Renderer struct {
	scale      float64
	width      int
	height     int
	background image.Image
}

// NewRenderer prepares a renderer for mask at scale pixels per world unit.
func NewRenderer(mask *spatial.NavMask, scale float64) *Renderer {
	if scale <= 0 {
		scale = DefaultScale
	}
	w, h := mask.WorldSize()
	r := &Renderer{
		scale:  scale,
		width:  int(math.Ceil(w * scale)),
		height: int(math.Ceil(h * scale)),
	}
	r.background = r.drawBackground(mask)
	return r
}

// Size returns the frame size in pixels.
func (r *Renderer) Size() (width, height int) {
	return r.width, r.height
}

func (r *Renderer) drawBackground(mask *spatial.NavMask) image.Image {
	dc := gg.NewContext(r.width, r.height)
	dc.SetColor(colorBackground)
	dc.Clear()

	cols, rows, cell := mask.Dimensions()
	px := cell * r.scale

	dc.SetColor(colorBlocked)
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			if !mask.IsWalkable(cx, cy) {
				dc.DrawRectangle(float64(cx)*px, float64(cy)*px, px, px)
			}
		}
	}
	dc.Fill()

	// grid lines only when cells are large enough to see
	if px >= 8 {
		dc.SetColor(colorGrid)
		dc.SetLineWidth(1)
		for cx := 0; cx <= cols; cx++ {
			dc.DrawLine(float64(cx)*px, 0, float64(cx)*px, float64(r.height))
		}
		for cy := 0; cy <= rows; cy++ {
			dc.DrawLine(0, float64(cy)*px, float64(r.width), float64(cy)*px)
		}
		dc.Stroke()
	}

	return dc.Image()
}

// Render draws snap into a new image.
func (r *Renderer) Render(snap *game.GameSnapshot) image.Image {
	dc := gg.NewContext(r.width, r.height)
	dc.DrawImage(r.background, 0, 0)

	if snap != nil {
		r.drawTrails(dc, snap.Agents)
		if snap.HasChest {
			r.drawChest(dc, snap.Chest)
		}
		r.drawAgents(dc, snap.Agents)
		r.drawCollisions(dc, snap.Collisions)
	}

	return dc.Image()
}

// EncodePNG renders snap and writes it to w as PNG.
func (r *Renderer) EncodePNG(w io.Writer, snap *game.GameSnapshot) error {
	dc := gg.NewContextForImage(r.Render(snap))
	return dc.EncodePNG(w)
}

// SavePNG renders snap to a file.
func (r *Renderer) SavePNG(path string, snap *game.GameSnapshot) error {
	return gg.SavePNG(path, r.Render(snap))
}

func (r *Renderer) drawTrails(dc *gg.Context, agents []game.AgentSnapshot) {
	dc.SetColor(colorTrail)
	dc.SetLineWidth(math.Max(1, r.scale*0.08))
	for i := range agents {
		pts := agents[i].TrailPoints()
		if len(pts) < 2 {
			continue
		}
		dc.MoveTo(pts[0].X*r.scale, pts[0].Y*r.scale)
		for _, p := range pts[1:] {
			dc.LineTo(p.X*r.scale, p.Y*r.scale)
		}
		dc.Stroke()
	}
}

func (r *Renderer) drawChest(dc *gg.Context, ch game.ChestSnapshot) {
	size := r.scale * 0.9
	x, y := ch.X*r.scale, ch.Y*r.scale

	dc.SetColor(colorGoal)
	dc.DrawCircle(ch.GoalX*r.scale, ch.GoalY*r.scale, r.scale*0.3)
	dc.Fill()

	if ch.Opening {
		dc.SetColor(colorChestOpen)
	} else {
		dc.SetColor(colorChest)
	}
	dc.DrawRectangle(x-size/2, y-size/2, size, size)
	dc.Fill()

	dc.SetColor(color.Black)
	dc.SetLineWidth(math.Max(1, r.scale*0.08))
	dc.DrawRectangle(x-size/2, y-size/2, size, size)
	dc.Stroke()
}

func (r *Renderer) drawAgents(dc *gg.Context, agents []game.AgentSnapshot) {
	radius := r.scale * 0.35
	for i := range agents {
		a := &agents[i]
		x, y := a.X*r.scale, a.Y*r.scale

		c := stateColors[game.Wandering]
		if int(a.State) < len(stateColors) {
			c = stateColors[a.State]
		}
		if a.Paused {
			c.A = 150
		}
		dc.SetColor(c)
		dc.DrawCircle(x, y, radius)
		dc.Fill()

		// facing
		dc.SetColor(color.White)
		dc.SetLineWidth(math.Max(1, r.scale*0.06))
		dc.DrawLine(x, y, x+a.FacingX*radius*1.6, y+a.FacingY*radius*1.6)
		dc.Stroke()

		if a.State == game.Digging && a.DigProg > 0 {
			dc.SetColor(colorChestOpen)
			dc.DrawArc(x, y, radius*1.4, -math.Pi/2, -math.Pi/2+2*math.Pi*a.DigProg)
			dc.Stroke()
		}
	}
}

func (r *Renderer) drawCollisions(dc *gg.Context, events []game.CollisionSnapshot) {
	dc.SetColor(colorCollision)
	dc.SetLineWidth(math.Max(1, r.scale*0.05))
	for _, ev := range events {
		dc.DrawCircle(ev.X*r.scale, ev.Y*r.scale, r.scale*0.2)
		dc.Stroke()
	}
}
