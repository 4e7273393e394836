package render

import (
	"bytes"
	"image/png"
	"testing"

	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
)

// TestRenderDrawsAgentsAndChest verifies frame size and that agents land where expected
func TestRenderDrawsAgentsAndChest(t *testing.T) {
	mask := spatial.NewOpenMask(10, 5, 1)
	r := NewRenderer(mask, 10)

	if w, h := r.Size(); w != 100 || h != 50 {
		t.Fatalf("Expected 100x50 frame, got %dx%d", w, h)
	}

	snap := &game.GameSnapshot{
		Agents: []game.AgentSnapshot{
			{ID: "a", X: 2, Y: 2, FacingX: 1, State: game.Approaching},
		},
		HasChest: true,
		Chest:    game.ChestSnapshot{Key: "c", X: 8, Y: 2.5, GoalX: 8, GoalY: 2.5},
	}
	img := r.Render(snap)

	if got := img.At(20, 20); got == img.At(50, 45) {
		t.Errorf("Agent pixel matches background: %v", got)
	}
	cr, cg, _, _ := img.At(80, 25).RGBA()
	if cr>>8 < 200 || cg>>8 < 150 {
		t.Errorf("Expected chest color at its center, got r=%d g=%d", cr>>8, cg>>8)
	}
}

// TestEncodePNG verifies the output is a decodable PNG, including an empty snapshot
func TestEncodePNG(t *testing.T) {
	cells := make([]bool, 16)
	for i := range cells {
		cells[i] = i != 5
	}
	r := NewRenderer(spatial.NewNavMaskFromCells(4, 4, 1, cells), 8)

	for _, snap := range []*game.GameSnapshot{nil, {}} {
		var buf bytes.Buffer
		if err := r.EncodePNG(&buf, snap); err != nil {
			t.Fatalf("EncodePNG: %v", err)
		}
		img, err := png.Decode(&buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
			t.Errorf("Expected 32x32, got %v", b)
		}
	}
}
