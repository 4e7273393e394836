package game

import (
	"math"
	"math/rand"
	"testing"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game/spatial"
)

func newTestResolver(mask *spatial.NavMask) (*CollisionResolver, *spatial.SpatialGrid) {
	cfg := config.DefaultCollision()
	w, h := mask.WorldSize()
	r := NewCollisionResolver(cfg, mask, rand.New(rand.NewSource(1)), 16)
	return r, spatial.NewSpatialGrid(w, h, cfg.GridCellSize, cfg.MaxNeighbors)
}

func resolveOnce(r *CollisionResolver, grid *spatial.SpatialGrid, agents []*Agent, now float64) int {
	grid.Rebuild(len(agents), func(i int) (float64, float64, bool) {
		return agents[i].X, agents[i].Y, agents[i].Active()
	})
	return r.Resolve(agents, grid, now)
}

func testAgent(id string, x, y float64, state AgentState) *Agent {
	a := NewAgent(id, "", x, y, config.DefaultSteering(), rand.New(rand.NewSource(7)), 0)
	a.State = state
	return a
}

// TestResolvePairSeparates verifies the close-pair scenario: push, pause, dig interrupt
func TestResolvePairSeparates(t *testing.T) {
	mask := spatial.NewOpenMask(20, 20, 1)
	r, grid := newTestResolver(mask)
	cfg := config.DefaultCollision()

	a := testAgent("a", 10.0, 10, Digging)
	b := testAgent("b", 10.3, 10, Digging)
	now := 3.0

	if n := resolveOnce(r, grid, []*Agent{a, b}, now); n != 1 {
		t.Fatalf("Expected 1 resolved pair, got %d", n)
	}

	overlap := cfg.MinDist - 0.3
	minAfter := cfg.MinDist - (1-cfg.PushFraction)*overlap
	d := math.Hypot(b.X-a.X, b.Y-a.Y)
	if d < minAfter-1e-9 {
		t.Errorf("Expected distance >= %.4f, got %.4f", minAfter, d)
	}
	if math.Abs((a.X+b.X)/2-10.15) > 1e-9 {
		t.Errorf("Midpoint should not move, got %.4f", (a.X+b.X)/2)
	}

	for _, ag := range []*Agent{a, b} {
		if !ag.Paused(now) {
			t.Errorf("%s should be paused", ag.ID)
		}
		if ag.PauseUntil < now+cfg.StunMin || ag.PauseUntil > now+cfg.StunMax {
			t.Errorf("%s stun %.3f outside [%.2f, %.2f]", ag.ID, ag.PauseUntil-now, cfg.StunMin, cfg.StunMax)
		}
		if ag.State != Approaching {
			t.Errorf("%s should leave Digging on impact, got %s", ag.ID, ag.State)
		}
	}

	if r.Len() != 1 || r.Events()[0].PairKey != "a|b" {
		t.Errorf("Expected one a|b event, got %+v", r.Events())
	}
	if hits := r.Impacts(); len(hits) != 1 || hits[0].PairKey != "a|b" {
		t.Errorf("Expected one a|b impact, got %+v", hits)
	}
	if n := resolveOnce(r, grid, []*Agent{a, testAgent("far", 2, 2, Wandering)}, now); n != 0 || len(r.Impacts()) != 0 {
		t.Errorf("Impacts should reset each pass, got %d", len(r.Impacts()))
	}
}

// TestResolveZeroDistance verifies coincident agents separate without NaN
func TestResolveZeroDistance(t *testing.T) {
	mask := spatial.NewOpenMask(20, 20, 1)
	r, grid := newTestResolver(mask)
	cfg := config.DefaultCollision()

	a := testAgent("a", 5, 5, Wandering)
	b := testAgent("b", 5, 5, Wandering)
	resolveOnce(r, grid, []*Agent{a, b}, 0)

	for _, v := range []float64{a.X, a.Y, b.X, b.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Non-finite position after zero-distance resolve")
		}
	}
	want := cfg.MinDist * cfg.PushFraction
	if d := math.Hypot(b.X-a.X, b.Y-a.Y); math.Abs(d-want) > 1e-9 {
		t.Errorf("Expected separation %.4f, got %.4f", want, d)
	}
}

// TestResolveSkipsDistantAndVictorious verifies only live overlapping pairs are touched
func TestResolveSkipsDistantAndVictorious(t *testing.T) {
	mask := spatial.NewOpenMask(20, 20, 1)
	r, grid := newTestResolver(mask)

	a := testAgent("a", 5, 5, Wandering)
	b := testAgent("b", 6, 5, Wandering)    // 1.0 apart
	c := testAgent("c", 5.1, 5, Victorious) // overlapping but leaving
	if n := resolveOnce(r, grid, []*Agent{a, b, c}, 0); n != 0 {
		t.Errorf("Expected no resolved pairs, got %d", n)
	}
	if a.Paused(0) || b.Paused(0) {
		t.Error("Agents should not be paused")
	}
}

// TestResolveRespectsMask verifies a push onto a blocked cell is dropped
func TestResolveRespectsMask(t *testing.T) {
	walkable := make([]bool, 20*20)
	for i := range walkable {
		walkable[i] = true
	}
	walkable[5*20+4] = false // cell (4,5) left of a
	mask := spatial.NewNavMaskFromCells(20, 20, 1, walkable)
	r, grid := newTestResolver(mask)

	a := testAgent("a", 5.05, 5.5, Wandering)
	b := testAgent("b", 5.35, 5.5, Wandering)
	resolveOnce(r, grid, []*Agent{a, b}, 0)

	if !mask.WalkableAt(a.X, a.Y) || !mask.WalkableAt(b.X, b.Y) {
		t.Errorf("Agents pushed off the mask: a=(%.2f,%.2f) b=(%.2f,%.2f)", a.X, a.Y, b.X, b.Y)
	}
	if a.X != 5.05 {
		t.Errorf("Blocked push should leave a in place, got %.3f", a.X)
	}
	if b.X <= 5.35 {
		t.Errorf("b should still be pushed, got %.3f", b.X)
	}
	if !a.Paused(0) || !b.Paused(0) {
		t.Error("Both agents should be paused even when a push is dropped")
	}
}

// TestCollisionEventLifetime verifies refresh resets the lifetime and pruning removes expired events
func TestCollisionEventLifetime(t *testing.T) {
	mask := spatial.NewOpenMask(20, 20, 1)
	r, grid := newTestResolver(mask)
	lifetime := config.DefaultCollision().EventLifetime

	a := testAgent("a", 5, 5, Wandering)
	b := testAgent("b", 5.2, 5, Wandering)
	resolveOnce(r, grid, []*Agent{a, b}, 0)

	// collide again later; the same pair must refresh, not duplicate
	a.X, b.X = 8, 8.2
	resolveOnce(r, grid, []*Agent{a, b}, 10)
	if r.Len() != 1 {
		t.Fatalf("Expected one event after refresh, got %d", r.Len())
	}
	if got := r.Events()[0].ExpiresAt; got != 10+lifetime {
		t.Errorf("Expected expiry %.1f, got %.1f", 10+lifetime, got)
	}

	if n := r.Prune(10 + lifetime - 0.1); n != 0 {
		t.Errorf("Event pruned early")
	}
	if n := r.Prune(10 + lifetime); n != 1 || r.Len() != 0 {
		t.Errorf("Expected event pruned, removed=%d len=%d", n, r.Len())
	}
}
