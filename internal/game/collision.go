package game

import (
	"math"
	"math/rand"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game/spatial"
)

// distEpsilon is the smallest distance used as a divisor.
const distEpsilon = 1e-6

// CollisionEvent is a cosmetic marker for an overlapping pair. Refreshing the
// pair resets its lifetime.
type CollisionEvent struct {
	PairKey   string
	A, B      string
	X, Y      float64 // midpoint at the last impact
	ExpiresAt float64
}

// pairKey is the order-independent identity of two agents.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// CollisionResolver pushes overlapping agents apart once per tick and keeps
// the cosmetic event list.
type CollisionResolver struct {
	cfg       config.CollisionConfig
	mask      *spatial.NavMask
	rng       *rand.Rand
	maxEvents int

	events []CollisionEvent
	index  map[string]int // pair key -> events index

	impacts []CollisionPayload // pairs resolved in the last pass
}

// NewCollisionResolver creates a resolver. maxEvents caps live events.
func NewCollisionResolver(cfg config.CollisionConfig, mask *spatial.NavMask, rng *rand.Rand, maxEvents int) *CollisionResolver {
	return &CollisionResolver{
		cfg:       cfg,
		mask:      mask,
		rng:       rng,
		maxEvents: maxEvents,
		events:    make([]CollisionEvent, 0, maxEvents),
		index:     make(map[string]int, maxEvents),
	}
}

// Resolve runs one pass over every candidate pair from grid, whose entity ids
// are indices into agents. The grid cell must be larger than MinDist plus the
// distance two agents can close in one tick, so any overlapping pair shares
// or neighbours a bucket. It returns the number of pairs pushed apart.
func (r *CollisionResolver) Resolve(agents []*Agent, grid *spatial.SpatialGrid, now float64) int {
	r.impacts = r.impacts[:0]
	grid.ForEachPair(func(i, j uint32) {
		a, b := agents[i], agents[j]
		if !a.Active() || !b.Active() {
			return
		}
		r.resolvePair(a, b, now)
	})
	return len(r.impacts)
}

// Impacts returns the pairs resolved by the last Resolve. The slice is reused
// by the next pass.
func (r *CollisionResolver) Impacts() []CollisionPayload {
	return r.impacts
}

// resolvePair separates a and b when they are closer than MinDist.
func (r *CollisionResolver) resolvePair(a, b *Agent, now float64) bool {
	minDist := r.cfg.MinDist
	dx, dy := b.X-a.X, b.Y-a.Y
	dist := math.Hypot(dx, dy)
	if dist >= minDist {
		return false
	}

	var nx, ny, overlap float64
	if dist <= distEpsilon {
		angle := r.rng.Float64() * 2 * math.Pi
		nx, ny = math.Cos(angle), math.Sin(angle)
		overlap = minDist
	} else {
		nx, ny = dx/dist, dy/dist
		overlap = minDist - dist
	}

	push := overlap * r.cfg.PushFraction / 2
	r.push(a, -nx*push, -ny*push)
	r.push(b, nx*push, ny*push)

	for _, ag := range [2]*Agent{a, b} {
		ag.apply(SignalImpact)
		ag.PauseUntil = now + uniform(r.rng, r.cfg.StunMin, r.cfg.StunMax)
	}

	key, mx, my := pairKey(a.ID, b.ID), (a.X+b.X)/2, (a.Y+b.Y)/2
	r.upsertEvent(a.ID, b.ID, mx, my, now)
	r.impacts = append(r.impacts, CollisionPayload{PairKey: key, X: mx, Y: my})
	return true
}

// push moves ag by (dx, dy), clamped to the world. A move onto a blocked cell
// is dropped.
func (r *CollisionResolver) push(ag *Agent, dx, dy float64) {
	w, h := r.mask.WorldSize()
	x, y := clampToWorld(ag.X+dx, ag.Y+dy, w, h)
	if !finite(x) || !finite(y) || !r.mask.WalkableAt(x, y) {
		return
	}
	ag.X, ag.Y = x, y
}

func (r *CollisionResolver) upsertEvent(a, b string, x, y, now float64) {
	key := pairKey(a, b)
	expires := now + r.cfg.EventLifetime

	if i, ok := r.index[key]; ok {
		ev := &r.events[i]
		ev.X, ev.Y = x, y
		ev.ExpiresAt = expires
		return
	}
	if r.maxEvents > 0 && len(r.events) >= r.maxEvents {
		return
	}
	if a > b {
		a, b = b, a
	}
	r.index[key] = len(r.events)
	r.events = append(r.events, CollisionEvent{PairKey: key, A: a, B: b, X: x, Y: y, ExpiresAt: expires})
}

// Prune drops events whose lifetime has passed.
func (r *CollisionResolver) Prune(now float64) int {
	n := 0
	for _, ev := range r.events {
		if ev.ExpiresAt > now {
			r.events[n] = ev
			n++
		}
	}
	removed := len(r.events) - n
	if removed == 0 {
		return 0
	}
	r.events = r.events[:n]
	clear(r.index)
	for i, ev := range r.events {
		r.index[ev.PairKey] = i
	}
	return removed
}

// Events returns the live events in creation order. The slice is shared.
func (r *CollisionResolver) Events() []CollisionEvent {
	return r.events
}

// Len returns the number of live events.
func (r *CollisionResolver) Len() int {
	return len(r.events)
}

// clampToWorld keeps (x, y) inside [0, w) x [0, h).
func clampToWorld(x, y, w, h float64) (float64, float64) {
	return math.Max(0, math.Min(x, math.Nextafter(w, 0))), math.Max(0, math.Min(y, math.Nextafter(h, 0)))
}
