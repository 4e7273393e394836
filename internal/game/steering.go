package game

import (
	"math"
	"math/rand"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game/spatial"
)

// aheadCos is the cosine of the half-angle of the "directly ahead" cone.
const aheadCos = 0.85

// steerContext is the read-mostly view one agent's update needs.
type steerContext struct {
	now, dt float64
	cfg     *config.SteeringConfig
	claim   *config.ClaimConfig
	mask    *spatial.NavMask
	grid    *spatial.SpatialGrid
	agents  []*Agent
	rng     *rand.Rand
	chest   *Chest             // active chest, nil when none
	flow    *spatial.FlowField // flow toward chest goal, may be nil
	claims  *ClaimArbitrator
}

// Update advances one agent's state machine and movement for this tick.
// self is the agent's index in ctx.agents (and its grid id).
func (a *Agent) Update(ctx *steerContext, self uint32) {
	if !a.Active() {
		return
	}
	if ctx.now >= a.GaitUntil {
		a.rollGait(*ctx.cfg, ctx.rng, ctx.now)
	}
	if a.Paused(ctx.now) {
		return
	}

	// A chest vanished between ticks without the engine resetting us.
	if ctx.chest == nil && (a.State == Surprised || a.State == Approaching || a.State == Digging) {
		a.forgetChest(ctx)
	}

	switch a.State {
	case Wandering:
		if ctx.chest != nil && a.LastChestKey != ctx.chest.Key {
			a.apply(SignalChestSeen)
			a.LastChestKey = ctx.chest.Key
			a.StateUntil = ctx.now + ctx.cfg.SurpriseDuration
			a.faceToward(ctx.chest.GoalX, ctx.chest.GoalY, ctx)
			return
		}
		a.updateWander(ctx, self)

	case Surprised:
		a.faceToward(ctx.chest.GoalX, ctx.chest.GoalY, ctx)
		if ctx.now >= a.StateUntil {
			a.apply(SignalSurpriseElapsed)
			a.TargetX, a.TargetY = ctx.chest.GoalX, ctx.chest.GoalY
		}

	case Approaching:
		a.TargetX, a.TargetY = ctx.chest.GoalX, ctx.chest.GoalY
		if a.withinTrigger(ctx) {
			a.startDigging(ctx)
			return
		}
		a.steerToward(ctx, self, a.TargetX, a.TargetY)
		if a.withinTrigger(ctx) {
			a.startDigging(ctx)
		}

	case Digging:
		a.faceToward(ctx.chest.GoalX, ctx.chest.GoalY, ctx)
	}
}

// withinTrigger uses Chebyshev distance to the chest goal.
func (a *Agent) withinTrigger(ctx *steerContext) bool {
	d := math.Max(math.Abs(a.X-ctx.chest.GoalX), math.Abs(a.Y-ctx.chest.GoalY))
	return d <= ctx.cfg.TriggerRadius
}

func (a *Agent) startDigging(ctx *steerContext) {
	a.apply(SignalReachedChest)
	a.TargetX, a.TargetY = a.X, a.Y
	ctx.claims.TryStartClaim(ctx.chest.Key, a.ID, ctx.now)
	if ctx.chest.State == ClaimPending {
		a.DigUntil = ctx.chest.CommitAt
	} else {
		a.DigUntil = ctx.now + ctx.claim.ClaimDelay
	}
}

// forgetChest returns the agent to wandering after the chest went away.
func (a *Agent) forgetChest(ctx *steerContext) {
	a.apply(SignalChestGone)
	a.LastChestKey = ""
	a.DigUntil = 0
	a.pickWanderTarget(ctx)
}

func (a *Agent) updateWander(ctx *steerContext, self uint32) {
	dist := math.Hypot(a.TargetX-a.X, a.TargetY-a.Y)
	if dist <= ctx.cfg.ArriveEpsilon || ctx.now >= a.WanderUntil {
		a.pickWanderTarget(ctx)
	}
	a.steerToward(ctx, self, a.TargetX, a.TargetY)
}

// pickWanderTarget samples walkable candidates and keeps the one with the
// best distance plus jitter, which biases wandering toward far points.
func (a *Agent) pickWanderTarget(ctx *steerContext) {
	a.WanderUntil = ctx.now + uniform(ctx.rng, ctx.cfg.WanderMin, ctx.cfg.WanderMax)

	bestScore := -1.0
	for i := 0; i < ctx.cfg.WanderCandidates; i++ {
		x, y, ok := ctx.mask.RandomWalkable(ctx.rng)
		if !ok {
			continue
		}
		score := math.Hypot(x-a.X, y-a.Y) + ctx.rng.Float64()*ctx.cfg.WanderJitter
		if score > bestScore {
			bestScore = score
			a.TargetX, a.TargetY = x, y
		}
	}
	if bestScore < 0 {
		a.TargetX, a.TargetY = a.X, a.Y
	}
}

// steerToward blends the goal direction with neighbor avoidance and spread,
// then takes one step. A step onto a blocked cell is rejected.
func (a *Agent) steerToward(ctx *steerContext, self uint32, gx, gy float64) {
	cfg := ctx.cfg
	dx, dy := gx-a.X, gy-a.Y
	dist := math.Hypot(dx, dy)
	if dist <= distEpsilon {
		return
	}
	dirX, dirY := dx/dist, dy/dist

	if a.State == Approaching && ctx.flow != nil {
		fx, fy := ctx.flow.Lookup(a.X, a.Y)
		if fx != 0 || fy != 0 {
			w := cfg.FlowWeight
			dirX, dirY = normalize(dirX*(1-w)+fx*w, dirY*(1-w)+fy*w, dirX, dirY)
		}
	}

	avoidX, avoidY, spreadX, spreadY, speed := a.neighborForces(ctx, self, dirX, dirY)

	vx := dirX + cfg.AvoidWeight*avoidX + cfg.SpreadWeight*spreadX
	vy := dirY + cfg.AvoidWeight*avoidY + cfg.SpreadWeight*spreadY
	vx, vy = normalize(vx, vy, dirX, dirY)

	step := math.Min(cfg.BaseSpeed*a.SpeedMult*speed*ctx.dt, dist)
	w, h := ctx.mask.WorldSize()
	nx, ny := clampToWorld(a.X+vx*step, a.Y+vy*step, w, h)

	if !ctx.mask.WalkableAt(nx, ny) {
		if a.State == Wandering {
			a.pickWanderTarget(ctx)
			return
		}
		switch {
		case ctx.mask.WalkableAt(nx, a.Y):
			ny = a.Y
		case ctx.mask.WalkableAt(a.X, ny):
			nx = a.X
		default:
			return
		}
	}

	a.turnToward(nx-a.X, ny-a.Y, cfg.TurnRate*ctx.dt)
	a.moveTo(nx, ny)
}

// neighborForces sums short-range repulsion and longer-range spread from the
// grid neighborhood. speed is the combined speed factor from a neighbor
// directly ahead and local density.
func (a *Agent) neighborForces(ctx *steerContext, self uint32, dirX, dirY float64) (avoidX, avoidY, spreadX, spreadY, speed float64) {
	cfg := ctx.cfg
	speed = 1.0
	ahead := false
	crowd := 0

	for _, id := range ctx.grid.NeighborsOf(self, a.X, a.Y) {
		o := ctx.agents[id]
		if !o.Active() {
			continue
		}
		ax, ay := a.X-o.X, a.Y-o.Y
		d := math.Hypot(ax, ay)
		if d >= cfg.SpreadRadius && d >= cfg.AvoidRadius {
			continue
		}
		if d <= distEpsilon {
			angle := ctx.rng.Float64() * 2 * math.Pi
			ax, ay, d = math.Cos(angle)*distEpsilon, math.Sin(angle)*distEpsilon, distEpsilon
		}
		ux, uy := ax/d, ay/d

		if d < cfg.AvoidRadius {
			weight := (cfg.AvoidRadius - d) / cfg.AvoidRadius
			if d < cfg.HardRadius {
				weight += cfg.HardPush
			}
			avoidX += ux * weight
			avoidY += uy * weight

			// -u points from us to the neighbor
			if -ux*dirX-uy*dirY > aheadCos {
				ahead = true
			}
		}
		if d < cfg.SpreadRadius {
			falloff := (cfg.SpreadRadius - d) / cfg.SpreadRadius
			spreadX += ux * falloff
			spreadY += uy * falloff
			crowd++
		}
	}

	if ahead {
		speed *= cfg.AheadPenalty
	}
	if crowd > 0 {
		speed *= math.Max(0.7, 1/(1+0.05*float64(crowd)))
	}
	return avoidX, avoidY, spreadX, spreadY, speed
}

// faceToward rotates in place toward (x, y).
func (a *Agent) faceToward(x, y float64, ctx *steerContext) {
	a.turnToward(x-a.X, y-a.Y, ctx.cfg.TurnRate*ctx.dt)
}

// normalize returns (x, y) scaled to unit length, or the fallback when the
// vector is degenerate.
func normalize(x, y, fallbackX, fallbackY float64) (float64, float64) {
	l := math.Hypot(x, y)
	if l <= distEpsilon || !finite(l) {
		return fallbackX, fallbackY
	}
	return x / l, y / l
}
