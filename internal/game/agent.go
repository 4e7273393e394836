package game

import (
	"fmt"
	"math"
	"math/rand"

	"goblin-dig/internal/config"
)

// AgentState is the explicit behavior state of an agent.
type AgentState uint8

const (
	Wandering AgentState = iota
	Surprised
	Approaching
	Digging
	Victorious
)

var agentStateNames = [...]string{"wandering", "surprised", "approaching", "digging", "victorious"}

// String returns the lowercase state name.
func (s AgentState) String() string {
	if int(s) < len(agentStateNames) {
		return agentStateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name for JSON snapshots.
func (s AgentState) MarshalText() ([]byte, error) {
	if int(s) >= len(agentStateNames) {
		return nil, fmt.Errorf("invalid agent state %d", s)
	}
	return []byte(agentStateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *AgentState) UnmarshalText(b []byte) error {
	for i, name := range agentStateNames {
		if name == string(b) {
			*s = AgentState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown agent state %q", b)
}

// TrailPoint is one recorded position.
type TrailPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Trail is a fixed-capacity ring of recent positions. The oldest point is
// overwritten once the ring is full. Cosmetic only.
type Trail struct {
	points []TrailPoint
	head   int // next write slot
	count  int
}

// NewTrail creates an empty trail holding at most capacity points.
func NewTrail(capacity int) Trail {
	if capacity < 1 {
		capacity = 1
	}
	return Trail{points: make([]TrailPoint, capacity)}
}

// Push records a position, dropping the oldest when full.
func (t *Trail) Push(x, y float64) {
	t.points[t.head] = TrailPoint{X: x, Y: y}
	t.head = (t.head + 1) % len(t.points)
	if t.count < len(t.points) {
		t.count++
	}
}

// Len returns the number of recorded points.
func (t *Trail) Len() int {
	return t.count
}

// At returns the i-th point, oldest first.
func (t *Trail) At(i int) TrailPoint {
	start := (t.head - t.count + len(t.points)) % len(t.points)
	return t.points[(start+i)%len(t.points)]
}

// LastWhere returns the newest point satisfying ok.
func (t *Trail) LastWhere(ok func(x, y float64) bool) (TrailPoint, bool) {
	for i := t.count - 1; i >= 0; i-- {
		p := t.At(i)
		if ok(p.X, p.Y) {
			return p, true
		}
	}
	return TrailPoint{}, false
}

// Agent is one simulated goblin. Only the engine mutates agents; everything
// outside the tick reads snapshots.
//
// Timers are absolute simulation times in seconds.
type Agent struct {
	ID    string
	Owner string

	X, Y             float64
	FacingX, FacingY float64
	Heading          float64 // radians, matches Facing

	State            AgentState
	TargetX, TargetY float64

	SpeedMult float64
	AnimMult  float64

	Trail Trail

	PauseUntil  float64 // post-collision stun
	StateUntil  float64 // surprise hold, or victory display window
	DigUntil    float64 // dig progress end (cosmetic)
	WanderUntil float64 // forced wander re-pick
	GaitUntil   float64 // next gait re-roll

	LastChestKey string // chest that last triggered Surprised
	AbsentTicks  int    // consecutive ticks missing from the roster
	JoinedAt     float64
}

// NewAgent creates an agent at (x, y) with randomized gait and heading.
func NewAgent(id, owner string, x, y float64, cfg config.SteeringConfig, rng *rand.Rand, now float64) *Agent {
	heading := rng.Float64() * 2 * math.Pi
	a := &Agent{
		ID:       id,
		Owner:    owner,
		X:        x,
		Y:        y,
		Heading:  heading,
		FacingX:  math.Cos(heading),
		FacingY:  math.Sin(heading),
		State:    Wandering,
		TargetX:  x,
		TargetY:  y,
		Trail:    NewTrail(cfg.TrailCapacity),
		JoinedAt: now,
	}
	a.rollGait(cfg, rng, now)
	a.Trail.Push(x, y)
	return a
}

// rollGait re-randomizes the speed and animation multipliers.
func (a *Agent) rollGait(cfg config.SteeringConfig, rng *rand.Rand, now float64) {
	a.SpeedMult = uniform(rng, cfg.GaitMin, cfg.GaitMax)
	a.AnimMult = uniform(rng, cfg.GaitMin, cfg.GaitMax)
	a.GaitUntil = now + uniform(rng, cfg.GaitDelayMin, cfg.GaitDelayMax)
}

// Paused reports whether the agent is stunned at time now.
func (a *Agent) Paused(now float64) bool {
	return now < a.PauseUntil
}

// Active reports whether the agent still takes part in steering and collisions.
func (a *Agent) Active() bool {
	return a.State != Victorious
}

// moveTo sets the position and records it in the trail.
func (a *Agent) moveTo(x, y float64) {
	if !finite(x) || !finite(y) {
		return
	}
	a.X, a.Y = x, y
	a.Trail.Push(x, y)
}

// turnToward rotates the heading toward direction (dx, dy) by at most maxTurn radians.
func (a *Agent) turnToward(dx, dy, maxTurn float64) {
	if dx == 0 && dy == 0 {
		return
	}
	want := math.Atan2(dy, dx)
	diff := math.Remainder(want-a.Heading, 2*math.Pi)
	if diff > maxTurn {
		diff = maxTurn
	} else if diff < -maxTurn {
		diff = -maxTurn
	}
	a.Heading = math.Remainder(a.Heading+diff, 2*math.Pi)
	a.FacingX, a.FacingY = math.Cos(a.Heading), math.Sin(a.Heading)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
