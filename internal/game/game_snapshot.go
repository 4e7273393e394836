package game

import (
	"sync/atomic"
	"time"

	"goblin-dig/internal/config"
)

// MaxTrailSnapshot is the number of trail points copied per agent.
const MaxTrailSnapshot = 12

// AgentSnapshot is an immutable copy of agent state for rendering.
// Uses value types (not pointers) to ensure immutability.
type AgentSnapshot struct {
	ID        string                       `json:"id"`
	Owner     string                       `json:"owner,omitempty"`
	X         float64                      `json:"x"`
	Y         float64                      `json:"y"`
	FacingX   float64                      `json:"facingX"`
	FacingY   float64                      `json:"facingY"`
	State     AgentState                   `json:"state"`
	AnimMult  float64                      `json:"animMult"`
	Paused    bool                         `json:"paused"`
	DigProg   float64                      `json:"digProgress,omitempty"` // 0..1 while digging
	Trail     [MaxTrailSnapshot]TrailPoint `json:"-"`                     // fixed-size for zero-allocation
	TrailLen  int                          `json:"-"`
	TargetX   float64                      `json:"targetX"`
	TargetY   float64                      `json:"targetY"`
	Remaining float64                      `json:"victoryRemaining,omitempty"`
}

// TrailPoints returns the valid trail points, oldest first.
func (s *AgentSnapshot) TrailPoints() []TrailPoint {
	return s.Trail[:s.TrailLen]
}

// ChestSnapshot is the active chest.
type ChestSnapshot struct {
	Key         string     `json:"key"`
	Source      string     `json:"source,omitempty"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	GoalX       float64    `json:"goalX"`
	GoalY       float64    `json:"goalY"`
	State       ClaimState `json:"state"`
	CandidateID string     `json:"candidateId,omitempty"`
	Opening     bool       `json:"opening"`
	CommitIn    float64    `json:"commitIn,omitempty"` // seconds until commit while pending
}

// CollisionSnapshot is a live cosmetic collision marker.
type CollisionSnapshot struct {
	PairKey   string  `json:"pairKey"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Remaining float64 `json:"remaining"`
}

// GameSnapshot is a complete immutable simulation state for rendering.
// All slices are pre-allocated and capped to prevent memory growth.
type GameSnapshot struct {
	Sequence   uint64    `json:"sequence"`  // Monotonic sequence for ordering
	Timestamp  time.Time `json:"timestamp"` // When snapshot was created
	TickNumber uint64    `json:"tick"`
	SimTime    float64   `json:"simTime"`

	Agents     []AgentSnapshot     `json:"agents"`
	Collisions []CollisionSnapshot `json:"collisions"`
	Chest      ChestSnapshot       `json:"chest"`
	HasChest   bool                `json:"hasChest"`

	AgentCount   int  `json:"agentCount"` // including agents beyond the snapshot cap
	CommitCount  int  `json:"commitCount"`
	MaskFailOpen bool `json:"maskFailOpen"`
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Uses triple buffering for lock-free producer/consumer.
type SnapshotPool struct {
	snapshots [3]GameSnapshot
	writeIdx  uint32 // atomic - producer index
	readIdx   uint32 // atomic - consumer index
	sequence  uint64 // atomic - monotonic sequence
}

// NewSnapshotPool creates a pool with pre-allocated slices.
func NewSnapshotPool(limits config.ResourceLimits) *SnapshotPool {
	pool := &SnapshotPool{}

	for i := 0; i < 3; i++ {
		pool.snapshots[i] = GameSnapshot{
			Agents:     make([]AgentSnapshot, 0, limits.MaxSnapshotAgents),
			Collisions: make([]CollisionSnapshot, 0, limits.MaxCollisionEvents),
		}
	}

	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the tick).
// Returns a snapshot with reset slices but preserved capacity.
func (p *SnapshotPool) AcquireWrite() *GameSnapshot {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	snap := &p.snapshots[idx]

	snap.Agents = snap.Agents[:0]
	snap.Collisions = snap.Collisions[:0]
	snap.Chest = ChestSnapshot{}
	snap.HasChest = false

	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()

	return snap
}

// PublishWrite marks the write complete and advances the read pointer.
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead gets the latest complete snapshot (consumer only).
func (p *SnapshotPool) AcquireRead() *GameSnapshot {
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.snapshots[idx]
}
