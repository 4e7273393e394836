package game

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// ClaimState is the lifecycle of one chest instance.
type ClaimState uint8

const (
	ClaimIdle ClaimState = iota
	ClaimPending
	ClaimClaimed
)

func (s ClaimState) String() string {
	switch s {
	case ClaimIdle:
		return "idle"
	case ClaimPending:
		return "pending"
	case ClaimClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ClaimState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Chest is the single active shared resource.
type Chest struct {
	Key          string
	Source       string
	X, Y         float64 // as reported by the feed
	GoalX, GoalY float64 // walkable point agents converge on
	State        ClaimState
	CandidateID  string
	SpawnedAt    float64
	PendingSince float64
	CommitAt     float64
	Opening      bool // visual "opening" started with the pending claim
	Reward       Reward
}

// ClaimCommit is emitted exactly once per chest key.
type ClaimCommit struct {
	EventID     string    `json:"eventId"`
	ResourceKey string    `json:"resourceKey"`
	WinnerID    string    `json:"winnerId"`
	Source      string    `json:"source,omitempty"`
	SimTime     float64   `json:"simTime"`
	TickNum     uint64    `json:"tick"`
	CommittedAt time.Time `json:"committedAt"`
	Reward      Reward    `json:"reward"`
}

// ClaimArbitrator owns the chest lifecycle: appearance, the one delayed
// commit, and teardown. It is only called from inside a tick.
//
// The committed and cancelled sets are never pruned. A key can never commit
// twice, and a key whose pending claim was cancelled never commits at all,
// even if the feed re-announces it.
type ClaimArbitrator struct {
	delay     float64
	active    *Chest
	committed map[string]struct{}
	cancelled map[string]struct{}
}

// NewClaimArbitrator creates an arbitrator that commits delay seconds after
// the first agent reaches the chest.
func NewClaimArbitrator(delay float64) *ClaimArbitrator {
	return &ClaimArbitrator{
		delay:     delay,
		committed: make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
	}
}

// Active returns the active chest, or nil.
func (c *ClaimArbitrator) Active() *Chest {
	return c.active
}

// IsCommitted reports whether key has already produced its commit.
func (c *ClaimArbitrator) IsCommitted(key string) bool {
	_, ok := c.committed[key]
	return ok
}

// IsCancelled reports whether key lost a pending claim to a despawn or
// replacement.
func (c *ClaimArbitrator) IsCancelled(key string) bool {
	_, ok := c.cancelled[key]
	return ok
}

// IsRetired reports whether key may never spawn again.
func (c *ClaimArbitrator) IsRetired(key string) bool {
	return c.IsCommitted(key) || c.IsCancelled(key)
}

// CommittedCount returns the number of keys that have committed.
func (c *ClaimArbitrator) CommittedCount() int {
	return len(c.committed)
}

// Spawn activates a chest for u. A retired key or the key already active is
// a no-op. A different active chest is replaced and returned so the caller can
// reset agents; its pending claim, if any, is cancelled for good.
func (c *ClaimArbitrator) Spawn(key string, u ChestUpdate, goalX, goalY, now float64) (spawned bool, replaced *Chest) {
	if key == "" || c.IsRetired(key) {
		return false, nil
	}
	if c.active != nil {
		if c.active.Key == key {
			return false, nil
		}
		replaced = c.active
		c.retirePending(replaced)
	}

	c.active = &Chest{
		Key:       key,
		Source:    u.Source,
		X:         u.X,
		Y:         u.Y,
		GoalX:     goalX,
		GoalY:     goalY,
		State:     ClaimIdle,
		SpawnedAt: now,
		Reward:    u.Reward,
	}
	return true, replaced
}

// TryStartClaim records agentID as the candidate winner and starts the commit
// timer. It only acts on the active chest while Idle; any other call is a
// no-op, so repeated or late arrivals never restart the timer.
func (c *ClaimArbitrator) TryStartClaim(key, agentID string, now float64) bool {
	ch := c.active
	if ch == nil || ch.Key != key || ch.State != ClaimIdle {
		return false
	}
	if c.IsRetired(key) {
		return false
	}

	ch.State = ClaimPending
	ch.CandidateID = agentID
	ch.PendingSince = now
	ch.CommitAt = now + c.delay
	ch.Opening = true
	return true
}

// Evaluate fires the commit once the pending timer has elapsed. The chest is
// marked Claimed and stays active until the caller tears it down.
func (c *ClaimArbitrator) Evaluate(now float64) *ClaimCommit {
	ch := c.active
	if ch == nil || ch.State != ClaimPending || now < ch.CommitAt {
		return nil
	}
	if c.IsCommitted(ch.Key) {
		log.Printf("⚠️ Chest %s already committed, ignoring second commit", ch.Key)
		ch.State = ClaimClaimed
		return nil
	}

	ch.State = ClaimClaimed
	c.committed[ch.Key] = struct{}{}

	return &ClaimCommit{
		EventID:     uuid.NewString(),
		ResourceKey: ch.Key,
		WinnerID:    ch.CandidateID,
		Source:      ch.Source,
		SimTime:     now,
		CommittedAt: time.Now(),
		Reward:      ch.Reward,
	}
}

// Despawn removes the active chest when key matches it. An unknown or stale
// key is a no-op. A pending claim is cancelled and its key will never commit.
func (c *ClaimArbitrator) Despawn(key string) (*Chest, bool) {
	ch := c.active
	if ch == nil || ch.Key != key {
		return nil, false
	}
	c.active = nil
	c.retirePending(ch)
	return ch, true
}

func (c *ClaimArbitrator) retirePending(ch *Chest) {
	if ch.State == ClaimPending {
		c.cancelled[ch.Key] = struct{}{}
	}
}

// Teardown clears the active chest after its commit.
func (c *ClaimArbitrator) Teardown() *Chest {
	ch := c.active
	c.active = nil
	return ch
}
