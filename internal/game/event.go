package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary with RNG seed
	EventTypeAgentJoin
	EventTypeAgentVictorious
	EventTypeAgentReaped
	EventTypeCollision
	EventTypeChestSpawn
	EventTypeChestDespawn
	EventTypeClaimPending
	EventTypeClaimCommit
	EventTypeClaimCancel
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`
	AgentID   string          `json:"agentId,omitempty"` // Source agent (for rate limiting)
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeAgentJoin:
		return "agent_join"
	case EventTypeAgentVictorious:
		return "agent_victorious"
	case EventTypeAgentReaped:
		return "agent_reaped"
	case EventTypeCollision:
		return "collision"
	case EventTypeChestSpawn:
		return "chest_spawn"
	case EventTypeChestDespawn:
		return "chest_despawn"
	case EventTypeClaimPending:
		return "claim_pending"
	case EventTypeClaimCommit:
		return "claim_commit"
	case EventTypeClaimCancel:
		return "claim_cancel"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name so journals stay readable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText reads a type name back; unknown names decode to
// EventTypeUnknown so newer journals still load.
func (t *EventType) UnmarshalText(b []byte) error {
	for typ := EventTypeTick; typ <= EventTypeClaimCancel; typ++ {
		if typ.String() == string(b) {
			*t = typ
			return nil
		}
	}
	*t = EventTypeUnknown
	return nil
}

// Typed payloads for different event types

// TickPayload contains tick boundary information for replay
type TickPayload struct {
	RNGSeed    int64 `json:"rngSeed"`
	AgentCount int   `json:"agentCount"`
	DeltaNs    int64 `json:"deltaNs"`
}

// AgentJoinPayload contains agent spawn details
type AgentJoinPayload struct {
	AgentID string  `json:"agentId"`
	Owner   string  `json:"owner,omitempty"`
	SpawnX  float64 `json:"spawnX"`
	SpawnY  float64 `json:"spawnY"`
}

// AgentLeavePayload covers victorious and reaped agents
type AgentLeavePayload struct {
	AgentID     string  `json:"agentId"`
	AbsentTicks int     `json:"absentTicks,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// CollisionPayload contains one resolved pair
type CollisionPayload struct {
	PairKey string  `json:"pairKey"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// ChestPayload covers chest spawn, despawn and claim transitions
type ChestPayload struct {
	Key         string  `json:"key"`
	Source      string  `json:"source,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CandidateID string  `json:"candidateId,omitempty"`
	CommitAt    float64 `json:"commitAt,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, agentID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		AgentID:   agentID,
		Payload:   EncodePayload(payload),
	}
}
