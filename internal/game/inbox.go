package game

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrEmptyKey is returned for a chest update that carries neither an id nor
// a source to derive its identity from.
var ErrEmptyKey = errors.New("chest update has no identity")

// ErrInboxFull is returned when too many chest events are waiting for a tick.
var ErrInboxFull = errors.New("chest inbox full")

// MaxPendingChestUpdates bounds chest events buffered between two ticks.
const MaxPendingChestUpdates = 64

// RosterEntry is one active agent reported by the external roster feed.
type RosterEntry struct {
	AgentID    string `json:"agentId"`
	OwnerLabel string `json:"ownerLabel"`
}

// ChestUpdate is a chest spawn (Visible) or despawn (!Visible) from the feed.
type ChestUpdate struct {
	ID      string  `json:"id,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Source  string  `json:"source"`
	Visible bool    `json:"visible"`
	Reward  Reward  `json:"reward,omitempty"`
}

// Key returns the chest identity: the explicit id when present, otherwise
// the source and the position rounded to two decimals.
func (u ChestUpdate) Key() string {
	if u.ID != "" {
		return u.ID
	}
	if u.Source == "" {
		return ""
	}
	return fmt.Sprintf("%s@%.2f,%.2f", u.Source, u.X, u.Y)
}

// Validate rejects updates the engine would ignore.
func (u ChestUpdate) Validate() error {
	if u.Key() == "" {
		return ErrEmptyKey
	}
	if math.IsNaN(u.X) || math.IsNaN(u.Y) || math.IsInf(u.X, 0) || math.IsInf(u.Y, 0) {
		return fmt.Errorf("chest %s: non-finite position", u.Key())
	}
	return nil
}

// Inbox buffers feed input between ticks. Producers may call it from any
// goroutine; the engine drains it once at the start of each tick, so input
// is never applied mid-tick.
type Inbox struct {
	mu        sync.Mutex
	roster    []RosterEntry
	hasRoster bool
	chests    []ChestUpdate
	dropped   int
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{chests: make([]ChestUpdate, 0, 4)}
}

// SubmitRoster replaces any roster not yet consumed; only the latest matters.
func (in *Inbox) SubmitRoster(entries []RosterEntry) {
	cp := make([]RosterEntry, len(entries))
	copy(cp, entries)

	in.mu.Lock()
	in.roster = cp
	in.hasRoster = true
	in.mu.Unlock()
}

// SubmitChest queues a chest event. Events are applied in submission order.
// It returns false when the buffer is full and the event was dropped.
func (in *Inbox) SubmitChest(u ChestUpdate) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.chests) >= MaxPendingChestUpdates {
		in.dropped++
		return false
	}
	in.chests = append(in.chests, u)
	return true
}

// Drain hands the buffered input to the caller and resets the inbox.
// hasRoster is false when no roster arrived since the last drain.
func (in *Inbox) Drain() (roster []RosterEntry, hasRoster bool, chests []ChestUpdate) {
	in.mu.Lock()
	defer in.mu.Unlock()

	roster, hasRoster = in.roster, in.hasRoster
	in.roster, in.hasRoster = nil, false

	if len(in.chests) > 0 {
		chests = in.chests
		in.chests = make([]ChestUpdate, 0, 4)
	}
	return roster, hasRoster, chests
}

// Dropped returns how many chest events were rejected by the buffer cap.
func (in *Inbox) Dropped() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
