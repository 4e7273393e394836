package game

import (
	"math"
	"testing"
	"time"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game/spatial"
)

const testTick = time.Second / 30

func testSimConfig() config.SimConfig {
	cfg := config.DefaultSim()
	cfg.World.Width = 20
	cfg.World.Height = 20
	return cfg
}

func newTestEngine(t *testing.T, mask *spatial.NavMask) *Engine {
	t.Helper()
	cfg := testSimConfig()
	if mask == nil {
		mask = spatial.NewOpenMask(cfg.World.Width, cfg.World.Height, cfg.World.CellSize)
	}
	return NewEngine(cfg, mask, Options{Seed: 42})
}

func roster(ids ...string) []RosterEntry {
	out := make([]RosterEntry, len(ids))
	for i, id := range ids {
		out[i] = RosterEntry{AgentID: id, OwnerLabel: "owner-" + id}
	}
	return out
}

func advanceN(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.Advance(testTick)
	}
}

// hold parks an agent somewhere harmless so the test controls when it acts.
func hold(a *Agent, x, y float64) {
	a.X, a.Y = x, y
	a.PauseUntil = math.Inf(1)
}

// TestNewEngine verifies engine creation with correct defaults
func TestNewEngine(t *testing.T) {
	e := NewEngine(config.DefaultSim(), nil, Options{})
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
	if !e.Mask().FailOpen() {
		t.Error("Engine without a mask should use an open mask")
	}
	if e.TickCount() != 0 || e.SimTime() != 0 {
		t.Error("Fresh engine should be at tick 0")
	}
}

// TestEngineStartStop verifies engine can start and stop without panics
func TestEngineStartStop(t *testing.T) {
	e := newTestEngine(t, nil)
	e.SubmitRoster(roster("a", "b"))

	e.Start()
	e.Start() // second start is a no-op
	time.Sleep(150 * time.Millisecond)
	e.Stop()

	if e.TickCount() == 0 {
		t.Error("Expected ticks while running")
	}

	// Should not panic on double stop
	e.Stop()
}

// TestAdvanceClampsDelta verifies a stalled tick is clamped to MaxDelta
func TestAdvanceClampsDelta(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Advance(5 * time.Second)

	if got, want := e.SimTime(), e.Config().MaxDelta.Seconds(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected sim time %.3f, got %.3f", want, got)
	}

	e.Advance(-time.Second)
	if got := e.SimTime(); math.Abs(got-e.Config().MaxDelta.Seconds()) > 1e-12 {
		t.Errorf("Negative delta should not move the clock, got %.3f", got)
	}
}

// TestRosterSpawnsAgents verifies new ids spawn on walkable cells in roster order
func TestRosterSpawnsAgents(t *testing.T) {
	e := newTestEngine(t, nil)
	e.SubmitRoster(roster("a", "b", "c", "b", ""))
	e.Advance(testTick)

	state := e.GetState()
	if state.AgentCount != 3 {
		t.Fatalf("Expected 3 agents, got %d", state.AgentCount)
	}
	for i, id := range []string{"a", "b", "c"} {
		got := state.Agents[i]
		if got.ID != id {
			t.Errorf("Agent %d: expected %s, got %s", i, id, got.ID)
		}
		if got.Owner != "owner-"+id {
			t.Errorf("Agent %s: expected owner label, got %q", id, got.Owner)
		}
		if !e.Mask().WalkableAt(got.X, got.Y) {
			t.Errorf("Agent %s spawned off the mask", id)
		}
	}
}

// TestRosterAgentLimit verifies the arena cap
func TestRosterAgentLimit(t *testing.T) {
	cfg := testSimConfig()
	cfg.Limits.MaxAgents = 2
	e := NewEngine(cfg, nil, Options{Seed: 1})

	e.SubmitRoster(roster("a", "b", "c"))
	advanceN(e, 3)

	if n := e.GetState().AgentCount; n != 2 {
		t.Errorf("Expected 2 agents at the cap, got %d", n)
	}
}

// TestRemovalDebounce verifies the absence counter, reset and removal window
func TestRemovalDebounce(t *testing.T) {
	e := newTestEngine(t, nil)
	threshold := e.Config().Claim.RemovalDebounceTicks

	e.SubmitRoster(roster("x", "y"))
	e.Advance(testTick)

	// absent for threshold-1 ticks, then back
	e.SubmitRoster(roster("y"))
	advanceN(e, threshold-1)
	if x := e.arena.Get("x"); x == nil || x.State == Victorious {
		t.Fatalf("x removed before the debounce threshold")
	}
	if got := e.arena.Get("x").AbsentTicks; got != threshold-1 {
		t.Errorf("Expected %d absent ticks, got %d", threshold-1, got)
	}

	e.SubmitRoster(roster("x", "y"))
	e.Advance(testTick)
	if got := e.arena.Get("x").AbsentTicks; got != 0 {
		t.Errorf("Reappearing should reset the counter, got %d", got)
	}

	// absent for the full threshold
	e.SubmitRoster(roster("y"))
	advanceN(e, threshold-1)
	if e.arena.Get("x").State == Victorious {
		t.Fatal("x removed one tick early")
	}
	e.Advance(testTick)
	x := e.arena.Get("x")
	if x == nil || x.State != Victorious {
		t.Fatalf("x should be Victorious after %d absent ticks", threshold)
	}

	// a Victorious agent is not re-added while it is still displayed
	e.SubmitRoster(roster("x", "y"))
	e.Advance(testTick)
	if e.arena.Get("x").State != Victorious {
		t.Error("Victorious agent should not be revived")
	}
	e.SubmitRoster(roster("y"))

	displayTicks := int(e.Config().Claim.VictoryDisplay/testTick.Seconds()) + 2
	advanceN(e, displayTicks)
	if e.arena.Get("x") != nil {
		t.Error("x should be reaped after the display window")
	}
	if e.arena.Get("y") == nil {
		t.Error("y should still be present")
	}
}

// TestClaimFirstArrivalWins verifies the candidate is the first agent in the
// trigger radius and the commit fires ClaimDelay after its arrival
func TestClaimFirstArrivalWins(t *testing.T) {
	e := newTestEngine(t, nil)
	var commits []ClaimCommit
	e.SetHooks(Hooks{OnCommit: func(c ClaimCommit) { commits = append(commits, c) }})

	e.SubmitRoster(roster("a", "b"))
	e.Advance(testTick) // tick 1
	a, b := e.arena.Get("a"), e.arena.Get("b")
	hold(a, 2, 2)
	hold(b, 18, 18)

	if err := e.SubmitChest(ChestUpdate{Source: "test", X: 10, Y: 10, Visible: true}); err != nil {
		t.Fatal(err)
	}
	advanceN(e, 8) // ticks 2..9
	chest := e.claims.Active()
	if chest == nil {
		t.Fatal("Chest should be active")
	}

	a.X, a.Y, a.PauseUntil = 9.2, 10, 0
	a.State, a.LastChestKey = Approaching, chest.Key
	e.Advance(testTick) // tick 10
	tick10 := e.SimTime()
	if chest.State != ClaimPending || chest.CandidateID != "a" {
		t.Fatalf("Expected pending claim by a, got %s by %q", chest.State, chest.CandidateID)
	}
	if a.State != Digging {
		t.Errorf("a should be digging, got %s", a.State)
	}

	b.X, b.Y, b.PauseUntil = 10.8, 10, 0
	b.State, b.LastChestKey = Approaching, chest.Key
	e.Advance(testTick) // tick 11
	if chest.CandidateID != "a" {
		t.Errorf("Candidate changed to %s", chest.CandidateID)
	}
	if b.State != Digging {
		t.Errorf("b should be digging too, got %s", b.State)
	}

	for i := 0; i < 400 && len(commits) == 0; i++ {
		e.Advance(testTick)
	}
	if len(commits) != 1 {
		t.Fatalf("Expected one commit, got %d", len(commits))
	}
	c := commits[0]
	if c.WinnerID != "a" || c.ResourceKey != chest.Key {
		t.Errorf("Unexpected commit %+v", c)
	}
	delay := e.Config().Claim.ClaimDelay
	if elapsed := c.SimTime - tick10; elapsed < delay-1e-9 || elapsed > delay+testTick.Seconds()+1e-9 {
		t.Errorf("Commit %.3fs after tick 10, want %.1fs", elapsed, delay)
	}

	// the chest is torn down and everyone goes back to wandering
	if e.claims.Active() != nil {
		t.Error("Chest should be torn down after commit")
	}
	for _, ag := range []*Agent{a, b} {
		if ag.State != Wandering {
			t.Errorf("%s should be wandering after commit, got %s", ag.ID, ag.State)
		}
	}

	// re-announcing the claimed chest never commits again
	e.SubmitChest(ChestUpdate{Source: "test", X: 10, Y: 10, Visible: true})
	advanceN(e, 300)
	if len(commits) != 1 {
		t.Errorf("Expected exactly one commit for the key, got %d", len(commits))
	}
	if got := e.Commits(); len(got) != 1 || got[0].TickNum == 0 {
		t.Errorf("Commit history wrong: %+v", got)
	}
}

// TestDespawnWhilePending verifies a cancelled claim never commits and agents reset
func TestDespawnWhilePending(t *testing.T) {
	e := newTestEngine(t, nil)
	var commits, cancels int
	e.SetHooks(Hooks{
		OnCommit: func(ClaimCommit) { commits++ },
		OnCancel: func(string) { cancels++ },
	})

	e.SubmitRoster(roster("a", "b", "c"))
	e.Advance(testTick)
	a, b, c := e.arena.Get("a"), e.arena.Get("b"), e.arena.Get("c")
	hold(b, 2, 2)
	hold(c, 18, 2)

	update := ChestUpdate{ID: "chest-9", X: 10, Y: 10, Visible: true}
	e.SubmitChest(update)
	e.Advance(testTick)

	a.X, a.Y, a.PauseUntil = 10.5, 10.5, 0
	a.State, a.LastChestKey = Approaching, "chest-9"
	b.State, b.LastChestKey = Approaching, "chest-9"
	c.State, c.LastChestKey, c.StateUntil = Surprised, "chest-9", math.Inf(1)
	advanceN(e, 9) // through tick 11
	if ch := e.claims.Active(); ch == nil || ch.State != ClaimPending {
		t.Fatal("Expected a pending claim")
	}

	update.Visible = false
	e.SubmitChest(update)
	e.Advance(testTick) // tick 12 applies the despawn
	e.Advance(testTick) // tick 13

	for _, ag := range []*Agent{a, b, c} {
		if ag.State != Wandering {
			t.Errorf("%s should be wandering, got %s", ag.ID, ag.State)
		}
		if ag.LastChestKey != "" {
			t.Errorf("%s still remembers the chest", ag.ID)
		}
	}

	advanceN(e, 300)
	if commits != 0 {
		t.Errorf("Cancelled chest committed %d times", commits)
	}
	if cancels != 1 {
		t.Errorf("Expected one cancel, got %d", cancels)
	}

	// the feed announcing the same chest again must not revive it
	update.Visible = true
	e.SubmitChest(update)
	a.X, a.Y, a.PauseUntil = 10.5, 10.5, 0
	advanceN(e, 600)
	if e.claims.Active() != nil {
		t.Error("Cancelled key should not spawn again")
	}
	if commits != 0 {
		t.Errorf("Cancelled key chest-9 committed %d times after re-announce", commits)
	}
}

// TestSurpriseOncePerChest verifies the surprise reaction fires once per chest key
func TestSurpriseOncePerChest(t *testing.T) {
	e := newTestEngine(t, nil)
	e.SubmitRoster(roster("a"))
	e.Advance(testTick)
	a := e.arena.Get("a")

	e.SubmitChest(ChestUpdate{ID: "c1", X: 15, Y: 15, Visible: true})
	e.Advance(testTick)
	if a.State != Surprised || a.LastChestKey != "c1" {
		t.Fatalf("Expected Surprised by c1, got %s/%q", a.State, a.LastChestKey)
	}

	surpriseTicks := int(e.Config().Steering.SurpriseDuration/testTick.Seconds()) + 2
	advanceN(e, surpriseTicks)
	if a.State != Approaching && a.State != Digging {
		t.Errorf("Expected Approaching after the surprise hold, got %s", a.State)
	}
}

// TestAgentsStayOnMask verifies every agent ends each tick on a walkable cell
func TestAgentsStayOnMask(t *testing.T) {
	cfg := testSimConfig()
	cols, rows := int(cfg.World.Width), int(cfg.World.Height)
	walkable := make([]bool, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			// vertical wall with a gap near the bottom
			walkable[y*cols+x] = !(x == 10 && y < 15)
		}
	}
	mask := spatial.NewNavMaskFromCells(cfg.World.Width, cfg.World.Height, 1, walkable)
	e := NewEngine(cfg, mask, Options{Seed: 7})

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	e.SubmitRoster(roster(ids...))
	e.SubmitChest(ChestUpdate{ID: "wall-chest", X: 15, Y: 5, Visible: true})

	for tick := 0; tick < 600; tick++ {
		e.Advance(testTick)
		for _, a := range e.arena.All() {
			if !mask.WalkableAt(a.X, a.Y) {
				t.Fatalf("tick %d: %s off the mask at (%.2f, %.2f)", tick, a.ID, a.X, a.Y)
			}
		}
	}
}

// TestCollisionPassLeavesSeparationOrPause verifies the post-tick pair property
func TestCollisionPassLeavesSeparationOrPause(t *testing.T) {
	e := newTestEngine(t, nil)
	minDist := e.Config().Collision.MinDist

	ids := make([]string, 60)
	for i := range ids {
		ids[i] = "g" + string(rune('0'+i/10)) + string(rune('0'+i%10))
	}
	e.SubmitRoster(roster(ids...))
	e.SubmitChest(ChestUpdate{ID: "crowd", X: 10, Y: 10, Visible: true})

	for tick := 0; tick < 300; tick++ {
		e.Advance(testTick)
		agents := e.arena.All()
		for i := 0; i < len(agents); i++ {
			for j := i + 1; j < len(agents); j++ {
				a, b := agents[i], agents[j]
				if !a.Active() || !b.Active() {
					continue
				}
				if math.Hypot(a.X-b.X, a.Y-b.Y) >= minDist-1e-6 {
					continue
				}
				// pushes later in the same pass can close a pair again;
				// the agent that was pushed is then stunned
				if !a.Paused(e.now) && !b.Paused(e.now) {
					t.Fatalf("tick %d: %s and %s overlap with neither paused", tick, a.ID, b.ID)
				}
			}
		}
	}
}

// TestAgentsConvergeOnChest verifies an unscripted run produces one commit
func TestAgentsConvergeOnChest(t *testing.T) {
	e := newTestEngine(t, nil)
	var commits []ClaimCommit
	e.SetHooks(Hooks{OnCommit: func(c ClaimCommit) { commits = append(commits, c) }})

	e.SubmitRoster(roster("a", "b", "c", "d", "e", "f", "g", "h"))
	e.Advance(testTick)
	e.SubmitChest(ChestUpdate{Source: "drop", X: 10, Y: 10, Visible: true,
		Reward: Reward{Kind: RewardTokens, Tokens: &TokenReward{Amount: 5}}})

	for i := 0; i < 60*30 && len(commits) == 0; i++ {
		e.Advance(testTick)
	}
	if len(commits) != 1 {
		t.Fatalf("Expected a commit within 60s, got %d", len(commits))
	}
	if e.arena.Get(commits[0].WinnerID) == nil {
		t.Errorf("Winner %q is not an agent", commits[0].WinnerID)
	}
	if commits[0].Reward.Kind != RewardTokens || commits[0].Reward.Tokens.Amount != 5 {
		t.Errorf("Reward not passed through: %+v", commits[0].Reward)
	}
}

// TestDeterministicWithSeed verifies identical inputs and seed give identical runs
func TestDeterministicWithSeed(t *testing.T) {
	run := func() []AgentSnapshot {
		e := NewEngine(testSimConfig(), nil, Options{Seed: 99})
		e.SubmitRoster(roster("a", "b", "c", "d", "e"))
		advanceN(e, 30)
		e.SubmitChest(ChestUpdate{ID: "c", X: 4, Y: 16, Visible: true})
		advanceN(e, 120)
		return e.GetState().Agents
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("Agent counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].X != second[i].X || first[i].Y != second[i].Y || first[i].State != second[i].State {
			t.Errorf("Agent %s diverged: %+v vs %+v", first[i].ID, first[i], second[i])
		}
	}
}

// TestSnapshotPublished verifies the lock-free snapshot tracks the tick
func TestSnapshotPublished(t *testing.T) {
	e := newTestEngine(t, nil)
	e.SubmitRoster(roster("a", "b"))
	e.SubmitChest(ChestUpdate{ID: "snap", X: 3, Y: 3, Visible: true})
	advanceN(e, 3)

	snap := e.GetSnapshot()
	if snap.TickNumber != 3 {
		t.Errorf("Expected tick 3, got %d", snap.TickNumber)
	}
	if len(snap.Agents) != 2 || snap.AgentCount != 2 {
		t.Errorf("Expected 2 agents, got %d/%d", len(snap.Agents), snap.AgentCount)
	}
	if !snap.HasChest || snap.Chest.Key != "snap" {
		t.Errorf("Expected chest in snapshot, got %+v", snap.Chest)
	}
	if snap.Agents[0].TrailLen == 0 {
		t.Error("Trail should be copied")
	}
}

// TestSubmitChestValidation verifies bad updates are rejected before the inbox
func TestSubmitChestValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.SubmitChest(ChestUpdate{X: 1, Y: 1, Visible: true}); err != ErrEmptyKey {
		t.Errorf("Expected ErrEmptyKey, got %v", err)
	}
	if err := e.SubmitChest(ChestUpdate{ID: "n", X: math.NaN(), Visible: true}); err == nil {
		t.Error("Expected error for NaN position")
	}

	var err error
	for i := 0; i <= MaxPendingChestUpdates && err == nil; i++ {
		err = e.SubmitChest(ChestUpdate{ID: "flood", Visible: i%2 == 0})
	}
	if err != ErrInboxFull {
		t.Errorf("Expected ErrInboxFull, got %v", err)
	}
}
