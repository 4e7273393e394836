package game

import (
	"encoding/json"
	"testing"
)

func spawnTestChest(t *testing.T, c *ClaimArbitrator, key string, now float64) {
	t.Helper()
	spawned, replaced := c.Spawn(key, ChestUpdate{ID: key, X: 5, Y: 5, Visible: true}, 5, 5, now)
	if !spawned || replaced != nil {
		t.Fatalf("Spawn(%s): spawned=%v replaced=%v", key, spawned, replaced)
	}
}

// TestTryStartClaimIdempotent verifies a second claim never restarts the timer
func TestTryStartClaimIdempotent(t *testing.T) {
	c := NewClaimArbitrator(5)
	spawnTestChest(t, c, "chest-1", 0)

	if !c.TryStartClaim("chest-1", "alice", 1.0) {
		t.Fatal("First claim should start")
	}
	if c.TryStartClaim("chest-1", "bob", 1.5) {
		t.Error("Second claim on a pending chest should be a no-op")
	}
	if c.TryStartClaim("chest-1", "alice", 2.0) {
		t.Error("Repeated claim by the candidate should be a no-op")
	}

	ch := c.Active()
	if ch.CandidateID != "alice" {
		t.Errorf("Expected candidate alice, got %s", ch.CandidateID)
	}
	if ch.CommitAt != 6.0 {
		t.Errorf("Expected commit at 6.0, got %.2f", ch.CommitAt)
	}
	if !ch.Opening {
		t.Error("Chest should start opening with the pending claim")
	}

	if c.TryStartClaim("other", "carol", 2.0) {
		t.Error("Claim for a key that is not active should be a no-op")
	}
}

// TestEvaluateCommitsOnce verifies exactly one commit per key
func TestEvaluateCommitsOnce(t *testing.T) {
	c := NewClaimArbitrator(5)
	spawnTestChest(t, c, "chest-1", 0)
	c.TryStartClaim("chest-1", "alice", 1.0)

	if commit := c.Evaluate(5.9); commit != nil {
		t.Fatal("Commit fired before the delay elapsed")
	}

	commit := c.Evaluate(6.0)
	if commit == nil {
		t.Fatal("Expected commit once the delay elapsed")
	}
	if commit.ResourceKey != "chest-1" || commit.WinnerID != "alice" {
		t.Errorf("Unexpected commit %+v", commit)
	}
	if commit.EventID == "" {
		t.Error("Commit should carry an event id")
	}

	for now := 6.0; now < 20; now += 0.5 {
		if c.Evaluate(now) != nil {
			t.Fatalf("Second commit at %.1f", now)
		}
	}
	if c.TryStartClaim("chest-1", "bob", 7) {
		t.Error("Claim on a claimed chest should be a no-op")
	}

	c.Teardown()
	if spawned, _ := c.Spawn("chest-1", ChestUpdate{ID: "chest-1", Visible: true}, 1, 1, 8); spawned {
		t.Error("A committed key must not spawn again")
	}
	if c.CommittedCount() != 1 {
		t.Errorf("Expected 1 committed key, got %d", c.CommittedCount())
	}
}

// TestDespawnCancelsPending verifies despawn before the deadline never commits
func TestDespawnCancelsPending(t *testing.T) {
	c := NewClaimArbitrator(5)
	spawnTestChest(t, c, "chest-1", 0)
	c.TryStartClaim("chest-1", "alice", 1.0)

	if _, ok := c.Despawn("someone-else"); ok {
		t.Error("Stale key should not despawn the active chest")
	}

	ch, ok := c.Despawn("chest-1")
	if !ok || ch.State != ClaimPending {
		t.Fatalf("Expected pending chest back, got %v %v", ch, ok)
	}
	if c.Active() != nil {
		t.Error("Chest should be gone")
	}
	if commit := c.Evaluate(100); commit != nil {
		t.Error("Cancelled claim must never commit")
	}
	if c.IsCommitted("chest-1") {
		t.Error("Cancelled key should not be marked committed")
	}
	if !c.IsCancelled("chest-1") {
		t.Error("Cancelled key should be remembered")
	}
	if spawned, _ := c.Spawn("chest-1", ChestUpdate{ID: "chest-1", Visible: true}, 1, 1, 2); spawned {
		t.Error("Cancelled key must not spawn again")
	}
}

// TestCancelledKeyNeverCommits verifies every cancel path retires the key,
// while an idle chest that simply disappears may come back
func TestCancelledKeyNeverCommits(t *testing.T) {
	tests := []struct {
		name        string
		cancel      func(c *ClaimArbitrator)
		wantRetired bool
	}{
		{
			name:        "despawn while pending",
			cancel:      func(c *ClaimArbitrator) { c.Despawn("chest-1") },
			wantRetired: true,
		},
		{
			name: "replaced while pending",
			cancel: func(c *ClaimArbitrator) {
				c.Spawn("chest-2", ChestUpdate{ID: "chest-2", Visible: true}, 2, 2, 1.5)
				c.Despawn("chest-2")
			},
			wantRetired: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClaimArbitrator(5)
			spawnTestChest(t, c, "chest-1", 0)
			c.TryStartClaim("chest-1", "alice", 1.0)
			tt.cancel(c)

			if c.IsRetired("chest-1") != tt.wantRetired {
				t.Fatalf("Expected retired=%v", tt.wantRetired)
			}
			c.Spawn("chest-1", ChestUpdate{ID: "chest-1", Visible: true}, 1, 1, 2)
			if c.TryStartClaim("chest-1", "bob", 2) {
				t.Error("Retired key accepted a new claim")
			}
			if commit := c.Evaluate(100); commit != nil {
				t.Errorf("Retired key committed: %+v", commit)
			}
		})
	}

	t.Run("idle despawn", func(t *testing.T) {
		c := NewClaimArbitrator(5)
		spawnTestChest(t, c, "chest-1", 0)
		c.Despawn("chest-1")
		if c.IsRetired("chest-1") {
			t.Error("An unclaimed chest should be allowed to reappear")
		}
		if spawned, _ := c.Spawn("chest-1", ChestUpdate{ID: "chest-1", Visible: true}, 1, 1, 2); !spawned {
			t.Error("Expected idle key to spawn again")
		}
	})
}

// TestSpawnReplacesDifferentChest verifies only one chest is active
func TestSpawnReplacesDifferentChest(t *testing.T) {
	c := NewClaimArbitrator(5)
	spawnTestChest(t, c, "chest-1", 0)

	if spawned, _ := c.Spawn("chest-1", ChestUpdate{ID: "chest-1", Visible: true}, 9, 9, 1); spawned {
		t.Error("Re-announcing the active chest should be a no-op")
	}

	spawned, replaced := c.Spawn("chest-2", ChestUpdate{ID: "chest-2", Visible: true}, 2, 2, 1)
	if !spawned || replaced == nil || replaced.Key != "chest-1" {
		t.Fatalf("Expected chest-1 replaced, got spawned=%v replaced=%v", spawned, replaced)
	}
	if c.Active().Key != "chest-2" {
		t.Errorf("Expected chest-2 active, got %s", c.Active().Key)
	}
}

// TestChestKeyDerivation verifies identity keys with and without an id
func TestChestKeyDerivation(t *testing.T) {
	tests := []struct {
		name string
		u    ChestUpdate
		want string
	}{
		{"explicit id", ChestUpdate{ID: "abc", Source: "feed", X: 1, Y: 2}, "abc"},
		{"derived", ChestUpdate{Source: "feed", X: 1.234, Y: 5.678}, "feed@1.23,5.68"},
		{"no identity", ChestUpdate{X: 1, Y: 2}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.u.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}

	if err := (ChestUpdate{X: 1}).Validate(); err != ErrEmptyKey {
		t.Errorf("Expected ErrEmptyKey, got %v", err)
	}
}

// TestRewardPassThrough verifies known kinds decode and unknown kinds keep their bytes
func TestRewardPassThrough(t *testing.T) {
	var u ChestUpdate
	doc := `{"source":"feed","x":1,"y":2,"visible":true,"reward":{"kind":"tokens","amount":250,"currency":"GOLD"}}`
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.Reward.Kind != RewardTokens || u.Reward.Tokens.Amount != 250 || u.Reward.Tokens.Currency != "GOLD" {
		t.Errorf("Unexpected tokens reward %+v", u.Reward)
	}

	raw := `{"kind":"nft","contract":"0x1","tokenId":7}`
	var r Reward
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal unknown: %v", err)
	}
	if r.Kind != RewardUnknown {
		t.Fatalf("Expected unknown kind, got %q", r.Kind)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal unknown: %v", err)
	}
	if string(out) != raw {
		t.Errorf("Unknown reward changed in transit: %s", out)
	}

	none, _ := json.Marshal(Reward{})
	if string(none) != "null" {
		t.Errorf("Empty reward should encode as null, got %s", none)
	}
}
