package game

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game/spatial"
)

// Stepper advances a simulation by one tick of dt. The engine's own ticker
// and headless drivers both go through it.
type Stepper interface {
	Advance(dt time.Duration)
}

// Options are construction-time engine settings.
type Options struct {
	Seed int64 // 0 = time-based
}

// Hooks are called synchronously from inside the tick, under the engine
// lock. They must not block or call back into the engine.
type Hooks struct {
	OnTick   func(TickStats)
	OnJoin   func(agentID string)
	OnCommit func(ClaimCommit)
	OnCancel func(chestKey string)
}

// TickStats summarizes one tick for metrics.
type TickStats struct {
	Tick        uint64
	Duration    time.Duration // wall clock spent in Advance
	Delta       time.Duration // clamped simulation step
	Agents      int
	Collisions  int // pairs resolved this tick
	LiveEvents  int
	OffMaskFix  int
	Reaped      int
	PendingDigs int
}

// Engine is the simulation clock. It owns every agent and the chest, and
// runs the fixed tick order: roster sync, grid rebuild, steering, collision
// pass, arbitration, off-mask guard, reap.
type Engine struct {
	mu sync.RWMutex

	cfg  config.SimConfig
	mask *spatial.NavMask

	arena      *Arena
	inbox      *Inbox
	grid       *spatial.SpatialGrid
	flows      *spatial.FlowFieldCache
	collisions *CollisionResolver
	claims     *ClaimArbitrator

	// latest roster; nil until the first roster arrives
	roster    []RosterEntry
	rosterSet map[string]struct{}
	capWarned bool

	commits []ClaimCommit // recent, capped at Limits.MaxCommitHistory

	now       float64 // simulation seconds
	tickCount uint64

	rng     *rand.Rand
	rngSeed int64

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}

	hooks        Hooks
	snapshotPool *SnapshotPool
	eventLog     *EventLog
}

// NewEngine creates an engine over mask. A nil mask means an open world.
func NewEngine(cfg config.SimConfig, mask *spatial.NavMask, opts Options) *Engine {
	if mask == nil {
		mask = spatial.NewOpenMask(cfg.World.Width, cfg.World.Height, cfg.World.CellSize)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	w, h := mask.WorldSize()

	return &Engine{
		cfg:          cfg,
		mask:         mask,
		arena:        NewArena(cfg.Limits.MaxAgents),
		inbox:        NewInbox(),
		grid:         spatial.NewSpatialGrid(w, h, cfg.Collision.GridCellSize, cfg.Collision.MaxNeighbors),
		flows:        spatial.NewFlowFieldCache(mask),
		collisions:   NewCollisionResolver(cfg.Collision, mask, rng, cfg.Limits.MaxCollisionEvents),
		claims:       NewClaimArbitrator(cfg.Claim.ClaimDelay),
		commits:      make([]ClaimCommit, 0, cfg.Limits.MaxCommitHistory),
		rng:          rng,
		rngSeed:      seed,
		snapshotPool: NewSnapshotPool(cfg.Limits),
		eventLog:     NewEventLog(),
	}
}

// SetHooks installs tick callbacks. Call before Start.
func (e *Engine) SetHooks(h Hooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

// Start runs Advance from a ticker at the configured tick rate, passing the
// measured wall-clock delta.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	stop, done := e.stopChan, e.doneChan
	e.mu.Unlock()

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))

	go func() {
		defer close(done)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				e.Advance(now.Sub(last))
				last = now
			case <-stop:
				return
			}
		}
	}()

	log.Printf("🎮 Simulation started at %d TPS", e.cfg.TickRate)
}

// Stop stops the tick loop and waits for the current tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	done := e.doneChan
	e.mu.Unlock()

	<-done
	log.Println("🛑 Simulation stopped")
}

// SubmitRoster buffers the active roster for the next tick.
func (e *Engine) SubmitRoster(entries []RosterEntry) {
	e.inbox.SubmitRoster(entries)
}

// SubmitChest buffers a chest spawn or despawn for the next tick.
func (e *Engine) SubmitChest(u ChestUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if !e.inbox.SubmitChest(u) {
		return ErrInboxFull
	}
	return nil
}

// Advance runs exactly one tick. dt is clamped to MaxDelta.
func (e *Engine) Advance(dt time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	if dt < 0 {
		dt = 0
	}
	if e.cfg.MaxDelta > 0 && dt > e.cfg.MaxDelta {
		dt = e.cfg.MaxDelta
	}
	sec := dt.Seconds()

	e.tickCount++
	e.now += sec
	e.eventLog.EmitSimple(EventTypeTick, e.tickCount, "", TickPayload{
		RNGSeed:    e.rngSeed,
		AgentCount: e.arena.Len(),
		DeltaNs:    int64(dt),
	})

	e.syncInbox()

	agents := e.arena.All()
	e.grid.Rebuild(len(agents), func(i int) (float64, float64, bool) {
		a := agents[i]
		return a.X, a.Y, a.Active()
	})

	e.steerAll(agents, sec)

	collisions := e.collisions.Resolve(agents, e.grid, e.now)
	for _, hit := range e.collisions.Impacts() {
		e.eventLog.EmitSimple(EventTypeCollision, e.tickCount, "", hit)
	}
	e.arbitrate()
	fixes := e.guardOffMask(sec)
	reaped := e.reap()
	e.collisions.Prune(e.now)

	e.produceSnapshot()

	if e.hooks.OnTick != nil {
		e.hooks.OnTick(TickStats{
			Tick:        e.tickCount,
			Duration:    time.Since(started),
			Delta:       dt,
			Agents:      e.arena.Len(),
			Collisions:  collisions,
			LiveEvents:  e.collisions.Len(),
			OffMaskFix:  fixes,
			Reaped:      reaped,
			PendingDigs: e.countState(Digging),
		})
	}
}

// syncInbox applies buffered roster and chest input.
func (e *Engine) syncInbox() {
	roster, hasRoster, chests := e.inbox.Drain()
	if hasRoster {
		e.setRoster(roster)
	}
	if e.rosterSet != nil {
		e.syncRoster()
	}
	for _, u := range chests {
		e.applyChestUpdate(u)
	}
}

func (e *Engine) setRoster(entries []RosterEntry) {
	e.roster = e.roster[:0]
	e.rosterSet = make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.AgentID == "" {
			continue
		}
		if _, dup := e.rosterSet[entry.AgentID]; dup {
			continue
		}
		e.rosterSet[entry.AgentID] = struct{}{}
		e.roster = append(e.roster, entry)
	}
}

// syncRoster spawns newly listed agents and debounces missing ones.
func (e *Engine) syncRoster() {
	for _, entry := range e.roster {
		if a := e.arena.Get(entry.AgentID); a != nil {
			if a.Active() {
				a.AbsentTicks = 0
				a.Owner = entry.OwnerLabel
			}
			continue
		}
		e.spawnAgent(entry)
	}

	threshold := e.cfg.Claim.RemovalDebounceTicks
	for _, a := range e.arena.All() {
		if !a.Active() {
			continue
		}
		if _, ok := e.rosterSet[a.ID]; ok {
			continue
		}
		a.AbsentTicks++
		if a.AbsentTicks < threshold {
			continue
		}
		a.apply(SignalRemoved)
		a.StateUntil = e.now + e.cfg.Claim.VictoryDisplay
		e.eventLog.EmitSimple(EventTypeAgentVictorious, e.tickCount, a.ID,
			AgentLeavePayload{AgentID: a.ID, AbsentTicks: a.AbsentTicks, X: a.X, Y: a.Y})
		log.Printf("🏆 Agent %s left the roster (absent %d ticks)", a.ID, a.AbsentTicks)
	}
}

func (e *Engine) spawnAgent(entry RosterEntry) {
	if e.arena.Len() >= e.cfg.Limits.MaxAgents {
		if !e.capWarned {
			log.Printf("⚠️ Agent limit reached (%d), not spawning %s", e.cfg.Limits.MaxAgents, entry.AgentID)
			e.capWarned = true
		}
		return
	}
	e.capWarned = false

	x, y, ok := e.mask.RandomWalkable(e.rng)
	if !ok {
		return
	}
	a := NewAgent(entry.AgentID, entry.OwnerLabel, x, y, e.cfg.Steering, e.rng, e.now)
	e.arena.Add(a)

	e.eventLog.EmitSimple(EventTypeAgentJoin, e.tickCount, a.ID,
		AgentJoinPayload{AgentID: a.ID, Owner: a.Owner, SpawnX: x, SpawnY: y})
	if e.hooks.OnJoin != nil {
		e.hooks.OnJoin(a.ID)
	}
}

// applyChestUpdate spawns or despawns the chest. Stale keys are ignored.
func (e *Engine) applyChestUpdate(u ChestUpdate) {
	key := u.Key()
	if key == "" {
		return
	}

	if !u.Visible {
		ch, ok := e.claims.Despawn(key)
		if !ok {
			return
		}
		e.chestGone(ch, "despawn")
		return
	}

	if e.claims.IsRetired(key) {
		return
	}
	w, h := e.mask.WorldSize()
	cx, cy := clampToWorld(u.X, u.Y, w, h)
	gx, gy, _ := e.mask.NearestWalkable(cx, cy)

	spawned, replaced := e.claims.Spawn(key, u, gx, gy, e.now)
	if replaced != nil {
		e.chestGone(replaced, "replaced")
	}
	if !spawned {
		return
	}

	e.flows.GetOrCreate(key, gx, gy)
	e.eventLog.EmitSimple(EventTypeChestSpawn, e.tickCount, "",
		ChestPayload{Key: key, Source: u.Source, X: u.X, Y: u.Y})
	log.Printf("📦 Chest %s appeared at (%.2f, %.2f)", key, gx, gy)
}

// chestGone resets agents after ch disappeared. A pending claim is cancelled.
func (e *Engine) chestGone(ch *Chest, reason string) {
	e.flows.Remove(ch.Key)
	e.resetChestAgents()

	payload := ChestPayload{Key: ch.Key, Source: ch.Source, X: ch.X, Y: ch.Y, CandidateID: ch.CandidateID, Reason: reason}
	if ch.State == ClaimPending {
		e.eventLog.EmitSimple(EventTypeClaimCancel, e.tickCount, "", payload)
		log.Printf("🚫 Pending claim on %s cancelled (%s)", ch.Key, reason)
		if e.hooks.OnCancel != nil {
			e.hooks.OnCancel(ch.Key)
		}
		return
	}
	e.eventLog.EmitSimple(EventTypeChestDespawn, e.tickCount, "", payload)
}

func (e *Engine) resetChestAgents() {
	ctx := e.steerContext(0)
	for _, a := range e.arena.All() {
		if a.State == Surprised || a.State == Approaching || a.State == Digging {
			a.forgetChest(ctx)
		}
	}
}

func (e *Engine) steerContext(dt float64) *steerContext {
	ctx := &steerContext{
		now:    e.now,
		dt:     dt,
		cfg:    &e.cfg.Steering,
		claim:  &e.cfg.Claim,
		mask:   e.mask,
		grid:   e.grid,
		agents: e.arena.All(),
		rng:    e.rng,
		claims: e.claims,
	}
	if ch := e.claims.Active(); ch != nil {
		ctx.chest = ch
		ctx.flow = e.flows.Get(ch.Key)
	}
	return ctx
}

// steerAll updates every agent in insertion order.
func (e *Engine) steerAll(agents []*Agent, dt float64) {
	ctx := e.steerContext(dt)
	wasIdle := ctx.chest != nil && ctx.chest.State == ClaimIdle

	for i, a := range agents {
		a.Update(ctx, uint32(i))
	}

	if ch := ctx.chest; wasIdle && ch.State == ClaimPending {
		e.eventLog.EmitSimple(EventTypeClaimPending, e.tickCount, ch.CandidateID,
			ChestPayload{Key: ch.Key, CandidateID: ch.CandidateID, CommitAt: ch.CommitAt})
		log.Printf("⛏️ %s started digging %s, commit in %.1fs", ch.CandidateID, ch.Key, ch.CommitAt-e.now)
	}
}

// arbitrate fires a due commit and tears the chest down.
func (e *Engine) arbitrate() {
	commit := e.claims.Evaluate(e.now)
	if commit == nil {
		return
	}
	commit.TickNum = e.tickCount

	if limit := e.cfg.Limits.MaxCommitHistory; limit > 0 {
		if len(e.commits) >= limit {
			copy(e.commits, e.commits[1:])
			e.commits = e.commits[:len(e.commits)-1]
		}
		e.commits = append(e.commits, *commit)
	}

	e.eventLog.EmitSimple(EventTypeClaimCommit, e.tickCount, commit.WinnerID,
		ChestPayload{Key: commit.ResourceKey, CandidateID: commit.WinnerID})
	log.Printf("💰 Chest %s claimed by %s (reward: %s)", commit.ResourceKey, commit.WinnerID, commit.Reward)

	if e.hooks.OnCommit != nil {
		e.hooks.OnCommit(*commit)
	}

	if ch := e.claims.Teardown(); ch != nil {
		e.flows.Remove(ch.Key)
		e.resetChestAgents()
	}
}

// guardOffMask puts any agent standing on a blocked cell back on the mask
// and forces a new target.
func (e *Engine) guardOffMask(dt float64) int {
	fixes := 0
	var ctx *steerContext
	w, h := e.mask.WorldSize()

	for _, a := range e.arena.All() {
		if !a.Active() || e.mask.WalkableAt(a.X, a.Y) {
			continue
		}
		if ctx == nil {
			ctx = e.steerContext(dt)
		}

		x, y := clampToWorld(a.X, a.Y, w, h)
		if p, ok := a.Trail.LastWhere(e.mask.WalkableAt); ok {
			x, y = p.X, p.Y
		} else if nx, ny, ok := e.mask.NearestWalkable(x, y); ok {
			x, y = nx, ny
		}
		a.moveTo(x, y)

		if a.State == Wandering {
			a.pickWanderTarget(ctx)
		}
		fixes++
	}
	if fixes > 0 {
		log.Printf("⚠️ Snapped %d off-mask agents back", fixes)
	}
	return fixes
}

// reap drops Victorious agents whose display window has passed.
func (e *Engine) reap() int {
	dropped := e.arena.Compact(func(a *Agent) bool {
		return a.Active() || e.now < a.StateUntil
	})
	for _, a := range dropped {
		e.eventLog.EmitSimple(EventTypeAgentReaped, e.tickCount, a.ID,
			AgentLeavePayload{AgentID: a.ID, X: a.X, Y: a.Y})
	}
	return len(dropped)
}

func (e *Engine) countState(s AgentState) int {
	n := 0
	for _, a := range e.arena.All() {
		if a.State == s {
			n++
		}
	}
	return n
}

// produceSnapshot publishes an immutable copy of the tick's result.
func (e *Engine) produceSnapshot() {
	snap := e.snapshotPool.AcquireWrite()
	e.fillSnapshot(snap, e.cfg.Limits.MaxSnapshotAgents)
	e.snapshotPool.PublishWrite()
}

func (e *Engine) fillSnapshot(snap *GameSnapshot, maxAgents int) {
	snap.TickNumber = e.tickCount
	snap.SimTime = e.now
	snap.AgentCount = e.arena.Len()
	snap.CommitCount = e.claims.CommittedCount()
	snap.MaskFailOpen = e.mask.FailOpen()

	for _, a := range e.arena.All() {
		if len(snap.Agents) >= maxAgents {
			break
		}
		s := AgentSnapshot{
			ID:       a.ID,
			Owner:    a.Owner,
			X:        a.X,
			Y:        a.Y,
			FacingX:  a.FacingX,
			FacingY:  a.FacingY,
			State:    a.State,
			AnimMult: a.AnimMult,
			Paused:   a.Paused(e.now),
			TargetX:  a.TargetX,
			TargetY:  a.TargetY,
		}
		if a.State == Digging && e.cfg.Claim.ClaimDelay > 0 {
			s.DigProg = clamp01(1 - (a.DigUntil-e.now)/e.cfg.Claim.ClaimDelay)
		}
		if a.State == Victorious {
			s.Remaining = a.StateUntil - e.now
		}
		n := a.Trail.Len()
		skip := 0
		if n > MaxTrailSnapshot {
			skip = n - MaxTrailSnapshot
		}
		for i := skip; i < n; i++ {
			s.Trail[s.TrailLen] = a.Trail.At(i)
			s.TrailLen++
		}
		snap.Agents = append(snap.Agents, s)
	}

	for _, ev := range e.collisions.Events() {
		if len(snap.Collisions) >= e.cfg.Limits.MaxCollisionEvents {
			break
		}
		snap.Collisions = append(snap.Collisions, CollisionSnapshot{
			PairKey:   ev.PairKey,
			X:         ev.X,
			Y:         ev.Y,
			Remaining: ev.ExpiresAt - e.now,
		})
	}
	sort.Slice(snap.Collisions, func(i, j int) bool {
		return snap.Collisions[i].PairKey < snap.Collisions[j].PairKey
	})

	if ch := e.claims.Active(); ch != nil {
		snap.HasChest = true
		snap.Chest = ChestSnapshot{
			Key:         ch.Key,
			Source:      ch.Source,
			X:           ch.X,
			Y:           ch.Y,
			GoalX:       ch.GoalX,
			GoalY:       ch.GoalY,
			State:       ch.State,
			CandidateID: ch.CandidateID,
			Opening:     ch.Opening,
		}
		if ch.State == ClaimPending {
			snap.Chest.CommitIn = ch.CommitAt - e.now
		}
	}
}

// GetSnapshot returns the latest published snapshot without locking.
// The render loop and websocket broadcast read from here.
func (e *Engine) GetSnapshot() *GameSnapshot {
	return e.snapshotPool.AcquireRead()
}

// GetState returns a freshly allocated copy of the current state. Unlike
// GetSnapshot it is safe to retain.
func (e *Engine) GetState() GameSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := GameSnapshot{
		Timestamp:  time.Now(),
		Agents:     make([]AgentSnapshot, 0, e.arena.Len()),
		Collisions: make([]CollisionSnapshot, 0, e.collisions.Len()),
	}
	e.fillSnapshot(&snap, e.arena.Len())
	return snap
}

// Commits returns the recent claim commits, oldest first.
func (e *Engine) Commits() []ClaimCommit {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ClaimCommit, len(e.commits))
	copy(out, e.commits)
	return out
}

// Agent returns a copy of the agent with id.
func (e *Engine) Agent(id string) (AgentSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a := e.arena.Get(id)
	if a == nil {
		return AgentSnapshot{}, false
	}
	return AgentSnapshot{
		ID:       a.ID,
		Owner:    a.Owner,
		X:        a.X,
		Y:        a.Y,
		FacingX:  a.FacingX,
		FacingY:  a.FacingY,
		State:    a.State,
		AnimMult: a.AnimMult,
		Paused:   a.Paused(e.now),
		TargetX:  a.TargetX,
		TargetY:  a.TargetY,
	}, true
}

// SimTime returns the simulation clock in seconds.
func (e *Engine) SimTime() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now
}

// TickCount returns the number of ticks run.
func (e *Engine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickCount
}

// Mask returns the navigation mask.
func (e *Engine) Mask() *spatial.NavMask {
	return e.mask
}

// Config returns the simulation configuration.
func (e *Engine) Config() config.SimConfig {
	return e.cfg
}

// GridStats returns broad-phase statistics from the last rebuild.
func (e *Engine) GridStats() spatial.GridStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Stats()
}

// StartEventLog starts the journal; see EventLog.Start.
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog flushes and closes the journal.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns journal statistics for monitoring
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}

// InboxDropped returns chest events rejected because the inbox was full.
func (e *Engine) InboxDropped() int {
	return e.inbox.Dropped()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
