// Command headless runs the simulation without a server at a fixed step and
// reports every claim. Useful for tuning and for reproducing a seed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
	"goblin-dig/internal/render"
)

func main() {
	var (
		agents   = flag.Int("agents", 50, "roster size")
		duration = flag.Duration("duration", 30*time.Second, "simulated time to run")
		seed     = flag.Int64("seed", 1, "random seed (0 = time-based)")
		chestX   = flag.Float64("chest-x", -1, "chest x (negative = random walkable cell)")
		chestY   = flag.Float64("chest-y", -1, "chest y (negative = random walkable cell)")
		every    = flag.Duration("chest-every", 10*time.Second, "respawn a chest this often in simulated time")
		tuning   = flag.String("tuning", "", "YAML tuning file")
		maskPath = flag.String("mask", "", "navigation mask image")
		out      = flag.String("out", "", "write the final frame to this PNG")
		jsonOut  = flag.Bool("json", false, "print commits as NDJSON")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[headless] ", log.LstdFlags|log.Lmicroseconds)

	simCfg := config.DefaultSim()
	if *tuning != "" {
		cfg, err := config.LoadTuning(*tuning, simCfg)
		if err != nil {
			logger.Fatalf("tuning: %v", err)
		}
		simCfg = cfg
	}
	if *maskPath != "" {
		simCfg.World.MaskPath = *maskPath
	}

	world := simCfg.World
	mask, err := spatial.LoadNavMask(world.MaskPath, world.Width, world.Height, world.CellSize, world.MaskThreshold)
	if err != nil {
		logger.Printf("mask: %v", err)
	}

	engine := game.NewEngine(simCfg, mask, game.Options{Seed: *seed})

	var commits []game.ClaimCommit
	engine.SetHooks(game.Hooks{
		OnCommit: func(c game.ClaimCommit) { commits = append(commits, c) },
	})

	entries := make([]game.RosterEntry, *agents)
	for i := range entries {
		entries[i] = game.RosterEntry{AgentID: fmt.Sprintf("goblin-%03d", i), OwnerLabel: fmt.Sprintf("viewer %d", i)}
	}
	engine.SubmitRoster(entries)

	step := time.Second / time.Duration(simCfg.TickRate)
	chests := 0
	nextChest := time.Duration(0)
	start := time.Now()

	for elapsed := time.Duration(0); elapsed < *duration; elapsed += step {
		if *every > 0 && elapsed >= nextChest {
			x, y := *chestX, *chestY
			if x < 0 || y < 0 {
				x, y = randomCell(mask, int64(chests)+*seed)
			}
			u := game.ChestUpdate{
				ID:      fmt.Sprintf("chest-%d", chests),
				X:       x,
				Y:       y,
				Source:  "headless",
				Visible: true,
				Reward:  game.Reward{Kind: game.RewardTokens, Tokens: &game.TokenReward{Amount: 10, Currency: "gold"}},
			}
			if err := engine.SubmitChest(u); err != nil {
				logger.Printf("chest %s rejected: %v", u.ID, err)
			}
			chests++
			nextChest += *every
		}
		engine.Advance(step)
	}

	wall := time.Since(start)
	logger.Printf("simulated %s in %s (%d ticks, %.0fx realtime)",
		*duration, wall.Round(time.Millisecond), engine.TickCount(), duration.Seconds()/wall.Seconds())

	enc := json.NewEncoder(os.Stdout)
	for _, c := range commits {
		if *jsonOut {
			if err := enc.Encode(c); err != nil {
				logger.Fatalf("encode: %v", err)
			}
			continue
		}
		fmt.Printf("t=%7.2fs  %-10s -> %-12s %s\n", c.SimTime, c.ResourceKey, c.WinnerID, c.Reward)
	}
	logger.Printf("%d chests spawned, %d claimed", chests, len(commits))

	if *out != "" {
		r := render.NewRenderer(mask, render.DefaultScale)
		final := engine.GetState()
		if err := r.SavePNG(*out, &final); err != nil {
			logger.Fatalf("save frame: %v", err)
		}
		logger.Printf("frame written to %s", *out)
	}
}

// randomCell picks a walkable position from a per-chest seed so runs repeat.
func randomCell(mask *spatial.NavMask, seed int64) (float64, float64) {
	x, y, ok := mask.RandomWalkable(rand.New(rand.NewSource(seed)))
	if !ok {
		w, h := mask.WorldSize()
		return w / 2, h / 2
	}
	return x, y
}
