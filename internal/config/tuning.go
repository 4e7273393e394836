package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTuning overlays the YAML file at path onto base. Keys missing from the
// file keep the value from base, so a tuning file only lists what it changes.
func LoadTuning(path string, base SimConfig) (SimConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read tuning: %w", err)
	}
	return ParseTuning(raw, base)
}

// ParseTuning is LoadTuning for an in-memory document.
func ParseTuning(raw []byte, base SimConfig) (SimConfig, error) {
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c SimConfig) Validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	case c.World.Width <= 0 || c.World.Height <= 0:
		return fmt.Errorf("world size must be positive, got %.2fx%.2f", c.World.Width, c.World.Height)
	case c.World.CellSize <= 0:
		return fmt.Errorf("world.cell_size must be positive")
	case c.Collision.MinDist <= 0:
		return fmt.Errorf("collision.min_dist must be positive")
	case c.Collision.PushFraction <= 0 || c.Collision.PushFraction > 1:
		return fmt.Errorf("collision.push_fraction must be in (0,1], got %.2f", c.Collision.PushFraction)
	case c.MaxDelta <= 0:
		return fmt.Errorf("max_delta must be positive, got %v", c.MaxDelta)
	case c.Collision.GridCellSize <= 0:
		return fmt.Errorf("collision.grid_cell_size must be positive")
	case c.Collision.GridCellSize < c.MinGridCellSize():
		return fmt.Errorf("collision.grid_cell_size %.2f is below %.2f: overlapping agents could sit in non-adjacent cells",
			c.Collision.GridCellSize, c.MinGridCellSize())
	case c.Steering.GaitMin <= 0 || c.Steering.GaitMax < c.Steering.GaitMin:
		return fmt.Errorf("steering gait range invalid: [%.2f,%.2f]", c.Steering.GaitMin, c.Steering.GaitMax)
	case c.Steering.TrailCapacity <= 0:
		return fmt.Errorf("steering.trail_capacity must be positive")
	case c.Claim.RemovalDebounceTicks <= 0:
		return fmt.Errorf("claim.removal_debounce_ticks must be positive")
	}
	return nil
}

// MinGridCellSize is the smallest broad-phase cell for which every pair that
// can overlap after one tick, and every neighbour inside the avoidance and
// spread radii, lies in the same or an adjacent cell.
func (c SimConfig) MinGridCellSize() float64 {
	closing := 2 * c.Steering.BaseSpeed * c.Steering.GaitMax * c.MaxDelta.Seconds()
	return max(c.Collision.MinDist+closing, c.Steering.SpreadRadius, c.Steering.AvoidRadius)
}
