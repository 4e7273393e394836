// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for simulation, feed and server settings.
//
// IMPORTANT: When changing values, only modify this file (or a tuning YAML).
// All other parts of the codebase should reference these values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// =============================================================================
// WORLD CONFIGURATION
// =============================================================================

// WorldConfig describes the bounded 2D world. Positions are world units,
// not grid cells; the navigation grid is CellSize units per cell.
type WorldConfig struct {
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	CellSize float64 `yaml:"cell_size"` // Navigation mask cell size in world units

	MaskPath      string `yaml:"mask_path"`      // Rasterized walkability image (empty = all walkable)
	MaskThreshold uint8  `yaml:"mask_threshold"` // Luminance at or above this is walkable
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Width:         64,
		Height:        36,
		CellSize:      1,
		MaskThreshold: 128,
	}
}

// WorldFromEnv returns world configuration with environment variable overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()

	if w := getEnvFloat("WORLD_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvFloat("WORLD_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if c := getEnvFloat("WORLD_CELL_SIZE", 0); c > 0 {
		cfg.CellSize = c
	}
	cfg.MaskPath = getEnvString("NAV_MASK_PATH", cfg.MaskPath)
	if t := getEnvInt("NAV_MASK_THRESHOLD", -1); t >= 0 && t <= 255 {
		cfg.MaskThreshold = uint8(t)
	}

	return cfg
}

// =============================================================================
// SIMULATION TUNING
// =============================================================================

// SteeringConfig holds per-agent movement and state machine constants.
type SteeringConfig struct {
	BaseSpeed        float64 `yaml:"base_speed"`        // world units per second at gait 1.0
	TurnRate         float64 `yaml:"turn_rate"`         // radians per second
	ArriveEpsilon    float64 `yaml:"arrive_epsilon"`    // wander target reached
	WanderCandidates int     `yaml:"wander_candidates"` // samples per wander pick
	WanderJitter     float64 `yaml:"wander_jitter"`     // score jitter added to distance
	WanderMin        float64 `yaml:"wander_min"`        // seconds
	WanderMax        float64 `yaml:"wander_max"`        // seconds

	GaitMin      float64 `yaml:"gait_min"`
	GaitMax      float64 `yaml:"gait_max"`
	GaitDelayMin float64 `yaml:"gait_delay_min"` // seconds
	GaitDelayMax float64 `yaml:"gait_delay_max"` // seconds

	SurpriseDuration float64 `yaml:"surprise_duration"` // seconds
	TriggerRadius    float64 `yaml:"trigger_radius"`    // Chebyshev distance to chest

	AvoidRadius  float64 `yaml:"avoid_radius"`
	HardRadius   float64 `yaml:"hard_radius"`
	HardPush     float64 `yaml:"hard_push"`
	AheadPenalty float64 `yaml:"ahead_penalty"` // speed factor when a neighbor is straight ahead
	SpreadRadius float64 `yaml:"spread_radius"`
	AvoidWeight  float64 `yaml:"avoid_weight"`
	SpreadWeight float64 `yaml:"spread_weight"`
	FlowWeight   float64 `yaml:"flow_weight"` // share of flow-field direction while approaching

	TrailCapacity int `yaml:"trail_capacity"`
}

// DefaultSteering returns the default steering configuration.
func DefaultSteering() SteeringConfig {
	return SteeringConfig{
		BaseSpeed:        2.2,
		TurnRate:         6.0,
		ArriveEpsilon:    0.5,
		WanderCandidates: 8,
		WanderJitter:     2.0,
		WanderMin:        4,
		WanderMax:        9,

		GaitMin:      0.75,
		GaitMax:      1.35,
		GaitDelayMin: 2,
		GaitDelayMax: 6,

		SurpriseDuration: 0.8,
		TriggerRadius:    1.0,

		AvoidRadius:  1.6,
		HardRadius:   0.9,
		HardPush:     1.5,
		AheadPenalty: 0.6,
		SpreadRadius: 3.0,
		AvoidWeight:  0.9,
		SpreadWeight: 0.25,
		FlowWeight:   0.5,

		TrailCapacity: 12,
	}
}

// CollisionConfig holds broad-phase and resolution constants.
type CollisionConfig struct {
	MinDist       float64 `yaml:"min_dist"`
	PushFraction  float64 `yaml:"push_fraction"` // share of the overlap removed per pass
	StunMin       float64 `yaml:"stun_min"`      // seconds
	StunMax       float64 `yaml:"stun_max"`      // seconds
	EventLifetime float64 `yaml:"event_lifetime"`
	GridCellSize  float64 `yaml:"grid_cell_size"`
	MaxNeighbors  int     `yaml:"max_neighbors"`
}

// DefaultCollision returns the default collision configuration.
func DefaultCollision() CollisionConfig {
	return CollisionConfig{
		MinDist:       0.8,
		PushFraction:  0.85,
		StunMin:       0.35,
		StunMax:       0.8,
		EventLifetime: 20,
		GridCellSize:  3.0, // covers SpreadRadius with the 3x3 neighborhood
		MaxNeighbors:  16,
	}
}

// ClaimConfig holds claim arbitration and roster debounce constants.
type ClaimConfig struct {
	ClaimDelay           float64 `yaml:"claim_delay"`     // seconds from first trigger to commit
	RemovalDebounceTicks int     `yaml:"removal_debounce_ticks"`
	VictoryDisplay       float64 `yaml:"victory_display"` // seconds a Victorious agent stays visible
}

// DefaultClaim returns the default claim configuration.
func DefaultClaim() ClaimConfig {
	return ClaimConfig{
		ClaimDelay:           5,
		RemovalDebounceTicks: 6,
		VictoryDisplay:       3,
	}
}

// SimConfig is everything the engine needs.
type SimConfig struct {
	TickRate  int             `yaml:"tick_rate"`
	MaxDelta  time.Duration   `yaml:"max_delta"` // clamp for stalled ticks
	World     WorldConfig     `yaml:"world"`
	Steering  SteeringConfig  `yaml:"steering"`
	Collision CollisionConfig `yaml:"collision"`
	Claim     ClaimConfig     `yaml:"claim"`
	Limits    ResourceLimits  `yaml:"limits"`
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:  30,
		MaxDelta:  100 * time.Millisecond,
		World:     DefaultWorld(),
		Steering:  DefaultSteering(),
		Collision: DefaultCollision(),
		Claim:     DefaultClaim(),
		Limits:    DefaultLimits(),
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()
	cfg.World = WorldFromEnv()

	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if d := getEnvFloat("CLAIM_DELAY", 0); d > 0 {
		cfg.Claim.ClaimDelay = d
	}
	if n := getEnvInt("REMOVAL_DEBOUNCE_TICKS", 0); n > 0 {
		cfg.Claim.RemovalDebounceTicks = n
	}

	return cfg
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits bounds memory used by the engine regardless of input volume.
type ResourceLimits struct {
	MaxAgents          int `yaml:"max_agents"`           // Hard cap on arena size
	MaxSnapshotAgents  int `yaml:"max_snapshot_agents"`  // Agents copied per snapshot
	MaxCollisionEvents int `yaml:"max_collision_events"` // Live cosmetic collision events
	MaxCommitHistory   int `yaml:"max_commit_history"`   // Recent commits kept for the API
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxAgents:          500,
		MaxSnapshotAgents:  500,
		MaxCollisionEvents: 256,
		MaxCommitHistory:   64,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port      int
	FeedToken string // Bearer token for roster/chest ingestion (empty = open)
	DebugAddr string
	EventLog  string // NDJSON journal path; ".zst" suffix enables zstd
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:      3000,
		DebugAddr: "127.0.0.1:6060",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	cfg.FeedToken = getEnvString("FEED_TOKEN", cfg.FeedToken)
	cfg.DebugAddr = getEnvString("DEBUG_ADDR", cfg.DebugAddr)
	cfg.EventLog = getEnvString("EVENT_LOG_PATH", cfg.EventLog)

	return cfg
}

// =============================================================================
// REWARD PIPELINE CONFIGURATION
// =============================================================================

// RewardConfig configures delivery of claim commits to the reward backend.
type RewardConfig struct {
	Endpoint    string        // HTTP endpoint (empty = HTTP sink disabled)
	LedgerPath  string        // SQLite ledger path (empty = ledger disabled)
	Workers     int
	BufferSize  int
	MaxAttempts int
	Timeout     time.Duration
	RatePerSec  float64 // Outbound deliveries per second
}

// DefaultReward returns the default reward pipeline configuration.
func DefaultReward() RewardConfig {
	return RewardConfig{
		Workers:     2,
		BufferSize:  64,
		MaxAttempts: 5,
		Timeout:     5 * time.Second,
		RatePerSec:  5,
	}
}

// RewardFromEnv returns reward configuration with environment variable overrides.
func RewardFromEnv() RewardConfig {
	cfg := DefaultReward()

	cfg.Endpoint = getEnvString("REWARD_ENDPOINT", cfg.Endpoint)
	cfg.LedgerPath = getEnvString("CLAIM_LEDGER_PATH", cfg.LedgerPath)
	if w := getEnvInt("REWARD_WORKERS", 0); w > 0 {
		cfg.Workers = w
	}
	if a := getEnvInt("REWARD_MAX_ATTEMPTS", 0); a > 0 {
		cfg.MaxAttempts = a
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim    SimConfig
	Server ServerConfig
	Reward RewardConfig
}

// Load returns the complete configuration with environment overrides.
// A TUNING_PATH variable overlays a YAML tuning file on the simulation section.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		Sim:    SimFromEnv(),
		Server: ServerFromEnv(),
		Reward: RewardFromEnv(),
	}

	if path := os.Getenv("TUNING_PATH"); path != "" {
		sim, err := LoadTuning(path, cfg.Sim)
		if err != nil {
			return cfg, err
		}
		cfg.Sim = sim
	}
	if err := cfg.Sim.Validate(); err != nil {
		return cfg, fmt.Errorf("simulation config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
