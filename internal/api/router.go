package api

import (
	"context"
	"net/http"

	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
	"goblin-dig/internal/reward"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns the latest lock-free snapshot (preferred for polling)
	GetSnapshot() *game.GameSnapshot
	// GetState returns a retained copy of the full state
	GetState() game.GameSnapshot
	// Agent returns a copy of one agent
	Agent(id string) (game.AgentSnapshot, bool)
	// Commits returns recent claim commits, oldest first
	Commits() []game.ClaimCommit
	// SubmitRoster replaces the active roster at the next tick
	SubmitRoster(entries []game.RosterEntry)
	// SubmitChest queues a chest spawn/despawn for the next tick
	SubmitChest(u game.ChestUpdate) error
	// Mask returns the navigation mask (for frame rendering)
	Mask() *spatial.NavMask
	// InboxDropped returns chest events refused because the inbox was full
	InboxDropped() int
	// GetEventLogStats returns journal statistics
	GetEventLogStats() map[string]interface{}
	// GridStats returns broad-phase occupancy from the last tick
	GridStats() spatial.GridStats
}

// ClaimHistory is a durable commit store, e.g. the SQLite ledger.
type ClaimHistory interface {
	Recent(ctx context.Context, limit int) ([]game.ClaimCommit, error)
}

// RewardStats reports reward pipeline counters.
type RewardStats interface {
	Stats() reward.DispatcherStats
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// Claims is an optional durable history served by /api/claims.
	// If nil, the engine's in-memory recent commits are served.
	Claims ClaimHistory

	// Rewards is an optional reward dispatcher for /api/stats.
	Rewards RewardStats

	// FeedToken guards the ingestion routes. Empty disables the check.
	FeedToken string

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost origins are allowed.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine  EngineInterface
	claims  ClaimHistory
	rewards RewardStats
	frames  *frameCache
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started (except the rate limiter janitor when
//     no RateLimiter is injected)
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		claims:  cfg.Claims,
		rewards: cfg.Rewards,
		frames:  newFrameCache(cfg.Engine.Mask()),
	}

	r.Route("/api", func(r chi.Router) {
		// Read side
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
		r.Get("/claims", h.handleGetClaims)
		r.Get("/agents/{id}", h.handleGetAgent)
		r.Get("/frame.png", h.handleGetFrame)

		// Feed ingestion
		r.Group(func(r chi.Router) {
			r.Use(FeedAuth(cfg.FeedToken))
			r.Post("/roster", h.handlePostRoster)
			r.Post("/chest", h.handlePostChest)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
