package api

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"goblin-dig/internal/game"
)

// BroadcastInterval is how often viewers receive the simulation state.
const BroadcastInterval = 100 * time.Millisecond

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for live viewers.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer creates the API server. cfg.Engine is required; cfg.RateLimiter
// is created when nil so the server can stop it.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg RouterConfig) *Server {
	if cfg.RateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		cfg.RateLimiter = NewIPRateLimiter(rlCfg)
	}

	s := &Server{
		engine:      cfg.Engine,
		wsHub:       NewWebSocketHub(),
		rateLimiter: cfg.RateLimiter,
	}
	s.router = NewRouter(cfg)
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// WebSocket route needs the hub instance, so it is not part of NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Start begins the HTTP server AND starts background workers.
// It blocks until the server stops; a clean Shutdown returns nil.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.wsHub.StartBroadcastLoop(s.engine, BroadcastInterval)

	log.Printf("🌐 API server listening on %s", ln.Addr())
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes
// viewers and background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wsHub.Close()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return err
}

// OnCommit announces a commit to viewers. Safe to call from the engine's
// commit hook: it never blocks.
func (s *Server) OnCommit(c game.ClaimCommit) {
	s.wsHub.BroadcastCommit(c)
}
