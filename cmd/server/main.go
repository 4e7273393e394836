package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"goblin-dig/internal/api"
	"goblin-dig/internal/config"
	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
	"goblin-dig/internal/reward"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("⛏️ ================================")
	log.Println("⛏️  GOBLIN DIG - SIM SERVER")
	log.Println("⛏️ ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	simCfg := appConfig.Sim
	serverCfg := appConfig.Server
	rewardCfg := appConfig.Reward

	world := simCfg.World
	mask, err := spatial.LoadNavMask(world.MaskPath, world.Width, world.Height, world.CellSize, world.MaskThreshold)
	if err != nil {
		log.Printf("⚠️ %v", err)
	}
	log.Printf("🎮 Config: %d TPS, world %.0fx%.0f, claim delay %.1fs, max %d agents",
		simCfg.TickRate, world.Width, world.Height, simCfg.Claim.ClaimDelay, simCfg.Limits.MaxAgents)

	engine := game.NewEngine(simCfg, mask, game.Options{Seed: int64(getEnvInt("SIM_SEED", 0))})

	// Reward pipeline: durable ledger first so a commit is recorded even when
	// the HTTP backend is down.
	var sinks []reward.Sink
	var ledger *reward.Ledger
	if rewardCfg.LedgerPath != "" {
		ledger, err = reward.OpenLedger(rewardCfg.LedgerPath)
		if err != nil {
			log.Fatalf("Failed to open claim ledger: %v", err)
		}
		sinks = append(sinks, ledger)
		log.Printf("📒 Claim ledger: %s", rewardCfg.LedgerPath)
	}
	if rewardCfg.Endpoint != "" {
		sinks = append(sinks, reward.NewHTTPSink(rewardCfg.Endpoint, nil, rewardCfg.Timeout))
		log.Printf("🎁 Reward endpoint: %s", rewardCfg.Endpoint)
	} else {
		log.Println("⚠️ REWARD_ENDPOINT not set - rewards are only recorded locally")
	}

	dispatcher := reward.NewDispatcher(rewardCfg, sinks...)
	dispatcher.OnResult(api.RecordRewardResult)
	dispatcher.Start()

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				api.AllowedOrigins = append(api.AllowedOrigins, o)
			}
		}
	}
	api.TrustProxyHeaders = os.Getenv("TRUST_PROXY_HEADERS") == "true"

	routerCfg := api.RouterConfig{
		Engine:    engine,
		Rewards:   dispatcher,
		FeedToken: serverCfg.FeedToken,
	}
	if len(api.AllowedOrigins) > 0 {
		routerCfg.CORSOrigins = append([]string{"http://localhost:*", "http://127.0.0.1:*"}, api.AllowedOrigins...)
	}
	if ledger != nil {
		routerCfg.Claims = ledger
	}
	server := api.NewServer(routerCfg)

	engine.SetHooks(game.Hooks{
		OnTick: api.RecordTickStats,
		OnJoin: func(string) { api.RecordJoin() },
		OnCommit: func(c game.ClaimCommit) {
			api.RecordCommit()
			if err := dispatcher.Submit(c); err != nil {
				api.RecordRewardSubmitError(submitReason(err))
			}
			server.OnCommit(c)
		},
		OnCancel: func(string) { api.RecordCancel() },
	})

	if err := engine.StartEventLog(serverCfg.EventLog); err != nil {
		log.Printf("⚠️ Event log disabled: %v", err)
	} else if serverCfg.EventLog != "" {
		log.Printf("📝 Event log: %s", serverCfg.EventLog)
	}

	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.ListenAddr = serverCfg.DebugAddr
	debugCfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	debugCfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		debugCfg.Enabled = false
	}
	if err := api.StartDebugServer(debugCfg); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mirrorEventLogStats(ctx, engine)

	engine.Start()
	log.Println("✅ Simulation engine started")

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		log.Printf("🌐 API server on http://localhost%s", addr)
		log.Printf("👀 Live view: ws://localhost%s/ws", addr)
		serverErr <- server.Start(addr)
	}()

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Printf("❌ API server failed: %v", err)
		}
	}

	log.Println("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("⚠️ API shutdown: %v", err)
	}
	// no commits after the engine stops, so the dispatcher can drain
	engine.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Printf("⚠️ %v", err)
	}
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			log.Printf("⚠️ Close ledger: %v", err)
		}
	}
	engine.StopEventLog()
	log.Println("👋 Goodbye!")
}

// submitReason maps a dispatcher refusal to its metric label.
func submitReason(err error) string {
	switch {
	case errors.Is(err, reward.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, reward.ErrStopped):
		return "stopped"
	default:
		return "queue_full"
	}
}

// mirrorEventLogStats copies journal counters into gauges until ctx ends.
func mirrorEventLogStats(ctx context.Context, engine *game.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := engine.GetEventLogStats()
			total, _ := stats["total"].(uint64)
			dropped, _ := stats["dropped"].(uint64)
			api.UpdateEventLogStats(total, dropped)
		}
	}
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
