package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goblin-dig/internal/game"
	"goblin-dig/internal/reward"
)

// Metrics with bounded cardinality (no per-agent labels to prevent DoS)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	agentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_agent_count",
		Help: "Current number of agents",
	})

	pendingDigs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_digging_agents",
		Help: "Agents currently digging",
	})

	collisionEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_collision_events",
		Help: "Live cosmetic collision events",
	})

	collisionPairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_collision_pairs_total",
		Help: "Overlapping pairs resolved",
	})

	offMaskFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_off_mask_fixes_total",
		Help: "Agents snapped back onto walkable cells at tick end",
	})

	agentJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_agent_joins_total",
		Help: "Agents spawned from the roster",
	})

	claimCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_claim_commits_total",
		Help: "Chest claims committed",
	})

	claimCancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_claim_cancels_total",
		Help: "Pending claims cancelled by despawn or replacement",
	})

	// Reward pipeline
	rewardDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_delivery_total",
		Help: "Final reward delivery outcomes per sink",
	}, []string{"sink", "result"}) // Bounded: sink in {http, ledger}, result in {ok, error}

	rewardSubmitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_submit_errors_total",
		Help: "Commits the dispatcher refused",
	}, []string{"reason"}) // Bounded: "queue_full", "duplicate", "stopped"

	// Event log metrics
	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_dropped",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, auth or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be loopback in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled || cfg.ListenAddr == "" {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopbackAddr(cfg.ListenAddr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = "127.0.0.1:6060"
	}

	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

func isLoopbackAddr(addr string) bool {
	for _, prefix := range []string{"127.0.0.1:", "localhost:", "[::1]:"} {
		if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records latency per chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// RecordTickStats records one tick. Installed as the engine's OnTick hook.
func RecordTickStats(s game.TickStats) {
	tickDuration.Observe(s.Duration.Seconds())
	agentCount.Set(float64(s.Agents))
	pendingDigs.Set(float64(s.PendingDigs))
	collisionEvents.Set(float64(s.LiveEvents))
	if s.Collisions > 0 {
		collisionPairs.Add(float64(s.Collisions))
	}
	if s.OffMaskFix > 0 {
		offMaskFixes.Add(float64(s.OffMaskFix))
	}
}

// RecordJoin counts a spawned agent.
func RecordJoin() {
	agentJoins.Inc()
}

// RecordCommit counts a committed claim.
func RecordCommit() {
	claimCommits.Inc()
}

// RecordCancel counts a cancelled pending claim.
func RecordCancel() {
	claimCancels.Inc()
}

// RecordRewardResult records a final delivery outcome.
func RecordRewardResult(r reward.Result) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	rewardDeliveries.WithLabelValues(r.Sink, result).Inc()
}

// RecordRewardSubmitError counts a commit the dispatcher refused.
// reason must be one of: "queue_full", "duplicate", "stopped"
func RecordRewardSubmitError(reason string) {
	rewardSubmitErrors.WithLabelValues(reason).Inc()
}

// UpdateEventLogStats mirrors the journal counters.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogTotal.Set(float64(total))
	eventLogDropped.Set(float64(dropped))
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
