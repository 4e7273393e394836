package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"goblin-dig/internal/game"
	"goblin-dig/internal/game/spatial"
	"goblin-dig/internal/render"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetState())
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	// Lock-free snapshot instead of GetState(); pollers must not contend with the tick
	snap := h.engine.GetSnapshot()

	states := make(map[string]int)
	for i := range snap.Agents {
		states[snap.Agents[i].State.String()]++
	}

	stats := map[string]interface{}{
		"tick":         snap.TickNumber,
		"simTime":      snap.SimTime,
		"agentCount":   snap.AgentCount,
		"states":       states,
		"hasChest":     snap.HasChest,
		"commitCount":  snap.CommitCount,
		"collisions":   len(snap.Collisions),
		"maskFailOpen": snap.MaskFailOpen,
		"inboxDropped": h.engine.InboxDropped(),
		"eventLog":     h.engine.GetEventLogStats(),
		"grid":         h.engine.GridStats(),
	}
	if snap.HasChest {
		stats["chest"] = snap.Chest
	}
	if h.rewards != nil {
		stats["rewards"] = h.rewards.Stats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetClaims(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	if h.claims != nil {
		commits, err := h.claims.Recent(r.Context(), limit)
		if err != nil {
			log.Printf("❌ Claim history query failed: %v", err)
			writeError(w, "claim history unavailable", http.StatusInternalServerError)
			return
		}
		if commits == nil {
			commits = []game.ClaimCommit{}
		}
		writeJSON(w, commits)
		return
	}

	// in-memory history is oldest first; serve newest first like the ledger
	commits := h.engine.Commits()
	out := make([]game.ClaimCommit, 0, min(limit, len(commits)))
	for i := len(commits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, commits[i])
	}
	writeJSON(w, out)
}

func (h *routerHandlers) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.engine.Agent(id)
	if !ok {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, a)
}

func (h *routerHandlers) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	// the published sequence keys the cache; the frame itself is drawn from a
	// retained copy since the pooled snapshot is recycled by the tick loop
	png, err := h.frames.frame(h.engine.GetSnapshot().Sequence, h.engine.GetState)
	if err != nil {
		log.Printf("❌ Frame render failed: %v", err)
		writeError(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *routerHandlers) handlePostRoster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agents []game.RosterEntry `json:"agents"`
	}
	if err := decodeValidated(r.Body, rosterSchema, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.engine.SubmitRoster(req.Agents)
	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{"accepted": len(req.Agents)})
}

func (h *routerHandlers) handlePostChest(w http.ResponseWriter, r *http.Request) {
	var u game.ChestUpdate
	if err := decodeValidated(r.Body, chestSchema, &u); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.SubmitChest(u); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, game.ErrInboxFull) {
			code = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, err.Error(), code)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{"key": u.Key(), "visible": u.Visible})
}

// frameCache renders at most one PNG per published snapshot sequence.
type frameCache struct {
	mu       sync.Mutex
	renderer *render.Renderer
	seq      uint64
	png      []byte
}

func newFrameCache(mask *spatial.NavMask) *frameCache {
	if mask == nil {
		return &frameCache{}
	}
	return &frameCache{renderer: render.NewRenderer(mask, render.DefaultScale)}
}

func (c *frameCache) frame(seq uint64, state func() game.GameSnapshot) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renderer == nil {
		return nil, errors.New("no navigation mask")
	}
	if c.png != nil && seq == c.seq {
		return c.png, nil
	}

	snap := state()
	var buf bytes.Buffer
	if err := c.renderer.EncodePNG(&buf, &snap); err != nil {
		return nil, err
	}
	c.png = buf.Bytes()
	c.seq = seq
	return c.png, nil
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
