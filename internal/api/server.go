// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/engine"
	"github.com/talgya/floodsim/internal/flood"
	"github.com/talgya/floodsim/internal/persistence"
	"github.com/talgya/floodsim/internal/world"
)

// Server serves simulation state over HTTP. Household state is only ever
// read from the latest published snapshot.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // Optional, enables /history and persisted events
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// History reads hit sqlite; defaults to 60 per minute per client.
	HistoryLimiter *RateLimiter

	srv *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	historyLimiter := s.HistoryLimiter
	if historyLimiter == nil {
		historyLimiter = NewRateLimiter(60, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/households", s.handleHouseholds)
	mux.HandleFunc("/api/v1/household/", s.handleHouseholdDetail)
	mux.HandleFunc("/api/v1/government", s.handleGovernment)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/history", RateLimitMiddleware(historyLimiter, s.handleHistory))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/shock", s.adminOnly(s.handleShock))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "history", s.DB != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS holds a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no api.admin_key set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// latest returns the latest snapshot or writes 503 when no round has
// completed yet.
func (s *Server) latest(w http.ResponseWriter) *engine.Snapshot {
	snap := s.Sim.Latest()
	if snap == nil {
		http.Error(w, "no round completed yet", http.StatusServiceUnavailable)
	}
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":       "floodsim",
		"run_id":     s.Sim.RunID,
		"households": len(s.Sim.Households),
		"activation": s.Sim.Activation,
		"rounds":     uint64(0),
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	if tick, ok := s.Sim.CurrentTick(); ok {
		status["tick"] = tick
		status["rounds"] = tick + 1
	}
	if snap := s.Sim.Latest(); snap != nil {
		status["adapted"] = snap.Tallies.Adapted
		status["subsidy_budget"] = snap.Government.SubsidyBudget
	}
	writeJSON(w, status)
}

func (s *Server) handleHouseholds(w http.ResponseWriter, r *http.Request) {
	snap := s.latest(w)
	if snap == nil {
		return
	}

	rows := snap.Table(s.Sim.Rules.Measures)

	q := r.URL.Query()
	if name := q.Get("measure"); name != "" {
		m, ok := flood.ParseMeasure(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown measure %q", name), http.StatusBadRequest)
			return
		}
		filtered := rows[:0:0]
		for _, row := range rows {
			if row.Measure == m {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	if a := q.Get("adapted"); a != "" {
		want, err := strconv.ParseBool(a)
		if err != nil {
			http.Error(w, "adapted must be true or false", http.StatusBadRequest)
			return
		}
		filtered := rows[:0:0]
		for _, row := range rows {
			if row.Adapted == want {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	writeJSON(w, map[string]any{
		"tick":       snap.Tick,
		"count":      len(rows),
		"households": rows,
	})
}

// householdDetail combines the snapshot state with attributes that are
// fixed at creation.
type householdDetail struct {
	agents.HouseholdSnapshot
	ReductionFactor      float64              `json:"reduction_factor"`
	Location             world.Point          `json:"location"`
	InFloodplain         bool                 `json:"in_floodplain"`
	Income               float64              `json:"income"`
	RiskAversion         float64              `json:"risk_aversion"`
	FloodDepthEstimated  float64              `json:"flood_depth_estimated"`
	FloodDamageEstimated float64              `json:"flood_damage_estimated"`
	Neighbors            []agents.HouseholdID `json:"neighbors"`
	FriendsWithin2       int                  `json:"friends_within_2"`
}

func (s *Server) handleHouseholdDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/household/")
	n, err := strconv.ParseUint(strings.Trim(idStr, "/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid household id", http.StatusBadRequest)
		return
	}
	id := agents.HouseholdID(n)

	snap := s.latest(w)
	if snap == nil {
		return
	}
	hs, ok := snap.Household(id)
	h := s.Sim.Household(id)
	if !ok || h == nil {
		http.Error(w, "household not found", http.StatusNotFound)
		return
	}

	neighbors := s.Sim.Neighbors(id)
	if neighbors == nil {
		neighbors = []agents.HouseholdID{}
	}
	writeJSON(w, householdDetail{
		HouseholdSnapshot:    hs,
		ReductionFactor:      s.Sim.Rules.Measures.ReductionFactor(hs.SelectedMeasure),
		Location:             h.Location,
		InFloodplain:         h.InFloodplain,
		Income:               h.Income,
		RiskAversion:         h.RiskAversion,
		FloodDepthEstimated:  h.FloodDepthEstimated,
		FloodDamageEstimated: h.FloodDamageEstimated,
		Neighbors:            neighbors,
		FriendsWithin2:       s.Sim.Network.Within(id, 2),
	})
}

func (s *Server) handleGovernment(w http.ResponseWriter, r *http.Request) {
	snap := s.latest(w)
	if snap == nil {
		return
	}
	g := s.Sim.Government
	writeJSON(w, map[string]any{
		"tick":                         snap.Tick,
		"subsidy_budget":               snap.Government.SubsidyBudget,
		"total_disbursed":              snap.Government.TotalDisbursed,
		"total_aided":                  snap.Government.TotalAided,
		"aided_last_tick":              snap.Government.Aided,
		"subsidy_amount":               g.SubsidyAmount,
		"per_tick_cap":                 g.PerTickCap,
		"trigger_period":               g.TriggerPeriod,
		"wealth_eligibility_threshold": g.WealthEligibilityThreshold,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.latest(w)
	if snap == nil {
		return
	}
	writeJSON(w, map[string]any{
		"tick":    snap.Tick,
		"shocked": snap.Shocked,
		"tallies": snap.Tallies,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var events []engine.Event
	if s.DB != nil {
		var err error
		events, err = s.DB.RecentEvents(s.Sim.RunID, limit)
		if err != nil {
			slog.Error("events query failed", "error", err)
			http.Error(w, "events unavailable", http.StatusInternalServerError)
			return
		}
	} else {
		events = s.Sim.RecentEvents(limit)
		// Newest first, matching the persisted order.
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := events[:0:0]
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

// handleHistory serves persisted per-tick state: household rows for
// ?tick=N, or the government history when no tick is given.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	t := r.URL.Query().Get("tick")
	if t == "" {
		rows, err := s.DB.GovernmentHistory(s.Sim.RunID)
		if err != nil {
			slog.Error("government history query failed", "error", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []persistence.GovernmentTick{}
		}
		writeJSON(w, rows)
		return
	}

	// Max int64 bound avoids the uint64 high-bit SQLite driver issue.
	tick, err := strconv.ParseUint(t, 10, 63)
	if err != nil {
		http.Error(w, "invalid tick", http.StatusBadRequest)
		return
	}
	rows, err := s.DB.LoadHouseholdTicks(s.Sim.RunID, tick)
	if err != nil {
		slog.Error("household history query failed", "error", err, "tick", tick)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "tick not recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"tick":       tick,
		"households": rows,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleShock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Sim.RequestShock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{
		"requested": true,
		"message":   "flood shock scheduled for the end of the next round",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
