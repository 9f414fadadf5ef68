// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane) and are applied
// by the engine at the start of the next tick.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/talgya/langmuir/internal/engine"
	"github.com/talgya/langmuir/internal/persistence"
	"github.com/talgya/langmuir/internal/world"
)

// Server serves simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional; enables /runs
	Hub      *Hub
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	limiter *RateLimiter
}

// NewServer creates a server with a stream hub and admin rate limiting.
func NewServer(sim *engine.Simulation, eng *engine.Engine, port int, adminKey string) *Server {
	return &Server{
		Sim:      sim,
		Eng:      eng,
		Hub:      NewHub(1),
		Port:     port,
		AdminKey: adminKey,
		limiter:  NewRateLimiter(60, time.Minute),
	}
}

// Handler returns the API routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	if s.limiter == nil {
		s.limiter = NewRateLimiter(60, time.Minute)
	}
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/flux", s.handleFlux)
	mux.HandleFunc("/api/v1/population", s.handlePopulation)
	mux.HandleFunc("/api/v1/carriers", s.handleCarriers)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/reset-counters", s.adminOnly(s.handleResetCounters))
	mux.HandleFunc("/api/v1/electrodes", s.adminOnly(s.handleElectrodes))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
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

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires POST with a valid bearer token, rate limited per client.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	limited := RateLimitMiddleware(s.limiter, next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limited(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.Sim.Params()
	report := s.Sim.Report()

	status := map[string]any{
		"tick":       report.Tick,
		"phase":      s.Sim.Phase().String(),
		"workers":    s.Sim.Pool.Workers(),
		"seed":       s.Sim.World.Seed,
		"hops":       report.Hops,
		"population": report.Population,
		"grid": map[string]any{
			"width":    p.Geometry.Width,
			"height":   p.Geometry.Height,
			"depth":    p.Geometry.Depth,
			"periodic": p.Geometry.Periodic,
		},
		"electrodes": map[string]float64{
			"source_potential": p.SourcePotential,
			"drain_potential":  p.DrainPotential,
		},
		"temperature_kt": p.KT,
		"stream_clients": s.Hub.Clients(),
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
		status["paused"] = s.Eng.Paused()
	}
	if s.DB != nil {
		status["run_id"] = s.DB.RunID()
	}
	writeJSON(w, status)
}

func (s *Server) handleFlux(w http.ResponseWriter, r *http.Request) {
	report := s.Sim.Report()
	if name := r.URL.Query().Get("name"); name != "" {
		f, ok := report.FluxByName(name)
		if !ok {
			http.Error(w, "no such electrode", http.StatusNotFound)
			return
		}
		writeJSON(w, f)
		return
	}
	writeJSON(w, map[string]any{"tick": report.Tick, "flux": report.Flux})
}

func (s *Server) handlePopulation(w http.ResponseWriter, r *http.Request) {
	report := s.Sim.Report()
	writeJSON(w, map[string]any{"tick": report.Tick, "population": report.Population})
}

// handleCarriers returns every live carrier's position. ?sites=1 adds trap
// and defect coordinates.
func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	withSites := r.URL.Query().Get("sites") == "1"
	writeJSON(w, s.Sim.Frame(withSites))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "no database configured", http.StatusNotFound)
		return
	}
	runs, err := s.DB.RecentRuns(20)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	report := s.Sim.Report()
	s.Hub.ServeWS(w, r, &report)
}

func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	s.Sim.Enqueue(engine.ResetCounters)
	slog.Info("flux counter reset requested")
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"queued": "reset-counters", "after_tick": s.Sim.CurrentTick()})
}

func (s *Server) handleElectrodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourcePotential *float64 `json:"source_potential"`
		DrainPotential  *float64 `json:"drain_potential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourcePotential == nil || req.DrainPotential == nil {
		http.Error(w, "source_potential and drain_potential are required", http.StatusBadRequest)
		return
	}
	vs, vd := *req.SourcePotential, *req.DrainPotential
	s.Sim.Enqueue(func(wd *world.World) { wd.SetElectrodePotentials(vs, vd) })
	slog.Info("electrode potentials change requested", "source", vs, "drain", vd)

	writeJSONStatus(w, http.StatusAccepted, map[string]float64{"source_potential": vs, "drain_potential": vd})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.Eng.SetPaused(req.Paused)
	slog.Info("engine pause changed", "paused", req.Paused)
	writeJSON(w, map[string]bool{"paused": s.Eng.Paused()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
