// Package api provides the HTTP control plane for the simulation engine.
// GET endpoints are public (read-only observation of runs). POST
// endpoints require a bearer token (admin control plane). The event
// stream is served over a websocket rather than SSE, matching the
// bidirectional ping/get_status exchange spec.md section 6.2 requires.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/engine"
	"github.com/emotionsim/engine/internal/llm"
	"github.com/emotionsim/engine/internal/persistence"
	"github.com/emotionsim/engine/internal/scenario"
)

const maxWSConns = 16

// Server serves the control API and event stream for every run it hosts.
type Server struct {
	DB       *persistence.DB
	Oracle   llm.Oracle
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	mu      sync.RWMutex
	engines map[string]*engine.Engine // run ID -> live Engine, only while in-process

	wsConns int32
}

// NewServer builds a Server bound to db (persisted state) and oracle
// (shared across every run it creates — production wiring passes one
// *llm.Client, tests a *llm.FakeOracle).
func NewServer(db *persistence.DB, oracle llm.Oracle, port int, adminKey string) *Server {
	return &Server{
		DB:       db,
		Oracle:   oracle,
		Port:     port,
		AdminKey: adminKey,
		engines:  make(map[string]*engine.Engine),
	}
}

// Start begins serving the control API in a goroutine.
func (s *Server) Start() {
	createLimiter := NewRateLimiter(30, time.Hour)
	createRun := RateLimitMiddleware(createLimiter, s.handleRunsCollection)
	// Only create_run (POST) draws on the limiter. The collection path and
	// its trailing-slash form share this handler.
	collection := s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			createRun(w, r)
			return
		}
		s.handleRunsCollection(w, r)
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/runs", collection)
	mux.HandleFunc("/api/v1/runs/{$}", collection)
	mux.HandleFunc("/api/v1/runs/", s.handleRunRoutes)

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("control API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
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

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST
// requests. GET requests pass through — every GET endpoint in this API
// is a read-only run observation.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no EMOTIONSIM_ADMIN_KEY set)", http.StatusForbidden)
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

// handleRunsCollection dispatches create_run (POST) and list_runs (GET)
// on the collection path.
func (s *Server) handleRunsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunRoutes dispatches every /api/v1/runs/{id}[/sub] path: get_run,
// control_run, get_agents, get_steps, get_messages, and the websocket
// event stream.
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		s.handleRunsCollection(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	runID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		s.handleGetRun(w, r, runID)
	case "control":
		s.adminOnly(func(w http.ResponseWriter, r *http.Request) { s.handleControlRun(w, r, runID) })(w, r)
	case "agents":
		s.handleGetAgents(w, r, runID)
	case "steps":
		s.handleGetSteps(w, r, runID)
	case "messages":
		s.handleGetMessages(w, r, runID)
	case "ws":
		s.handleWebSocket(w, r, runID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// createRunRequest is the create_run request body: a full scenario
// definition plus the run-level seed (spec.md section 7's deterministic
// replay requires the caller to be able to pin it; omitted falls back to
// a server-chosen seed recorded back in the response).
type createRunRequest struct {
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	World            scenario.WorldConfig `json:"world_config"`
	AgentTemplates   []agents.Template    `json:"agent_templates"`
	MaxSteps         int                  `json:"max_steps"`
	TickDelaySeconds float64              `json:"tick_delay_seconds"`
	Seed             *int64               `json:"seed,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.AgentTemplates) == 0 {
		http.Error(w, "agent_templates must not be empty", http.StatusBadRequest)
		return
	}

	sc := scenario.New(req.Name, req.Description, req.World, req.AgentTemplates, req.MaxSteps, req.TickDelaySeconds)

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	run := engine.NewRun(sc, seed, req.MaxSteps, s.Oracle, s.DB)
	eng := engine.NewEngine(run)

	if s.DB != nil {
		worldJSON, err := json.Marshal(sc.World)
		if err != nil {
			http.Error(w, fmt.Sprintf("encode world config: %v", err), http.StatusInternalServerError)
			return
		}
		templatesJSON, err := json.Marshal(sc.AgentTemplates)
		if err != nil {
			http.Error(w, fmt.Sprintf("encode agent templates: %v", err), http.StatusInternalServerError)
			return
		}
		if err := s.DB.SaveScenario(persistence.ScenarioRecord{
			ID: sc.ID.String(), Name: sc.Name, Description: sc.Description,
			WorldConfigJSON: string(worldJSON), TemplatesJSON: string(templatesJSON),
			MaxSteps: sc.MaxSteps, TickDelay: sc.TickDelay,
		}); err != nil {
			http.Error(w, fmt.Sprintf("save scenario: %v", err), http.StatusInternalServerError)
			return
		}
		if err := run.SaveSnapshot(); err != nil {
			http.Error(w, fmt.Sprintf("save run: %v", err), http.StatusInternalServerError)
			return
		}
	}

	s.mu.Lock()
	s.engines[run.ID.String()] = eng
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"run_id":      run.ID.String(),
		"scenario_id": sc.ID.String(),
		"status":      run.Status,
		"seed":        seed,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, map[string]any{"runs": []persistence.RunRecord{}})
		return
	}
	limit, offset := pagination(r, 50)
	runs, err := s.DB.ListRuns(r.URL.Query().Get("scenario_id"), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	if eng := s.liveEngine(runID); eng != nil {
		run := eng.Run()
		resp := map[string]any{
			"run_id":       run.ID.String(),
			"scenario_id":  run.ScenarioID.String(),
			"status":       run.Status,
			"current_step": run.CurrentStep,
			"max_steps":    run.MaxSteps,
			"avg_health":   run.LastMetrics.AvgHealth,
			"avg_stress":   run.LastMetrics.AvgStress,
			"created_at":   run.CreatedAt,
			"age":          humanize.Time(run.CreatedAt),
		}
		if run.StartedAt != nil {
			resp["started_at"] = run.StartedAt
			resp["running_for"] = humanize.RelTime(*run.StartedAt, time.Now(), "", "")
		}
		if run.Evaluation != nil {
			resp["evaluation"] = run.Evaluation
		}
		writeJSON(w, resp)
		return
	}

	if s.DB == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	rec, err := s.DB.GetRun(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("get run: %v", err), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

type controlRequest struct {
	Action string `json:"action"`
}

// handleControlRun executes one control_run command against the run's
// live Engine. Every action acks synchronously, per spec.md 6.1: start
// runs on the caller's goroutine, and Engine.Pause/Resume/Stop/Cancel/Step
// each block until the transition has been accepted or rejected — by the
// run loop, or, for a pending or terminal run with no loop running, on
// the caller's goroutine.
func (s *Server) handleControlRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eng := s.liveEngine(runID)
	if eng == nil {
		http.Error(w, "run not found or not live", http.StatusNotFound)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "start":
		err = eng.Start(context.Background())
	case "pause":
		err = eng.Pause()
	case "resume":
		err = eng.Resume()
	case "stop":
		err = eng.Stop()
	case "step":
		err = eng.Step()
	case "cancel":
		err = eng.Cancel()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, map[string]any{"run_id": runID, "action": req.Action, "status": eng.Run().Status})
}

func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request, runID string) {
	if eng := s.liveEngine(runID); eng != nil {
		run := eng.Run()
		out := make([]map[string]any, 0, len(run.World.AgentOrder))
		for _, id := range run.World.AgentOrder {
			a := run.World.Agents[id]
			out = append(out, map[string]any{
				"agent_id":    a.ID.String(),
				"name":        a.Template.Name,
				"role":        a.Template.Role,
				"location_id": a.LocationID,
				"health":      a.Health,
				"stress":      a.Stress,
				"is_active":   a.IsActive,
				"inventory":   a.Inventory,
			})
		}
		writeJSON(w, map[string]any{"agents": out})
		return
	}

	if s.DB == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	recs, err := s.DB.GetAgents(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("get agents: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"agents": recs})
}

func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request, runID string) {
	if s.DB == nil {
		writeJSON(w, map[string]any{"steps": []persistence.StepRecord{}})
		return
	}
	limit, offset := pagination(r, 100)
	steps, err := s.DB.GetSteps(runID, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("get steps: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"steps": steps})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request, runID string) {
	if s.DB == nil {
		writeJSON(w, map[string]any{"messages": []persistence.MessageRecord{}})
		return
	}
	limit, offset := pagination(r, 100)
	msgs, err := s.DB.GetMessages(runID, r.URL.Query().Get("agent_id"), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("get messages: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

func (s *Server) liveEngine(runID string) *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engines[runID]
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
