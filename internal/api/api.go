// Package api provides the HTTP control surface for the engine: read-only
// state/list endpoints plus the pause/resume/trigger/approve/reject/config
// operations from SPEC_FULL.md §6.3.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cortex-work/engine/internal/config"
	"github.com/cortex-work/engine/internal/engine"
	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
	"github.com/cortex-work/engine/internal/store"
)

// Server is the HTTP API server fronting one Orchestrator.
type Server struct {
	cfgMgr         config.ConfigManager
	store          *store.Store
	ledger         *ledger.Ledger
	orchestrator   *engine.Orchestrator
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer wires an API server over the given collaborators.
func NewServer(cfgMgr config.ConfigManager, s *store.Store, l *ledger.Ledger, orch *engine.Orchestrator, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	authMiddleware, err := NewAuthMiddleware(&cfgMgr.Get().API.Security, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
	}

	return &Server{
		cfgMgr:         cfgMgr,
		store:          s,
		ledger:         l,
		orchestrator:   orch,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close releases the auth middleware's audit log file.
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start begins listening on the configured bind address. Blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// Read endpoints. /objectives, /objectives/ and /tasks/ also take write
	// methods, so they are wrapped in RequireAuth.
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/objectives", s.authMiddleware.RequireAuth(s.handleObjectives))
	mux.HandleFunc("/objectives/", s.authMiddleware.RequireAuth(s.handleObjectiveDetail))
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.authMiddleware.RequireAuth(s.handleTaskDetailOrDecision))
	mux.HandleFunc("/scans", s.handleScans)
	mux.HandleFunc("/plans", s.handlePlans)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/evals", s.handleEvals)
	mux.HandleFunc("/decisions", s.handleDecisions)
	mux.HandleFunc("/experiments", s.handleExperiments)
	mux.HandleFunc("/cost/summary", s.handleCostSummary)
	mux.HandleFunc("/budget/status", s.handleBudgetStatus)

	// Control endpoints (write operations - require auth).
	mux.HandleFunc("/pause", s.authMiddleware.RequireAuth(s.handlePause))
	mux.HandleFunc("/resume", s.authMiddleware.RequireAuth(s.handleResume))
	mux.HandleFunc("/trigger", s.authMiddleware.RequireAuth(s.handleTrigger))
	mux.HandleFunc("/config", s.authMiddleware.RequireAuth(s.handleConfig))

	s.httpServer = &http.Server{
		Addr:        s.cfgMgr.Get().API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.cfgMgr.Get().API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// GET /state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orchestrator.GetState())
}

// GET /objectives, POST /objectives
func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.store.ListObjectives()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, list)
	case http.MethodPost:
		var o model.Objective
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if o.ID == "" {
			o.ID = model.NewID()
		}
		o.Weight = model.ClampWeight(o.Weight)
		if o.Status == "" {
			o.Status = model.ObjectiveActive
		}
		now := time.Now()
		o.CreatedAt, o.UpdatedAt = now, now
		if err := s.store.SaveObjective(&o); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, o)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET/PUT/DELETE /objectives/{id}
func (s *Server) handleObjectiveDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/objectives/")
	if id == "" {
		s.handleObjectives(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		o, err := s.store.GetObjective(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if o == nil {
			writeError(w, http.StatusNotFound, "objective not found")
			return
		}
		writeJSON(w, o)
	case http.MethodPut:
		existing, err := s.store.GetObjective(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if existing == nil {
			writeError(w, http.StatusNotFound, "objective not found")
			return
		}
		var patch model.Objective
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		patch.ID = id
		patch.Weight = model.ClampWeight(patch.Weight)
		patch.CreatedAt = existing.CreatedAt
		patch.UpdatedAt = time.Now()
		if err := s.store.SaveObjective(&patch); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, patch)
	case http.MethodDelete:
		if err := s.store.DeleteObjective(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /tasks?state=&cycle=
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []model.Task
	var err error
	switch {
	case q.Get("state") != "":
		list, err = s.store.ListTasksByState(model.TaskState(q.Get("state")))
	case q.Get("cycle") != "":
		list, err = s.store.ListTasksByCycle(q.Get("cycle"))
	default:
		list, err = s.store.ListTasks()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /tasks/{id}, POST /tasks/{id}/approve, POST /tasks/{id}/reject
func (s *Server) handleTaskDetailOrDecision(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	switch {
	case strings.HasSuffix(rest, "/approve") && r.Method == http.MethodPost:
		id := strings.TrimSuffix(rest, "/approve")
		if err := s.orchestrator.ApproveTask(id); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(rest, "/reject") && r.Method == http.MethodPost:
		id := strings.TrimSuffix(rest, "/reject")
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := s.orchestrator.RejectTask(id, body.Reason); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		task, err := s.store.GetTask(rest)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if task == nil {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, task)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /scans?cycle=
func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "cycle query parameter is required")
		return
	}
	list, err := s.store.ListScansByCycle(cycleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /plans?cycle=
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "cycle query parameter is required")
		return
	}
	plan, err := s.store.GetLatestPlanForCycle(cycleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if plan == nil {
		writeJSON(w, []model.Plan{})
		return
	}
	writeJSON(w, []model.Plan{*plan})
}

// GET /runs?cycle=&task=
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []model.Run
	var err error
	switch {
	case q.Get("task") != "":
		list, err = s.store.ListRunsByTask(q.Get("task"))
	case q.Get("cycle") != "":
		list, err = s.store.ListRunsByCycle(q.Get("cycle"))
	default:
		writeError(w, http.StatusBadRequest, "cycle or task query parameter is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /evals?limit=&cycle=
func (s *Server) handleEvals(w http.ResponseWriter, r *http.Request) {
	if cycleID := r.URL.Query().Get("cycle"); cycleID != "" {
		eval, err := s.store.GetLatestEvaluation(cycleID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if eval == nil {
			writeJSON(w, []model.Evaluation{})
			return
		}
		writeJSON(w, []model.Evaluation{*eval})
		return
	}
	list, err := s.store.ListEvaluations(queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /decisions?cycle=
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "cycle query parameter is required")
		return
	}
	list, err := s.store.ListDecisionLog(cycleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /experiments?cycle=
func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "cycle query parameter is required")
		return
	}
	list, err := s.store.ListExperimentLog(cycleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, list)
}

// GET /cost/summary
func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := map[string]any{
		"total_usd":  s.ledger.Total(),
		"daily_usd":  s.ledger.DailyCost(now),
		"weekly_usd": s.ledger.WeeklyCost(now),
	}
	if text := s.latestCycleSummaryText(); text != "" {
		resp["summary"] = text
	}
	writeJSON(w, resp)
}

// latestCycleSummaryText renders the most recently started cycle as a
// CycleSummary report, or "" if no cycle has been recorded yet or the
// lookup fails.
func (s *Server) latestCycleSummaryText() string {
	cycles, err := s.store.ListCycles(1)
	if err != nil || len(cycles) == 0 {
		return ""
	}
	return ledger.NewCycleSummary(cycles[0], s.ledger).String()
}

// GET /budget/status
func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgMgr.Get()
	now := time.Now()
	perProvider := make(map[string]map[string]float64, len(cfg.Budget.PerProviderDailyUsd))
	for provider, dailyCap := range cfg.Budget.PerProviderDailyUsd {
		perProvider[provider] = map[string]float64{
			"cap_usd":   dailyCap,
			"spent_usd": s.ledger.ProviderDailyCost(provider, now),
		}
	}
	resp := map[string]any{
		"caps":            cfg.Budget,
		"daily_spent_usd": s.ledger.DailyCost(now),
		"weekly_spent_usd": s.ledger.WeeklyCost(now),
		"per_provider":    perProvider,
	}
	if text := s.latestCycleSummaryText(); text != "" {
		resp["summary"] = text
	}
	writeJSON(w, resp)
}

// POST /pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.orchestrator.Pause(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, s.orchestrator.GetState())
}

// POST /resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.orchestrator.Resume(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, s.orchestrator.GetState())
}

// POST /trigger {"preset": "..."}
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Preset string `json:"preset"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	cycleID, err := s.orchestrator.Trigger(r.Context(), body.Preset)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"cycle_id": cycleID})
}

// GET /config, POST /config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.cfgMgr.Get())
	case http.MethodPost:
		var cfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.orchestrator.SetConfig(&cfg)
		writeJSON(w, s.cfgMgr.Get())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
