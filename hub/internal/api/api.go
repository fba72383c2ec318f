// Package api provides HTTP handlers for the hub.
//
// # Endpoints
//
// Agent API:
//   - POST /api/v1/agents/register - Register new agent, returns bearer token
//   - POST /api/v1/agents/{id}/heartbeat - Agent heartbeat with health snapshots
//   - GET  /api/v1/agents/{id}/plans - Poll for dispatched plans
//   - POST /api/v1/agents/{id}/plans/{plan}/result - Report plan outcome
//
// Management API:
//   - GET    /api/v1/entities - List entities
//   - POST   /api/v1/entities - Create entity
//   - GET    /api/v1/entities/{id} - Get entity
//   - PUT    /api/v1/entities/{id} - Update entity desired state
//   - POST   /api/v1/entities/{id}/evaluate - Evaluate one entity
//   - GET    /api/v1/entities/{id}/plans - Plan history for entity
//   - POST   /api/v1/evaluate - Evaluate the full catalog
//   - GET    /api/v1/plans - List plans by state
//   - GET    /api/v1/plans/stuck - List plans flagged stuck
//   - GET    /api/v1/plans/{id} - Get plan
//   - GET    /api/v1/plans/{id}/transitions - Plan state history
//   - POST   /api/v1/plans/{id}/approve - Record an approval
//   - POST   /api/v1/plans/{id}/execute - Dispatch an approved plan
//   - POST   /api/v1/plans/{id}/cancel - Cancel a pending or blocked plan
//   - GET    /api/v1/windows - List maintenance windows
//   - POST   /api/v1/windows - Create maintenance window
//   - DELETE /api/v1/windows/{id} - Delete maintenance window
//   - GET    /api/v1/suppressions - List suppressions
//   - POST   /api/v1/suppressions - Create suppression
//   - DELETE /api/v1/suppressions/{id} - Delete suppression
//   - GET    /api/v1/agents - List agents
//   - GET    /api/v1/agents/{id} - Get agent details
//
// Health:
//   - GET /api/v1/health - Health check
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetops/deployhub/hub/internal/dispatch"
	"github.com/fleetops/deployhub/hub/internal/engine"
	"github.com/fleetops/deployhub/hub/internal/secrets"
	"github.com/fleetops/deployhub/pkg/types"
)

// Store is the persistence surface the API handlers need.
type Store interface {
	CreateEntity(ctx context.Context, e *types.Entity) error
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	UpdateEntity(ctx context.Context, e *types.Entity) error
	ListEntities(ctx context.Context) ([]*types.Entity, error)

	GetPlan(ctx context.Context, id string) (*types.Plan, error)
	ListPlansByEntity(ctx context.Context, entityID string) ([]*types.Plan, error)
	ListPlansByState(ctx context.Context, state types.PlanState) ([]*types.Plan, error)
	ListStuckPlans(ctx context.Context) ([]*types.Plan, error)
	ListTransitions(ctx context.Context, planID string) ([]types.PlanTransition, error)

	CreateMaintenanceWindow(ctx context.Context, w *types.MaintenanceWindow) error
	ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error)
	DeleteMaintenanceWindow(ctx context.Context, id string) error
	CreateSuppression(ctx context.Context, s *types.Suppression) error
	ListSuppressions(ctx context.Context) ([]types.Suppression, error)
	DeleteSuppression(ctx context.Context, id string) error

	UpsertAgent(ctx context.Context, a *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	ListAgents(ctx context.Context) ([]*types.Agent, error)
	TouchAgentHeartbeat(ctx context.Context, id string, status types.AgentStatus, at time.Time) error
}

// Server is the HTTP API server.
type Server struct {
	store      Store
	eng        *engine.Engine
	dispatcher *dispatch.Dispatcher
	keys       secrets.KeyStore
	logger     *slog.Logger
	mux        *http.ServeMux

	// Agent authentication (disabled by default for grace period)
	agentAuthEnabled bool
}

// NewServer creates a new API server.
func NewServer(store Store, eng *engine.Engine, dispatcher *dispatch.Dispatcher, keys secrets.KeyStore, logger *slog.Logger) *Server {
	s := &Server{
		store:      store,
		eng:        eng,
		dispatcher: dispatcher,
		keys:       keys,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// EnableAgentAuth enables agent bearer token authentication enforcement.
// By default, auth is in grace period mode (logs but doesn't reject).
func (s *Server) EnableAgentAuth() {
	s.agentAuthEnabled = true
	s.logger.Info("agent token authentication enabled")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	agentAuth := s.AgentAuthMiddleware(AgentAuthConfig{
		Enabled: s.agentAuthEnabled,
		Logger:  s.logger,
	})

	// Health
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Agent registration (open - agents don't have tokens yet)
	s.mux.HandleFunc("POST /api/v1/agents/register", s.handleAgentRegister)

	// Agent lifecycle (authenticated - these are agent-to-hub calls)
	s.mux.HandleFunc("POST /api/v1/agents/{id}/heartbeat", wrapHandler(s.handleAgentHeartbeat, agentAuth))
	s.mux.HandleFunc("GET /api/v1/agents/{id}/plans", wrapHandler(s.handleAgentPoll, agentAuth))
	s.mux.HandleFunc("POST /api/v1/agents/{id}/plans/{plan}/result", wrapHandler(s.handleAgentResult, agentAuth))

	// Agent management
	s.mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/v1/agents/{id}", s.handleGetAgent)

	// Entities
	s.mux.HandleFunc("GET /api/v1/entities", s.handleListEntities)
	s.mux.HandleFunc("POST /api/v1/entities", s.handleCreateEntity)
	s.mux.HandleFunc("GET /api/v1/entities/{id}", s.handleGetEntity)
	s.mux.HandleFunc("PUT /api/v1/entities/{id}", s.handleUpdateEntity)
	s.mux.HandleFunc("POST /api/v1/entities/{id}/evaluate", s.handleEvaluateEntity)
	s.mux.HandleFunc("GET /api/v1/entities/{id}/plans", s.handleEntityPlans)

	// Evaluation
	s.mux.HandleFunc("POST /api/v1/evaluate", s.handleEvaluateAll)

	// Plans - static routes must come before wildcard {id} routes
	s.mux.HandleFunc("GET /api/v1/plans", s.handleListPlans)
	s.mux.HandleFunc("GET /api/v1/plans/stuck", s.handleStuckPlans)
	s.mux.HandleFunc("GET /api/v1/plans/{id}", s.handleGetPlan)
	s.mux.HandleFunc("GET /api/v1/plans/{id}/transitions", s.handlePlanTransitions)
	s.mux.HandleFunc("POST /api/v1/plans/{id}/approve", s.handleApprovePlan)
	s.mux.HandleFunc("POST /api/v1/plans/{id}/execute", s.handleExecutePlan)
	s.mux.HandleFunc("POST /api/v1/plans/{id}/cancel", s.handleCancelPlan)

	// Maintenance windows and suppressions
	s.mux.HandleFunc("GET /api/v1/windows", s.handleListWindows)
	s.mux.HandleFunc("POST /api/v1/windows", s.handleCreateWindow)
	s.mux.HandleFunc("DELETE /api/v1/windows/{id}", s.handleDeleteWindow)
	s.mux.HandleFunc("GET /api/v1/suppressions", s.handleListSuppressions)
	s.mux.HandleFunc("POST /api/v1/suppressions", s.handleCreateSuppression)
	s.mux.HandleFunc("DELETE /api/v1/suppressions/{id}", s.handleDeleteSuppression)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeEngineError maps engine error types onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case types.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case types.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case types.IsNotApproved(err):
		s.writeError(w, http.StatusForbidden, err.Error())
	case types.IsInvalidState(err):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
