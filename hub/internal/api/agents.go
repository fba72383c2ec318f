package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/deployhub/hub/internal/secrets"
	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// AGENT ENDPOINTS
// =============================================================================

type registerRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	ClusterID   string `json:"cluster_id"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

type registerResponse struct {
	Agent *types.Agent `json:"agent"`

	// Token is the bearer token for subsequent calls. It is returned
	// exactly once; only its hash is stored.
	Token string `json:"token"`
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ClusterID == "" {
		s.writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	now := time.Now().UTC()
	agent := &types.Agent{
		ID:            req.ID,
		Name:          req.Name,
		ClusterID:     req.ClusterID,
		Environment:   req.Environment,
		Version:       req.Version,
		Status:        types.AgentStatusActive,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}

	if err := s.store.UpsertAgent(r.Context(), agent); err != nil {
		s.logger.Error("failed to register agent", "agent_id", agent.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	token, hash, err := secrets.IssueToken()
	if err != nil {
		s.logger.Error("failed to issue agent token", "agent_id", agent.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	if err := s.keys.StoreCredential(r.Context(), &secrets.AgentCredential{
		AgentID:   agent.ID,
		TokenHash: hash,
		IssuedAt:  now,
	}); err != nil {
		s.logger.Error("failed to store agent credential", "agent_id", agent.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	s.logger.Info("agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"cluster_id", agent.ClusterID)

	s.writeJSON(w, http.StatusCreated, registerResponse{Agent: agent, Token: token})
}

type heartbeatResponse struct {
	Status       string `json:"status"`
	PlansWaiting int    `json:"plans_waiting"`
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var hb types.Heartbeat
	if err := s.readJSON(r, &hb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if agent == nil {
		s.writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	if err := s.store.TouchAgentHeartbeat(r.Context(), agentID, types.AgentStatusActive, time.Now().UTC()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}

	// Per-entity health rides along on the heartbeat so the hub sees
	// degradation between outcome reports.
	for entityID, snapshot := range hb.EntityHealth {
		if err := s.eng.ApplyHealth(r.Context(), entityID, snapshot); err != nil {
			s.logger.Warn("failed to apply health snapshot",
				"agent_id", agentID,
				"entity_id", entityID,
				"error", err)
		}
	}

	plans, err := s.dispatcher.PlansFor(r.Context(), agent.ClusterID)
	if err != nil {
		s.logger.Warn("failed to count waiting plans", "agent_id", agentID, "error", err)
		plans = nil
	}

	s.writeJSON(w, http.StatusOK, heartbeatResponse{
		Status:       "ok",
		PlansWaiting: len(plans),
	})
}

func (s *Server) handleAgentPoll(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if agent == nil {
		s.writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	plans, err := s.dispatcher.PlansFor(r.Context(), agent.ClusterID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []types.DispatchedPlan{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"plans": plans,
	})
}

func (s *Server) handleAgentResult(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	planID := r.PathValue("plan")

	var outcome types.Outcome
	if err := s.readJSON(r, &outcome); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The path is authoritative for identity; the body may omit both.
	outcome.PlanID = planID
	outcome.AgentID = agentID

	plan, err := s.eng.ApplyReport(r.Context(), &outcome)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, plan)
}

// =============================================================================
// AGENT MANAGEMENT
// =============================================================================

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*types.Agent{}
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	if agent == nil {
		s.writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}
