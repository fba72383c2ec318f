package api

import (
	"net/http"

	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	state := types.PlanState(r.URL.Query().Get("state"))
	if state == "" {
		state = types.PlanPending
	}

	plans, err := s.store.ListPlansByState(r.Context(), state)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []*types.Plan{}
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleStuckPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListStuckPlans(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list stuck plans")
		return
	}
	if plans == nil {
		plans = []*types.Plan{}
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get plan")
		return
	}
	if plan == nil {
		s.writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handlePlanTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := s.store.ListTransitions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	if transitions == nil {
		transitions = []types.PlanTransition{}
	}
	s.writeJSON(w, http.StatusOK, transitions)
}

func (s *Server) handleEntityPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlansByEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []*types.Plan{}
	}
	s.writeJSON(w, http.StatusOK, plans)
}

type approveRequest struct {
	Approver string `json:"approver"`
	Role     string `json:"role"`
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approver == "" || req.Role == "" {
		s.writeError(w, http.StatusBadRequest, "approver and role are required")
		return
	}

	plan, err := s.eng.ApprovePlan(r.Context(), r.PathValue("id"), req.Approver, req.Role)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.eng.ExecutePlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	plan, err := s.eng.CancelPlan(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}
