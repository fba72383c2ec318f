package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// ENTITY ENDPOINTS
// =============================================================================

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}

	// Optional filters.
	env := r.URL.Query().Get("environment")
	cluster := r.URL.Query().Get("cluster_id")
	product := r.URL.Query().Get("product_id")

	filtered := make([]*types.Entity, 0, len(entities))
	for _, e := range entities {
		if env != "" && e.Environment != env {
			continue
		}
		if cluster != "" && e.ClusterID != cluster {
			continue
		}
		if product != "" && e.ProductID != product {
			continue
		}
		filtered = append(filtered, e)
	}

	s.writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var entity types.Entity
	if err := s.readJSON(r, &entity); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := entity.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Lifecycle == "" {
		entity.Lifecycle = types.EntityUnmanaged
	}
	entity.StateChangedAt = now
	entity.CreatedAt = now
	entity.UpdatedAt = now

	if err := s.store.CreateEntity(r.Context(), &entity); err != nil {
		s.logger.Error("failed to create entity", "entity_id", entity.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create entity")
		return
	}

	s.logger.Info("entity created",
		"entity_id", entity.ID,
		"product_id", entity.ProductID,
		"environment", entity.Environment)

	s.writeJSON(w, http.StatusCreated, entity)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.store.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}
	if entity == nil {
		s.writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

type updateEntityRequest struct {
	DesiredVersion   *string            `json:"desired_version,omitempty"`
	DesiredConfig    *map[string]string `json:"desired_config,omitempty"`
	Dependencies     *[]types.DependencyRef `json:"dependencies,omitempty"`
	MarkedForRemoval *bool              `json:"marked_for_removal,omitempty"`
	Criticality      *string            `json:"criticality,omitempty"`
}

// handleUpdateEntity updates the desired state of an entity. Reported state
// and lifecycle are owned by agent reports and cannot be set here.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.store.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}
	if entity == nil {
		s.writeError(w, http.StatusNotFound, "entity not found")
		return
	}

	var req updateEntityRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DesiredVersion != nil {
		entity.DesiredVersion = *req.DesiredVersion
	}
	if req.DesiredConfig != nil {
		entity.DesiredConfig = *req.DesiredConfig
	}
	if req.Dependencies != nil {
		entity.Dependencies = *req.Dependencies
	}
	if req.MarkedForRemoval != nil {
		entity.MarkedForRemoval = *req.MarkedForRemoval
	}
	if req.Criticality != nil {
		entity.Criticality = *req.Criticality
	}

	if err := entity.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entity.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEntity(r.Context(), entity); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update entity")
		return
	}

	s.writeJSON(w, http.StatusOK, entity)
}

// =============================================================================
// EVALUATION
// =============================================================================

func (s *Server) handleEvaluateEntity(w http.ResponseWriter, r *http.Request) {
	plan, err := s.eng.Evaluate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if plan == nil {
		// No drift; nothing proposed.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	plans, err := s.eng.EvaluateAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "evaluation failed: "+err.Error())
		return
	}
	if plans == nil {
		plans = []*types.Plan{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"proposed": len(plans),
		"plans":    plans,
	})
}
