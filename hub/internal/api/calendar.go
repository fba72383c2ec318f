package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/deployhub/hub/internal/constraint"
	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// MAINTENANCE WINDOWS
// =============================================================================

func (s *Server) handleListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.store.ListMaintenanceWindows(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list windows")
		return
	}
	if windows == nil {
		windows = []types.MaintenanceWindow{}
	}
	s.writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleCreateWindow(w http.ResponseWriter, r *http.Request) {
	var window types.MaintenanceWindow
	if err := s.readJSON(r, &window); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := window.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Reject cron expressions and timezones the evaluator cannot parse,
	// rather than discovering the problem during a later evaluation.
	if _, err := constraint.InWindow(window, time.Now().UTC()); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid window definition: "+err.Error())
		return
	}

	now := time.Now().UTC()
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	window.CreatedAt = now
	window.UpdatedAt = now

	if err := s.store.CreateMaintenanceWindow(r.Context(), &window); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create window")
		return
	}

	s.logger.Info("maintenance window created",
		"window_id", window.ID,
		"name", window.Name,
		"cron", window.Cron)

	s.writeJSON(w, http.StatusCreated, window)
}

func (s *Server) handleDeleteWindow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMaintenanceWindow(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SUPPRESSIONS
// =============================================================================

func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	suppressions, err := s.store.ListSuppressions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list suppressions")
		return
	}
	if suppressions == nil {
		suppressions = []types.Suppression{}
	}
	s.writeJSON(w, http.StatusOK, suppressions)
}

func (s *Server) handleCreateSuppression(w http.ResponseWriter, r *http.Request) {
	var sup types.Suppression
	if err := s.readJSON(r, &sup); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sup.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	sup.CreatedAt = time.Now().UTC()

	if err := s.store.CreateSuppression(r.Context(), &sup); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create suppression")
		return
	}

	s.logger.Info("suppression created",
		"suppression_id", sup.ID,
		"until", sup.End,
		"reason", sup.Reason)

	s.writeJSON(w, http.StatusCreated, sup)
}

func (s *Server) handleDeleteSuppression(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSuppression(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
