package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chartflow/chartflow/internal/experiments"
	"github.com/chartflow/chartflow/internal/store"
)

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experiments.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.User = currentUser(r)

	exp, err := s.scheduler.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, experiments.ErrDuplicateName):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, experiments.ErrAccessDenied):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/workflow/experiments/%s/status", exp.Name))
	writeJSON(w, http.StatusAccepted, exp)
}

func (s *Server) handleExperimentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Experiments().Status(r.PathValue("name"))
	if err != nil {
		writeError(w, storeStatus(err), "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	meta, err := s.registry.Experiments().Metadata(name)
	if err != nil {
		writeError(w, storeStatus(err), "experiment not found")
		return
	}
	results, err := s.registry.Experiments().Results(name)
	if err != nil {
		writeError(w, storeStatus(err), "experiment results unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": meta,
		"results":  results,
	})
}
