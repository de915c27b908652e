package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/pkg/models"
)

// Users. Cross-user operations are admin-only; a user may always read
// their own record.

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	names, err := s.registry.Users().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing users failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": names})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req struct {
		Username        string   `json:"username"`
		Password        string   `json:"password"`
		Admin           bool     `json:"admin"`
		AllowedDatasets []string `json:"allowed_datasets"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	salt, err := auth.NewSalt()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "salt generation failed")
		return
	}
	user := &models.User{
		Username:        req.Username,
		Salt:            salt,
		PasswordHash:    auth.HashPassword(req.Password, salt),
		Admin:           req.Admin,
		AllowedDatasets: req.AllowedDatasets,
	}
	if err := s.registry.Users().Save(user); err != nil {
		writeError(w, http.StatusInternalServerError, "saving user failed")
		return
	}
	writeJSON(w, http.StatusCreated, sanitizeUser(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	caller := currentUser(r)
	if caller != nil && !caller.Admin && caller.Username != username {
		writeError(w, http.StatusForbidden, "admin required")
		return
	}
	user, err := s.registry.Users().Get(username)
	if err != nil {
		writeError(w, storeStatus(err), "user not found")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeUser(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if err := s.registry.Users().Delete(r.PathValue("username")); err != nil {
		writeError(w, storeStatus(err), "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Datasets are read-only over HTTP and filtered by the caller's grants.

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	meta, err := s.registry.Datasets().Datasets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing datasets failed")
		return
	}
	user := currentUser(r)
	visible := make([]models.DatasetMeta, 0, len(meta))
	for _, m := range meta {
		if user == nil || auth.CanAccessDataset(user, m.Name) {
			visible = append(visible, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": visible})
}

func (s *Server) datasetAllowed(w http.ResponseWriter, r *http.Request, name string) bool {
	user := currentUser(r)
	if user != nil && !auth.CanAccessDataset(user, name) {
		writeError(w, http.StatusForbidden, "dataset access denied")
		return false
	}
	return true
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.datasetAllowed(w, r, name) {
		return
	}
	patients, err := s.registry.Datasets().Patients(r.Context(), name)
	if err != nil {
		writeError(w, storeStatus(err), "dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.datasetAllowed(w, r, name) {
		return
	}
	patient, err := s.registry.Datasets().Patient(r.Context(), name, r.PathValue("mrn"))
	if err != nil {
		writeError(w, storeStatus(err), "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

// Projects.

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	names, err := s.registry.Projects().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing projects failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": names})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var proj models.Project
	if !decodeJSON(w, r, &proj) {
		return
	}
	if proj.Name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}
	if user := currentUser(r); user != nil {
		proj.Owner = user.Username
	}
	if err := s.registry.Projects().Save(&proj); err != nil {
		writeError(w, http.StatusInternalServerError, "saving project failed")
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	proj, err := s.registry.Projects().Get(r.PathValue("name"))
	if err != nil {
		writeError(w, storeStatus(err), "project not found")
		return
	}
	if user := currentUser(r); user != nil && !auth.CanAccessProject(user, proj) {
		writeError(w, http.StatusForbidden, "project access denied")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	proj, err := s.registry.Projects().Get(name)
	if err != nil {
		writeError(w, storeStatus(err), "project not found")
		return
	}
	if user := currentUser(r); user != nil && !user.Admin && proj.Owner != user.Username {
		writeError(w, http.StatusForbidden, "owner or admin required")
		return
	}
	if err := s.registry.Projects().Delete(name); err != nil {
		writeError(w, storeStatus(err), "project not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Annotations are reviewer notes attached to experiment output values.

func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var ann models.Annotation
	if !decodeJSON(w, r, &ann) {
		return
	}
	if ann.OutputValueID == "" || ann.Label == "" {
		writeError(w, http.StatusBadRequest, "output_value_id and label are required")
		return
	}
	if ann.ID == "" {
		ann.ID = uuid.NewString()
	}
	if user := currentUser(r); user != nil {
		ann.Author = user.Username
	}
	if err := s.registry.Annotations().Save(&ann); err != nil {
		writeError(w, http.StatusInternalServerError, "saving annotation failed")
		return
	}
	writeJSON(w, http.StatusCreated, ann)
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	anns, err := s.registry.Annotations().List(r.URL.Query().Get("output_value_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing annotations failed")
		return
	}
	if anns == nil {
		anns = []models.Annotation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": anns})
}

// Plans (saved workflows).

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	names, err := s.registry.Plans().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing workflows failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": names})
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	var plan models.Plan
	if !decodeJSON(w, r, &plan) {
		return
	}
	if name := r.PathValue("name"); name != "" {
		plan.Name = name
	}
	if plan.Name == "" {
		writeError(w, http.StatusBadRequest, "workflow name is required")
		return
	}
	user := currentUser(r)
	if existing, err := s.registry.Plans().Get(plan.Name); err == nil {
		if user != nil && !user.Admin && existing.Owner != user.Username {
			writeError(w, http.StatusForbidden, "owner or admin required")
			return
		}
		plan.CreatedAt = existing.CreatedAt
		if plan.Owner == "" {
			plan.Owner = existing.Owner
		}
	} else if user != nil {
		plan.Owner = user.Username
	}
	if err := s.registry.Plans().Save(&plan); err != nil {
		writeError(w, http.StatusInternalServerError, "saving workflow failed")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.registry.Plans().Get(r.PathValue("name"))
	if err != nil {
		writeError(w, storeStatus(err), "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	plan, err := s.registry.Plans().Get(name)
	if err != nil {
		writeError(w, storeStatus(err), "workflow not found")
		return
	}
	if user := currentUser(r); user != nil && !user.Admin && plan.Owner != user.Username {
		writeError(w, http.StatusForbidden, "owner or admin required")
		return
	}
	if err := s.registry.Plans().Delete(name); err != nil {
		writeError(w, storeStatus(err), "workflow not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
