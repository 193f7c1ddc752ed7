package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/observability"
	"github.com/campushq/permit/pkg/store"
)

// Protector wraps a handler with an authorization check for a named
// operation. Satisfied by gate.Gate; nil leaves routes unprotected, which is
// only acceptable in tests and local development.
type Protector interface {
	Protect(operation string, next http.Handler) http.Handler
}

// Server exposes the authorization store over HTTP
type Server struct {
	store     store.Store
	router    *mux.Router
	protector Protector
	logger    *observability.Logger
}

// NewServer creates a new authorization API server
func NewServer(s store.Store, protector Protector, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	srv := &Server{
		store:     s,
		router:    mux.NewRouter(),
		protector: protector,
		logger:    logger,
	}
	srv.setupRoutes()
	return srv
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all the API routes. Reads are open to any service
// holding network access (they back the caches' fetch path); mutations go
// through the protector.
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1/authz").Subrouter()

	// Fetch routes consumed by permission caches
	v1.HandleFunc("/roles/{role}/permissions", s.getRolePermissions).Methods("GET")
	v1.HandleFunc("/users/{id}", s.getUserAuthData).Methods("GET")

	// Administrative routes
	s.handle(v1, "POST", "/roles", "authz.roles.create", s.createRole)
	s.handle(v1, "DELETE", "/roles/{role}", "authz.roles.delete", s.deleteRole)
	s.handle(v1, "PUT", "/roles/{role}/permissions/{permission}", "authz.roles.update", s.assignPermission)
	s.handle(v1, "DELETE", "/roles/{role}/permissions/{permission}", "authz.roles.update", s.revokePermission)
	s.handle(v1, "PUT", "/users/{id}/roles/{role}", "authz.users.update", s.assignRole)
	s.handle(v1, "DELETE", "/users/{id}/roles/{role}", "authz.users.update", s.revokeRole)
	s.handle(v1, "PUT", "/users/{id}/permissions/{permission}", "authz.users.update", s.grantUserPermission)
	s.handle(v1, "DELETE", "/users/{id}/permissions/{permission}", "authz.users.update", s.revokeUserPermission)
}

func (s *Server) handle(r *mux.Router, method, path, operation string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.protector != nil {
		h = s.protector.Protect(operation, h)
	}
	r.Handle(path, h).Methods(method)
}

func (s *Server) getRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleName := mux.Vars(r)["role"]

	permissions, err := s.store.GetRolePermissions(r.Context(), roleName)
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":        roleName,
		"permissions": permissions,
	})
}

func (s *Server) getUserAuthData(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	data, err := s.store.GetUserAuthData(r.Context(), userID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, data)
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "role name is required")
		return
	}
	permissions, err := catalog.NormalizeSet(req.Permissions)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := &store.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: permissions,
	}
	if err := s.store.CreateRole(r.Context(), role); err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, role)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleName := mux.Vars(r)["role"]

	if err := s.store.DeleteRole(r.Context(), roleName); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignPermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	perm, ok := s.parsePermission(w, vars["permission"])
	if !ok {
		return
	}

	if err := s.store.AssignPermission(r.Context(), vars["role"], perm); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	perm, ok := s.parsePermission(w, vars["permission"])
	if !ok {
		return
	}

	if err := s.store.RevokePermission(r.Context(), vars["role"], perm); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.AssignRoleToUser(r.Context(), vars["id"], vars["role"]); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.RevokeRoleFromUser(r.Context(), vars["id"], vars["role"]); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) grantUserPermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	perm, ok := s.parsePermission(w, vars["permission"])
	if !ok {
		return
	}

	if err := s.store.GrantUserPermission(r.Context(), vars["id"], perm); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokeUserPermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	perm, ok := s.parsePermission(w, vars["permission"])
	if !ok {
		return
	}

	if err := s.store.RevokeUserPermission(r.Context(), vars["id"], perm); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parsePermission(w http.ResponseWriter, raw string) (catalog.Permission, bool) {
	perm, err := catalog.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return catalog.Permission{}, false
	}
	return perm, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRoleNotFound), errors.Is(err, store.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrRoleExists):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("Store operation failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
