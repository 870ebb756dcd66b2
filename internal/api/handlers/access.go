package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/domain/access"
)

// AccessHandler exposes the caller's role and the navigation it unlocks
type AccessHandler struct {
	roles  *access.RoleStore
	logger *zap.Logger
}

// NewAccessHandler creates an access handler
func NewAccessHandler(roles *access.RoleStore, logger *zap.Logger) *AccessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessHandler{roles: roles, logger: logger}
}

// Routes returns the handler routes
func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/role", h.GetRole)
	r.Put("/role", h.SetRole)
	r.Delete("/role", h.ClearRole)
	r.Get("/navigation", h.Navigation)
	r.Get("/capabilities", h.Capabilities)
	return r
}

// RoleResponse describes the effective role
type RoleResponse struct {
	Role  access.Role `json:"role"`
	Badge string      `json:"badge"`
}

// RoleRequest selects a role
type RoleRequest struct {
	Role string `json:"role"`
}

// GetRole handles GET /role
func (h *AccessHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, roleResponse(h.roles.Role(r.Context())))
}

// SetRole handles PUT /role
func (h *AccessHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := access.ParseRole(req.Role)
	if !ok {
		jsonError(w, "role must be patient, pharmacy or admin", http.StatusBadRequest)
		return
	}
	if err := h.roles.SetRole(r.Context(), role); err != nil {
		h.logger.Error("failed to persist role", zap.Error(err), zap.String("role", string(role)))
		jsonError(w, "failed to persist role", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, roleResponse(role))
}

// ClearRole handles DELETE /role; subsequent reads fall back to the default
func (h *AccessHandler) ClearRole(w http.ResponseWriter, r *http.Request) {
	if err := h.roles.ClearRole(r.Context()); err != nil {
		h.logger.Error("failed to clear role", zap.Error(err))
		jsonError(w, "failed to clear role", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, roleResponse(access.DefaultRole))
}

// Navigation handles GET /navigation?surface=bottom|sidebar
func (h *AccessHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	surface := access.SurfaceBottomBar
	switch s := access.Surface(r.URL.Query().Get("surface")); s {
	case "", access.SurfaceBottomBar:
	case access.SurfaceSidebar:
		surface = s
	default:
		jsonError(w, "surface must be bottom or sidebar", http.StatusBadRequest)
		return
	}

	role := h.roles.Role(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"surface": surface,
		"items":   access.DeriveNavigationFor(surface, role),
	})
}

// Capabilities handles GET /capabilities
func (h *AccessHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	role := h.roles.Role(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":         role,
		"capabilities": access.Capabilities(role),
	})
}

func roleResponse(role access.Role) RoleResponse {
	return RoleResponse{Role: role, Badge: access.BadgeColor(role)}
}
