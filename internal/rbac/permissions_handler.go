package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/platform/httpx"
)

// PermissionsHandler serves the role to permission table.
type PermissionsHandler struct {
	rbac Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermUsersManage))
		r.Get("/", h.listPermissions)
	})
}

type roleEntry struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

type permissionsResponse struct {
	Permissions []Permission `json:"permissions"`
	Roles       []roleEntry  `json:"roles"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	resp := permissionsResponse{Permissions: AllPermissions()}
	for _, role := range AllRoles() {
		resp.Roles = append(resp.Roles, roleEntry{
			Role:        role,
			Permissions: PermissionsFor(role).Sorted(),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
