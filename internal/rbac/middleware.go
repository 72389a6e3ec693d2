package rbac

import (
	"log/slog"
	"net/http"

	"github.com/schoolhub/schoolhub/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. All helpers expect
// the Principal to be placed on the context by the session layer.
type Middleware struct {
	Logger *slog.Logger
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// RequireAuthenticated rejects requests without an active principal.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		if !p.Active {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GuardRoutes applies AllowedRolesForRoute to the request path.
func (m Middleware) GuardRoutes(next http.Handler) http.Handler {
	return m.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		if !AllowedRolesForRoute(r.URL.Path).Contains(p.Role) {
			m.logger().WarnContext(r.Context(), "route denied for role",
				slog.String("path", r.URL.Path),
				slog.String("role", string(p.Role)))
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireAny ensures the current principal holds at least one of perms.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, _ := PrincipalFromContext(r.Context())
			for _, perm := range perms {
				if p.Role == RoleSuperAdmin || p.Has(perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		}))
	}
}

// RequireAll ensures the current principal holds every permission in perms.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if p.Role != RoleSuperAdmin {
				for _, perm := range perms {
					if !p.Has(perm) {
						httpx.RespondError(w, httpx.ErrForbidden)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		}))
	}
}
