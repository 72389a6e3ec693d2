package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/rbac"
)

// Authenticate resolves the session into a Principal on the request context.
// Requests without a session continue anonymously; unknown or invalid sessions are
// rejected with 401.
func (m *Manager) Authenticate(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := m.IDFromRequest(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := m.Load(r.Context(), id)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					logger.ErrorContext(r.Context(), "load session", slog.Any("error", err))
					httpx.RespondError(w, httpx.ErrUnavailable)
					return
				}
				m.ClearCookie(w)
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			principal, err := rbac.NewPrincipal(claims)
			if err != nil {
				logger.WarnContext(r.Context(), "session holds invalid claims", slog.Any("error", err))
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := rbac.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MountRoutes registers session endpoints.
func (m *Manager) MountRoutes(r chi.Router) {
	r.Delete("/session", m.handleRevoke)
}

func (m *Manager) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := m.Revoke(r.Context(), m.IDFromRequest(r)); err != nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	m.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
