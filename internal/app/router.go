package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/schoolhub/schoolhub/internal/audit/http"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/ratelimit"
	"github.com/schoolhub/schoolhub/internal/rbac"
	"github.com/schoolhub/schoolhub/internal/session"
	"github.com/schoolhub/schoolhub/jobs"
)

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	Sessions           *session.Manager
	RBACMiddleware     rbac.Middleware
	Guard              *ratelimit.Guard
	LoginHandler       *ratelimit.Handler
	DecisionHandler    *rbac.DecisionHandler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Readiness          map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with SchoolHub defaults. Public endpoints sit
// outside the guarded group because unmatched /api paths fall back to any
// authenticated role.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.Sessions != nil {
			r.Use(params.Sessions.Authenticate(params.Logger))
		}
		if params.LoginHandler != nil {
			params.LoginHandler.MountRoutes(r)
		}

		r.Group(func(r chi.Router) {
			// throttle before the role check so anonymous callers are limited per address
			if params.Guard != nil {
				r.Use(params.Guard.Middleware)
			}
			r.Use(params.RBACMiddleware.GuardRoutes)
			if params.DecisionHandler != nil {
				r.Route("/access", params.DecisionHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/admin/jobs", params.JobHandler.MountRoutes)
			}
			if params.Sessions != nil {
				params.Sessions.MountRoutes(r)
			}
		})
	})
	return r
}

// InternalRouterParams groups dependencies for the internal listener.
type InternalRouterParams struct {
	Logger *slog.Logger
	Config *Config
	Issuer *session.Issuer
}

// NewInternalRouter serves endpoints reserved for trusted platform components. It
// never carries the public API.
func NewInternalRouter(params InternalRouterParams) http.Handler {
	r := chi.NewRouter()
	timeout := 30 * time.Second
	if params.Config != nil && params.Config.AppRequestTimeout > 0 {
		timeout = params.Config.AppRequestTimeout
	}
	r.Use(middleware.RequestID, auditOrigin, middleware.Recoverer, middleware.Timeout(timeout))
	r.Get("/healthz", healthHandler(nil))
	if params.Issuer != nil {
		params.Issuer.MountRoutes(r)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(ctx); err != nil {
					resp.Checks[name] = "unavailable"
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		httpx.JSON(w, status, resp)
	}
}
