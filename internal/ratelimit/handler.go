package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/rbac"
)

// Handler exposes the login guard to the sign-in flow.
type Handler struct {
	guard  *Guard
	logger *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(guard *Guard, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{guard: guard, logger: logger}
}

// MountRoutes registers the login-attempt endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auth/login-attempts", h.handleLoginAttempt)
}

type loginAttemptRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

type loginAttemptResponse struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

func (h *Handler) handleLoginAttempt(w http.ResponseWriter, r *http.Request) {
	var req loginAttemptRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.guard.CheckLogin(r.Context(), req.Identifier)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "login rate check", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	setHeaders(w, h.guard.login, res, h.guard.now)
	if !res.Allowed {
		httpx.RespondError(w, httpx.ErrTooManyRequests)
		return
	}
	httpx.JSON(w, http.StatusOK, loginAttemptResponse{
		Allowed:   true,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt.UTC().Format(time.RFC3339),
	})
}

// Middleware applies the API policy per authenticated principal, falling back to the
// client address for anonymous requests.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var subject string
		p, ok := rbac.PrincipalFromContext(r.Context())
		if ok && p.ID != "" {
			subject = "principal:" + p.ID
		} else {
			ip, err := httprate.KeyByRealIP(r)
			if err != nil {
				ip = r.RemoteAddr
			}
			subject = "ip:" + ip
		}
		res, err := g.CheckAPI(r.Context(), subject, p)
		if err != nil {
			g.logger.ErrorContext(r.Context(), "api rate check", slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnavailable)
			return
		}
		setHeaders(w, g.api, res, g.now)
		if !res.Allowed {
			httpx.RespondError(w, httpx.ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setHeaders(w http.ResponseWriter, p Policy, res Result, now func() time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(p.Max))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter(now()).Seconds())))
	}
}
