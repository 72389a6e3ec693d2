package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/audit"
	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/rbac"
)

// MinIssuerTokenLength is the shortest shared secret accepted from the identity provider.
const MinIssuerTokenLength = 32

// Issuer lets the identity provider open sessions for verified identities. It is
// mounted on the internal listener only.
type Issuer struct {
	manager  *Manager
	token    []byte
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewIssuer builds an Issuer guarded by a bearer token shared with the identity
// provider. recorder may be nil.
func NewIssuer(m *Manager, token string, recorder audit.Recorder, logger *slog.Logger) (*Issuer, error) {
	if m == nil {
		return nil, errors.New("session: manager is required")
	}
	if len(token) < MinIssuerTokenLength {
		return nil, fmt.Errorf("session: issuer token must be at least %d bytes", MinIssuerTokenLength)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{manager: m, token: []byte(token), recorder: recorder, logger: logger, now: time.Now}, nil
}

// MountRoutes registers the issuing endpoint.
func (i *Issuer) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(i.requireToken)
		r.Post("/sessions", i.handleCreate)
	})
}

func (i *Issuer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), i.token) != 1 {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type issueResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (i *Issuer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var claims rbac.Claims
	if err := httpx.DecodeJSON(w, r, &claims); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := i.manager.Create(r.Context(), claims)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidClaims) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
		i.logger.ErrorContext(r.Context(), "issue session", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	if i.recorder != nil {
		err := i.recorder.Record(r.Context(), audit.Input{
			Operation:     "session.issued",
			ResourceType:  rbac.ResourceSystem,
			ResourceID:    "session",
			PrincipalID:   claims.Subject,
			PrincipalRole: rbac.Role(claims.Role),
			Granted:       true,
			Reason:        "session issued by identity provider",
		})
		if err != nil {
			i.logger.WarnContext(r.Context(), "session issue not audited", slog.Any("error", err))
		}
	}
	i.manager.SetCookie(w, id)
	httpx.JSON(w, http.StatusCreated, issueResponse{
		SessionID: id,
		ExpiresAt: i.now().Add(i.manager.ttl).UTC(),
	})
}
