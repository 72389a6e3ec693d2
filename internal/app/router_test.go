package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/audit"
	audithttp "github.com/schoolhub/schoolhub/internal/audit/http"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/ratelimit"
	"github.com/schoolhub/schoolhub/internal/rbac"
	"github.com/schoolhub/schoolhub/internal/redact"
	"github.com/schoolhub/schoolhub/internal/session"
)

type routerFixture struct {
	handler  http.Handler
	internal http.Handler
	store    *audit.MemoryStore
	sessions *session.Manager
}

const testIssuerToken = "idp-shared-secret-0123456789abcdef"

func newRouterFixture(t *testing.T, api ratelimit.Policy, readiness map[string]ReadinessCheck) routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "development", AppRequestTimeout: 5 * time.Second, EdgeRateLimit: 1000}

	store := audit.NewMemoryStore()
	metrics := observability.NewMetrics()
	recorder, err := audit.NewLogger(store, audit.DefaultConfig(),
		audit.WithGeneralLogger(logger), audit.WithFailureObserver(metrics))
	require.NoError(t, err)
	engine, err := rbac.NewEngine(recorder, rbac.WithObserver(metrics), rbac.WithLogger(logger))
	require.NoError(t, err)

	guard, err := ratelimit.NewGuard(ratelimit.GuardConfig{
		Limiter:  ratelimit.NewMemoryLimiter(nil),
		Login:    ratelimit.DefaultLoginPolicy,
		API:      api,
		Recorder: recorder,
		Observer: metrics,
		Logger:   logger,
	})
	require.NoError(t, err)

	mw := rbac.Middleware{Logger: logger}
	sessions := session.NewManager(client, "", time.Hour, false)
	handler := NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Sessions:           sessions,
		RBACMiddleware:     mw,
		Guard:              guard,
		LoginHandler:       ratelimit.NewHandler(guard, logger),
		DecisionHandler:    rbac.NewDecisionHandler(engine, redact.Default(), logger, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(mw),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(store), recorder, mw),
		Readiness:          readiness,
	})
	issuer, err := session.NewIssuer(sessions, testIssuerToken, recorder, logger)
	require.NoError(t, err)
	internal := NewInternalRouter(InternalRouterParams{Logger: logger, Config: cfg, Issuer: issuer})
	return routerFixture{handler: handler, internal: internal, store: store, sessions: sessions}
}

func (f routerFixture) login(t *testing.T, claims rbac.Claims) string {
	t.Helper()
	id, err := f.sessions.Create(context.Background(), claims)
	require.NoError(t, err)
	return id
}

func (f routerFixture) do(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4431"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(session.HeaderName, token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzCarriesSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)
	rr := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, SecurityHeaders()["Content-Security-Policy"], rr.Header().Get("Content-Security-Policy"))
}

func TestHealthzReportsFailedDependency(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("dial tcp: refused") },
		"redis":    func(context.Context) error { return nil },
	})
	rr := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"postgres":"unavailable"`)
	require.NotContains(t, rr.Body.String(), "refused")
}

func TestLoginAttemptsArePublic(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)
	rr := f.do(http.MethodPost, "/api/auth/login-attempts", "", `{"identifier":"parent@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"allowed":true`)
}

func TestRouteGuardAppliesRoleTable(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)

	rr := f.do(http.MethodGet, "/api/permissions", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	teacher := f.login(t, rbac.Claims{Subject: "t1", Role: "teacher", SchoolID: "s1", Active: true})
	rr = f.do(http.MethodGet, "/api/permissions", teacher, "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(http.MethodGet, "/api/audit/entries", teacher, "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	admin := f.login(t, rbac.Claims{Subject: "a1", Role: "school-admin", SchoolID: "s1", Active: true})
	rr = f.do(http.MethodGet, "/api/permissions", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), string(rbac.PermSafeguardingSensitive))
}

func TestUnknownSessionIsRejected(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)
	rr := f.do(http.MethodGet, "/api/permissions", "no-such-session", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDecisionEndpointAuditsDenial(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)
	teacher := f.login(t, rbac.Claims{Subject: "t1", Role: "teacher", SchoolID: "s1", Active: true})

	rr := f.do(http.MethodPost, "/api/access/decisions", teacher,
		`{"resource":{"type":"safeguarding-data","id":"sg-9","owner_student_id":"stu-4","school_id":"s1"},"operation":"read"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "access denied")
	require.NotContains(t, rr.Body.String(), rbac.ReasonSafeguardingRole)

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	require.False(t, entries[0].Granted)
	require.Equal(t, audit.StudentIDPlaceholder, entries[0].ResourceID)
	require.Equal(t, "sg-9", entries[0].ProtectedResourceID)
	require.Equal(t, "203.0.113.xxx", entries[0].NetworkOrigin)
}

func TestAPIPolicyThrottlesPrincipal(t *testing.T) {
	f := newRouterFixture(t, ratelimit.Policy{Name: "api", Max: 2, Window: time.Minute}, nil)
	admin := f.login(t, rbac.Claims{Subject: "a1", Role: "school-admin", Active: true})

	for i := 0; i < 2; i++ {
		rr := f.do(http.MethodGet, "/api/permissions", admin, "")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := f.do(http.MethodGet, "/api/permissions", admin, "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	var throttled int
	for _, e := range f.store.Entries() {
		if e.Operation == "api.throttled" {
			throttled++
			require.Equal(t, "a1", e.PrincipalID)
		}
	}
	require.Equal(t, 1, throttled)
}

func TestInternalIssuerOpensSessionForPublicAPI(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"sub":"a1","role":"school-admin","school_id":"s1","active":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testIssuerToken)
	rr := httptest.NewRecorder()
	f.internal.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var issued struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&issued))
	require.NotEmpty(t, issued.SessionID)

	rr = f.do(http.MethodGet, "/api/permissions", issued.SessionID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	// the public listener does not expose issuing
	rr = f.do(http.MethodPost, "/sessions", "", `{"sub":"a1","role":"super-admin","active":true}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(http.MethodPost, "/api/sessions", "", `{"sub":"a1","role":"super-admin","active":true}`)
	require.NotEqual(t, http.StatusCreated, rr.Code)
}

func TestInternalIssuerRejectsMissingToken(t *testing.T) {
	f := newRouterFixture(t, ratelimit.DefaultAPIPolicy, nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"sub":"a1","role":"super-admin","active":true}`))
	rr := httptest.NewRecorder()
	f.internal.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIPolicyThrottlesAnonymousCallersByAddress(t *testing.T) {
	f := newRouterFixture(t, ratelimit.Policy{Name: "api", Max: 2, Window: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		rr := f.do(http.MethodGet, "/api/permissions", "", "")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := f.do(http.MethodGet, "/api/permissions", "", "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	var throttled []audit.Entry
	for _, e := range f.store.Entries() {
		if e.Operation == "api.throttled" {
			throttled = append(throttled, e)
		}
	}
	require.Len(t, throttled, 1)
	require.Equal(t, "anonymous", throttled[0].PrincipalID)
	require.Equal(t, "203.0.113.xxx", throttled[0].NetworkOrigin)

	// a signed-in principal from the same address keeps its own window
	admin := f.login(t, rbac.Claims{Subject: "a1", Role: "school-admin", Active: true})
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/permissions", admin, "").Code)
}
