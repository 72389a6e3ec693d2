package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/rbac"
	_ "github.com/schoolhub/schoolhub/testing"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, "", time.Hour, true), mr
}

func parentClaims() rbac.Claims {
	return rbac.Claims{
		Subject:    "p1",
		Role:       "parent",
		SchoolID:   "s1",
		Active:     true,
		GuardianOf: []string{"stu-1"},
	}
}

func TestCreateLoadRevoke(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, parentClaims())
	require.NoError(t, err)
	require.Len(t, id, 43)

	claims, err := m.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, parentClaims(), claims)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.NotContains(t, keys[0], id)
	require.Equal(t, time.Hour, mr.TTL(keys[0]))

	require.NoError(t, m.Revoke(ctx, id))
	_, err = m.Load(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.Revoke(ctx, id))
}

func TestCreateRejectsInvalidClaims(t *testing.T) {
	m, mr := newTestManager(t)
	_, err := m.Create(context.Background(), rbac.Claims{Subject: "x", Role: "janitor", Active: true})
	require.ErrorIs(t, err, rbac.ErrInvalidClaims)
	require.Empty(t, mr.Keys())
}

func TestSessionsExpire(t *testing.T) {
	m, mr := newTestManager(t)
	id, err := m.Create(context.Background(), parentClaims())
	require.NoError(t, err)
	mr.FastForward(time.Hour + time.Second)
	_, err = m.Load(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIDFromRequestPrefersCookie(t *testing.T) {
	m, _ := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderName, "from-header")
	require.Equal(t, "from-header", m.IDFromRequest(req))

	req.AddCookie(&http.Cookie{Name: m.CookieName(), Value: "from-cookie"})
	require.Equal(t, "from-cookie", m.IDFromRequest(req))
}

func TestCookieFlags(t *testing.T) {
	m, _ := newTestManager(t)
	rr := httptest.NewRecorder()
	m.SetCookie(rr, "abc")
	cookie := rr.Result().Cookies()[0]
	require.Equal(t, "schoolhub_session", cookie.Name)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	rr = httptest.NewRecorder()
	m.ClearCookie(rr)
	require.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func newSessionRouter(m *Manager) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(m.Authenticate(logger))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		p, ok := rbac.PrincipalFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(p.ID + "/" + string(p.Role)))
	})
	m.MountRoutes(r)
	return r
}

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set(HeaderName, token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticateResolvesPrincipal(t *testing.T) {
	m, _ := newTestManager(t)
	h := newSessionRouter(m)
	id, err := m.Create(context.Background(), parentClaims())
	require.NoError(t, err)

	rr := serve(h, http.MethodGet, "/whoami", "")
	require.Equal(t, "anonymous", rr.Body.String())

	rr = serve(h, http.MethodGet, "/whoami", id)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "p1/parent", rr.Body.String())

	rr = serve(h, http.MethodGet, "/whoami", "forged")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateRejectsTamperedClaims(t *testing.T) {
	m, mr := newTestManager(t)
	h := newSessionRouter(m)
	id, err := m.Create(context.Background(), parentClaims())
	require.NoError(t, err)
	mr.Set(mr.Keys()[0], `{"sub":"p1","role":"overlord","active":true}`)

	rr := serve(h, http.MethodGet, "/whoami", id)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateBackendDown(t *testing.T) {
	m, mr := newTestManager(t)
	h := newSessionRouter(m)
	mr.Close()
	rr := serve(h, http.MethodGet, "/whoami", "some-id")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRevokeEndpoint(t *testing.T) {
	m, _ := newTestManager(t)
	h := newSessionRouter(m)
	id, err := m.Create(context.Background(), parentClaims())
	require.NoError(t, err)

	rr := serve(h, http.MethodDelete, "/session", id)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(h, http.MethodGet, "/whoami", id)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
