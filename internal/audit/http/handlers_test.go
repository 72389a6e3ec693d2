package audithttp

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

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/audit"
	"github.com/schoolhub/schoolhub/internal/rbac"
	_ "github.com/schoolhub/schoolhub/testing"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.TimelineFilters
	calls       int
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	s.calls++
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	s.calls++
	return s.exportRows, nil
}

func newAuditRouter(t *testing.T, service *stubTimelineService) (http.Handler, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder, err := audit.NewLogger(store, audit.DefaultConfig(), audit.WithGeneralLogger(logger))
	require.NoError(t, err)
	handler := NewHandler(logger, service, recorder, rbac.Middleware{Logger: logger})
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/api/audit", handler.MountRoutes)
	return r, store
}

func requestAs(p *rbac.Principal, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *p))
	}
	return req
}

func sampleEntry() audit.Entry {
	return audit.Entry{
		ID:                  "e1",
		Operation:           "access.read",
		ResourceType:        string(rbac.ResourceSafeguarding),
		ResourceID:          audit.StudentIDPlaceholder,
		ProtectedResourceID: "stu1",
		PrincipalID:         "t1",
		PrincipalRole:       string(rbac.RoleTeacher),
		Reason:              rbac.ReasonSafeguardingRole,
		Timestamp:           time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
		Classification:      audit.ClassRestricted,
	}
}

func TestTimelineRequiresAuditPermission(t *testing.T) {
	service := &stubTimelineService{}
	router, store := newAuditRouter(t, service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(nil, "/api/audit/entries"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	teacher := rbac.Principal{ID: "t1", Role: rbac.RoleTeacher, Active: true}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(&teacher, "/api/audit/entries"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Zero(t, service.calls)
	require.Empty(t, store.Entries())
}

func TestTimelineHidesProtectedIDsFromNonSuperAdmins(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.Entry{sampleEntry()},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	router, store := newAuditRouter(t, service)

	lead := rbac.Principal{ID: "l1", Role: rbac.RoleSafeguardingLead, Active: true}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(&lead, "/api/audit/entries?from=2024-03-01&to=2024-03-15&granted=false"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "stu1")

	var result audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Len(t, result.Rows, 1)
	require.Equal(t, audit.StudentIDPlaceholder, result.Rows[0].ResourceID)
	require.Equal(t, "2024-03-01", service.lastFilters.From.Format("2006-01-02"))
	require.NotNil(t, service.lastFilters.Granted)
	require.False(t, *service.lastFilters.Granted)

	admin := rbac.Principal{ID: "a1", Role: rbac.RoleSuperAdmin, Active: true}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(&admin, "/api/audit/entries"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"protected_resource_id":"stu1"`)

	entries := store.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "audit.view", entries[0].Operation)
	require.Equal(t, "l1", entries[0].PrincipalID)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router, _ := newAuditRouter(t, &stubTimelineService{})
	lead := rbac.Principal{ID: "l1", Role: rbac.RoleSafeguardingLead, Active: true}

	for _, target := range []string{
		"/api/audit/entries?from=2024-03-10&to=2024-03-01",
		"/api/audit/entries?from=2023-01-01&to=2024-03-01",
		"/api/audit/entries?page=0",
		"/api/audit/entries?granted=maybe",
		"/api/audit/entries?resource_type=payroll",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, requestAs(&lead, target))
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestTimelineFailsWhenAccessCannotBeAudited(t *testing.T) {
	service := &stubTimelineService{}
	router, store := newAuditRouter(t, service)
	store.FailWith(errors.New("disk full"))

	lead := rbac.Principal{ID: "l1", Role: rbac.RoleSafeguardingLead, Active: true}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(&lead, "/api/audit/entries"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Zero(t, service.calls)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Entry{sampleEntry()}}
	router, _ := newAuditRouter(t, service)

	admin := rbac.Principal{ID: "a1", Role: rbac.RoleSchoolAdmin, Active: true}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestAs(&admin, "/api/audit/entries/export.csv?from=2024-03-01&to=2024-03-05"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	body := rr.Body.String()
	require.Contains(t, body, "principal_role")
	require.Contains(t, body, "restricted")
	require.NotContains(t, body, "stu1")
}
