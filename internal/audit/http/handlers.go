package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub/internal/audit"
	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/rbac"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger   *slog.Logger
	service  TimelineService
	recorder audit.Recorder
	rbac     rbac.Middleware
	now      func() time.Time
}

// NewHandler membuat handler audit baru. Setiap pembacaan jejak audit ikut dicatat
// melalui recorder.
func NewHandler(logger *slog.Logger, service TimelineService, recorder audit.Recorder, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		recorder: recorder,
		rbac:     mw,
		now:      time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	if err := h.recordAccess(r.Context(), p, "audit.view", filters); err != nil {
		h.handleServerError(w, "audit timeline access", err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	result.Rows = visibleRows(p, result.Rows)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	if err := h.recordAccess(r.Context(), p, "audit.export", filters); err != nil {
		h.handleServerError(w, "audit export access", err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-entries.csv\"")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// recordAccess audits reads of the trail. The entry is confidential so the read
// fails when it cannot be persisted.
func (h *Handler) recordAccess(ctx context.Context, p rbac.Principal, operation string, filters audit.TimelineFilters) error {
	if h.recorder == nil {
		return errors.New("audit: recorder not configured")
	}
	return h.recorder.Record(ctx, audit.Input{
		Operation:      operation,
		ResourceType:   rbac.ResourceSystem,
		ResourceID:     "audit_entries",
		PrincipalID:    p.ID,
		PrincipalRole:  p.Role,
		Granted:        true,
		Reason:         "audit trail accessed",
		Permission:     rbac.PermAuditRead,
		Classification: audit.ClassConfidential,
		Metadata: map[string]any{
			"from":          filters.From.Format(time.RFC3339),
			"to":            filters.To.Format(time.RFC3339),
			"resource_type": filters.ResourceType,
			"page":          filters.Page,
		},
	})
}

// visibleRows strips protected identifiers for everyone but super-admins.
func visibleRows(p rbac.Principal, rows []audit.Entry) []audit.Entry {
	out := make([]audit.Entry, len(rows))
	for i, row := range rows {
		if p.Role == rbac.RoleSuperAdmin {
			out[i] = row
			continue
		}
		out[i] = row.Public()
	}
	return out
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toTime := now
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError{field: "to"}
		}
		toTime = parsed
	}
	fromTime := toTime.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError{field: "from"}
		}
		fromTime = parsed
	}
	if fromTime.After(toTime) {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}
	if toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page"}
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page_size"}
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		pageSize = parsed
	}

	var granted *bool
	if v := strings.TrimSpace(q.Get("granted")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError{field: "granted"}
		}
		granted = &parsed
	}
	resourceType := strings.TrimSpace(q.Get("resource_type"))
	if resourceType != "" && !rbac.ResourceType(resourceType).Valid() {
		return audit.TimelineFilters{}, validationError{field: "resource_type"}
	}

	return audit.TimelineFilters{
		From:         fromTime,
		To:           toTime,
		PrincipalID:  strings.TrimSpace(q.Get("principal_id")),
		ResourceType: resourceType,
		Granted:      granted,
		Page:         page,
		PageSize:     pageSize,
	}, nil
}

// parseTime accepts RFC3339 timestamps or plain dates.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+v.field)
		return
	}
	h.handleServerError(w, "validate filters", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
