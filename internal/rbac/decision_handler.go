package rbac

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/platform/httpx"
	"github.com/schoolhub/schoolhub/internal/redact"
)

// DecisionHandler exposes the engine to API callers acting for the session principal.
type DecisionHandler struct {
	engine   *Engine
	redactor *redact.Redactor
	logger   *slog.Logger
	rbac     Middleware
}

// NewDecisionHandler builds a DecisionHandler.
func NewDecisionHandler(engine *Engine, redactor *redact.Redactor, logger *slog.Logger, rbac Middleware) *DecisionHandler {
	if redactor == nil {
		redactor = redact.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionHandler{engine: engine, redactor: redactor, logger: logger, rbac: rbac}
}

// MountRoutes registers the decision endpoints.
func (h *DecisionHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Post("/decisions", h.handleDecide)
		r.Post("/filter", h.handleFilter)
	})
}

type resourceRequest struct {
	// Type is left to the engine so a missing type is denied and audited.
	Type           string `json:"type" validate:"max=64"`
	ID             string `json:"id" validate:"max=128"`
	OwnerStudentID string `json:"owner_student_id" validate:"max=128"`
	SchoolID       string `json:"school_id" validate:"max=128"`
}

type decisionRequest struct {
	Resource  resourceRequest `json:"resource" validate:"required"`
	Operation string          `json:"operation" validate:"required,oneof=read write delete"`
}

type decisionResponse struct {
	Granted    bool       `json:"granted"`
	Permission Permission `json:"permission,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	At         time.Time  `json:"at"`
}

func (h *DecisionHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	var req decisionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	resource := NewResource(ResourceType(req.Resource.Type), req.Resource.ID, req.Resource.OwnerStudentID, req.Resource.SchoolID)
	decision, err := h.engine.Decide(r.Context(), p, resource, Operation(req.Operation))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "access decision not audited", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !decision.Granted {
		detail := httpx.ErrForbidden.Error()
		if canSeeReasons(p) {
			detail = decision.Reason
		}
		httpx.Problem(w, http.StatusForbidden, "Forbidden", detail)
		return
	}
	resp := decisionResponse{Granted: true, Permission: decision.Permission, At: decision.At}
	if canSeeReasons(p) {
		resp.Reason = decision.Reason
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type filterRequest struct {
	DataType string   `json:"data_type" validate:"required,max=64"`
	Records  []Record `json:"records" validate:"max=1000"`
}

type filterResponse struct {
	Records []Record `json:"records"`
}

func (h *DecisionHandler) handleFilter(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	var req filterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dataType := ResourceType(req.DataType)
	if !dataType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown data type")
		return
	}
	records := FilterByPermission(p, req.Records, dataType, h.redactor)
	httpx.JSON(w, http.StatusOK, filterResponse{Records: records})
}

// canSeeReasons reports whether p may read internal denial reasons.
func canSeeReasons(p Principal) bool {
	return p.Active && (p.Role == RoleSuperAdmin || p.Has(PermAuditRead))
}
