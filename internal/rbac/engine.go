package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Decision reasons recorded in the audit trail.
const (
	ReasonInvalidPrincipal    = "invalid principal"
	ReasonInvalidOperation    = "invalid operation"
	ReasonInactive            = "inactive principal"
	ReasonInvalidResource     = "invalid resource descriptor"
	ReasonSuperAdmin          = "super-admin override"
	ReasonInsufficient        = "insufficient role permission"
	ReasonOtherSchool         = "resource belongs to another school"
	ReasonNotOwner            = "record is not linked to principal"
	ReasonFamilyReadOnly      = "parents and students may only read"
	ReasonSafeguardingRole    = "safeguarding access restricted to designated safeguarding roles"
	ReasonSafeguardingPerm    = "safeguarding access requires safeguarding:access_sensitive_records"
	ReasonFinancialRole       = "financial data restricted to finance roles"
	ReasonFinancialParentRead = "parents may only read their own children's financial data"
	ReasonGranted             = "access granted"
	ReasonAuditUnavailable    = "audit persistence failure"
)

var (
	// ErrAccessDenied is returned by helpers that turn a denial into an error.
	ErrAccessDenied = errors.New("rbac: access denied")
	// ErrAuditUnavailable is returned when a decision could not be recorded.
	ErrAuditUnavailable = errors.New("rbac: decision could not be audited")
)

// Engine evaluates access requests and records every verdict.
type Engine struct {
	recorder DecisionRecorder
	observer DecisionObserver
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithObserver attaches a metrics observer.
func WithObserver(o DecisionObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an Engine. The recorder is mandatory: decisions are never
// made without an audit trail.
func NewEngine(recorder DecisionRecorder, opts ...Option) (*Engine, error) {
	if recorder == nil {
		return nil, errors.New("rbac: decision recorder is required")
	}
	e := &Engine{
		recorder: recorder,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide evaluates op on resource for p and records the verdict. A non-nil error is
// only returned when the verdict could not be persisted for a classification that
// requires it; the returned decision is then a denial.
func (e *Engine) Decide(ctx context.Context, p Principal, resource ResourceDescriptor, op Operation) (Decision, error) {
	decision := evaluate(p, resource, op)
	decision.At = e.now().UTC()

	err := e.recorder.RecordDecision(ctx, DecisionEvent{
		Principal: p,
		Resource:  resource,
		Operation: op,
		Decision:  decision,
	})
	if err != nil {
		e.logger.Error("rbac record decision",
			slog.String("resource_type", string(resource.Type)),
			slog.String("principal_id", p.ID),
			slog.Any("error", err))
		decision = Decision{
			Granted:    false,
			Reason:     ReasonAuditUnavailable,
			Permission: decision.Permission,
			At:         decision.At,
		}
		e.observe(resource, decision)
		return decision, fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
	}
	e.observe(resource, decision)
	return decision, nil
}

// Enforce is Decide for callers that only need an error on denial.
func (e *Engine) Enforce(ctx context.Context, p Principal, resource ResourceDescriptor, op Operation) error {
	decision, err := e.Decide(ctx, p, resource, op)
	if err != nil {
		return err
	}
	if !decision.Granted {
		return ErrAccessDenied
	}
	return nil
}

func (e *Engine) observe(resource ResourceDescriptor, d Decision) {
	if e.observer == nil {
		return
	}
	kind := string(resource.Type)
	if !resource.Type.Valid() {
		kind = "invalid"
	}
	e.observer.ObserveDecision(kind, d.Granted)
}

func deny(perm Permission, reason string) Decision {
	return Decision{Granted: false, Reason: reason, Permission: perm}
}

func allow(perm Permission, reason string) Decision {
	return Decision{Granted: true, Reason: reason, Permission: perm}
}

// evaluate is the pure decision function. It never panics on any input.
func evaluate(p Principal, resource ResourceDescriptor, op Operation) Decision {
	if p.ID == "" || !p.Role.Valid() {
		return deny("", ReasonInvalidPrincipal)
	}
	if !p.Active {
		return deny("", ReasonInactive)
	}
	if !resource.Type.Valid() {
		return deny("", ReasonInvalidResource)
	}
	if !op.Valid() {
		return deny("", ReasonInvalidOperation)
	}
	perm, _ := RequiredPermission(resource.Type, op)
	if p.Role == RoleSuperAdmin {
		return allow(perm, ReasonSuperAdmin)
	}
	if !p.Has(perm) {
		return deny(perm, ReasonInsufficient)
	}
	if p.Role.IsStaff() && p.SchoolID != "" && resource.SchoolID != "" && p.SchoolID != resource.SchoolID {
		return deny(perm, ReasonOtherSchool)
	}

	var reason string
	switch resource.Type {
	case ResourceStudent, ResourceBehaviour, ResourceAttendance:
		reason = refineStudentRecord(p, resource, op)
	case ResourceSafeguarding:
		reason = refineSafeguarding(p, resource, op)
	case ResourceFinancial:
		reason = refineFinancial(p, resource, op)
	case ResourceSystem:
		if !p.Role.IsStaff() {
			reason = ReasonInsufficient
		}
	}
	if reason != "" {
		return deny(perm, reason)
	}
	return allow(perm, ReasonGranted)
}

// refineFamilyAccess applies the read-only, own-record rule for parents and students.
func refineFamilyAccess(p Principal, resource ResourceDescriptor, op Operation) string {
	if op != OpRead {
		return ReasonFamilyReadOnly
	}
	switch p.Role {
	case RoleParent:
		if !p.IsGuardianOf(resource.OwnerStudentID) {
			return ReasonNotOwner
		}
	case RoleStudent:
		if p.StudentID == "" || resource.OwnerStudentID != p.StudentID {
			return ReasonNotOwner
		}
	}
	return ""
}

func refineStudentRecord(p Principal, resource ResourceDescriptor, op Operation) string {
	if p.Role == RoleParent || p.Role == RoleStudent {
		return refineFamilyAccess(p, resource, op)
	}
	return ""
}

func refineSafeguarding(p Principal, resource ResourceDescriptor, op Operation) string {
	designated := false
	switch p.Role {
	case RoleSchoolAdmin, RoleSafeguardingLead:
		designated = true
	}
	if !designated && !p.Overrides.Has(PermSafeguardingSensitive) {
		return ReasonSafeguardingRole
	}
	if !p.Has(PermSafeguardingSensitive) {
		return ReasonSafeguardingPerm
	}
	if p.Role == RoleParent || p.Role == RoleStudent {
		return refineFamilyAccess(p, resource, op)
	}
	return ""
}

func refineFinancial(p Principal, resource ResourceDescriptor, op Operation) string {
	switch p.Role {
	case RoleSchoolAdmin, RoleFinanceAdmin:
		return ""
	case RoleParent:
		if op != OpRead {
			return ReasonFinancialParentRead
		}
		if !p.IsGuardianOf(resource.OwnerStudentID) {
			return ReasonNotOwner
		}
		return ""
	}
	return ReasonFinancialRole
}
