package rbac

import (
	"context"
	"time"
)

// Role is one of the fixed platform roles.
type Role string

const (
	RoleSuperAdmin       Role = "super-admin"
	RoleSchoolAdmin      Role = "school-admin"
	RoleTeacher          Role = "teacher"
	RoleSafeguardingLead Role = "safeguarding-lead"
	RoleFinanceAdmin     Role = "finance-admin"
	RoleParent           Role = "parent"
	RoleStudent          Role = "student"
)

// AllRoles lists every role in a stable order.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleSchoolAdmin,
		RoleTeacher,
		RoleSafeguardingLead,
		RoleFinanceAdmin,
		RoleParent,
		RoleStudent,
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleSchoolAdmin, RoleTeacher, RoleSafeguardingLead,
		RoleFinanceAdmin, RoleParent, RoleStudent:
		return true
	}
	return false
}

// IsStaff reports whether the role belongs to school staff rather than families.
func (r Role) IsStaff() bool {
	switch r {
	case RoleSuperAdmin, RoleSchoolAdmin, RoleTeacher, RoleSafeguardingLead, RoleFinanceAdmin:
		return true
	case RoleParent, RoleStudent:
		return false
	}
	return false
}

// Operation is the verb applied to a resource.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpRead, OpWrite, OpDelete:
		return true
	}
	return false
}

// ResourceType tags the kind of record being accessed.
type ResourceType string

const (
	ResourceStudent      ResourceType = "student-data"
	ResourceSafeguarding ResourceType = "safeguarding-data"
	ResourceFinancial    ResourceType = "financial-data"
	ResourceBehaviour    ResourceType = "behaviour-data"
	ResourceAttendance   ResourceType = "attendance-data"
	ResourceSystem       ResourceType = "system-setting"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceStudent, ResourceSafeguarding, ResourceFinancial,
		ResourceBehaviour, ResourceAttendance, ResourceSystem:
		return true
	}
	return false
}

// StudentLinked reports whether records of this type always describe a single student.
func (t ResourceType) StudentLinked() bool {
	switch t {
	case ResourceStudent, ResourceSafeguarding, ResourceBehaviour, ResourceAttendance:
		return true
	}
	return false
}

// Principal describes the authenticated actor.
type Principal struct {
	ID         string
	Role       Role
	SchoolID   string
	Overrides  PermissionSet
	Active     bool
	GuardianOf []string
	StudentID  string
}

// Permissions returns role defaults merged with explicit overrides.
func (p Principal) Permissions() PermissionSet {
	return PermissionsFor(p.Role).Union(p.Overrides)
}

// Has reports whether the principal holds perm through its role or overrides.
func (p Principal) Has(perm Permission) bool {
	return RoleHasPermission(p.Role, perm) || p.Overrides.Has(perm)
}

// IsGuardianOf reports whether studentID is one of the principal's linked children.
func (p Principal) IsGuardianOf(studentID string) bool {
	if studentID == "" {
		return false
	}
	for _, id := range p.GuardianOf {
		if id == studentID {
			return true
		}
	}
	return false
}

// ResourceDescriptor is a typed reference to the record being accessed.
type ResourceDescriptor struct {
	Type           ResourceType
	ID             string
	OwnerStudentID string
	SchoolID       string
	Sensitive      bool
}

// NewResource builds a descriptor; safeguarding descriptors are always sensitive.
func NewResource(t ResourceType, id, ownerStudentID, schoolID string) ResourceDescriptor {
	return ResourceDescriptor{
		Type:           t,
		ID:             id,
		OwnerStudentID: ownerStudentID,
		SchoolID:       schoolID,
		Sensitive:      t == ResourceSafeguarding,
	}
}

// IsSensitive reports the effective sensitivity. Safeguarding data cannot be cleared.
func (r ResourceDescriptor) IsSensitive() bool {
	return r.Sensitive || r.Type == ResourceSafeguarding
}

// StudentLinked reports whether the descriptor identifies a student's record.
func (r ResourceDescriptor) StudentLinked() bool {
	return r.Type.StudentLinked() || r.OwnerStudentID != ""
}

// Decision is the outcome of one access evaluation.
type Decision struct {
	Granted    bool
	Reason     string
	Permission Permission
	At         time.Time
}

// DecisionEvent carries everything the audit trail needs about one decision.
type DecisionEvent struct {
	Principal Principal
	Resource  ResourceDescriptor
	Operation Operation
	Decision  Decision
}

// DecisionRecorder persists decisions. A non-nil error means the decision must not be
// acted upon.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, event DecisionEvent) error
}

// DecisionObserver receives decision outcomes for metrics.
type DecisionObserver interface {
	ObserveDecision(resourceType string, granted bool)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
