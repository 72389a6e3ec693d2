package rbac

import (
	"sort"
	"strings"
)

// Permission is an atomic capability in domain:action form.
type Permission string

const (
	PermStudentsRead   Permission = "students:read"
	PermStudentsWrite  Permission = "students:write"
	PermStudentsDelete Permission = "students:delete"

	PermSafeguardingSensitive Permission = "safeguarding:access_sensitive_records"

	PermPaymentsRead    Permission = "payments:read"
	PermPaymentsWrite   Permission = "payments:write"
	PermPaymentsDelete  Permission = "payments:delete"
	PermPaymentsProcess Permission = "payments:process"
	PermPaymentsRefund  Permission = "payments:refund"

	PermBehaviourRead   Permission = "behaviour:read"
	PermBehaviourWrite  Permission = "behaviour:write"
	PermBehaviourDelete Permission = "behaviour:delete"

	PermAttendanceRead   Permission = "attendance:read"
	PermAttendanceWrite  Permission = "attendance:write"
	PermAttendanceDelete Permission = "attendance:delete"

	PermSettingsRead   Permission = "settings:read"
	PermSettingsWrite  Permission = "settings:write"
	PermSettingsDelete Permission = "settings:delete"

	PermAuditRead   Permission = "audit:read"
	PermUsersManage Permission = "users:manage"
)

// AllPermissions lists the closed permission catalogue.
func AllPermissions() []Permission {
	return []Permission{
		PermStudentsRead, PermStudentsWrite, PermStudentsDelete,
		PermSafeguardingSensitive,
		PermPaymentsRead, PermPaymentsWrite, PermPaymentsDelete, PermPaymentsProcess, PermPaymentsRefund,
		PermBehaviourRead, PermBehaviourWrite, PermBehaviourDelete,
		PermAttendanceRead, PermAttendanceWrite, PermAttendanceDelete,
		PermSettingsRead, PermSettingsWrite, PermSettingsDelete,
		PermAuditRead, PermUsersManage,
	}
}

var knownPermissions = func() map[Permission]struct{} {
	set := make(map[Permission]struct{})
	for _, p := range AllPermissions() {
		set[p] = struct{}{}
	}
	return set
}()

// ParsePermission resolves a raw string into a catalogued permission.
func ParsePermission(raw string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownPermissions[p]
	return p, ok
}

// PermissionSet is an unordered set of permissions. The zero value is empty.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union returns a new set holding both operands.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rolePermissions is built once from defaultPermissions and never mutated.
var rolePermissions = func() map[Role]PermissionSet {
	table := make(map[Role]PermissionSet, len(AllRoles()))
	for _, role := range AllRoles() {
		table[role] = defaultPermissions(role)
	}
	return table
}()

func defaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleSuperAdmin:
		return NewPermissionSet(AllPermissions()...)
	case RoleSchoolAdmin:
		all := NewPermissionSet(AllPermissions()...)
		delete(all, PermSettingsDelete)
		return all
	case RoleSafeguardingLead:
		return NewPermissionSet(
			PermStudentsRead, PermStudentsWrite,
			PermSafeguardingSensitive,
			PermBehaviourRead, PermBehaviourWrite,
			PermAttendanceRead,
			PermAuditRead,
		)
	case RoleTeacher:
		return NewPermissionSet(
			PermStudentsRead, PermStudentsWrite,
			PermBehaviourRead, PermBehaviourWrite,
			PermAttendanceRead, PermAttendanceWrite,
		)
	case RoleFinanceAdmin:
		return NewPermissionSet(
			PermStudentsRead,
			PermPaymentsRead, PermPaymentsWrite, PermPaymentsDelete, PermPaymentsProcess, PermPaymentsRefund,
		)
	case RoleParent:
		return NewPermissionSet(PermStudentsRead, PermPaymentsRead, PermBehaviourRead, PermAttendanceRead)
	case RoleStudent:
		return NewPermissionSet(PermStudentsRead, PermBehaviourRead, PermAttendanceRead)
	}
	return PermissionSet{}
}

// PermissionsFor returns a copy of the role's default permission set.
func PermissionsFor(role Role) PermissionSet {
	return rolePermissions[role].Union(nil)
}

// RoleHasPermission reports whether the role grants perm by default.
func RoleHasPermission(role Role, perm Permission) bool {
	return rolePermissions[role].Has(perm)
}

// RequiredPermission maps an operation on a resource type to the permission it needs.
// Safeguarding records are student records behind a second gate, so they share the
// student permissions.
func RequiredPermission(t ResourceType, op Operation) (Permission, bool) {
	var read, write, del Permission
	switch t {
	case ResourceStudent, ResourceSafeguarding:
		read, write, del = PermStudentsRead, PermStudentsWrite, PermStudentsDelete
	case ResourceFinancial:
		read, write, del = PermPaymentsRead, PermPaymentsWrite, PermPaymentsDelete
	case ResourceBehaviour:
		read, write, del = PermBehaviourRead, PermBehaviourWrite, PermBehaviourDelete
	case ResourceAttendance:
		read, write, del = PermAttendanceRead, PermAttendanceWrite, PermAttendanceDelete
	case ResourceSystem:
		read, write, del = PermSettingsRead, PermSettingsWrite, PermSettingsDelete
	default:
		return "", false
	}
	switch op {
	case OpRead:
		return read, true
	case OpWrite:
		return write, true
	case OpDelete:
		return del, true
	}
	return "", false
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

func newRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns members in lexical order.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type routeRule struct {
	pattern string
	roles   []Role
}

var (
	adminRoles   = []Role{RoleSuperAdmin, RoleSchoolAdmin}
	staffRoles   = []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleTeacher, RoleSafeguardingLead, RoleFinanceAdmin}
	familyRoles  = []Role{RoleParent, RoleStudent}
	studentRoles = append(append([]Role{}, staffRoles...), familyRoles...)
)

// routeTable is consulted by AllowedRolesForRoute. Patterns ending in /* match any
// path below the prefix.
var routeTable = []routeRule{
	{pattern: "/api/admin/*", roles: adminRoles},
	{pattern: "/api/settings/*", roles: adminRoles},
	{pattern: "/api/users/*", roles: adminRoles},
	{pattern: "/api/permissions", roles: adminRoles},
	{pattern: "/api/audit/*", roles: []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleSafeguardingLead}},
	{pattern: "/api/safeguarding/*", roles: []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleSafeguardingLead}},
	{pattern: "/api/finance/*", roles: []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleFinanceAdmin}},
	{pattern: "/api/finance/invoices/mine/*", roles: []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleFinanceAdmin, RoleParent}},
	{pattern: "/api/payments/*", roles: []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleFinanceAdmin, RoleParent}},
	{pattern: "/api/students/*", roles: studentRoles},
	{pattern: "/api/behaviour/*", roles: studentRoles},
	{pattern: "/api/attendance/*", roles: studentRoles},
	{pattern: "/api/parent/*", roles: []Role{RoleParent}},
	{pattern: "/api/student/*", roles: []Role{RoleStudent}},
}

// AllowedRolesForRoute resolves the roles allowed on path. An exact pattern wins,
// then the longest matching wildcard prefix. Paths matching no pattern are open to
// any authenticated role.
func AllowedRolesForRoute(path string) RoleSet {
	path = normalizeRoute(path)
	best := -1
	bestLen := -1
	for i, rule := range routeTable {
		if rule.pattern == path {
			return newRoleSet(rule.roles...)
		}
		prefix, ok := strings.CutSuffix(rule.pattern, "/*")
		if !ok {
			continue
		}
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}
	if best >= 0 {
		return newRoleSet(routeTable[best].roles...)
	}
	return newRoleSet(AllRoles()...)
}

func normalizeRoute(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
