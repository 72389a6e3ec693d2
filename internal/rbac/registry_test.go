package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryRoleHasAPermissionSet(t *testing.T) {
	for _, role := range AllRoles() {
		require.True(t, role.Valid())
		require.NotEmpty(t, PermissionsFor(role), role)
	}
	require.False(t, Role("janitor").Valid())
	require.Empty(t, PermissionsFor("janitor"))
}

func TestRolePermissionTable(t *testing.T) {
	require.Len(t, PermissionsFor(RoleSuperAdmin), len(AllPermissions()))
	require.False(t, RoleHasPermission(RoleSchoolAdmin, PermSettingsDelete))
	require.True(t, RoleHasPermission(RoleSafeguardingLead, PermSafeguardingSensitive))
	require.False(t, RoleHasPermission(RoleTeacher, PermSafeguardingSensitive))
	require.False(t, RoleHasPermission(RoleTeacher, PermPaymentsRead))
	require.True(t, RoleHasPermission(RoleFinanceAdmin, PermPaymentsRefund))
	require.False(t, RoleHasPermission(RoleParent, PermStudentsWrite))
	require.False(t, RoleHasPermission(RoleStudent, PermPaymentsRead))
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	set := PermissionsFor(RoleTeacher)
	set[PermSafeguardingSensitive] = struct{}{}
	require.False(t, RoleHasPermission(RoleTeacher, PermSafeguardingSensitive))
}

func TestParsePermission(t *testing.T) {
	p, ok := ParsePermission(" Audit:Read ")
	require.True(t, ok)
	require.Equal(t, PermAuditRead, p)
	_, ok = ParsePermission("audit:write")
	require.False(t, ok)
}

func TestRequiredPermission(t *testing.T) {
	perm, ok := RequiredPermission(ResourceSafeguarding, OpRead)
	require.True(t, ok)
	require.Equal(t, PermStudentsRead, perm)

	perm, ok = RequiredPermission(ResourceSystem, OpDelete)
	require.True(t, ok)
	require.Equal(t, PermSettingsDelete, perm)

	_, ok = RequiredPermission("canteen", OpRead)
	require.False(t, ok)
	_, ok = RequiredPermission(ResourceStudent, "purge")
	require.False(t, ok)
}

func TestAllowedRolesForRoute(t *testing.T) {
	require.Equal(t, []Role{RoleSchoolAdmin, RoleSuperAdmin}, AllowedRolesForRoute("/api/permissions").Sorted())
	require.Equal(t, []Role{RoleSchoolAdmin, RoleSuperAdmin}, AllowedRolesForRoute("/api/admin/jobs/health").Sorted())

	audit := AllowedRolesForRoute("/api/audit/entries/")
	require.True(t, audit.Contains(RoleSafeguardingLead))
	require.False(t, audit.Contains(RoleTeacher))

	// the longest matching prefix wins
	mine := AllowedRolesForRoute("/api/finance/invoices/mine/42")
	require.True(t, mine.Contains(RoleParent))
	require.False(t, AllowedRolesForRoute("/api/finance/ledger").Contains(RoleParent))

	// a shared prefix without a path separator is not a match
	require.True(t, AllowedRolesForRoute("/api/auditlog").Contains(RoleTeacher))
}

func TestUnmatchedRoutesFallBackToAnyRole(t *testing.T) {
	for _, path := range []string{"/api/access/decisions", "/api/session", "", "api/unknown"} {
		roles := AllowedRolesForRoute(path)
		for _, role := range AllRoles() {
			require.True(t, roles.Contains(role), "%s %s", path, role)
		}
	}
}
