package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskhub/internal/model"
)

func principal(tenant, user string, role model.Role) *model.Principal {
	return &model.Principal{TenantID: tenant, UserID: user, Role: role}
}

func TestCrossTenantAlwaysDenied(t *testing.T) {
	res := Resource{TenantID: "tenant-b", AssignedTo: "alice", CreatedBy: "alice"}

	for _, op := range []Operation{OpCreate, OpRead, OpList, OpUpdate, OpDelete} {
		for _, role := range []model.Role{model.RoleAdmin, model.RoleMember} {
			d := Authorize(principal("tenant-a", "alice", role), op, res)
			require.False(t, d.Allowed, "op=%s role=%s", op, role)
			require.Equal(t, ReasonCrossTenantAccess, d.Reason)
		}
	}
}

func TestAdminAllowedWithinTenant(t *testing.T) {
	p := principal("tenant-a", "admin", model.RoleAdmin)
	res := Resource{TenantID: "tenant-a", AssignedTo: "someone-else", CreatedBy: "someone-else"}

	for _, op := range []Operation{OpCreate, OpRead, OpList, OpUpdate, OpDelete} {
		d := Authorize(p, op, res)
		require.True(t, d.Allowed, "op=%s", op)
	}
}

func TestMemberRules(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		res     Resource
		allowed bool
		reason  Reason
	}{
		{"create", OpCreate, Resource{TenantID: "t"}, true, ""},
		{"read any", OpRead, Resource{TenantID: "t", CreatedBy: "other"}, true, ""},
		{"list", OpList, Resource{TenantID: "t"}, true, ""},
		{"update own", OpUpdate, Resource{TenantID: "t", CreatedBy: "bob"}, true, ""},
		{"update assigned", OpUpdate, Resource{TenantID: "t", AssignedTo: "bob", CreatedBy: "other"}, true, ""},
		{"update unrelated", OpUpdate, Resource{TenantID: "t", AssignedTo: "other", CreatedBy: "other"}, false, ReasonInsufficientRole},
		{"delete own", OpDelete, Resource{TenantID: "t", CreatedBy: "bob"}, false, ReasonInsufficientRole},
		{"delete unrelated", OpDelete, Resource{TenantID: "t"}, false, ReasonInsufficientRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Authorize(principal("t", "bob", model.RoleMember), tt.op, tt.res)
			require.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				require.Equal(t, tt.reason, d.Reason)
			}
		})
	}
}

func TestTenantBoundaryBeatsRoleRules(t *testing.T) {
	// A MEMBER with a matching assignment in another tenant is still denied
	// for the tenant boundary, not for its role.
	p := principal("tenant-a", "bob", model.RoleMember)
	d := Authorize(p, OpUpdate, Resource{TenantID: "tenant-b", AssignedTo: "bob", CreatedBy: "bob"})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonCrossTenantAccess, d.Reason)
}
