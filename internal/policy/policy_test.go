package policy_test

import (
	"testing"

	"github.com/branchledger/branchledger/internal/policy"
	_ "github.com/branchledger/branchledger/testing"
)

func TestCapabilityTable(t *testing.T) {
	cases := []struct {
		role policy.Role
		cap  policy.Capability
		want bool
	}{
		{policy.RoleAdmin, policy.CapBranchEdit, true},
		{policy.RoleAdmin, policy.CapRoleManage, true},
		{policy.RoleAdmin, policy.CapLogExport, true},
		{policy.RoleManager, policy.CapBranchEdit, false},
		{policy.RoleManager, policy.CapBranchAssign, true},
		{policy.RoleManager, policy.CapChangeDecide, true},
		{policy.RoleManager, policy.CapRoleManage, false},
		{policy.RoleManager, policy.CapLogExport, false},
		{policy.RoleBranchStaff, policy.CapFinancialWrite, true},
		{policy.RoleBranchStaff, policy.CapChangeSubmit, true},
		{policy.RoleBranchStaff, policy.CapChangeDecide, false},
		{policy.RoleBranchStaff, policy.CapBranchAssign, false},
		{policy.RoleUser, policy.CapBranchView, false},
		{policy.RoleUser, policy.CapDashboardView, false},
		{policy.Role("ghost"), policy.CapBranchView, false},
	}
	for _, tc := range cases {
		if got := policy.Allow(tc.role, tc.cap); got != tc.want {
			t.Errorf("Allow(%s, %s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestAllowDeterministic(t *testing.T) {
	// The table is a pure lookup; repeated queries must agree.
	for i := 0; i < 100; i++ {
		if !policy.Allow(policy.RoleManager, policy.CapChangeDecide) {
			t.Fatalf("iteration %d: manager lost change.decide", i)
		}
		if policy.Allow(policy.RoleUser, policy.CapFinancialView) {
			t.Fatalf("iteration %d: user gained financial.view", i)
		}
	}
}

func TestAllowPath(t *testing.T) {
	cases := []struct {
		role policy.Role
		path string
		want bool
	}{
		{policy.RoleAdmin, "/api/admin/profiles", true},
		{policy.RoleManager, "/api/admin/profiles", false},
		{policy.RoleManager, "/api/branches/3/financials", true},
		{policy.RoleBranchStaff, "/api/financial-logs", false},
		{policy.RoleBranchStaff, "/api/change-requests", true},
		{policy.RoleUser, "/api/dashboard", false},
		{policy.RoleUser, "/api/profiles/me", true},
	}
	for _, tc := range cases {
		if got := policy.AllowPath(tc.role, tc.path); got != tc.want {
			t.Errorf("AllowPath(%s, %s) = %v, want %v", tc.role, tc.path, got, tc.want)
		}
	}
}

func TestCanDecideFor(t *testing.T) {
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}
	if !admin.CanDecideFor(42, nil) {
		t.Fatal("admin should decide for any branch")
	}

	manager := policy.Actor{ID: 2, Role: policy.RoleManager}
	if !manager.CanDecideFor(7, []int64{3, 7}) {
		t.Fatal("manager should decide for assigned branch")
	}
	if manager.CanDecideFor(9, []int64{3, 7}) {
		t.Fatal("manager must not decide outside assignment set")
	}

	staff := policy.Actor{ID: 3, Role: policy.RoleBranchStaff}
	if staff.CanDecideFor(7, []int64{7}) {
		t.Fatal("branch_staff must never decide")
	}
}
