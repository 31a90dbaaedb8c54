// Package policy is the single authoritative role capability table. Every
// entry point (middleware, handlers, services) consults it; no call site
// re-implements the rules.
package policy

import "strings"

// Role enumerates the account roles.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleBranchStaff Role = "branch_staff"
	RoleUser        Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleBranchStaff, RoleUser:
		return true
	}
	return false
}

// Capability names an operation class gated by role.
type Capability string

const (
	CapBranchView     Capability = "branch.view"
	CapBranchEdit     Capability = "branch.edit"
	CapBranchAssign   Capability = "branch.assign"
	CapFinancialView  Capability = "financial.view"
	CapFinancialWrite Capability = "financial.write"
	CapChangeSubmit   Capability = "change.submit"
	CapChangeDecide   Capability = "change.decide"
	CapRoleManage     Capability = "role.manage"
	CapDashboardView  Capability = "dashboard.view"
	CapLogView        Capability = "log.view"
	CapLogExport      Capability = "log.export"
)

// capabilities is the role capability table. Scoping to particular branches
// (manager assignment set, staff home branch) is applied by the services on
// top of this table; the table answers "may this role ever do this".
var capabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapBranchView:     true,
		CapBranchEdit:     true,
		CapBranchAssign:   true,
		CapFinancialView:  true,
		CapFinancialWrite: true,
		CapChangeSubmit:   true,
		CapChangeDecide:   true,
		CapRoleManage:     true,
		CapDashboardView:  true,
		CapLogView:        true,
		CapLogExport:      true,
	},
	RoleManager: {
		CapBranchView:     true,
		CapBranchAssign:   true,
		CapFinancialView:  true,
		CapFinancialWrite: true,
		CapChangeSubmit:   true,
		CapChangeDecide:   true,
		CapDashboardView:  true,
		CapLogView:        true,
	},
	RoleBranchStaff: {
		CapBranchView:     true,
		CapFinancialView:  true,
		CapFinancialWrite: true,
		CapChangeSubmit:   true,
		CapDashboardView:  true,
	},
	RoleUser: {},
}

// Allow reports whether the role holds the capability. Unknown roles and
// unknown capabilities are denied.
func Allow(role Role, cap Capability) bool {
	caps, ok := capabilities[role]
	if !ok {
		return false
	}
	return caps[cap]
}

// pathPrefixes gates route groups by role. The longest matching prefix wins.
var pathPrefixes = map[string]Capability{
	"/api/branches":        CapBranchView,
	"/api/dashboard":       CapDashboardView,
	"/api/change-requests": CapChangeSubmit,
	"/api/approvals":       CapChangeSubmit,
	"/api/financial-logs":  CapLogView,
	"/api/admin":           CapRoleManage,
}

// AllowPath reports whether the role may enter the path at all. Paths not in
// the table are open to any authenticated role.
func AllowPath(role Role, path string) bool {
	var (
		bestLen int
		bestCap Capability
		found   bool
	)
	for prefix, cap := range pathPrefixes {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestCap = cap
			found = true
		}
	}
	if !found {
		return true
	}
	return Allow(role, bestCap)
}

// Actor is the resolved caller identity consulted by services.
type Actor struct {
	ID            int64
	Email         string
	Role          Role
	StaffBranchID *int64
}

// CanDecideFor reports whether the actor may decide change requests for the
// branch, given the manager's assignment set resolved at decision time.
func (a Actor) CanDecideFor(branchID int64, assigned []int64) bool {
	if !Allow(a.Role, CapChangeDecide) {
		return false
	}
	if a.Role == RoleAdmin {
		return true
	}
	for _, id := range assigned {
		if id == branchID {
			return true
		}
	}
	return false
}
