package profiles

import (
	"context"
	"strings"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// BranchAccess resolves manager branch assignments at decision time.
type BranchAccess interface {
	ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error)
}

// Service orchestrates profile operations.
type Service struct {
	repo     Repository
	branches BranchAccess
}

// NewService constructs a Service.
func NewService(repo Repository, branches BranchAccess) *Service {
	return &Service{repo: repo, branches: branches}
}

// ResolveActor implements policy.ActorResolver.
func (s *Service) ResolveActor(ctx context.Context, userID int64) (policy.Actor, error) {
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		return policy.Actor{}, err
	}
	if !p.IsActive {
		return policy.Actor{}, shared.ErrUnauthorized
	}
	return policy.Actor{ID: p.ID, Email: p.Email, Role: p.Role, StaffBranchID: p.StaffBranchID}, nil
}

// Get returns a profile by id.
func (s *Service) Get(ctx context.Context, id int64) (Profile, error) {
	return s.repo.Get(ctx, id)
}

// List returns profiles matching the filters. Requires role management.
func (s *Service) List(ctx context.Context, actor policy.Actor, filters ListFilters) ([]Profile, int, error) {
	if !policy.Allow(actor.Role, policy.CapRoleManage) {
		return nil, 0, shared.ErrForbidden
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return s.repo.List(ctx, filters)
}

// UpdateContact lets a user change their own name and phone. Role and branch
// assignment are never self-service.
func (s *Service) UpdateContact(ctx context.Context, actor policy.Actor, firstName, lastName, phone string) error {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" {
		return shared.NewValidationError("first_name", "first name is required")
	}
	return s.repo.UpdateContact(ctx, actor.ID, firstName, lastName, strings.TrimSpace(phone))
}

// ChangeRole sets a profile's role. Admin only. Demoting away from
// branch_staff clears the staff branch in the same statement.
func (s *Service) ChangeRole(ctx context.Context, actor policy.Actor, id int64, role policy.Role) error {
	if !policy.Allow(actor.Role, policy.CapRoleManage) {
		return shared.ErrForbidden
	}
	if !role.Valid() {
		return shared.NewValidationError("role", "unknown role")
	}
	if actor.ID == id && role != policy.RoleAdmin {
		return shared.NewValidationError("role", "cannot demote own account")
	}
	return s.repo.UpdateRole(ctx, id, role)
}

// AssignStaff places a user at a branch as branch_staff. Admins may assign to
// any branch; managers only to branches in their assignment set. The target
// must be a plain user or a branch_staff without a branch: anyone already
// staffed elsewhere, or holding another role, is rejected.
func (s *Service) AssignStaff(ctx context.Context, actor policy.Actor, userID, branchID int64) error {
	if !policy.Allow(actor.Role, policy.CapBranchAssign) {
		return shared.ErrForbidden
	}
	if actor.Role == policy.RoleManager {
		assigned, err := s.branches.ManagerBranchIDs(ctx, actor.ID)
		if err != nil {
			return err
		}
		if !containsID(assigned, branchID) {
			return shared.ErrForbidden
		}
	}

	target, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	switch target.Role {
	case policy.RoleUser:
	case policy.RoleBranchStaff:
		if target.StaffBranchID != nil && *target.StaffBranchID != branchID {
			return shared.NewValidationError("user_id", "user is already staffed at another branch")
		}
	default:
		return shared.NewValidationError("user_id", "user role does not permit staff assignment")
	}

	return s.repo.AssignStaff(ctx, userID, branchID)
}

// UnassignStaff removes a branch_staff assignment and reverts the role to user.
func (s *Service) UnassignStaff(ctx context.Context, actor policy.Actor, userID int64) error {
	if !policy.Allow(actor.Role, policy.CapBranchAssign) {
		return shared.ErrForbidden
	}
	target, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if target.Role != policy.RoleBranchStaff {
		return shared.NewValidationError("user_id", "user is not branch staff")
	}
	if actor.Role == policy.RoleManager {
		if target.StaffBranchID == nil {
			return shared.ErrForbidden
		}
		assigned, err := s.branches.ManagerBranchIDs(ctx, actor.ID)
		if err != nil {
			return err
		}
		if !containsID(assigned, *target.StaffBranchID) {
			return shared.ErrForbidden
		}
	}
	return s.repo.UnassignStaff(ctx, userID)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RoleChecker adapts the repository for collaborators that only need to know
// a profile's role.
type RoleChecker struct {
	repo Repository
}

// NewRoleChecker constructs a RoleChecker.
func NewRoleChecker(repo Repository) RoleChecker {
	return RoleChecker{repo: repo}
}

// RoleOf returns the role held by the profile.
func (c RoleChecker) RoleOf(ctx context.Context, userID int64) (policy.Role, error) {
	p, err := c.repo.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}
