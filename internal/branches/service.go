package branches

import (
	"context"
	"strings"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// ProfileChecker exposes the profile lookups the assignment rules need.
type ProfileChecker interface {
	RoleOf(ctx context.Context, userID int64) (policy.Role, error)
}

// Service orchestrates branch directory operations.
type Service struct {
	repo     Repository
	profiles ProfileChecker
}

// NewService constructs a Service.
func NewService(repo Repository, profiles ProfileChecker) *Service {
	return &Service{repo: repo, profiles: profiles}
}

// AccessibleBranchIDs derives the caller's accessible branch set. Admins see
// every active branch, managers their assignment set, staff their home
// branch, plain users nothing. An empty set is a valid answer, not an error.
func (s *Service) AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error) {
	switch actor.Role {
	case policy.RoleAdmin:
		return s.repo.ActiveBranchIDs(ctx)
	case policy.RoleManager:
		return s.repo.ManagerBranchIDs(ctx, actor.ID)
	case policy.RoleBranchStaff:
		if actor.StaffBranchID == nil {
			return nil, nil
		}
		return []int64{*actor.StaffBranchID}, nil
	default:
		return nil, nil
	}
}

// ManagerBranchIDs resolves a manager's assignment set at call time.
func (s *Service) ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return s.repo.ManagerBranchIDs(ctx, managerID)
}

// CanAccess reports whether the branch is inside the actor's accessible set.
func (s *Service) CanAccess(ctx context.Context, actor policy.Actor, branchID int64) (bool, error) {
	if actor.Role == policy.RoleAdmin {
		return true, nil
	}
	ids, err := s.AccessibleBranchIDs(ctx, actor)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == branchID {
			return true, nil
		}
	}
	return false, nil
}

// List returns the branches visible to the actor.
func (s *Service) List(ctx context.Context, actor policy.Actor, includeArchived bool) ([]Branch, error) {
	if !policy.Allow(actor.Role, policy.CapBranchView) {
		return nil, shared.ErrForbidden
	}
	if actor.Role == policy.RoleAdmin {
		return s.repo.List(ctx, includeArchived)
	}
	ids, err := s.AccessibleBranchIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Branch{}, nil
	}
	return s.repo.ListByIDs(ctx, ids)
}

// Get returns one branch, restricted to the accessible set.
func (s *Service) Get(ctx context.Context, actor policy.Actor, id int64) (Branch, error) {
	ok, err := s.CanAccess(ctx, actor, id)
	if err != nil {
		return Branch{}, err
	}
	if !ok {
		return Branch{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// Create adds a branch. Admin only; the active-name uniqueness constraint is
// enforced by the store and surfaced as a conflict.
func (s *Service) Create(ctx context.Context, actor policy.Actor, name, address string) (Branch, error) {
	if !policy.Allow(actor.Role, policy.CapBranchEdit) {
		return Branch{}, shared.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Branch{}, shared.NewValidationError("name", "branch name is required")
	}
	return s.repo.Create(ctx, name, strings.TrimSpace(address))
}

// Update renames or re-addresses a branch. Admin only.
func (s *Service) Update(ctx context.Context, actor policy.Actor, id int64, name, address string) (Branch, error) {
	if !policy.Allow(actor.Role, policy.CapBranchEdit) {
		return Branch{}, shared.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Branch{}, shared.NewValidationError("name", "branch name is required")
	}
	if err := s.repo.Update(ctx, id, name, strings.TrimSpace(address)); err != nil {
		return Branch{}, err
	}
	return s.repo.Get(ctx, id)
}

// Archive soft-deletes a branch. The archived branch drops out of every
// accessible set but keeps its history.
func (s *Service) Archive(ctx context.Context, actor policy.Actor, id int64) error {
	if !policy.Allow(actor.Role, policy.CapBranchEdit) {
		return shared.ErrForbidden
	}
	return s.repo.Archive(ctx, id)
}

// Delete permanently removes a branch together with its assignments and staff
// placements. Admin only.
func (s *Service) Delete(ctx context.Context, actor policy.Actor, id int64) error {
	if actor.Role != policy.RoleAdmin {
		return shared.ErrForbidden
	}
	return s.repo.DeleteCascade(ctx, id)
}

// AssignManager links a manager to a branch. Only profiles holding the
// manager role can be assigned; duplicates surface as "already assigned".
func (s *Service) AssignManager(ctx context.Context, actor policy.Actor, managerID, branchID int64) error {
	if actor.Role != policy.RoleAdmin {
		return shared.ErrForbidden
	}
	role, err := s.profiles.RoleOf(ctx, managerID)
	if err != nil {
		return err
	}
	if role != policy.RoleManager {
		return shared.NewValidationError("manager_id", "profile is not a manager")
	}
	if _, err := s.repo.Get(ctx, branchID); err != nil {
		return err
	}
	return s.repo.AssignManager(ctx, managerID, branchID)
}

// UnassignManager removes a manager/branch link.
func (s *Service) UnassignManager(ctx context.Context, actor policy.Actor, managerID, branchID int64) error {
	if actor.Role != policy.RoleAdmin {
		return shared.ErrForbidden
	}
	return s.repo.UnassignManager(ctx, managerID, branchID)
}

// Assignments lists the managers assigned to a branch.
func (s *Service) Assignments(ctx context.Context, actor policy.Actor, branchID int64) ([]ManagerAssignment, error) {
	ok, err := s.CanAccess(ctx, actor, branchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.ErrForbidden
	}
	return s.repo.ListAssignments(ctx, branchID)
}
