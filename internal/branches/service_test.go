package branches_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/branchledger/branchledger/internal/branches"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
	_ "github.com/branchledger/branchledger/testing"
)

type stubRepo struct {
	branches    map[int64]branches.Branch
	assignments map[int64][]int64
	deleted     []int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		branches:    make(map[int64]branches.Branch),
		assignments: make(map[int64][]int64),
	}
}

func (s *stubRepo) List(ctx context.Context, includeArchived bool) ([]branches.Branch, error) {
	var out []branches.Branch
	for _, b := range s.branches {
		if b.Archived && !includeArchived {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *stubRepo) ListByIDs(ctx context.Context, ids []int64) ([]branches.Branch, error) {
	var out []branches.Branch
	for _, id := range ids {
		if b, ok := s.branches[id]; ok && !b.Archived {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubRepo) Get(ctx context.Context, id int64) (branches.Branch, error) {
	b, ok := s.branches[id]
	if !ok {
		return branches.Branch{}, shared.ErrNotFound
	}
	return b, nil
}

func (s *stubRepo) Create(ctx context.Context, name, address string) (branches.Branch, error) {
	for _, b := range s.branches {
		if !b.Archived && b.Name == name {
			return branches.Branch{}, fmt.Errorf("a branch named %q already exists: %w", name, shared.ErrConflict)
		}
	}
	b := branches.Branch{ID: int64(len(s.branches) + 1), Name: name, Address: address}
	s.branches[b.ID] = b
	return b, nil
}

func (s *stubRepo) Update(ctx context.Context, id int64, name, address string) error {
	b, ok := s.branches[id]
	if !ok {
		return shared.ErrNotFound
	}
	b.Name, b.Address = name, address
	s.branches[id] = b
	return nil
}

func (s *stubRepo) Archive(ctx context.Context, id int64) error {
	b, ok := s.branches[id]
	if !ok {
		return shared.ErrNotFound
	}
	b.Archived = true
	s.branches[id] = b
	return nil
}

func (s *stubRepo) DeleteCascade(ctx context.Context, id int64) error {
	if _, ok := s.branches[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.branches, id)
	for manager, set := range s.assignments {
		var kept []int64
		for _, bid := range set {
			if bid != id {
				kept = append(kept, bid)
			}
		}
		s.assignments[manager] = kept
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRepo) AssignManager(ctx context.Context, managerID, branchID int64) error {
	for _, bid := range s.assignments[managerID] {
		if bid == branchID {
			return fmt.Errorf("manager is already assigned to this branch: %w", shared.ErrConflict)
		}
	}
	s.assignments[managerID] = append(s.assignments[managerID], branchID)
	return nil
}

func (s *stubRepo) UnassignManager(ctx context.Context, managerID, branchID int64) error {
	var kept []int64
	for _, bid := range s.assignments[managerID] {
		if bid != branchID {
			kept = append(kept, bid)
		}
	}
	s.assignments[managerID] = kept
	return nil
}

func (s *stubRepo) ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error) {
	var out []int64
	for _, bid := range s.assignments[managerID] {
		if b, ok := s.branches[bid]; ok && !b.Archived {
			out = append(out, bid)
		}
	}
	return out, nil
}

func (s *stubRepo) ListAssignments(ctx context.Context, branchID int64) ([]branches.ManagerAssignment, error) {
	var out []branches.ManagerAssignment
	for manager, set := range s.assignments {
		for _, bid := range set {
			if bid == branchID {
				out = append(out, branches.ManagerAssignment{ManagerID: manager, BranchID: bid})
			}
		}
	}
	return out, nil
}

func (s *stubRepo) ActiveBranchIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	for id, b := range s.branches {
		if !b.Archived {
			out = append(out, id)
		}
	}
	return out, nil
}

type stubProfiles struct {
	roles map[int64]policy.Role
}

func (s *stubProfiles) RoleOf(ctx context.Context, userID int64) (policy.Role, error) {
	role, ok := s.roles[userID]
	if !ok {
		return "", shared.ErrNotFound
	}
	return role, nil
}

func seedService(t *testing.T) (*branches.Service, *stubRepo) {
	t.Helper()
	repo := newStubRepo()
	profiles := &stubProfiles{roles: map[int64]policy.Role{
		1:  policy.RoleAdmin,
		20: policy.RoleManager,
		10: policy.RoleBranchStaff,
	}}
	svc := branches.NewService(repo, profiles)

	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}
	for _, name := range []string{"North", "South", "East"} {
		if _, err := svc.Create(context.Background(), admin, name, ""); err != nil {
			t.Fatalf("seed branch %s: %v", name, err)
		}
	}
	return svc, repo
}

func TestAccessibleBranchIDs(t *testing.T) {
	svc, _ := seedService(t)
	ctx := context.Background()
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	if err := svc.Archive(ctx, admin, 3); err != nil {
		t.Fatalf("archive: %v", err)
	}

	ids, err := svc.AccessibleBranchIDs(ctx, admin)
	if err != nil {
		t.Fatalf("admin set: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("admin should see 2 active branches, got %v", ids)
	}

	if err := svc.AssignManager(ctx, admin, 20, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}
	ids, err = svc.AccessibleBranchIDs(ctx, manager)
	if err != nil {
		t.Fatalf("manager set: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("manager set = %v, want [1]", ids)
	}

	home := int64(2)
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff, StaffBranchID: &home}
	ids, err = svc.AccessibleBranchIDs(ctx, staff)
	if err != nil {
		t.Fatalf("staff set: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("staff set = %v, want [2]", ids)
	}

	viewer := policy.Actor{ID: 30, Role: policy.RoleUser}
	ids, err = svc.AccessibleBranchIDs(ctx, viewer)
	if err != nil {
		t.Fatalf("user set: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("user set = %v, want empty", ids)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	svc, _ := seedService(t)
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	_, err := svc.Create(context.Background(), admin, "North", "")
	if !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected conflict for duplicate name, got %v", err)
	}
}

func TestCreateDeniedForManager(t *testing.T) {
	svc, _ := seedService(t)
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	_, err := svc.Create(context.Background(), manager, "West", "")
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden for manager create, got %v", err)
	}
}

func TestAssignManagerRules(t *testing.T) {
	svc, _ := seedService(t)
	ctx := context.Background()
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	if err := svc.AssignManager(ctx, admin, 10, 1); !shared.IsValidation(err) {
		t.Fatalf("expected validation error assigning non-manager, got %v", err)
	}
	if err := svc.AssignManager(ctx, admin, 20, 1); err != nil {
		t.Fatalf("assign manager: %v", err)
	}
	if err := svc.AssignManager(ctx, admin, 20, 1); !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected conflict for duplicate assignment, got %v", err)
	}
}

func TestDeleteCascade(t *testing.T) {
	svc, repo := seedService(t)
	ctx := context.Background()
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	if err := svc.AssignManager(ctx, admin, 20, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	manager := policy.Actor{ID: 20, Role: policy.RoleManager}
	if err := svc.Delete(ctx, manager, 1); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden for manager delete, got %v", err)
	}

	if err := svc.Delete(ctx, admin, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, admin, 1); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected branch gone, got %v", err)
	}
	ids, _ := repo.ManagerBranchIDs(ctx, 20)
	if len(ids) != 0 {
		t.Fatalf("expected assignments removed, got %v", ids)
	}
}
