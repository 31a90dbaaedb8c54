package profiles_test

import (
	"context"
	"errors"
	"testing"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/profiles"
	"github.com/branchledger/branchledger/internal/shared"
	_ "github.com/branchledger/branchledger/testing"
)

type stubRepo struct {
	profiles map[int64]*profiles.Profile
}

func (s *stubRepo) Get(ctx context.Context, id int64) (profiles.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return profiles.Profile{}, shared.ErrNotFound
	}
	return *p, nil
}

func (s *stubRepo) List(ctx context.Context, filters profiles.ListFilters) ([]profiles.Profile, int, error) {
	var out []profiles.Profile
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (s *stubRepo) UpdateContact(ctx context.Context, id int64, firstName, lastName, phone string) error {
	p, ok := s.profiles[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.FirstName, p.LastName, p.Phone = firstName, lastName, phone
	return nil
}

func (s *stubRepo) UpdateRole(ctx context.Context, id int64, role policy.Role) error {
	p, ok := s.profiles[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Role = role
	if role != policy.RoleBranchStaff {
		p.StaffBranchID = nil
	}
	return nil
}

func (s *stubRepo) AssignStaff(ctx context.Context, userID, branchID int64) error {
	p, ok := s.profiles[userID]
	if !ok {
		return shared.ErrNotFound
	}
	p.Role = policy.RoleBranchStaff
	p.StaffBranchID = &branchID
	return nil
}

func (s *stubRepo) UnassignStaff(ctx context.Context, userID int64) error {
	p, ok := s.profiles[userID]
	if !ok {
		return shared.ErrNotFound
	}
	p.Role = policy.RoleUser
	p.StaffBranchID = nil
	return nil
}

type stubBranches struct {
	assigned map[int64][]int64
}

func (s *stubBranches) ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return s.assigned[managerID], nil
}

func ptr(v int64) *int64 { return &v }

func newService(assigned map[int64][]int64) (*profiles.Service, *stubRepo) {
	repo := &stubRepo{profiles: map[int64]*profiles.Profile{
		1:  {ID: 1, Email: "admin@test.local", Role: policy.RoleAdmin, IsActive: true},
		20: {ID: 20, Email: "manager@test.local", Role: policy.RoleManager, IsActive: true},
		10: {ID: 10, Email: "staff@test.local", Role: policy.RoleBranchStaff, StaffBranchID: ptr(2), IsActive: true},
		30: {ID: 30, Email: "user@test.local", Role: policy.RoleUser, IsActive: true},
		40: {ID: 40, Email: "inactive@test.local", Role: policy.RoleUser, IsActive: false},
	}}
	return profiles.NewService(repo, &stubBranches{assigned: assigned}), repo
}

func TestResolveActor(t *testing.T) {
	svc, _ := newService(nil)

	actor, err := svc.ResolveActor(context.Background(), 10)
	if err != nil {
		t.Fatalf("resolve staff: %v", err)
	}
	if actor.Role != policy.RoleBranchStaff || actor.StaffBranchID == nil || *actor.StaffBranchID != 2 {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := svc.ResolveActor(context.Background(), 40); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for inactive profile, got %v", err)
	}
	if _, err := svc.ResolveActor(context.Background(), 999); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChangeRole(t *testing.T) {
	svc, repo := newService(nil)
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	if err := svc.ChangeRole(context.Background(), manager, 30, policy.RoleManager); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden for manager, got %v", err)
	}
	if err := svc.ChangeRole(context.Background(), admin, 1, policy.RoleUser); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for self-demotion, got %v", err)
	}
	if err := svc.ChangeRole(context.Background(), admin, 30, policy.Role("wizard")); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}

	if err := svc.ChangeRole(context.Background(), admin, 10, policy.RoleUser); err != nil {
		t.Fatalf("demote staff: %v", err)
	}
	if repo.profiles[10].StaffBranchID != nil {
		t.Fatal("expected staff branch cleared on demotion")
	}
}

func TestAssignStaff(t *testing.T) {
	svc, repo := newService(map[int64][]int64{20: {1}})
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	if err := svc.AssignStaff(context.Background(), manager, 30, 5); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden outside manager set, got %v", err)
	}
	if err := svc.AssignStaff(context.Background(), manager, 30, 1); err != nil {
		t.Fatalf("assign inside manager set: %v", err)
	}
	if repo.profiles[30].Role != policy.RoleBranchStaff {
		t.Fatalf("expected user promoted to branch_staff, got %s", repo.profiles[30].Role)
	}

	if err := svc.AssignStaff(context.Background(), admin, 10, 7); !shared.IsValidation(err) {
		t.Fatalf("expected validation error moving staffed user, got %v", err)
	}
	if err := svc.AssignStaff(context.Background(), admin, 20, 1); !shared.IsValidation(err) {
		t.Fatalf("expected validation error assigning a manager, got %v", err)
	}
}

func TestUnassignStaff(t *testing.T) {
	svc, repo := newService(map[int64][]int64{20: {2}})
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	if err := svc.UnassignStaff(context.Background(), manager, 30); !shared.IsValidation(err) {
		t.Fatalf("expected validation error for non-staff target, got %v", err)
	}
	if err := svc.UnassignStaff(context.Background(), manager, 10); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if repo.profiles[10].Role != policy.RoleUser || repo.profiles[10].StaffBranchID != nil {
		t.Fatalf("expected staff reverted to user, got %+v", repo.profiles[10])
	}
}
