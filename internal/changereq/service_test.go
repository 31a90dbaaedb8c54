package changereq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/changereq"
	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
	_ "github.com/branchledger/branchledger/testing"
)

type loggedEntry struct {
	branchID int64
	actorID  int64
	action   finlog.Action
	data     finlog.Snapshot
}

type stubRepo struct {
	rows      map[uuid.UUID]*changereq.Row
	committed []changereq.ChangeRequest
	logged    []loggedEntry
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: make(map[uuid.UUID]*changereq.Row)}
}

func (s *stubRepo) Create(ctx context.Context, req changereq.ChangeRequest) (changereq.ChangeRequest, error) {
	req.ID = int64(len(s.rows) + 1)
	req.Status = changereq.StatusPending
	req.CreatedAt = time.Now()
	s.rows[req.PublicID] = &changereq.Row{ChangeRequest: req}
	return req, nil
}

func (s *stubRepo) Get(ctx context.Context, publicID uuid.UUID) (changereq.Row, error) {
	row, ok := s.rows[publicID]
	if !ok {
		return changereq.Row{}, shared.ErrNotFound
	}
	return *row, nil
}

func (s *stubRepo) List(ctx context.Context, filters changereq.Filters) ([]changereq.Row, int, error) {
	var out []changereq.Row
	for _, row := range s.rows {
		if filters.RequesterID != 0 && row.RequesterID != filters.RequesterID {
			continue
		}
		if len(filters.BranchIDs) > 0 && !containsID(filters.BranchIDs, row.BranchID) {
			continue
		}
		out = append(out, *row)
	}
	return out, len(out), nil
}

func (s *stubRepo) Decide(ctx context.Context, fn func(changereq.DecisionTx) error) error {
	return fn(&stubDecisionTx{repo: s})
}

type stubDecisionTx struct {
	repo *stubRepo
}

func (d *stubDecisionTx) TransitionToApproved(ctx context.Context, publicID uuid.UUID, deciderID int64) (changereq.ChangeRequest, error) {
	row, ok := d.repo.rows[publicID]
	if !ok {
		return changereq.ChangeRequest{}, shared.ErrNotFound
	}
	if row.Status.Terminal() {
		return changereq.ChangeRequest{}, changereq.ErrAlreadyDecided
	}
	row.Status = changereq.StatusApproved
	row.DecidedBy = &deciderID
	return row.ChangeRequest, nil
}

func (d *stubDecisionTx) CommitRecord(ctx context.Context, req changereq.ChangeRequest, deciderID int64) error {
	d.repo.committed = append(d.repo.committed, req)
	return nil
}

func (d *stubDecisionTx) AppendLog(ctx context.Context, branchID, actorID int64, action finlog.Action, data finlog.Snapshot) error {
	d.repo.logged = append(d.repo.logged, loggedEntry{branchID: branchID, actorID: actorID, action: action, data: data})
	return nil
}

func (s *stubRepo) Finalize(ctx context.Context, publicID uuid.UUID, deciderID int64, to changereq.Status) (changereq.ChangeRequest, error) {
	row, ok := s.rows[publicID]
	if !ok {
		return changereq.ChangeRequest{}, shared.ErrNotFound
	}
	if row.Status.Terminal() {
		return changereq.ChangeRequest{}, changereq.ErrAlreadyDecided
	}
	row.Status = to
	row.DecidedBy = &deciderID
	return row.ChangeRequest, nil
}

func (s *stubRepo) Cancel(ctx context.Context, publicID uuid.UUID, requesterID int64) error {
	row, ok := s.rows[publicID]
	if !ok {
		return shared.ErrNotFound
	}
	if row.RequesterID != requesterID {
		return shared.ErrForbidden
	}
	if row.Status.Terminal() {
		return changereq.ErrAlreadyDecided
	}
	row.Status = changereq.StatusCancelled
	return nil
}

func (s *stubRepo) PendingCount(ctx context.Context, branchIDs []int64, requesterID int64) (int, error) {
	count := 0
	for _, row := range s.rows {
		if row.Status != changereq.StatusPending {
			continue
		}
		if requesterID != 0 && row.RequesterID != requesterID {
			continue
		}
		if len(branchIDs) > 0 && !containsID(branchIDs, row.BranchID) {
			continue
		}
		count++
	}
	return count, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type stubAccess struct {
	accessible map[int64]bool
	assigned   map[int64][]int64
}

func (s *stubAccess) AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error) {
	var out []int64
	for id, ok := range s.accessible {
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *stubAccess) CanAccess(ctx context.Context, actor policy.Actor, branchID int64) (bool, error) {
	return s.accessible[branchID], nil
}

func (s *stubAccess) ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return s.assigned[managerID], nil
}

type stubRecords struct {
	directWindow bool
	existing     *finlog.Snapshot
}

func (s *stubRecords) CanWriteDirectly(ctx context.Context, actor policy.Actor, branchID int64, date time.Time) (bool, error) {
	return s.directWindow, nil
}

func (s *stubRecords) Snapshot(ctx context.Context, branchID int64, date time.Time) (*finlog.Snapshot, error) {
	return s.existing, nil
}

func newService(repo *stubRepo, access *stubAccess, records *stubRecords) *changereq.Service {
	return changereq.NewService(repo, access, records, nil, nil)
}

func proposal() finlog.Snapshot {
	return finlog.Snapshot{
		Earnings: decimal.RequireFromString("900.00"),
		Expenses: decimal.RequireFromString("120.00"),
		Summary:  "corrected totals",
	}
}

func pastDate() time.Time {
	return time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
}

func TestCreateRejectsDirectWriteWindow(t *testing.T) {
	svc := newService(newStubRepo(), &stubAccess{accessible: map[int64]bool{1: true}}, &stubRecords{directWindow: true})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}

	_, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if !shared.IsValidation(err) {
		t.Fatalf("expected validation error inside write window, got %v", err)
	}
}

func TestCreateSnapshotsOldData(t *testing.T) {
	existing := &finlog.Snapshot{
		RecordDate: "2026-08-20",
		Earnings:   decimal.RequireFromString("500.00"),
		Expenses:   decimal.RequireFromString("80.00"),
		Summary:    "original",
	}
	repo := newStubRepo()
	svc := newService(repo, &stubAccess{accessible: map[int64]bool{1: true}}, &stubRecords{existing: existing})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}

	req, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != changereq.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if req.OldData == nil || !req.OldData.Earnings.Equal(existing.Earnings) {
		t.Fatalf("expected old data snapshot, got %+v", req.OldData)
	}
	if req.NewData.RecordDate != "2026-08-20" {
		t.Fatalf("expected proposal stamped with record date, got %q", req.NewData.RecordDate)
	}
}

func TestApproveAuthorization(t *testing.T) {
	repo := newStubRepo()
	access := &stubAccess{
		accessible: map[int64]bool{1: true, 2: true},
		assigned:   map[int64][]int64{20: {1}},
	}
	svc := newService(repo, access, &stubRecords{})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}

	reqBranch2, err := svc.Create(context.Background(), staff, 2, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	manager := policy.Actor{ID: 20, Role: policy.RoleManager}
	if _, err := svc.Approve(context.Background(), manager, reqBranch2.PublicID); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden outside assignment set, got %v", err)
	}

	reqBranch1, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approved, err := svc.Approve(context.Background(), manager, reqBranch1.PublicID)
	if err != nil {
		t.Fatalf("approve assigned branch: %v", err)
	}
	if approved.Status != changereq.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	if staff.CanDecideFor(1, []int64{1}) {
		t.Fatal("staff must never hold decide capability")
	}
}

func TestApproveCommitsRecordAndLogsOnce(t *testing.T) {
	repo := newStubRepo()
	access := &stubAccess{accessible: map[int64]bool{1: true}}
	svc := newService(repo, access, &stubRecords{})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	req, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approved, err := svc.Approve(context.Background(), admin, req.PublicID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != changereq.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	if len(repo.committed) != 1 {
		t.Fatalf("expected exactly one record commit, got %d", len(repo.committed))
	}
	committed := repo.committed[0]
	if committed.BranchID != 1 || !committed.NewData.Earnings.Equal(proposal().Earnings) {
		t.Fatalf("committed record does not match proposal: %+v", committed)
	}

	if len(repo.logged) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(repo.logged))
	}
	entry := repo.logged[0]
	if entry.action != finlog.ActionChangeApproved {
		t.Fatalf("expected %s, got %s", finlog.ActionChangeApproved, entry.action)
	}
	if entry.branchID != 1 || entry.actorID != admin.ID {
		t.Fatalf("log entry attributed wrongly: %+v", entry)
	}
	if !entry.data.Expenses.Equal(proposal().Expenses) {
		t.Fatalf("log entry data does not match proposal: %+v", entry.data)
	}

	rejected, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := svc.Reject(context.Background(), admin, rejected.PublicID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(repo.committed) != 1 || len(repo.logged) != 1 {
		t.Fatalf("rejection must leave the record store untouched: %d commits, %d logs", len(repo.committed), len(repo.logged))
	}
}

func TestDecideTwiceConflicts(t *testing.T) {
	repo := newStubRepo()
	access := &stubAccess{accessible: map[int64]bool{1: true}}
	svc := newService(repo, access, &stubRecords{})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	req, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Approve(context.Background(), admin, req.PublicID); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err = svc.Reject(context.Background(), admin, req.PublicID)
	if !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected conflict on second decision, got %v", err)
	}
}

func TestCancelOnlyByRequester(t *testing.T) {
	repo := newStubRepo()
	access := &stubAccess{accessible: map[int64]bool{1: true}}
	svc := newService(repo, access, &stubRecords{})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}
	other := policy.Actor{ID: 11, Role: policy.RoleBranchStaff}

	req, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Cancel(context.Background(), other, req.PublicID); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden for non-requester, got %v", err)
	}
	if err := svc.Cancel(context.Background(), staff, req.PublicID); err != nil {
		t.Fatalf("cancel by requester: %v", err)
	}
	if err := svc.Cancel(context.Background(), staff, req.PublicID); !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected conflict cancelling twice, got %v", err)
	}
}

func TestPendingCountScoping(t *testing.T) {
	repo := newStubRepo()
	access := &stubAccess{
		accessible: map[int64]bool{1: true, 2: true},
		assigned:   map[int64][]int64{20: {1}},
	}
	svc := newService(repo, access, &stubRecords{})
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}

	if _, err := svc.Create(context.Background(), staff, 1, pastDate(), proposal()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), staff, 2, pastDate(), proposal()); err != nil {
		t.Fatalf("create: %v", err)
	}

	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}
	if n, err := svc.PendingCount(context.Background(), admin); err != nil || n != 2 {
		t.Fatalf("admin count = %d, %v; want 2", n, err)
	}

	manager := policy.Actor{ID: 20, Role: policy.RoleManager}
	if n, err := svc.PendingCount(context.Background(), manager); err != nil || n != 1 {
		t.Fatalf("manager count = %d, %v; want 1", n, err)
	}

	viewer := policy.Actor{ID: 30, Role: policy.RoleUser}
	if n, err := svc.PendingCount(context.Background(), viewer); err != nil || n != 0 {
		t.Fatalf("user count = %d, %v; want 0", n, err)
	}
}
