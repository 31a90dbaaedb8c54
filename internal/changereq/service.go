package changereq

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

const pendingCountTTL = 15 * time.Second

// AccessResolver answers branch scoping questions for the caller.
type AccessResolver interface {
	AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error)
	CanAccess(ctx context.Context, actor policy.Actor, branchID int64) (bool, error)
	ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error)
}

// RecordStore exposes the financial record operations the workflow needs.
type RecordStore interface {
	CanWriteDirectly(ctx context.Context, actor policy.Actor, branchID int64, date time.Time) (bool, error)
	Snapshot(ctx context.Context, branchID int64, date time.Time) (*finlog.Snapshot, error)
}

// Service drives the change-request state machine.
type Service struct {
	repo    Repository
	access  AccessResolver
	records RecordStore
	cache   *redis.Client
	group   singleflight.Group
	logger  *slog.Logger
}

// NewService constructs a Service. cache may be nil; the pending count then
// skips the cache layer.
func NewService(repo Repository, access AccessResolver, records RecordStore, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, access: access, records: records, cache: cache, logger: logger}
}

// Create opens a pending request proposing new data for (branch, date). The
// submitter must be inside the branch's accessible set but lack direct write
// authority for the date; old_data snapshots the record as of submission.
func (s *Service) Create(ctx context.Context, actor policy.Actor, branchID int64, date time.Time, data finlog.Snapshot) (ChangeRequest, error) {
	if !policy.Allow(actor.Role, policy.CapChangeSubmit) {
		return ChangeRequest{}, shared.ErrForbidden
	}
	ok, err := s.access.CanAccess(ctx, actor, branchID)
	if err != nil {
		return ChangeRequest{}, err
	}
	if !ok {
		return ChangeRequest{}, shared.ErrForbidden
	}
	if data.Earnings.IsNegative() {
		return ChangeRequest{}, shared.NewValidationError("earnings", "earnings must not be negative")
	}
	if data.Expenses.IsNegative() {
		return ChangeRequest{}, shared.NewValidationError("expenses", "expenses must not be negative")
	}
	if strings.TrimSpace(data.Summary) == "" {
		return ChangeRequest{}, shared.NewValidationError("summary", "summary is required")
	}

	direct, err := s.records.CanWriteDirectly(ctx, actor, branchID, date)
	if err != nil {
		return ChangeRequest{}, err
	}
	if direct {
		return ChangeRequest{}, shared.NewValidationError("record_date", "date is inside your direct write window; submit the record instead")
	}

	oldData, err := s.records.Snapshot(ctx, branchID, date)
	if err != nil {
		return ChangeRequest{}, err
	}

	dateStr := date.Format("2006-01-02")
	data.RecordDate = dateStr
	req := ChangeRequest{
		PublicID:    uuid.New(),
		RequesterID: actor.ID,
		BranchID:    branchID,
		RecordDate:  dateStr,
		OldData:     oldData,
		NewData:     data,
	}
	created, err := s.repo.Create(ctx, req)
	if err != nil {
		return ChangeRequest{}, err
	}
	s.invalidatePendingCounts(ctx)
	return created, nil
}

// List returns requests visible to the actor: admins see everything,
// managers their assigned branches, staff their own submissions.
func (s *Service) List(ctx context.Context, actor policy.Actor, filters Filters) ([]Row, int, error) {
	switch actor.Role {
	case policy.RoleAdmin:
	case policy.RoleManager:
		assigned, err := s.access.ManagerBranchIDs(ctx, actor.ID)
		if err != nil {
			return nil, 0, err
		}
		if len(assigned) == 0 {
			return []Row{}, 0, nil
		}
		filters.BranchIDs = intersectOrAll(filters.BranchIDs, assigned)
		if len(filters.BranchIDs) == 0 {
			return nil, 0, shared.ErrForbidden
		}
	case policy.RoleBranchStaff:
		filters.RequesterID = actor.ID
	default:
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

// Get returns one request when the actor may see it.
func (s *Service) Get(ctx context.Context, actor policy.Actor, publicID uuid.UUID) (Row, error) {
	row, err := s.repo.Get(ctx, publicID)
	if err != nil {
		return Row{}, err
	}
	if err := s.mayView(ctx, actor, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// Approve accepts a pending request: the status transition, the new_data
// commit into the record store and exactly one FINANCIAL_CHANGE_APPROVED log
// entry all land in a single transaction. Authorization is checked against
// the manager's assignment set resolved now, not at request-creation time.
func (s *Service) Approve(ctx context.Context, actor policy.Actor, publicID uuid.UUID) (ChangeRequest, error) {
	if err := s.authorizeDecision(ctx, actor, publicID); err != nil {
		return ChangeRequest{}, err
	}
	var approved ChangeRequest
	err := s.repo.Decide(ctx, func(tx DecisionTx) error {
		req, err := tx.TransitionToApproved(ctx, publicID, actor.ID)
		if err != nil {
			return err
		}
		if err := tx.CommitRecord(ctx, req, actor.ID); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, req.BranchID, actor.ID, finlog.ActionChangeApproved, req.NewData); err != nil {
			return err
		}
		approved = req
		return nil
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	s.invalidatePendingCounts(ctx)
	return approved, nil
}

// Reject declines a pending request; the record store is untouched.
func (s *Service) Reject(ctx context.Context, actor policy.Actor, publicID uuid.UUID) (ChangeRequest, error) {
	if err := s.authorizeDecision(ctx, actor, publicID); err != nil {
		return ChangeRequest{}, err
	}
	req, err := s.repo.Finalize(ctx, publicID, actor.ID, StatusRejected)
	if err != nil {
		return ChangeRequest{}, err
	}
	s.invalidatePendingCounts(ctx)
	return req, nil
}

// Cancel withdraws a pending request. Only the original submitter may
// cancel, and only while the request is still pending.
func (s *Service) Cancel(ctx context.Context, actor policy.Actor, publicID uuid.UUID) error {
	if err := s.repo.Cancel(ctx, publicID, actor.ID); err != nil {
		return err
	}
	s.invalidatePendingCounts(ctx)
	return nil
}

// PendingCount returns the number of pending requests visible to the actor.
// The count is cached briefly and deduplicated across concurrent callers.
func (s *Service) PendingCount(ctx context.Context, actor policy.Actor) (int, error) {
	key := "branchledger:pending-count:" + strconv.FormatInt(actor.ID, 10)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Int(); err == nil {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		count, err := s.pendingCount(ctx, actor)
		if err != nil {
			return 0, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, count, pendingCountTTL).Err(); err != nil && s.logger != nil {
				s.logger.Warn("cache pending count", slog.Any("error", err))
			}
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) pendingCount(ctx context.Context, actor policy.Actor) (int, error) {
	switch actor.Role {
	case policy.RoleAdmin:
		return s.repo.PendingCount(ctx, nil, 0)
	case policy.RoleManager:
		assigned, err := s.access.ManagerBranchIDs(ctx, actor.ID)
		if err != nil {
			return 0, err
		}
		if len(assigned) == 0 {
			return 0, nil
		}
		return s.repo.PendingCount(ctx, assigned, 0)
	case policy.RoleBranchStaff:
		return s.repo.PendingCount(ctx, nil, actor.ID)
	default:
		return 0, nil
	}
}

// authorizeDecision verifies the actor may decide the request's branch at
// decision time.
func (s *Service) authorizeDecision(ctx context.Context, actor policy.Actor, publicID uuid.UUID) error {
	if !policy.Allow(actor.Role, policy.CapChangeDecide) {
		return shared.ErrForbidden
	}
	row, err := s.repo.Get(ctx, publicID)
	if err != nil {
		return err
	}
	if actor.Role == policy.RoleAdmin {
		return nil
	}
	assigned, err := s.access.ManagerBranchIDs(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !actor.CanDecideFor(row.BranchID, assigned) {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) mayView(ctx context.Context, actor policy.Actor, row Row) error {
	switch actor.Role {
	case policy.RoleAdmin:
		return nil
	case policy.RoleManager:
		assigned, err := s.access.ManagerBranchIDs(ctx, actor.ID)
		if err != nil {
			return err
		}
		for _, id := range assigned {
			if id == row.BranchID {
				return nil
			}
		}
		return shared.ErrForbidden
	case policy.RoleBranchStaff:
		if row.RequesterID == actor.ID {
			return nil
		}
		return shared.ErrForbidden
	default:
		return shared.ErrForbidden
	}
}

// intersectOrAll returns assigned when requested is empty, otherwise the
// requested ids that are inside assigned.
func intersectOrAll(requested, assigned []int64) []int64 {
	if len(requested) == 0 {
		return assigned
	}
	allowed := make(map[int64]struct{}, len(assigned))
	for _, id := range assigned {
		allowed[id] = struct{}{}
	}
	var out []int64
	for _, id := range requested {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// invalidatePendingCounts drops every cached pending count. Counts are
// per-approver, so a broad invalidation after any transition is the simple
// correct choice at this cache TTL.
func (s *Service) invalidatePendingCounts(ctx context.Context) {
	if s.cache == nil {
		return
	}
	iter := s.cache.Scan(ctx, 0, "branchledger:pending-count:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil && s.logger != nil {
			s.logger.Warn("invalidate pending count", slog.Any("error", err))
		}
	}
	if err := iter.Err(); err != nil && s.logger != nil {
		s.logger.Warn("scan pending counts", slog.Any("error", err))
	}
}
