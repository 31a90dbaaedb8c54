package finlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// AccessResolver derives the caller's accessible branch set.
type AccessResolver interface {
	AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error)
}

// Service reads the financial log with caller scoping.
type Service struct {
	repo   Repository
	access AccessResolver
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, access AccessResolver, logger *slog.Logger) *Service {
	return &Service{repo: repo, access: access, logger: logger}
}

// Record appends a log entry. Failures are logged but never abort the
// financial write that triggered them.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.BranchID == 0 {
		return errors.New("finlog: branch required")
	}
	if entry.ActorID == 0 {
		return errors.New("finlog: actor required")
	}
	if entry.Action == "" {
		return errors.New("finlog: action required")
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		if s.logger != nil {
			s.logger.Error("record financial log", slog.Any("error", err))
		}
		return err
	}
	return nil
}

// List returns log rows visible to the actor.
func (s *Service) List(ctx context.Context, actor policy.Actor, filters Filters) ([]Row, int, error) {
	scoped, empty, err := s.scope(ctx, actor, filters)
	if err != nil {
		return nil, 0, err
	}
	if empty {
		return []Row{}, 0, nil
	}
	if scoped.Limit <= 0 {
		scoped.Limit = 20
	}
	if scoped.Page <= 0 {
		scoped.Page = 1
	}
	return s.repo.List(ctx, scoped)
}

// Export returns every matching row for CSV export. Admin only.
func (s *Service) Export(ctx context.Context, actor policy.Actor, filters Filters) ([]Row, error) {
	if !policy.Allow(actor.Role, policy.CapLogExport) {
		return nil, shared.ErrForbidden
	}
	return s.repo.ListAll(ctx, filters)
}

// scope restricts the filters to the actor's accessible branch set. empty is
// true when the caller is authorized but scoped to nothing.
func (s *Service) scope(ctx context.Context, actor policy.Actor, filters Filters) (Filters, bool, error) {
	if !policy.Allow(actor.Role, policy.CapLogView) {
		return Filters{}, false, shared.ErrForbidden
	}
	if actor.Role == policy.RoleAdmin {
		return filters, false, nil
	}
	accessible, err := s.access.AccessibleBranchIDs(ctx, actor)
	if err != nil {
		return Filters{}, false, err
	}
	if len(accessible) == 0 {
		return Filters{}, true, nil
	}
	if len(filters.BranchIDs) == 0 {
		filters.BranchIDs = accessible
		return filters, false, nil
	}
	allowed := make(map[int64]struct{}, len(accessible))
	for _, id := range accessible {
		allowed[id] = struct{}{}
	}
	for _, id := range filters.BranchIDs {
		if _, ok := allowed[id]; !ok {
			return Filters{}, false, shared.ErrForbidden
		}
	}
	return filters, false, nil
}

// DayWindow is a convenience for building day-aligned filters.
func DayWindow(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
