package financials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// AccessResolver answers branch scoping questions for the caller.
type AccessResolver interface {
	CanAccess(ctx context.Context, actor policy.Actor, branchID int64) (bool, error)
}

// LogRecorder appends committed mutations to the financial log.
type LogRecorder interface {
	Record(ctx context.Context, entry finlog.Entry) error
}

// ErrOutsideWriteWindow signals that the date is outside the branch_staff
// write window; the caller should submit a change request instead.
var ErrOutsideWriteWindow = fmt.Errorf("%w: date outside direct write window", shared.ErrForbidden)

// Service orchestrates financial record writes and reads.
type Service struct {
	repo   Repository
	access AccessResolver
	logs   LogRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, access AccessResolver, logs LogRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, access: access, logs: logs, logger: logger, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ValidateInput applies the field rules shared by direct writes and change
// requests: amounts must be non-negative, the summary non-empty.
func ValidateInput(input Input) error {
	if input.BranchID <= 0 {
		return shared.NewValidationError("branch_id", "branch is required")
	}
	if input.RecordDate.IsZero() {
		return shared.NewValidationError("record_date", "date is required")
	}
	if input.Earnings.IsNegative() {
		return shared.NewValidationError("earnings", "earnings must not be negative")
	}
	if input.Expenses.IsNegative() {
		return shared.NewValidationError("expenses", "expenses must not be negative")
	}
	if strings.TrimSpace(input.Summary) == "" {
		return shared.NewValidationError("summary", "summary is required")
	}
	return nil
}

// CanWriteDirectly reports whether the actor may write the record for the
// branch and date without an approval. Staff are bounded by the write window:
// today always, yesterday only while no record exists for yesterday yet.
func (s *Service) CanWriteDirectly(ctx context.Context, actor policy.Actor, branchID int64, date time.Time) (bool, error) {
	if !policy.Allow(actor.Role, policy.CapFinancialWrite) {
		return false, nil
	}
	ok, err := s.access.CanAccess(ctx, actor, branchID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if actor.Role != policy.RoleBranchStaff {
		return true, nil
	}

	today := truncateToDay(s.now())
	day := truncateToDay(date)
	switch {
	case day.Equal(today):
		return true, nil
	case day.Equal(today.AddDate(0, 0, -1)):
		exists, err := s.repo.Exists(ctx, branchID, day)
		if err != nil {
			return false, err
		}
		return !exists, nil
	default:
		return false, nil
	}
}

// Upsert writes the record for (branch, date) and appends a log entry. The
// write itself is a single atomic statement; a log failure is reported but
// does not undo the committed record.
func (s *Service) Upsert(ctx context.Context, actor policy.Actor, input Input) (Record, error) {
	if err := ValidateInput(input); err != nil {
		return Record{}, err
	}
	ok, err := s.access.CanAccess(ctx, actor, input.BranchID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, shared.ErrForbidden
	}
	direct, err := s.CanWriteDirectly(ctx, actor, input.BranchID, input.RecordDate)
	if err != nil {
		return Record{}, err
	}
	if !direct {
		return Record{}, ErrOutsideWriteWindow
	}

	input.Summary = strings.TrimSpace(input.Summary)
	rec, inserted, err := s.repo.Upsert(ctx, actor.ID, input)
	if err != nil {
		return Record{}, err
	}

	action := finlog.ActionDataUpdated
	if inserted {
		action = finlog.ActionDataAdded
	}
	logErr := s.logs.Record(ctx, finlog.Entry{
		BranchID: rec.BranchID,
		ActorID:  actor.ID,
		Action:   action,
		Data: finlog.Snapshot{
			RecordDate: rec.RecordDate,
			Earnings:   rec.Earnings,
			Expenses:   rec.Expenses,
			Summary:    rec.Summary,
		},
	})
	if logErr != nil && s.logger != nil {
		s.logger.Error("financial log append", slog.Int64("branch_id", rec.BranchID), slog.Any("error", logErr))
	}
	return rec, nil
}

// Get returns the record for (branch, date), scoped to the accessible set.
func (s *Service) Get(ctx context.Context, actor policy.Actor, branchID int64, date time.Time) (Record, error) {
	if err := s.requireView(ctx, actor, branchID); err != nil {
		return Record{}, err
	}
	return s.repo.Get(ctx, branchID, date)
}

// List returns the branch's records, newest first.
func (s *Service) List(ctx context.Context, actor policy.Actor, branchID int64, filters ListFilters) ([]Record, int, error) {
	if err := s.requireView(ctx, actor, branchID); err != nil {
		return nil, 0, err
	}
	if filters.Limit <= 0 {
		filters.Limit = 31
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return s.repo.List(ctx, branchID, filters)
}

// Snapshot returns the current record as a change-request snapshot, or nil
// when none exists for the key.
func (s *Service) Snapshot(ctx context.Context, branchID int64, date time.Time) (*finlog.Snapshot, error) {
	rec, err := s.repo.Get(ctx, branchID, date)
	if err != nil {
		if err == shared.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &finlog.Snapshot{
		RecordDate: rec.RecordDate,
		Earnings:   rec.Earnings,
		Expenses:   rec.Expenses,
		Summary:    rec.Summary,
	}, nil
}

func (s *Service) requireView(ctx context.Context, actor policy.Actor, branchID int64) error {
	if !policy.Allow(actor.Role, policy.CapFinancialView) {
		return shared.ErrForbidden
	}
	ok, err := s.access.CanAccess(ctx, actor, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

// ParseAmount parses a decimal monetary amount from its wire form.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, shared.NewValidationError(field, "invalid amount")
	}
	return d, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
