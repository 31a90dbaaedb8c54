package dashboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// maxRangeDays bounds the series length; anything longer is a bad request.
const maxRangeDays = 366

// AccessResolver derives the caller's accessible branch set.
type AccessResolver interface {
	AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error)
}

// Service computes dashboard rollups scoped to the caller.
type Service struct {
	repo   Repository
	access AccessResolver
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, access AccessResolver) *Service {
	return &Service{repo: repo, access: access, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Summarize aggregates the caller's visible branches over the range. A branch
// filter outside the accessible set is a hard authorization failure, never
// substituted data. An empty accessible set yields a well-formed zero
// response: the caller is authorized, just scoped to nothing.
func (s *Service) Summarize(ctx context.Context, actor policy.Actor, q Query) (Summary, error) {
	if !policy.Allow(actor.Role, policy.CapDashboardView) {
		return Summary{}, shared.ErrForbidden
	}
	if err := validateRange(q.From, q.To); err != nil {
		return Summary{}, err
	}

	accessible, err := s.access.AccessibleBranchIDs(ctx, actor)
	if err != nil {
		return Summary{}, err
	}

	scope := accessible
	if q.BranchID != nil {
		if !containsID(accessible, *q.BranchID) {
			return Summary{}, shared.ErrForbidden
		}
		scope = []int64{*q.BranchID}
	}

	if len(scope) == 0 {
		return zeroSummary(q.From, q.To), nil
	}

	var (
		totals  Totals
		daily   map[string]decimal.Decimal
		active  int
		today   = truncateToDay(s.now())
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		var err error
		totals, err = s.repo.Totals(gctx, scope, q.From, q.To)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.repo.DailyEarnings(gctx, scope, q.From, q.To)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.repo.ActiveBranchCount(gctx, scope, today)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return Summary{
		TotalEarnings:       totals.Earnings,
		TotalExpenses:       totals.Expenses,
		NetProfit:           totals.Earnings.Sub(totals.Expenses),
		TransactionCount:    totals.Count,
		Series:              buildSeries(q.From, q.To, daily),
		ActiveBranchesToday: active,
	}, nil
}

// buildSeries produces one point per day in [from, to] inclusive, zero-filling
// days without records.
func buildSeries(from, to time.Time, daily map[string]decimal.Decimal) []DayPoint {
	days := int(to.Sub(from).Hours()/24) + 1
	series := make([]DayPoint, 0, days)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		earnings, ok := daily[key]
		if !ok {
			earnings = decimal.Zero
		}
		series = append(series, DayPoint{Date: key, Earnings: earnings})
	}
	return series
}

func zeroSummary(from, to time.Time) Summary {
	return Summary{
		TotalEarnings: decimal.Zero,
		TotalExpenses: decimal.Zero,
		NetProfit:     decimal.Zero,
		Series:        buildSeries(from, to, nil),
	}
}

func validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return shared.NewValidationError("range", "from and to are required")
	}
	if to.Before(from) {
		return shared.NewValidationError("range", "to must not precede from")
	}
	if int(to.Sub(from).Hours()/24) >= maxRangeDays {
		return shared.NewValidationError("range", "date range too large")
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
