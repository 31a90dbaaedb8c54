package dashboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/internal/dashboard"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
	_ "github.com/branchledger/branchledger/testing"
)

type stubRepo struct {
	totals dashboard.Totals
	daily  map[string]decimal.Decimal
	active int

	totalsScope []int64
}

func (s *stubRepo) Totals(ctx context.Context, branchIDs []int64, from, to time.Time) (dashboard.Totals, error) {
	s.totalsScope = branchIDs
	return s.totals, nil
}

func (s *stubRepo) DailyEarnings(ctx context.Context, branchIDs []int64, from, to time.Time) (map[string]decimal.Decimal, error) {
	return s.daily, nil
}

func (s *stubRepo) ActiveBranchCount(ctx context.Context, branchIDs []int64, day time.Time) (int, error) {
	return s.active, nil
}

type stubAccess struct {
	ids []int64
}

func (s *stubAccess) AccessibleBranchIDs(ctx context.Context, actor policy.Actor) ([]int64, error) {
	return s.ids, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
}

func dayQuery(fromOffset, toOffset int) dashboard.Query {
	base := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	return dashboard.Query{From: base.AddDate(0, 0, fromOffset), To: base.AddDate(0, 0, toOffset)}
}

func TestSummarizeSeriesZeroFill(t *testing.T) {
	repo := &stubRepo{
		totals: dashboard.Totals{
			Earnings: decimal.RequireFromString("300.00"),
			Expenses: decimal.RequireFromString("100.00"),
			Count:    2,
		},
		daily: map[string]decimal.Decimal{
			"2026-08-29": decimal.RequireFromString("200.00"),
			"2026-08-31": decimal.RequireFromString("100.00"),
		},
		active: 1,
	}
	svc := dashboard.NewService(repo, &stubAccess{ids: []int64{1, 2}}).WithClock(fixedNow)
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	summary, err := svc.Summarize(context.Background(), manager, dayQuery(-6, 0))
	require.NoError(t, err)

	require.Len(t, summary.Series, 7)
	assert.Equal(t, "2026-08-25", summary.Series[0].Date)
	assert.Equal(t, "2026-08-31", summary.Series[6].Date)
	for _, p := range summary.Series {
		want := decimal.Zero
		if v, ok := repo.daily[p.Date]; ok {
			want = v
		}
		assert.True(t, p.Earnings.Equal(want), "day %s earnings = %s, want %s", p.Date, p.Earnings, want)
	}
	assert.True(t, summary.NetProfit.Equal(decimal.RequireFromString("200.00")), "net profit = %s", summary.NetProfit)
	assert.Equal(t, 2, summary.TransactionCount)
	assert.Equal(t, 1, summary.ActiveBranchesToday)
}

func TestSummarizeBranchFilterOutsideSet(t *testing.T) {
	svc := dashboard.NewService(&stubRepo{}, &stubAccess{ids: []int64{1, 2}}).WithClock(fixedNow)
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	q := dayQuery(-6, 0)
	outside := int64(9)
	q.BranchID = &outside

	_, err := svc.Summarize(context.Background(), manager, q)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestSummarizeBranchFilterNarrowsScope(t *testing.T) {
	repo := &stubRepo{daily: map[string]decimal.Decimal{}}
	svc := dashboard.NewService(repo, &stubAccess{ids: []int64{1, 2}}).WithClock(fixedNow)
	manager := policy.Actor{ID: 20, Role: policy.RoleManager}

	q := dayQuery(-1, 0)
	inside := int64(2)
	q.BranchID = &inside

	_, err := svc.Summarize(context.Background(), manager, q)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, repo.totalsScope)
}

func TestSummarizeEmptyAccessibleSet(t *testing.T) {
	svc := dashboard.NewService(&stubRepo{}, &stubAccess{}).WithClock(fixedNow)
	staff := policy.Actor{ID: 10, Role: policy.RoleBranchStaff}

	summary, err := svc.Summarize(context.Background(), staff, dayQuery(-2, 0))
	require.NoError(t, err)

	assert.True(t, summary.TotalEarnings.IsZero())
	assert.True(t, summary.NetProfit.IsZero())
	assert.Zero(t, summary.TransactionCount)
	require.Len(t, summary.Series, 3)
	for _, p := range summary.Series {
		assert.True(t, p.Earnings.IsZero(), "expected zero earnings on %s", p.Date)
	}
}

func TestSummarizeRangeValidation(t *testing.T) {
	svc := dashboard.NewService(&stubRepo{}, &stubAccess{ids: []int64{1}}).WithClock(fixedNow)
	admin := policy.Actor{ID: 1, Role: policy.RoleAdmin}

	_, err := svc.Summarize(context.Background(), admin, dayQuery(0, -1))
	assert.True(t, shared.IsValidation(err), "reversed range: %v", err)

	_, err = svc.Summarize(context.Background(), admin, dayQuery(-400, 0))
	assert.True(t, shared.IsValidation(err), "oversized range: %v", err)
}

func TestSummarizeDeniesUserRole(t *testing.T) {
	svc := dashboard.NewService(&stubRepo{}, &stubAccess{}).WithClock(fixedNow)
	viewer := policy.Actor{ID: 30, Role: policy.RoleUser}

	_, err := svc.Summarize(context.Background(), viewer, dayQuery(-1, 0))
	require.ErrorIs(t, err, shared.ErrForbidden)
}
