package dashboard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Totals aggregates a branch set over a date range.
type Totals struct {
	Earnings decimal.Decimal
	Expenses decimal.Decimal
	Count    int
}

// Repository provides the aggregate reads behind the dashboard.
type Repository interface {
	Totals(ctx context.Context, branchIDs []int64, from, to time.Time) (Totals, error)
	DailyEarnings(ctx context.Context, branchIDs []int64, from, to time.Time) (map[string]decimal.Decimal, error)
	ActiveBranchCount(ctx context.Context, branchIDs []int64, day time.Time) (int, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) Totals(ctx context.Context, branchIDs []int64, from, to time.Time) (Totals, error) {
	var t Totals
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(earnings), 0), COALESCE(SUM(expenses), 0), COUNT(*)
FROM branch_financials
WHERE branch_id = ANY($1) AND record_date BETWEEN $2 AND $3`, branchIDs, from, to).Scan(&t.Earnings, &t.Expenses, &t.Count)
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (r *repository) DailyEarnings(ctx context.Context, branchIDs []int64, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT to_char(record_date, 'YYYY-MM-DD'), COALESCE(SUM(earnings), 0)
FROM branch_financials
WHERE branch_id = ANY($1) AND record_date BETWEEN $2 AND $3
GROUP BY record_date`, branchIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			day      string
			earnings decimal.Decimal
		)
		if err := rows.Scan(&day, &earnings); err != nil {
			return nil, err
		}
		out[day] = earnings
	}
	return out, rows.Err()
}

func (r *repository) ActiveBranchCount(ctx context.Context, branchIDs []int64, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT branch_id)
FROM branch_financials
WHERE branch_id = ANY($1) AND record_date = $2`, branchIDs, day).Scan(&count)
	return count, err
}
