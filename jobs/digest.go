package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DailyDigestJob summarizes each branch's totals for one day into the log,
// giving operators a morning snapshot without opening the dashboard.
type DailyDigestJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	printer *message.Printer
}

// NewDailyDigestJob constructs a DailyDigestJob.
func NewDailyDigestJob(pool *pgxpool.Pool, logger *slog.Logger) *DailyDigestJob {
	return &DailyDigestJob{
		pool:    pool,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

type digestRow struct {
	BranchName string
	Earnings   decimal.Decimal
	Expenses   decimal.Decimal
}

// Handle processes a TaskDailyDigest task.
func (j *DailyDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DailyDigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if payload.Date != "" {
		parsed, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return asynq.SkipRetry
		}
		day = parsed
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := j.pool.Query(ctx, `SELECT b.name, f.earnings, f.expenses
FROM branch_financials f
JOIN branches b ON b.id = f.branch_id
WHERE f.record_date = $1
ORDER BY b.name`, day)
	if err != nil {
		return err
	}
	defer rows.Close()

	var reported int
	for rows.Next() {
		var row digestRow
		if err := rows.Scan(&row.BranchName, &row.Earnings, &row.Expenses); err != nil {
			return err
		}
		net := row.Earnings.Sub(row.Expenses)
		j.logger.Info("daily digest",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("branch", row.BranchName),
			slog.String("earnings", j.money(row.Earnings)),
			slog.String("expenses", j.money(row.Expenses)),
			slog.String("net", j.money(net)),
		)
		reported++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if reported == 0 {
		j.logger.Info("daily digest", slog.String("day", day.Format("2006-01-02")), slog.String("note", "no records"))
	}
	return nil
}

// money renders an amount with locale-aware grouping, e.g. 1,234,567.89.
func (j *DailyDigestJob) money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return j.printer.Sprintf("%.2f", f)
}
