package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalsReminderJob logs the number of pending change requests per branch
// so stalled approvals surface in operational logs.
type ApprovalsReminderJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalsReminderJob constructs an ApprovalsReminderJob.
func NewApprovalsReminderJob(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalsReminderJob {
	return &ApprovalsReminderJob{pool: pool, logger: logger}
}

// Handle processes a TaskApprovalsReminder task.
func (j *ApprovalsReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	rows, err := j.pool.Query(ctx, `SELECT b.name, COUNT(*)
FROM financial_change_requests cr
JOIN branches b ON b.id = cr.branch_id
WHERE cr.status = 'pending'
GROUP BY b.name
ORDER BY b.name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return err
		}
		j.logger.Info("pending approvals", slog.String("branch", name), slog.Int64("count", count))
		total += count
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if total == 0 {
		j.logger.Info("pending approvals", slog.String("note", "none outstanding"))
	}
	return nil
}
