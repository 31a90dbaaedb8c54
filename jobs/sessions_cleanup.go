package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// SessionPurger removes expired auth session rows.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// SessionsCleanupJob deletes auth_sessions rows past their expiry. The Redis
// side expires on its own TTL; this keeps the audit table from growing
// unbounded.
type SessionsCleanupJob struct {
	purger SessionPurger
	logger *slog.Logger
}

// NewSessionsCleanupJob constructs a SessionsCleanupJob.
func NewSessionsCleanupJob(purger SessionPurger, logger *slog.Logger) *SessionsCleanupJob {
	return &SessionsCleanupJob{purger: purger, logger: logger}
}

// Handle processes a TaskSessionsCleanup task.
func (j *SessionsCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	purged, err := j.purger.PurgeExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		j.logger.Info("sessions cleanup", slog.Int64("purged", purged))
	}
	return nil
}
