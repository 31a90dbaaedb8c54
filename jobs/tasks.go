package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDailyDigest logs yesterday's per-branch totals.
	TaskDailyDigest = "digest:daily"
	// TaskSessionsCleanup purges expired auth session rows.
	TaskSessionsCleanup = "sessions:cleanup"
	// TaskApprovalsReminder logs pending change-request counts per branch.
	TaskApprovalsReminder = "approvals:reminder"
)

// DailyDigestPayload selects which day the digest covers. An empty Date means
// yesterday at execution time.
type DailyDigestPayload struct {
	Date string `json:"date,omitempty"`
}

// NewDailyDigestTask constructs a digest task.
func NewDailyDigestTask(payload DailyDigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailyDigest, data), nil
}

// NewSessionsCleanupTask constructs a session cleanup task.
func NewSessionsCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskSessionsCleanup, nil)
}

// NewApprovalsReminderTask constructs an approvals reminder task.
func NewApprovalsReminderTask() *asynq.Task {
	return asynq.NewTask(TaskApprovalsReminder, nil)
}
