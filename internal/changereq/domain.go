// Package changereq implements the financial change-request workflow:
// pending requests are approved, rejected, or cancelled; approval commits the
// proposed data into the record store and the financial log in one
// transaction.
package changereq

import (
	"time"

	"github.com/google/uuid"

	"github.com/branchledger/branchledger/internal/finlog"
)

// Status enumerates change-request states. pending is the only non-terminal
// state; approved, rejected and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// ChangeRequest is a proposed edit to a financial record, used when the
// proposer lacks direct write authority for the branch and date.
type ChangeRequest struct {
	ID          int64            `json:"-"`
	PublicID    uuid.UUID        `json:"id"`
	RequesterID int64            `json:"requester_id"`
	BranchID    int64            `json:"branch_id"`
	RecordDate  string           `json:"record_date"`
	OldData     *finlog.Snapshot `json:"old_data,omitempty"`
	NewData     finlog.Snapshot  `json:"new_data"`
	Status      Status           `json:"status"`
	DecidedBy   *int64           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Row is a ChangeRequest joined with branch name and requester email.
type Row struct {
	ChangeRequest
	BranchName     string `json:"branch_name"`
	RequesterEmail string `json:"requester_email"`
}

// Filters narrows change-request listings.
type Filters struct {
	Status      Status
	BranchIDs   []int64
	RequesterID int64
	Page        int
	Limit       int
}
