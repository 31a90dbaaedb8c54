// Package finlog keeps the append-only record of committed financial
// mutations. Entries are never updated or deleted.
package finlog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action tags the kind of committed mutation.
type Action string

const (
	// ActionDataAdded marks a newly inserted financial record.
	ActionDataAdded Action = "FINANCIAL_DATA_ADDED"
	// ActionDataUpdated marks an in-place update of a financial record.
	ActionDataUpdated Action = "FINANCIAL_DATA_UPDATED"
	// ActionChangeApproved marks a record written through an approved change request.
	ActionChangeApproved Action = "FINANCIAL_CHANGE_APPROVED"
)

// Snapshot is the financial data captured at write time.
type Snapshot struct {
	RecordDate string          `json:"record_date"`
	Earnings   decimal.Decimal `json:"earnings"`
	Expenses   decimal.Decimal `json:"expenses"`
	Summary    string          `json:"summary"`
}

// Entry is one append-only log row.
type Entry struct {
	ID        int64     `json:"id"`
	BranchID  int64     `json:"branch_id"`
	ActorID   int64     `json:"actor_id"`
	Action    Action    `json:"action"`
	Data      Snapshot  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Row is an Entry joined with its branch name and actor email. Listings use
// a single joined query rather than per-row lookups.
type Row struct {
	Entry
	BranchName string `json:"branch_name"`
	ActorEmail string `json:"actor_email"`
}

// Filters narrows log listings.
type Filters struct {
	BranchIDs []int64
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}
