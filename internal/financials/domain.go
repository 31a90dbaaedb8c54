package financials

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for record dates.
const DateLayout = "2006-01-02"

// Record is the earnings/expenses/summary tuple for one branch on one date.
// At most one record exists per (branch, date); the store enforces this with
// a unique constraint and atomic upserts.
type Record struct {
	ID         int64           `json:"id"`
	BranchID   int64           `json:"branch_id"`
	RecordDate string          `json:"record_date"`
	Earnings   decimal.Decimal `json:"earnings"`
	Expenses   decimal.Decimal `json:"expenses"`
	Summary    string          `json:"summary"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Input is a proposed record write.
type Input struct {
	BranchID   int64
	RecordDate time.Time
	Earnings   decimal.Decimal
	Expenses   decimal.Decimal
	Summary    string
}

// ListFilters narrows record listings for a branch.
type ListFilters struct {
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}
