package dashboard

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayPoint is one entry of the per-day earnings series.
type DayPoint struct {
	Date     string          `json:"date"`
	Earnings decimal.Decimal `json:"earnings"`
}

// Summary is the aggregated rollup for a branch set and date range. The
// series always covers every day of the range inclusive; days without a
// record contribute zero.
type Summary struct {
	TotalEarnings       decimal.Decimal `json:"total_earnings"`
	TotalExpenses       decimal.Decimal `json:"total_expenses"`
	NetProfit           decimal.Decimal `json:"net_profit"`
	TransactionCount    int             `json:"transaction_count"`
	Series              []DayPoint      `json:"series"`
	ActiveBranchesToday int             `json:"active_branches_today"`
}

// Query is a validated dashboard request.
type Query struct {
	From     time.Time
	To       time.Time
	BranchID *int64
}
