package financials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/shared"
)

const pgForeignKeyViolation = "23503"

// Repository provides financial record persistence.
type Repository interface {
	Upsert(ctx context.Context, actorID int64, input Input) (Record, bool, error)
	Get(ctx context.Context, branchID int64, date time.Time) (Record, error)
	List(ctx context.Context, branchID int64, filters ListFilters) ([]Record, int, error)
	Exists(ctx context.Context, branchID int64, date time.Time) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const recordColumns = `id, branch_id, to_char(record_date, 'YYYY-MM-DD'), earnings, expenses, summary, created_by, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.BranchID, &rec.RecordDate, &rec.Earnings, &rec.Expenses, &rec.Summary, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Upsert writes the record for (branch, date) in one atomic statement. The
// second return value reports whether a new row was inserted; xmax = 0 only
// holds for rows created by the current transaction.
func (r *repository) Upsert(ctx context.Context, actorID int64, input Input) (Record, bool, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO branch_financials (branch_id, record_date, earnings, expenses, summary, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (branch_id, record_date) DO UPDATE
SET earnings = EXCLUDED.earnings, expenses = EXCLUDED.expenses, summary = EXCLUDED.summary, updated_at = NOW()
RETURNING `+recordColumns+`, (xmax = 0)`,
		input.BranchID, input.RecordDate, input.Earnings, input.Expenses, input.Summary, actorID)

	var (
		rec      Record
		inserted bool
	)
	err := row.Scan(&rec.ID, &rec.BranchID, &rec.RecordDate, &rec.Earnings, &rec.Expenses, &rec.Summary, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &inserted)
	if err != nil {
		return Record{}, false, translateConstraint(err)
	}
	return rec, inserted, nil
}

// translateConstraint maps foreign key violations onto the error taxonomy: a
// write against a branch id that does not resolve answers not-found rather
// than a generic store failure.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%w: branch does not exist", shared.ErrNotFound)
	}
	return err
}

func (r *repository) Get(ctx context.Context, branchID int64, date time.Time) (Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM branch_financials WHERE branch_id = $1 AND record_date = $2`, branchID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *repository) Exists(ctx context.Context, branchID int64, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM branch_financials WHERE branch_id = $1 AND record_date = $2)`, branchID, date).Scan(&exists)
	return exists, err
}

func (r *repository) List(ctx context.Context, branchID int64, filters ListFilters) ([]Record, int, error) {
	where := ` WHERE branch_id = $1`
	args := []any{branchID}
	argCount := 1

	if filters.From != nil {
		argCount++
		where += ` AND record_date >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		where += ` AND record_date <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM branch_financials`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordColumns + ` FROM branch_financials` + where + ` ORDER BY record_date DESC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
