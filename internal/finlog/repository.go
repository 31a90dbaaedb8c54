package finlog

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides financial log persistence.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, filters Filters) ([]Row, int, error)
	ListAll(ctx context.Context, filters Filters) ([]Row, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) Insert(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO financial_logs (branch_id, actor_id, action, data) VALUES ($1, $2, $3, $4)`,
		entry.BranchID, entry.ActorID, string(entry.Action), data)
	return err
}

const listSelect = `SELECT l.id, l.branch_id, l.actor_id, l.action, l.data, l.created_at, b.name, p.email
FROM financial_logs l
JOIN branches b ON b.id = l.branch_id
JOIN profiles p ON p.id = l.actor_id`

func buildWhere(filters Filters) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if len(filters.BranchIDs) > 0 {
		argCount++
		where += ` AND l.branch_id = ANY($` + strconv.Itoa(argCount) + `)`
		args = append(args, filters.BranchIDs)
	}
	if filters.From != nil {
		argCount++
		where += ` AND l.created_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		where += ` AND l.created_at < $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}
	return where, args
}

func (r *repository) List(ctx context.Context, filters Filters) ([]Row, int, error) {
	where, args := buildWhere(filters)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM financial_logs l`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := listSelect + where + ` ORDER BY l.created_at DESC, l.id DESC`
	argCount := len(args)
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

	rows, err := r.queryRows(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) ListAll(ctx context.Context, filters Filters) ([]Row, error) {
	where, args := buildWhere(filters)
	return r.queryRows(ctx, listSelect+where+` ORDER BY l.created_at DESC, l.id DESC`, args)
}

func (r *repository) queryRows(ctx context.Context, query string, args []any) ([]Row, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row  Row
			data []byte
		)
		if err := rows.Scan(&row.ID, &row.BranchID, &row.ActorID, &row.Action, &data, &row.CreatedAt, &row.BranchName, &row.ActorEmail); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &row.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
