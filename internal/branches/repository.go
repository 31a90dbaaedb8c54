package branches

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

const pgUniqueViolation = "23505"

// Repository provides branch persistence.
type Repository interface {
	List(ctx context.Context, includeArchived bool) ([]Branch, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Branch, error)
	Get(ctx context.Context, id int64) (Branch, error)
	Create(ctx context.Context, name, address string) (Branch, error)
	Update(ctx context.Context, id int64, name, address string) error
	Archive(ctx context.Context, id int64) error
	DeleteCascade(ctx context.Context, id int64) error
	AssignManager(ctx context.Context, managerID, branchID int64) error
	UnassignManager(ctx context.Context, managerID, branchID int64) error
	ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error)
	ListAssignments(ctx context.Context, branchID int64) ([]ManagerAssignment, error)
	ActiveBranchIDs(ctx context.Context) ([]int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const branchColumns = `id, name, COALESCE(address, ''), archived, created_at`

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.Name, &b.Address, &b.Archived, &b.CreatedAt)
	return b, err
}

func (r *repository) List(ctx context.Context, includeArchived bool) ([]Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches`
	if !includeArchived {
		query += ` WHERE NOT archived`
	}
	query += ` ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBranches(rows)
}

func (r *repository) ListByIDs(ctx context.Context, ids []int64) ([]Branch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBranches(rows)
}

func collectBranches(rows pgx.Rows) ([]Branch, error) {
	var out []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Branch, error) {
	b, err := scanBranch(r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, shared.ErrNotFound
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *repository) Create(ctx context.Context, name, address string) (Branch, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO branches (name, address) VALUES ($1, NULLIF($2, '')) RETURNING `+branchColumns, name, address)
	b, err := scanBranch(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Branch{}, fmt.Errorf("%w: a branch named %q already exists", shared.ErrConflict, name)
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *repository) Update(ctx context.Context, id int64, name, address string) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET name = $2, address = NULLIF($3, '') WHERE id = $1`, id, name, address)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: a branch named %q already exists", shared.ErrConflict, name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Archive(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET archived = TRUE WHERE id = $1 AND NOT archived`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteCascade removes the branch and every row referencing it in a single
// transaction: logs, change requests, financial records, manager assignments,
// staff placements, then the branch itself. Archiving is the path that keeps
// history; a hard delete takes everything with it.
func (r *repository) DeleteCascade(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM financial_logs WHERE branch_id = $1`, id); err != nil {
			return shared.NewStepError("clear-logs", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM financial_change_requests WHERE branch_id = $1`, id); err != nil {
			return shared.NewStepError("clear-change-requests", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM branch_financials WHERE branch_id = $1`, id); err != nil {
			return shared.NewStepError("clear-financials", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM manager_branch_assignments WHERE branch_id = $1`, id); err != nil {
			return shared.NewStepError("clear-manager-assignments", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE profiles SET role = 'user', staff_branch_id = NULL WHERE staff_branch_id = $1`, id); err != nil {
			return shared.NewStepError("clear-staff-placements", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM branches WHERE id = $1`, id)
		if err != nil {
			return shared.NewStepError("delete-branch", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

func (r *repository) AssignManager(ctx context.Context, managerID, branchID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO manager_branch_assignments (manager_id, branch_id) VALUES ($1, $2)`, managerID, branchID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: manager is already assigned to this branch", shared.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *repository) UnassignManager(ctx context.Context, managerID, branchID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM manager_branch_assignments WHERE manager_id = $1 AND branch_id = $2`, managerID, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ManagerBranchIDs(ctx context.Context, managerID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT a.branch_id FROM manager_branch_assignments a
JOIN branches b ON b.id = a.branch_id AND NOT b.archived
WHERE a.manager_id = $1 ORDER BY a.branch_id`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *repository) ListAssignments(ctx context.Context, branchID int64) ([]ManagerAssignment, error) {
	rows, err := r.db.Query(ctx, `SELECT a.manager_id, p.email, a.branch_id, b.name, a.created_at
FROM manager_branch_assignments a
JOIN profiles p ON p.id = a.manager_id
JOIN branches b ON b.id = a.branch_id
WHERE a.branch_id = $1 ORDER BY p.email`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ManagerAssignment
	for rows.Next() {
		var a ManagerAssignment
		if err := rows.Scan(&a.ManagerID, &a.ManagerEmail, &a.BranchID, &a.BranchName, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) ActiveBranchIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM branches WHERE NOT archived ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
