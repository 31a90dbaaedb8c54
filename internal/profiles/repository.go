package profiles

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// Repository provides profile persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (Profile, error)
	List(ctx context.Context, filters ListFilters) ([]Profile, int, error)
	UpdateContact(ctx context.Context, id int64, firstName, lastName, phone string) error
	UpdateRole(ctx context.Context, id int64, role policy.Role) error
	AssignStaff(ctx context.Context, id int64, branchID int64) error
	UnassignStaff(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const profileColumns = `id, email, first_name, last_name, phone, role, staff_branch_id, is_active, created_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.Role, &p.StaffBranchID, &p.IsActive, &p.CreatedAt)
	return p, err
}

func (r *repository) Get(ctx context.Context, id int64) (Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Profile, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		ph := "$" + strconv.Itoa(argCount)
		where += ` AND (email ILIKE ` + ph + ` OR first_name ILIKE ` + ph + ` OR last_name ILIKE ` + ph + `)`
		args = append(args, "%"+strings.TrimSpace(filters.Search)+"%")
	}
	if filters.Role != "" {
		argCount++
		where += ` AND role = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Role))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + profileColumns + ` FROM profiles` + where + ` ORDER BY email`
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

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repository) UpdateContact(ctx context.Context, id int64, firstName, lastName, phone string) error {
	tag, err := r.db.Exec(ctx, `UPDATE profiles SET first_name = $2, last_name = $3, phone = $4 WHERE id = $1`, id, firstName, lastName, phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateRole(ctx context.Context, id int64, role policy.Role) error {
	tag, err := r.db.Exec(ctx, `UPDATE profiles SET role = $2, staff_branch_id = CASE WHEN $2 = 'branch_staff' THEN staff_branch_id ELSE NULL END WHERE id = $1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) AssignStaff(ctx context.Context, id int64, branchID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE profiles SET role = 'branch_staff', staff_branch_id = $2 WHERE id = $1`, id, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UnassignStaff(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE profiles SET role = 'user', staff_branch_id = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
