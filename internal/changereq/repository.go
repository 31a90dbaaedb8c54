package changereq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

// ErrAlreadyDecided signals a transition attempted on a terminal request.
var ErrAlreadyDecided = fmt.Errorf("%w: change request already decided", shared.ErrConflict)

// Repository provides change-request persistence.
type Repository interface {
	Create(ctx context.Context, req ChangeRequest) (ChangeRequest, error)
	Get(ctx context.Context, publicID uuid.UUID) (Row, error)
	List(ctx context.Context, filters Filters) ([]Row, int, error)
	Decide(ctx context.Context, fn func(DecisionTx) error) error
	Finalize(ctx context.Context, publicID uuid.UUID, deciderID int64, to Status) (ChangeRequest, error)
	Cancel(ctx context.Context, publicID uuid.UUID, requesterID int64) error
	PendingCount(ctx context.Context, branchIDs []int64, requesterID int64) (int, error)
}

// DecisionTx exposes the approval side effects, each bound to the same
// transaction: the status transition, the record commit and the log append
// either all land or none do.
type DecisionTx interface {
	TransitionToApproved(ctx context.Context, publicID uuid.UUID, deciderID int64) (ChangeRequest, error)
	CommitRecord(ctx context.Context, req ChangeRequest, deciderID int64) error
	AppendLog(ctx context.Context, branchID, actorID int64, action finlog.Action, data finlog.Snapshot) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const requestColumns = `id, public_id, requester_id, branch_id, to_char(record_date, 'YYYY-MM-DD'), old_data, new_data, status, decided_by, decided_at, created_at`

func (r *repository) Create(ctx context.Context, req ChangeRequest) (ChangeRequest, error) {
	oldData, err := marshalSnapshot(req.OldData)
	if err != nil {
		return ChangeRequest{}, err
	}
	newData, err := json.Marshal(req.NewData)
	if err != nil {
		return ChangeRequest{}, err
	}
	row := r.db.QueryRow(ctx, `INSERT INTO financial_change_requests
(public_id, requester_id, branch_id, record_date, old_data, new_data, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING `+requestColumns,
		req.PublicID, req.RequesterID, req.BranchID, req.RecordDate, oldData, newData)
	created, err := scanRequest(row)
	if err != nil {
		return ChangeRequest{}, translateConstraint(err)
	}
	return created, nil
}

const pgForeignKeyViolation = "23503"

// translateConstraint maps foreign key violations onto the error taxonomy: a
// request against a branch id that does not resolve answers not-found.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%w: branch does not exist", shared.ErrNotFound)
	}
	return err
}

func (r *repository) Get(ctx context.Context, publicID uuid.UUID) (Row, error) {
	row := r.db.QueryRow(ctx, `SELECT cr.id, cr.public_id, cr.requester_id, cr.branch_id, to_char(cr.record_date, 'YYYY-MM-DD'),
cr.old_data, cr.new_data, cr.status, cr.decided_by, cr.decided_at, cr.created_at, b.name, p.email
FROM financial_change_requests cr
JOIN branches b ON b.id = cr.branch_id
JOIN profiles p ON p.id = cr.requester_id
WHERE cr.public_id = $1`, publicID)
	out, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, shared.ErrNotFound
		}
		return Row{}, err
	}
	return out, nil
}

func (r *repository) List(ctx context.Context, filters Filters) ([]Row, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		where += ` AND cr.status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if len(filters.BranchIDs) > 0 {
		argCount++
		where += ` AND cr.branch_id = ANY($` + strconv.Itoa(argCount) + `)`
		args = append(args, filters.BranchIDs)
	}
	if filters.RequesterID != 0 {
		argCount++
		where += ` AND cr.requester_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.RequesterID)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM financial_change_requests cr`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT cr.id, cr.public_id, cr.requester_id, cr.branch_id, to_char(cr.record_date, 'YYYY-MM-DD'),
cr.old_data, cr.new_data, cr.status, cr.decided_by, cr.decided_at, cr.created_at, b.name, p.email
FROM financial_change_requests cr
JOIN branches b ON b.id = cr.branch_id
JOIN profiles p ON p.id = cr.requester_id` + where + ` ORDER BY cr.created_at DESC`
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

	var out []Row
	for rows.Next() {
		item, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

// Decide runs fn against transaction-scoped decision primitives. An error
// from any step rolls the whole decision back.
func (r *repository) Decide(ctx context.Context, fn func(DecisionTx) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&decisionTx{tx: tx, repo: r})
	})
}

type decisionTx struct {
	tx   pgx.Tx
	repo *repository
}

// TransitionToApproved flips pending→approved. The conditional UPDATE doubles
// as the terminal-state guard: zero matched rows means the request was already
// decided (or never existed).
func (d *decisionTx) TransitionToApproved(ctx context.Context, publicID uuid.UUID, deciderID int64) (ChangeRequest, error) {
	row := d.tx.QueryRow(ctx, `UPDATE financial_change_requests
SET status = 'approved', decided_by = $2, decided_at = NOW()
WHERE public_id = $1 AND status = 'pending'
RETURNING `+requestColumns, publicID, deciderID)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, d.repo.decideGuardError(ctx, publicID)
		}
		return ChangeRequest{}, shared.NewStepError("transition-status", err)
	}
	return req, nil
}

// CommitRecord upserts the request's new_data into branch_financials.
func (d *decisionTx) CommitRecord(ctx context.Context, req ChangeRequest, deciderID int64) error {
	if _, err := d.tx.Exec(ctx, `INSERT INTO branch_financials (branch_id, record_date, earnings, expenses, summary, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (branch_id, record_date) DO UPDATE
SET earnings = EXCLUDED.earnings, expenses = EXCLUDED.expenses, summary = EXCLUDED.summary, updated_at = NOW()`,
		req.BranchID, req.RecordDate, req.NewData.Earnings, req.NewData.Expenses, req.NewData.Summary, deciderID); err != nil {
		return shared.NewStepError("commit-record", err)
	}
	return nil
}

// AppendLog appends one financial log entry.
func (d *decisionTx) AppendLog(ctx context.Context, branchID, actorID int64, action finlog.Action, data finlog.Snapshot) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return shared.NewStepError("encode-log", err)
	}
	if _, err := d.tx.Exec(ctx, `INSERT INTO financial_logs (branch_id, actor_id, action, data) VALUES ($1, $2, $3, $4)`,
		branchID, actorID, string(action), payload); err != nil {
		return shared.NewStepError("append-log", err)
	}
	return nil
}

// Finalize flips pending→rejected (or another terminal state with no side
// effects) with the same one-row guard as Approve.
func (r *repository) Finalize(ctx context.Context, publicID uuid.UUID, deciderID int64, to Status) (ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `UPDATE financial_change_requests
SET status = $3, decided_by = $2, decided_at = NOW()
WHERE public_id = $1 AND status = 'pending'
RETURNING `+requestColumns, publicID, deciderID, string(to))
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, r.decideGuardError(ctx, publicID)
		}
		return ChangeRequest{}, err
	}
	return req, nil
}

// Cancel flips pending→cancelled, restricted to the original requester.
func (r *repository) Cancel(ctx context.Context, publicID uuid.UUID, requesterID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE financial_change_requests
SET status = 'cancelled', decided_at = NOW()
WHERE public_id = $1 AND requester_id = $2 AND status = 'pending'`, publicID, requesterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.cancelGuardError(ctx, publicID, requesterID)
	}
	return nil
}

func (r *repository) PendingCount(ctx context.Context, branchIDs []int64, requesterID int64) (int, error) {
	query := `SELECT COUNT(*) FROM financial_change_requests WHERE status = 'pending'`
	args := []any{}
	argCount := 0
	if branchIDs != nil {
		argCount++
		query += ` AND branch_id = ANY($` + strconv.Itoa(argCount) + `)`
		args = append(args, branchIDs)
	}
	if requesterID != 0 {
		argCount++
		query += ` AND requester_id = $` + strconv.Itoa(argCount)
		args = append(args, requesterID)
	}
	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// decideGuardError distinguishes "no such request" from "already terminal"
// after a zero-row conditional update.
func (r *repository) decideGuardError(ctx context.Context, publicID uuid.UUID) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM financial_change_requests WHERE public_id = $1`, publicID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	}
	return ErrAlreadyDecided
}

func (r *repository) cancelGuardError(ctx context.Context, publicID uuid.UUID, requesterID int64) error {
	var (
		status    string
		requester int64
	)
	err := r.db.QueryRow(ctx, `SELECT status, requester_id FROM financial_change_requests WHERE public_id = $1`, publicID).Scan(&status, &requester)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	}
	if requester != requesterID {
		return shared.ErrForbidden
	}
	return ErrAlreadyDecided
}

func scanRequest(row pgx.Row) (ChangeRequest, error) {
	var (
		req     ChangeRequest
		oldData []byte
		newData []byte
	)
	err := row.Scan(&req.ID, &req.PublicID, &req.RequesterID, &req.BranchID, &req.RecordDate, &oldData, &newData, &req.Status, &req.DecidedBy, &req.DecidedAt, &req.CreatedAt)
	if err != nil {
		return ChangeRequest{}, err
	}
	if err := unmarshalSnapshots(&req, oldData, newData); err != nil {
		return ChangeRequest{}, err
	}
	return req, nil
}

func scanRow(row pgx.Row) (Row, error) {
	var (
		out     Row
		oldData []byte
		newData []byte
	)
	err := row.Scan(&out.ID, &out.PublicID, &out.RequesterID, &out.BranchID, &out.RecordDate, &oldData, &newData, &out.Status, &out.DecidedBy, &out.DecidedAt, &out.CreatedAt, &out.BranchName, &out.RequesterEmail)
	if err != nil {
		return Row{}, err
	}
	if err := unmarshalSnapshots(&out.ChangeRequest, oldData, newData); err != nil {
		return Row{}, err
	}
	return out, nil
}

func unmarshalSnapshots(req *ChangeRequest, oldData, newData []byte) error {
	if len(oldData) > 0 {
		var snap finlog.Snapshot
		if err := json.Unmarshal(oldData, &snap); err != nil {
			return err
		}
		req.OldData = &snap
	}
	if len(newData) > 0 {
		if err := json.Unmarshal(newData, &req.NewData); err != nil {
			return err
		}
	}
	return nil
}

func marshalSnapshot(snap *finlog.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, nil
	}
	return json.Marshal(snap)
}
