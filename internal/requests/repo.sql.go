package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/platform/db"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// Repository persists requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	*inventory.PgLedger
	*codegen.PgStore
	tx pgx.Tx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const requestColumns = `r.id, r.request_number, r.employee_id, r.employee_name, r.department, r.request_date, r.needed_date,
	r.purpose, r.status, COALESCE(r.approved_by, ''), r.approved_date, COALESCE(r.rejection_reason, ''), r.notes,
	r.created_at, r.updated_at`

const lineColumns = `l.id, l.request_id, l.item_id, l.quantity_requested, l.quantity_approved, l.quantity_issued, l.status, l.notes,
	COALESCE(i.name, ''), COALESCE(i.code, ''), COALESCE(i.unit, ''), COALESCE(i.stock, 0)`

// WithTx executes the callback inside a database transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("requests repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{PgLedger: inventory.NewPgLedger(tx), PgStore: codegen.NewPgStore(tx), tx: tx})
	})
}

// List returns requests newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conds = append(conds, fmt.Sprintf("r.department = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(r.request_number ILIKE $%d OR r.employee_name ILIKE $%d)", len(args), len(args)))
	}
	query := `SELECT ` + requestColumns + "\nFROM requests r"
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf("\nORDER BY r.created_at DESC, r.id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	index := make(map[int64]int, len(out))
	for i, req := range out {
		ids[i] = req.ID
		index[req.ID] = i
	}
	lines, err := loadLines(ctx, r.pool, `l.request_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		i := index[line.RequestID]
		out[i].Lines = append(out[i].Lines, line)
	}
	return out, nil
}

// Get loads one request with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.pool, id, "")
}

func getRequest(ctx context.Context, q querier, id int64, lock string) (Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+"\nFROM requests r WHERE r.id = $1"+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = loadLines(ctx, q, `l.request_id = $1`, id)
	return req, err
}

func loadLines(ctx context.Context, q querier, cond string, arg any) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+`
FROM request_lines l LEFT JOIN items i ON i.id = l.item_id
WHERE `+cond+`
ORDER BY l.request_id, l.id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.QuantityRequested, &l.QuantityApproved, &l.QuantityIssued,
			&l.Status, &l.Notes, &l.ItemName, &l.ItemCode, &l.Unit, &l.AvailableStock); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepository) MissingItems(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT x.id FROM unnest($1::bigint[]) AS x(id)
LEFT JOIN items i ON i.id = x.id
WHERE i.id IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepository) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO requests (request_number, employee_id, employee_name, department, request_date, needed_date, purpose, status, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10) RETURNING id`,
		req.Number, req.EmployeeID, req.EmployeeName, req.Department, req.RequestDate, req.NeededDate, req.Purpose,
		string(req.Status), req.Notes, req.CreatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: request number %s already exists", shared.ErrConflict, req.Number)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertLines(ctx context.Context, requestID int64, lines []Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO request_lines (request_id, item_id, quantity_requested, quantity_approved, quantity_issued, status, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, requestID, l.ItemID, l.QuantityRequested, l.QuantityApproved, l.QuantityIssued, string(l.Status), l.Notes)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepository) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, t.tx, id, " FOR UPDATE")
}

func (t *txRepository) UpdateRequest(ctx context.Context, req Request) error {
	_, err := t.tx.Exec(ctx, `UPDATE requests SET status=$2, approved_by=NULLIF($3, ''), approved_date=$4, rejection_reason=NULLIF($5, ''),
	notes=$6, updated_at=$7
WHERE id=$1`, req.ID, string(req.Status), req.ApprovedBy, req.ApprovedDate, req.RejectionReason, req.Notes, req.UpdatedAt)
	return err
}

func (t *txRepository) UpdateLines(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`UPDATE request_lines SET quantity_approved=$2, quantity_issued=$3, status=$4 WHERE id=$1`,
			l.ID, l.QuantityApproved, l.QuantityIssued, string(l.Status))
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepository) DeleteRequest(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM requests WHERE id=$1`, id)
	if err != nil {
		return db.Translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	return nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.Number, &req.EmployeeID, &req.EmployeeName, &req.Department, &req.RequestDate, &req.NeededDate,
		&req.Purpose, &req.Status, &req.ApprovedBy, &req.ApprovedDate, &req.RejectionReason, &req.Notes,
		&req.CreatedAt, &req.UpdatedAt)
	return req, err
}
