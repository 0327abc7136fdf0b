package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetdesk/assetdesk/internal/platform/db"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PgLedger implements LedgerTx on a pgx transaction.
type PgLedger struct {
	tx pgx.Tx
}

// NewPgLedger binds the ledger operations to tx.
func NewPgLedger(tx pgx.Tx) *PgLedger {
	return &PgLedger{tx: tx}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgLedger(tx))
	})
}

// ListTransactions returns ledger rows newest first, joined with item names.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ItemID > 0 {
		add("t.item_id = $%d", filter.ItemID)
	}
	if filter.Type != "" {
		add("t.transaction_type = $%d", string(filter.Type))
	}
	if filter.ReferenceType != "" {
		add("t.reference_type = $%d", string(filter.ReferenceType))
	}
	if filter.ReferenceID > 0 {
		add("t.reference_id = $%d", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		add("t.created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("t.created_at <= $%d", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT t.id, t.item_id, COALESCE(i.name, ''), t.transaction_type, t.quantity, t.previous_stock, t.new_stock,
	t.reference_type, t.reference_id, t.notes, t.created_by, t.created_at
FROM stock_transactions t
LEFT JOIN items i ON i.id = t.item_id`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf("\nORDER BY t.created_at DESC, t.id DESC\nLIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StockTransaction{}
	for rows.Next() {
		var (
			tx      StockTransaction
			txType  string
			refType string
		)
		if err := rows.Scan(&tx.ID, &tx.ItemID, &tx.ItemName, &txType, &tx.Quantity, &tx.PreviousStock, &tx.NewStock,
			&refType, &tx.ReferenceID, &tx.Notes, &tx.CreatedBy, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = TransactionType(txType)
		tx.ReferenceType = ReferenceType(refType)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// FindDiscrepancies compares every item's stock with the new_stock of its
// latest ledger row, treating items without rows as expecting zero.
func (r *Repository) FindDiscrepancies(ctx context.Context) ([]Discrepancy, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.code, i.name, i.stock, COALESCE(l.new_stock, 0), l.new_stock IS NOT NULL
FROM items i
LEFT JOIN LATERAL (
	SELECT t.new_stock FROM stock_transactions t
	WHERE t.item_id = i.id
	ORDER BY t.id DESC
	LIMIT 1
) l ON TRUE
WHERE i.stock <> COALESCE(l.new_stock, 0)
ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Discrepancy{}
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ItemID, &d.ItemCode, &d.ItemName, &d.Stock, &d.LedgerStock, &d.HasLedger); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LockItem reads the item row FOR UPDATE.
func (l *PgLedger) LockItem(ctx context.Context, itemID int64) (ItemStock, error) {
	var item ItemStock
	err := l.tx.QueryRow(ctx, `SELECT id, code, name, stock FROM items WHERE id=$1 FOR UPDATE`, itemID).
		Scan(&item.ID, &item.Code, &item.Name, &item.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemStock{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return item, err
}

// SetItemStock stores the new stock level.
func (l *PgLedger) SetItemStock(ctx context.Context, itemID, stock int64, at time.Time) error {
	tag, err := l.tx.Exec(ctx, `UPDATE items SET stock=$2, updated_at=$3 WHERE id=$1`, itemID, stock, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return nil
}

// InsertTransaction appends a ledger row.
func (l *PgLedger) InsertTransaction(ctx context.Context, entry StockTransaction) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO stock_transactions (item_id, transaction_type, quantity, previous_stock, new_stock, reference_type, reference_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.ItemID, string(entry.Type), entry.Quantity, entry.PreviousStock, entry.NewStock,
		string(entry.ReferenceType), entry.ReferenceID, entry.Notes, entry.CreatedBy, entry.CreatedAt).Scan(&id)
	return id, err
}
