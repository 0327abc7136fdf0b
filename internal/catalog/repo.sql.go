package catalog

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

// Repository persists items in PostgreSQL.
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

const itemColumns = `i.id, i.code, i.name, i.category_id, COALESCE(c.name, ''), i.unit, i.unit_price, i.stock, i.min_stock, i.max_stock,
	i.supplier_id, i.location, i.description, i.is_active, i.created_at, i.updated_at`

const itemFrom = `FROM items i LEFT JOIN categories c ON c.id = i.category_id`

// WithTx executes the callback inside a database transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{PgLedger: inventory.NewPgLedger(tx), PgStore: codegen.NewPgStore(tx), tx: tx})
	})
}

// List returns items ordered by name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(i.name ILIKE $%d OR i.code ILIKE $%d)", len(args), len(args)))
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("i.category_id = $%d", len(args)))
	}
	if filter.LowStockOnly {
		conds = append(conds, "i.stock <= i.min_stock")
	}
	if filter.ActiveOnly {
		conds = append(conds, "i.is_active")
	}
	query := `SELECT ` + itemColumns + "\n" + itemFrom
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY i.name, i.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get loads one item with its category name.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+"\n"+itemFrom+"\nWHERE i.id=$1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return item, err
}

// Delete removes an item; ledger rows and request lines keep it alive.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM items WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: item %d has stock transactions or request lines", shared.ErrConflict, id)
		}
		return db.Translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return nil
}

func (t *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO items (code, name, category_id, unit, unit_price, stock, min_stock, max_stock, supplier_id, location, description, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13) RETURNING id`,
		item.Code, item.Name, item.CategoryID, item.Unit, item.UnitPrice, item.Stock, item.MinStock, item.MaxStock,
		item.SupplierID, item.Location, item.Description, item.IsActive, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, fmt.Errorf("%w: item code %s already exists", shared.ErrConflict, item.Code)
		}
		return Item{}, err
	}
	return item, nil
}

func (t *txRepository) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+"\n"+itemFrom+"\nWHERE i.id=$1 FOR UPDATE OF i", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return item, err
}

// UpdateItem writes every column except code and stock.
func (t *txRepository) UpdateItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE items SET name=$2, category_id=$3, unit=$4, unit_price=$5, min_stock=$6, max_stock=$7,
	supplier_id=$8, location=$9, description=$10, is_active=$11, updated_at=$12
WHERE id=$1`, item.ID, item.Name, item.CategoryID, item.Unit, item.UnitPrice, item.MinStock, item.MaxStock,
		item.SupplierID, item.Location, item.Description, item.IsActive, item.UpdatedAt)
	return err
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.CategoryID, &item.CategoryName, &item.Unit, &item.UnitPrice,
		&item.Stock, &item.MinStock, &item.MaxStock, &item.SupplierID, &item.Location, &item.Description, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt)
	return item, err
}
