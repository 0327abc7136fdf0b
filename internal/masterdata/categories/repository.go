package categories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mdshared "github.com/assetdesk/assetdesk/internal/masterdata/shared"
	"github.com/assetdesk/assetdesk/internal/platform/db"
	"github.com/assetdesk/assetdesk/internal/shared"
)

type Repository interface {
	List(ctx context.Context, filters mdshared.ListFilters) ([]Category, error)
	Get(ctx context.Context, id int64) (Category, error)
	Create(ctx context.Context, category Category) (Category, error)
	Update(ctx context.Context, id int64, category Category) (Category, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const categoryColumns = `id, code, name, description, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters mdshared.ListFilters) ([]Category, error) {
	filters = filters.Normalize()
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	query += " ORDER BY " + sortOrder(filters)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Category, error) {
	c, err := scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	return c, err
}

func (r *repository) Create(ctx context.Context, category Category) (Category, error) {
	now := time.Now().UTC()
	c, err := scanCategory(r.pool.QueryRow(ctx, `INSERT INTO categories (code, name, description, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4) RETURNING `+categoryColumns, category.Code, category.Name, category.Description, now))
	if err != nil {
		return Category{}, db.Translate(err)
	}
	return c, nil
}

func (r *repository) Update(ctx context.Context, id int64, category Category) (Category, error) {
	c, err := scanCategory(r.pool.QueryRow(ctx, `UPDATE categories SET code=$2, name=$3, description=$4, updated_at=$5
WHERE id=$1 RETURNING `+categoryColumns, id, category.Code, category.Name, category.Description, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Category{}, db.Translate(err)
	}
	return c, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: category %d still has items", shared.ErrConflict, id)
		}
		return db.Translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	return nil
}

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func sortOrder(filters mdshared.ListFilters) string {
	dir := "ASC"
	if filters.Descending() {
		dir = "DESC"
	}
	if filters.SortBy == string(mdshared.SortByCode) {
		return "code " + dir + ", id"
	}
	return "name " + dir + ", id"
}
