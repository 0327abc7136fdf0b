package codegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/assetdesk/assetdesk/internal/shared"
)

// PgStore implements Store on a pgx transaction.
type PgStore struct {
	tx pgx.Tx
}

// NewPgStore binds the store to tx.
func NewPgStore(tx pgx.Tx) *PgStore {
	return &PgStore{tx: tx}
}

// Scoped runs fn under a savepoint. A failing statement aborts only the
// savepoint, which is rolled back so the outer transaction can continue.
func (s *PgStore) Scoped(ctx context.Context, fn func(context.Context, Store) error) error {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("codegen: savepoint: %w", err)
	}
	if err := fn(ctx, &PgStore{tx: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

// CategoryName returns the category's display name.
func (s *PgStore) CategoryName(ctx context.Context, categoryID int64) (string, error) {
	var name string
	err := s.tx.QueryRow(ctx, `SELECT name FROM categories WHERE id = $1`, categoryID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: category %d", shared.ErrNotFound, categoryID)
	}
	return name, err
}

// CountItemCodesWithPrefix counts items whose code starts with prefix.
func (s *PgStore) CountItemCodesWithPrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE code LIKE $1 || '%'`, prefix).Scan(&n)
	return n, err
}

// ItemCodeExists reports whether an item already uses code.
func (s *PgStore) ItemCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// CountRequestNumbersForYear counts requests already numbered in year.
func (s *PgStore) CountRequestNumbersForYear(ctx context.Context, year int) (int64, error) {
	var n int64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM requests WHERE request_number LIKE $1 || '%'`, RequestYearPrefix(year)).Scan(&n)
	return n, err
}

// NextSequence reserves the next value for scope. The upsert holds the row
// lock until the surrounding transaction ends.
func (s *PgStore) NextSequence(ctx context.Context, scope string, floor int64) (int64, error) {
	const stmt = `INSERT INTO code_sequences (scope, last_value, updated_at)
VALUES ($1, $2 + 1, NOW())
ON CONFLICT (scope) DO UPDATE
SET last_value = GREATEST(code_sequences.last_value, $2) + 1, updated_at = NOW()
RETURNING last_value`
	var n int64
	if err := s.tx.QueryRow(ctx, stmt, scope, floor).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
