package codegen

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type scanRow struct {
	vals []any
	err  error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *int64:
			*p = r.vals[i].(int64)
		case *bool:
			*p = r.vals[i].(bool)
		}
	}
	return nil
}

// scriptedTx answers QueryRow by matching a fragment of the statement.
type scriptedTx struct {
	pgx.Tx
	rows       map[string]scanRow
	savepoints []*scriptedTx
	committed  bool
	rolledBack bool
}

func (t *scriptedTx) Begin(context.Context) (pgx.Tx, error) {
	sp := &scriptedTx{rows: t.rows}
	t.savepoints = append(t.savepoints, sp)
	return sp, nil
}

func (t *scriptedTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *scriptedTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *scriptedTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	for fragment, row := range t.rows {
		if strings.Contains(sql, fragment) {
			return row
		}
	}
	return scanRow{err: pgx.ErrNoRows}
}

func TestPgStoreReleasesSavepoint(t *testing.T) {
	tx := &scriptedTx{rows: map[string]scanRow{
		"FROM categories": {vals: []any{"Paper & Printing"}},
		"COUNT(*)":        {vals: []any{int64(0)}},
		"code_sequences":  {vals: []any{int64(1)}},
		"EXISTS":          {vals: []any{false}},
	}}

	code := NewGenerator(nil, nil).ItemCode(context.Background(), NewPgStore(tx), 1)
	require.Equal(t, "PPR-001", code)
	require.Len(t, tx.savepoints, 1)
	require.True(t, tx.savepoints[0].committed)
	require.False(t, tx.rolledBack)
}

func TestPgStoreRollsBackSavepointOnFailure(t *testing.T) {
	tx := &scriptedTx{rows: map[string]scanRow{
		"FROM categories": {vals: []any{"Paper & Printing"}},
		"COUNT(*)":        {vals: []any{int64(0)}},
		"code_sequences":  {err: &pgconn.PgError{Code: "42P01", Message: `relation "code_sequences" does not exist`}},
	}}
	gen := NewGenerator(nil, nil)
	gen.now = func() time.Time { return time.Unix(0, 7) }

	code := gen.ItemCode(context.Background(), NewPgStore(tx), 1)
	require.Equal(t, "PPR-7", code)
	require.Len(t, tx.savepoints, 1)
	require.True(t, tx.savepoints[0].rolledBack)
	require.False(t, tx.savepoints[0].committed)
	require.False(t, tx.rolledBack)
	require.False(t, tx.committed)
}
