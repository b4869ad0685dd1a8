// Package sqlite adapts database/sql with the pure-Go SQLite driver to the
// PolyORM relational executor boundary.
package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/polystore/polyorm/pkg/core"
)

// Executor implements core.SQLExecutor over a *sql.DB.
type Executor struct {
	db *sql.DB
}

// Open opens a SQLite database (":memory:" for an in-memory one).
func Open(dsn string) (*Executor, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Executor{db: db}, nil
}

// DB exposes the underlying handle for schema setup.
func (e *Executor) DB() *sql.DB { return e.db }

// Close closes the database.
func (e *Executor) Close() error { return e.db.Close() }

// Query runs a compiled statement and scans every row into a generic map.
func (e *Executor) Query(ctx context.Context, q *core.CompiledSQL) ([]map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, q.Text, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Exec runs a compiled write statement.
func (e *Executor) Exec(ctx context.Context, q *core.CompiledSQL) (core.ExecResult, error) {
	res, err := e.db.ExecContext(ctx, q.Text, q.Args...)
	if err != nil {
		return core.ExecResult{}, err
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return core.ExecResult{RowsAffected: affected, LastInsertID: lastID}, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
