// Package postgres adapts database/sql with the pgx stdlib driver to the
// PolyORM relational executor boundary.
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/polystore/polyorm/pkg/core"
)

// Executor implements core.SQLExecutor over a PostgreSQL connection. The
// engine compiles `?` placeholders; PostgreSQL wants `$n`, so statements are
// rewritten on the way through.
type Executor struct {
	db *sql.DB
}

// Open opens a PostgreSQL database from a DSN.
func Open(dsn string) (*Executor, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Executor{db: db}, nil
}

// DB exposes the underlying handle for schema setup.
func (e *Executor) DB() *sql.DB { return e.db }

// Close closes the database.
func (e *Executor) Close() error { return e.db.Close() }

func (e *Executor) Query(ctx context.Context, q *core.CompiledSQL) ([]map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, rewrite(q.Text), q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (e *Executor) Exec(ctx context.Context, q *core.CompiledSQL) (core.ExecResult, error) {
	res, err := e.db.ExecContext(ctx, rewrite(q.Text), q.Args...)
	if err != nil {
		return core.ExecResult{}, err
	}
	affected, _ := res.RowsAffected()
	// PostgreSQL has no LastInsertId; callers needing generated keys supply
	// them explicitly or use non-incrementing string keys.
	return core.ExecResult{RowsAffected: affected}, nil
}

// rewrite converts `?` placeholders to `$1..$n`, skipping quoted literals.
func rewrite(text string) string {
	var sb strings.Builder
	n := 0
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\'' {
			inString = !inString
		}
		if c == '?' && !inString {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
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
