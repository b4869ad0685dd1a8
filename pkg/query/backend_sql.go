package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/polystore/polyorm/pkg/clause"
	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/schema"
)

// sqlBackend executes compiled statements through a SQLExecutor.
// Has-conditions compile inline as correlated subqueries, so every terminal
// operation is a single statement.
type sqlBackend struct {
	exec core.SQLExecutor
	reg  *schema.Registry
}

// NewSQLBackend wires a relational executor into the builder.
func NewSQLBackend(exec core.SQLExecutor, reg *schema.Registry) Backend {
	return &sqlBackend{exec: exec, reg: reg}
}

func (s *sqlBackend) Fetch(ctx context.Context, b *Builder) ([]map[string]any, error) {
	c := &sqlCompiler{reg: s.reg}
	compiled := c.compileSelect(b, c.selectColumns(b))
	rows, err := s.exec.Query(ctx, compiled)
	if err != nil {
		return nil, errors.Driver("fetch", b.def.Name, err)
	}
	return rows, nil
}

func (s *sqlBackend) CountRows(ctx context.Context, b *Builder) (int64, error) {
	v, err := s.AggregateRows(ctx, b, clause.Aggregate{Fn: "count"})
	return int64(v), err
}

func (s *sqlBackend) AggregateRows(ctx context.Context, b *Builder, agg clause.Aggregate) (float64, error) {
	expr := "COUNT(*)"
	if agg.Fn != "count" {
		expr = fmt.Sprintf("%s(%s)", strings.ToUpper(agg.Fn), qualify(b.def.Table, agg.Field))
	}
	c := &sqlCompiler{reg: s.reg}
	compiled := c.compileAggregate(b, expr+" AS aggregate")
	rows, err := s.exec.Query(ctx, compiled)
	if err != nil {
		return 0, errors.Driver(agg.Fn, b.def.Name, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toFloat(rows[0]["aggregate"]), nil
}

func (s *sqlBackend) InsertRow(ctx context.Context, def *schema.Definition, row map[string]any) (any, error) {
	c := &sqlCompiler{reg: s.reg}
	res, err := s.exec.Exec(ctx, c.compileInsert(def, row))
	if err != nil {
		return nil, errors.Driver("insert", def.Name, err)
	}
	if def.AutoIncrement {
		if _, ok := row[def.PrimaryKey]; !ok {
			return res.LastInsertID, nil
		}
	}
	return row[def.PrimaryKey], nil
}

func (s *sqlBackend) UpdateRows(ctx context.Context, b *Builder, values map[string]any) (int64, error) {
	c := &sqlCompiler{reg: s.reg}
	res, err := s.exec.Exec(ctx, c.compileUpdate(b, values))
	if err != nil {
		return 0, errors.Driver("update", b.def.Name, err)
	}
	return res.RowsAffected, nil
}

func (s *sqlBackend) DeleteRows(ctx context.Context, b *Builder) (int64, error) {
	c := &sqlCompiler{reg: s.reg}
	res, err := s.exec.Exec(ctx, c.compileDelete(b))
	if err != nil {
		return 0, errors.Driver("delete", b.def.Name, err)
	}
	return res.RowsAffected, nil
}

func (s *sqlBackend) TableInsert(ctx context.Context, table string, row map[string]any) error {
	c := &sqlCompiler{reg: s.reg}
	compiled := c.compileInsert(&schema.Definition{Name: table, Table: table, PrimaryKey: "id"}, row)
	if _, err := s.exec.Exec(ctx, compiled); err != nil {
		return errors.Driver("insert", table, err)
	}
	return nil
}

func (s *sqlBackend) TableUpdate(ctx context.Context, table string, match, values map[string]any) (int64, error) {
	sets := sortedKeys(values)
	wheres := sortedKeys(match)
	args := make([]any, 0, len(sets)+len(wheres))

	setParts := make([]string, len(sets))
	for i, f := range sets {
		setParts[i] = f + " = ?"
		args = append(args, values[f])
	}
	whereParts := make([]string, len(wheres))
	for i, f := range wheres {
		whereParts[i] = f + " = ?"
		args = append(args, match[f])
	}
	text := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(setParts, ", "), strings.Join(whereParts, " AND "))
	res, err := s.exec.Exec(ctx, &core.CompiledSQL{Text: text, Args: args})
	if err != nil {
		return 0, errors.Driver("update", table, err)
	}
	return res.RowsAffected, nil
}

func (s *sqlBackend) TableDelete(ctx context.Context, table string, match map[string]any) (int64, error) {
	wheres := sortedKeys(match)
	args := make([]any, 0, len(wheres))
	whereParts := make([]string, 0, len(wheres))
	for _, f := range wheres {
		if vs, ok := match[f].([]any); ok {
			placeholders := make([]string, len(vs))
			for i, v := range vs {
				placeholders[i] = "?"
				args = append(args, v)
			}
			whereParts = append(whereParts, fmt.Sprintf("%s IN (%s)", f, strings.Join(placeholders, ", ")))
			continue
		}
		whereParts = append(whereParts, f+" = ?")
		args = append(args, match[f])
	}
	text := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereParts, " AND "))
	res, err := s.exec.Exec(ctx, &core.CompiledSQL{Text: text, Args: args})
	if err != nil {
		return 0, errors.Driver("delete", table, err)
	}
	return res.RowsAffected, nil
}

func (s *sqlBackend) TableSelect(ctx context.Context, table string, in map[string][]any) ([]map[string]any, error) {
	fields := make([]string, 0, len(in))
	for f := range in {
		fields = append(fields, f)
	}
	// deterministic statement text
	sort.Strings(fields)

	args := make([]any, 0)
	whereParts := make([]string, 0, len(fields))
	for _, f := range fields {
		vs := in[f]
		if len(vs) == 0 {
			whereParts = append(whereParts, "1 = 0")
			continue
		}
		placeholders := make([]string, len(vs))
		for i, v := range vs {
			placeholders[i] = "?"
			args = append(args, v)
		}
		whereParts = append(whereParts, fmt.Sprintf("%s IN (%s)", f, strings.Join(placeholders, ", ")))
	}
	text := "SELECT * FROM " + table
	if len(whereParts) > 0 {
		text += " WHERE " + strings.Join(whereParts, " AND ")
	}
	rows, err := s.exec.Query(ctx, &core.CompiledSQL{Text: text, Args: args})
	if err != nil {
		return nil, errors.Driver("select", table, err)
	}
	return rows, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case nil:
		return 0
	default:
		return 0
	}
}
