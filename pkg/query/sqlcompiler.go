package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/polystore/polyorm/pkg/clause"
	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/schema"
)

// sqlCompiler renders the clause model to parameterized statement text with
// positional parameters collected in encounter order.
type sqlCompiler struct {
	reg  *schema.Registry
	args []any
}

func (c *sqlCompiler) compileSelect(b *Builder, columns string) *core.CompiledSQL {
	var sb strings.Builder
	c.writeSelectCore(&sb, b, columns)

	if orders := b.Orders(); len(orders) > 0 {
		sb.WriteString(" ORDER BY ")
		parts := make([]string, 0, len(orders))
		for _, o := range orders {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, qualify(b.def.Table, o.Field)+" "+dir)
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	limit, offset := b.Bounds()
	if limit >= 0 {
		sb.WriteString(" LIMIT ?")
		c.args = append(c.args, limit)
	}
	if offset >= 0 {
		if limit < 0 {
			// SQLite only accepts OFFSET after LIMIT, and Postgres rejects
			// a negative limit, so an unbounded fetch gets the max bound.
			sb.WriteString(" LIMIT ?")
			c.args = append(c.args, int64(math.MaxInt64))
		}
		sb.WriteString(" OFFSET ?")
		c.args = append(c.args, offset)
	}
	return &core.CompiledSQL{Text: sb.String(), Args: c.args}
}

// compileAggregate shares the WHERE path with compileSelect but leaves out
// ordering and bounds; Postgres rejects ORDER BY on a bare aggregate.
func (c *sqlCompiler) compileAggregate(b *Builder, columns string) *core.CompiledSQL {
	var sb strings.Builder
	c.writeSelectCore(&sb, b, columns)
	return &core.CompiledSQL{Text: sb.String(), Args: c.args}
}

func (c *sqlCompiler) writeSelectCore(sb *strings.Builder, b *Builder, columns string) {
	def := b.def
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM ")
	sb.WriteString(def.Table)

	if where := c.compileWhere(def, b.Clauses()); where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if groups := b.Groups(); len(groups) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(qualifyAll(def.Table, groups), ", "))
	}
}

func (c *sqlCompiler) selectColumns(b *Builder) string {
	cols := b.Columns()
	if len(cols) == 0 {
		return b.def.Table + ".*"
	}
	return strings.Join(qualifyAll(b.def.Table, cols), ", ")
}

// compileWhere renders a clause list. The first clause in any list ignores
// its connective.
func (c *sqlCompiler) compileWhere(def *schema.Definition, clauses []clause.Clause) string {
	var sb strings.Builder
	for _, cl := range clauses {
		frag := c.compileClause(def, cl)
		if frag == "" {
			continue
		}
		if sb.Len() > 0 {
			if cl.Connective == clause.Or {
				sb.WriteString(" OR ")
			} else {
				sb.WriteString(" AND ")
			}
		}
		sb.WriteString(frag)
	}
	return sb.String()
}

func (c *sqlCompiler) compileClause(def *schema.Definition, cl clause.Clause) string {
	switch cl.Kind {
	case clause.Basic:
		if cl.Value == nil {
			return qualify(def.Table, cl.Field) + " IS NULL"
		}
		c.args = append(c.args, cl.Value)
		op := cl.Operator
		if op == "like" {
			op = "LIKE"
		}
		return fmt.Sprintf("%s %s ?", qualify(def.Table, cl.Field), op)
	case clause.In:
		if len(cl.Values) == 0 {
			// empty IN matches nothing; empty NOT IN matches everything
			if cl.Not {
				return "1 = 1"
			}
			return "1 = 0"
		}
		placeholders := make([]string, len(cl.Values))
		for i, v := range cl.Values {
			placeholders[i] = "?"
			c.args = append(c.args, v)
		}
		op := "IN"
		if cl.Not {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", qualify(def.Table, cl.Field), op, strings.Join(placeholders, ", "))
	case clause.Between:
		c.args = append(c.args, cl.Values[0], cl.Values[1])
		return fmt.Sprintf("%s BETWEEN ? AND ?", qualify(def.Table, cl.Field))
	case clause.Null:
		if cl.Not {
			return qualify(def.Table, cl.Field) + " IS NOT NULL"
		}
		return qualify(def.Table, cl.Field) + " IS NULL"
	case clause.Nested:
		inner := c.compileWhere(def, cl.Sub)
		if inner == "" {
			return ""
		}
		return "(" + inner + ")"
	case clause.Has:
		return c.compileHas(def, cl)
	}
	return ""
}

// compileHas renders a relation-existence condition as a correlated count
// subquery appended at the outer level. Nested has-conditions inside the
// constraint compile recursively.
func (c *sqlCompiler) compileHas(def *schema.Definition, cl clause.Clause) string {
	rel, relatedDef, err := c.reg.Relation(def.Name, cl.Relation)
	if err != nil {
		// Unknown relations were filtered at append time; compile-time
		// misses contribute nothing.
		return ""
	}

	var sub strings.Builder
	switch rel.Kind {
	case schema.BelongsToMany:
		ownerKey := rel.OwnerKey
		if ownerKey == "" {
			ownerKey = relatedDef.PrimaryKey
		}
		localKey := rel.LocalKey
		if localKey == "" {
			localKey = def.PrimaryKey
		}
		fmt.Fprintf(&sub, "SELECT COUNT(*) FROM %s INNER JOIN %s ON %s = %s WHERE %s = %s",
			rel.PivotTable, relatedDef.Table,
			qualify(relatedDef.Table, ownerKey), qualify(rel.PivotTable, rel.PivotRelatedKey),
			qualify(rel.PivotTable, rel.PivotForeignKey), qualify(def.Table, localKey))
	case schema.BelongsTo:
		ownerKey := rel.OwnerKey
		if ownerKey == "" {
			ownerKey = relatedDef.PrimaryKey
		}
		fmt.Fprintf(&sub, "SELECT COUNT(*) FROM %s WHERE %s = %s",
			relatedDef.Table,
			qualify(relatedDef.Table, ownerKey), qualify(def.Table, rel.ForeignKey))
	default:
		localKey := rel.LocalKey
		if localKey == "" {
			localKey = def.PrimaryKey
		}
		fmt.Fprintf(&sub, "SELECT COUNT(*) FROM %s WHERE %s = %s",
			relatedDef.Table,
			qualify(relatedDef.Table, rel.ForeignKey), qualify(def.Table, localKey))
		if rel.Kind == schema.MorphOne || rel.Kind == schema.MorphMany {
			sub.WriteString(fmt.Sprintf(" AND %s = ?", qualify(relatedDef.Table, rel.MorphType)))
			c.args = append(c.args, def.Name)
		}
	}

	if relatedDef.SoftDeletes {
		fmt.Fprintf(&sub, " AND %s IS NULL", qualify(relatedDef.Table, schema.DeletedAtField))
	}
	if len(cl.Sub) > 0 {
		if constraints := c.compileWhere(relatedDef, cl.Sub); constraints != "" {
			sub.WriteString(" AND (")
			sub.WriteString(constraints)
			sub.WriteString(")")
		}
	}

	c.args = append(c.args, cl.Threshold)
	return fmt.Sprintf("(%s) %s ?", sub.String(), cl.Comparator)
}

func (c *sqlCompiler) compileInsert(def *schema.Definition, row map[string]any) *core.CompiledSQL {
	fields := sortedKeys(row)
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		placeholders[i] = "?"
		c.args = append(c.args, row[f])
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.Table, strings.Join(fields, ", "), strings.Join(placeholders, ", "))
	return &core.CompiledSQL{Text: text, Args: c.args}
}

func (c *sqlCompiler) compileUpdate(b *Builder, values map[string]any) *core.CompiledSQL {
	def := b.def
	fields := sortedKeys(values)
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = f + " = ?"
		c.args = append(c.args, values[f])
	}
	text := fmt.Sprintf("UPDATE %s SET %s", def.Table, strings.Join(sets, ", "))
	if where := c.compileWhere(def, b.Clauses()); where != "" {
		text += " WHERE " + where
	}
	return &core.CompiledSQL{Text: text, Args: c.args}
}

func (c *sqlCompiler) compileDelete(b *Builder) *core.CompiledSQL {
	def := b.def
	text := "DELETE FROM " + def.Table
	if where := c.compileWhere(def, b.Clauses()); where != "" {
		text += " WHERE " + where
	}
	return &core.CompiledSQL{Text: text, Args: c.args}
}

// qualify prefixes unqualified column names with the active table to avoid
// ambiguity inside subqueries.
func qualify(table, field string) string {
	if strings.Contains(field, ".") || strings.Contains(field, "(") {
		return field
	}
	return table + "." + field
}

func qualifyAll(table string, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = qualify(table, f)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
