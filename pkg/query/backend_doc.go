package query

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/polystore/polyorm/pkg/clause"
	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/ident"
	"github.com/polystore/polyorm/pkg/logger"
	"github.com/polystore/polyorm/pkg/schema"
)

// docBackend executes compiled filter documents through a DocumentExecutor.
// The store has no correlated subqueries, so has-conditions run as a
// post-fetch filter pass: fetch the candidate set, then count related
// documents per candidate. O(candidates x related lookups), an accepted
// trade-off of this backend.
type docBackend struct {
	exec core.DocumentExecutor
	reg  *schema.Registry
	log  logger.Logger
}

// NewDocumentBackend wires a document-store executor into the builder.
func NewDocumentBackend(exec core.DocumentExecutor, reg *schema.Registry, log logger.Logger) Backend {
	if log == nil {
		log = logger.Nop()
	}
	return &docBackend{exec: exec, reg: reg, log: log}
}

func (d *docBackend) Fetch(ctx context.Context, b *Builder) ([]map[string]any, error) {
	filter, hasClauses := compileFilter(b.def, b.Clauses())
	limit, offset := b.Bounds()

	q := &core.DocumentQuery{
		Collection: b.def.Table,
		Filter:     filter,
		Projection: b.Columns(),
		Sort:       compileSort(b.Orders()),
	}
	// Bounds apply after the post-fetch pass when has-conditions exist.
	if len(hasClauses) == 0 {
		if limit >= 0 {
			q.Limit = int64(limit)
		}
		if offset >= 0 {
			q.Skip = int64(offset)
		}
	}

	rows, err := d.exec.Find(ctx, q)
	if err != nil {
		return nil, errors.Driver("fetch", b.def.Name, err)
	}
	rows = normalizeRows(b.def, rows)

	if len(hasClauses) > 0 {
		rows, err = d.applyHasClauses(ctx, b.def, rows, hasClauses)
		if err != nil {
			return nil, err
		}
		rows = slice(rows, limit, offset)
	}
	return rows, nil
}

func (d *docBackend) CountRows(ctx context.Context, b *Builder) (int64, error) {
	filter, hasClauses := compileFilter(b.def, b.Clauses())
	if len(hasClauses) == 0 {
		n, err := d.exec.Count(ctx, b.def.Table, filter)
		if err != nil {
			return 0, errors.Driver("count", b.def.Name, err)
		}
		return n, nil
	}

	rows, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: b.def.Table, Filter: filter})
	if err != nil {
		return 0, errors.Driver("count", b.def.Name, err)
	}
	rows, err = d.applyHasClauses(ctx, b.def, normalizeRows(b.def, rows), hasClauses)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (d *docBackend) AggregateRows(ctx context.Context, b *Builder, agg clause.Aggregate) (float64, error) {
	if agg.Fn == "count" {
		n, err := d.CountRows(ctx, b)
		return float64(n), err
	}

	filter, hasClauses := compileFilter(b.def, b.Clauses())
	if len(hasClauses) > 0 {
		// No single-pipeline expression exists once has-conditions are
		// involved; fold the filtered candidate set in memory instead.
		rows, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: b.def.Table, Filter: filter})
		if err != nil {
			return 0, errors.Driver(agg.Fn, b.def.Name, err)
		}
		rows, err = d.applyHasClauses(ctx, b.def, normalizeRows(b.def, rows), hasClauses)
		if err != nil {
			return 0, err
		}
		return foldAggregate(agg, rows), nil
	}

	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": nil, "aggregate": bson.M{"$" + agg.Fn: "$" + agg.Field}}},
	}
	out, err := d.exec.Aggregate(ctx, b.def.Table, pipeline)
	if err != nil {
		return 0, errors.Driver(agg.Fn, b.def.Name, err)
	}
	if len(out) == 0 {
		return 0, nil
	}
	return toFloat(out[0]["aggregate"]), nil
}

func (d *docBackend) InsertRow(ctx context.Context, def *schema.Definition, row map[string]any) (any, error) {
	doc := canonicalizeRow(def, row)
	key, err := d.exec.Insert(ctx, def.Table, doc)
	if err != nil {
		return nil, errors.Driver("insert", def.Name, err)
	}
	if v, ok := row[def.PrimaryKey]; ok {
		return v, nil
	}
	return ident.Normalize(key), nil
}

func (d *docBackend) UpdateRows(ctx context.Context, b *Builder, values map[string]any) (int64, error) {
	filter, err := d.writeFilter(ctx, b)
	if err != nil {
		return 0, err
	}
	n, err := d.exec.Update(ctx, b.def.Table, filter, bson.M{"$set": bson.M(canonicalizeRow(b.def, values))})
	if err != nil {
		return 0, errors.Driver("update", b.def.Name, err)
	}
	return n, nil
}

func (d *docBackend) DeleteRows(ctx context.Context, b *Builder) (int64, error) {
	filter, err := d.writeFilter(ctx, b)
	if err != nil {
		return 0, err
	}
	n, err := d.exec.Delete(ctx, b.def.Table, filter)
	if err != nil {
		return 0, errors.Driver("delete", b.def.Name, err)
	}
	return n, nil
}

// writeFilter compiles the builder for a write. When has-conditions exist
// the surviving candidates are resolved first and the write targets their
// primary keys.
func (d *docBackend) writeFilter(ctx context.Context, b *Builder) (bson.M, error) {
	filter, hasClauses := compileFilter(b.def, b.Clauses())
	if len(hasClauses) == 0 {
		return filter, nil
	}
	rows, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: b.def.Table, Filter: filter})
	if err != nil {
		return nil, errors.Driver("fetch", b.def.Name, err)
	}
	rows, err = d.applyHasClauses(ctx, b.def, normalizeRows(b.def, rows), hasClauses)
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, ident.Canonical(row[b.def.PrimaryKey]))
	}
	return bson.M{b.def.PrimaryKey: bson.M{"$in": keys}}, nil
}

// applyHasClauses keeps only candidates whose related-document count
// satisfies every has-condition.
func (d *docBackend) applyHasClauses(ctx context.Context, def *schema.Definition, rows []map[string]any, hasClauses []clause.Clause) ([]map[string]any, error) {
	kept := rows
	for _, hc := range hasClauses {
		rel, relatedDef, err := d.reg.Relation(def.Name, hc.Relation)
		if err != nil {
			// Mirrors the SQL side: an unresolvable relation contributes
			// nothing to the predicate.
			d.log.Warn("skipping has-condition on unknown relation", map[string]any{
				"entity":   def.Name,
				"relation": hc.Relation,
			})
			continue
		}
		next := kept[:0:0]
		for _, row := range kept {
			n, err := d.countRelated(ctx, def, row, rel, relatedDef, hc.Sub)
			if err != nil {
				return nil, err
			}
			if compareCount(n, hc.Comparator, hc.Threshold) {
				next = append(next, row)
			}
		}
		kept = next
	}
	return kept, nil
}

// countRelated counts related documents for one candidate, applying the
// constraint clauses and recursing into nested has-conditions.
func (d *docBackend) countRelated(ctx context.Context, def *schema.Definition, row map[string]any, rel schema.Relation, relatedDef *schema.Definition, constraints []clause.Clause) (int64, error) {
	subFilter, nestedHas := compileFilter(relatedDef, constraints)

	var keyFilter bson.M
	switch rel.Kind {
	case schema.BelongsTo:
		ownerKey := rel.OwnerKey
		if ownerKey == "" {
			ownerKey = relatedDef.PrimaryKey
		}
		keyFilter = bson.M{ownerKey: bson.M{"$in": ident.Forms(row[rel.ForeignKey])}}
	case schema.BelongsToMany:
		return d.countViaPivot(ctx, def, row, rel, relatedDef, subFilter, nestedHas)
	default:
		localKey := rel.LocalKey
		if localKey == "" {
			localKey = def.PrimaryKey
		}
		keyFilter = bson.M{rel.ForeignKey: bson.M{"$in": ident.Forms(row[localKey])}}
		if rel.Kind == schema.MorphOne || rel.Kind == schema.MorphMany {
			keyFilter[rel.MorphType] = def.Name
		}
	}

	filter := mergeFilters(keyFilter, subFilter, relatedDef)
	if len(nestedHas) == 0 {
		n, err := d.exec.Count(ctx, relatedDef.Table, filter)
		if err != nil {
			return 0, errors.Driver("count", relatedDef.Name, err)
		}
		return n, nil
	}

	related, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: relatedDef.Table, Filter: filter})
	if err != nil {
		return 0, errors.Driver("fetch", relatedDef.Name, err)
	}
	related, err = d.applyHasClauses(ctx, relatedDef, normalizeRows(relatedDef, related), nestedHas)
	if err != nil {
		return 0, err
	}
	return int64(len(related)), nil
}

func (d *docBackend) countViaPivot(ctx context.Context, def *schema.Definition, row map[string]any, rel schema.Relation, relatedDef *schema.Definition, subFilter bson.M, nestedHas []clause.Clause) (int64, error) {
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = def.PrimaryKey
	}
	pivotFilter := bson.M{rel.PivotForeignKey: bson.M{"$in": ident.Forms(row[localKey])}}

	if len(subFilter) == 0 && len(nestedHas) == 0 {
		n, err := d.exec.Count(ctx, rel.PivotTable, pivotFilter)
		if err != nil {
			return 0, errors.Driver("count", rel.PivotTable, err)
		}
		return n, nil
	}

	pivots, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: rel.PivotTable, Filter: pivotFilter})
	if err != nil {
		return 0, errors.Driver("fetch", rel.PivotTable, err)
	}
	relatedKeys := make([]any, 0, len(pivots))
	for _, p := range pivots {
		relatedKeys = append(relatedKeys, ident.Forms(p[rel.PivotRelatedKey])...)
	}
	if len(relatedKeys) == 0 {
		return 0, nil
	}

	ownerKey := rel.OwnerKey
	if ownerKey == "" {
		ownerKey = relatedDef.PrimaryKey
	}
	filter := mergeFilters(bson.M{ownerKey: bson.M{"$in": relatedKeys}}, subFilter, relatedDef)
	if len(nestedHas) == 0 {
		n, err := d.exec.Count(ctx, relatedDef.Table, filter)
		if err != nil {
			return 0, errors.Driver("count", relatedDef.Name, err)
		}
		return n, nil
	}
	related, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: relatedDef.Table, Filter: filter})
	if err != nil {
		return 0, errors.Driver("fetch", relatedDef.Name, err)
	}
	related, err = d.applyHasClauses(ctx, relatedDef, normalizeRows(relatedDef, related), nestedHas)
	if err != nil {
		return 0, err
	}
	return int64(len(related)), nil
}

func (d *docBackend) TableInsert(ctx context.Context, table string, row map[string]any) error {
	if _, err := d.exec.Insert(ctx, table, canonicalizeRow(nil, row)); err != nil {
		return errors.Driver("insert", table, err)
	}
	return nil
}

func (d *docBackend) TableUpdate(ctx context.Context, table string, match, values map[string]any) (int64, error) {
	n, err := d.exec.Update(ctx, table, matchFilter(match), bson.M{"$set": bson.M(canonicalizeRow(nil, values))})
	if err != nil {
		return 0, errors.Driver("update", table, err)
	}
	return n, nil
}

func (d *docBackend) TableDelete(ctx context.Context, table string, match map[string]any) (int64, error) {
	n, err := d.exec.Delete(ctx, table, matchFilter(match))
	if err != nil {
		return 0, errors.Driver("delete", table, err)
	}
	return n, nil
}

func (d *docBackend) TableSelect(ctx context.Context, table string, in map[string][]any) ([]map[string]any, error) {
	filter := bson.M{}
	for field, values := range in {
		expanded := make([]any, 0, len(values))
		for _, v := range values {
			if ident.IsIDField(field, "id") {
				expanded = append(expanded, ident.Forms(v)...)
			} else {
				expanded = append(expanded, v)
			}
		}
		filter[field] = bson.M{"$in": expanded}
	}
	rows, err := d.exec.Find(ctx, &core.DocumentQuery{Collection: table, Filter: filter})
	if err != nil {
		return nil, errors.Driver("select", table, err)
	}
	return normalizeRows(nil, rows), nil
}

// mergeFilters ANDs the key predicate, the constraint filter and the related
// type's soft-delete scope.
func mergeFilters(keyFilter, subFilter bson.M, relatedDef *schema.Definition) bson.M {
	parts := []bson.M{keyFilter}
	if len(subFilter) > 0 {
		parts = append(parts, subFilter)
	}
	if relatedDef.SoftDeletes {
		parts = append(parts, bson.M{schema.DeletedAtField: bson.M{"$eq": nil}})
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return bson.M{"$and": parts}
}

func matchFilter(match map[string]any) bson.M {
	filter := bson.M{}
	for field, v := range match {
		if vs, ok := v.([]any); ok {
			filter[field] = bson.M{"$in": vs}
			continue
		}
		if ident.IsIDField(field, "id") {
			v = ident.Canonical(v)
		}
		filter[field] = bson.M{"$eq": v}
	}
	return filter
}

// canonicalizeRow applies the write-boundary identifier normalization: hex
// strings in id-like fields become native references.
func canonicalizeRow(def *schema.Definition, row map[string]any) map[string]any {
	pk := "id"
	if def != nil {
		pk = def.PrimaryKey
	}
	out := make(map[string]any, len(row))
	for field, value := range row {
		if ident.IsIDField(field, pk) {
			value = ident.Canonical(value)
		}
		out[field] = value
	}
	return out
}

// normalizeRows converts store-native reference values back to portable
// forms on the read path.
func normalizeRows(def *schema.Definition, rows []map[string]any) []map[string]any {
	pk := "id"
	if def != nil {
		pk = def.PrimaryKey
	}
	for _, row := range rows {
		// The store's own identifier is internal unless the type maps its
		// primary key onto it.
		if pk != "_id" {
			delete(row, "_id")
		}
		for field, value := range row {
			row[field] = ident.Normalize(value)
		}
	}
	return rows
}

func compileSort(orders []clause.Order) bson.D {
	if len(orders) == 0 {
		return nil
	}
	sort := make(bson.D, 0, len(orders))
	for _, o := range orders {
		dir := 1
		if o.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: dir})
	}
	return sort
}

// foldAggregate computes sum/avg/min/max over an in-memory candidate set.
func foldAggregate(agg clause.Aggregate, rows []map[string]any) float64 {
	var sum, minV, maxV float64
	var n int
	for _, row := range rows {
		v, ok := row[agg.Field]
		if !ok || v == nil {
			continue
		}
		f := toFloat(v)
		if n == 0 || f < minV {
			minV = f
		}
		if n == 0 || f > maxV {
			maxV = f
		}
		sum += f
		n++
	}
	switch agg.Fn {
	case "sum":
		return sum
	case "avg":
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	case "min":
		return minV
	case "max":
		return maxV
	}
	return 0
}

func compareCount(n int64, comparator string, threshold int) bool {
	t := int64(threshold)
	switch comparator {
	case ">=":
		return n >= t
	case ">":
		return n > t
	case "<=":
		return n <= t
	case "<":
		return n < t
	case "=", "==":
		return n == t
	case "!=", "<>":
		return n != t
	}
	return false
}

func slice(rows []map[string]any, limit, offset int) []map[string]any {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
