// Package query implements the fluent builder, the SQL and document
// compilers and the terminal operations of the PolyORM engine.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polystore/polyorm/pkg/clause"
	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/logger"
	"github.com/polystore/polyorm/pkg/schema"
)

// DefaultMaxPerPage caps Paginate page sizes.
const DefaultMaxPerPage = 100

type trashedMode int

const (
	trashedDefault trashedMode = iota
	trashedWith
	trashedOnly
)

// RelationLoader resolves an eager-load tree over a batch of parents. The
// relations engine implements it; the builder only triggers it.
type RelationLoader interface {
	Load(ctx context.Context, parents []*entity.Entity, tree map[string]*LoadNode) error
}

// Backend executes the compiled form of a builder against one store kind.
type Backend interface {
	Fetch(ctx context.Context, b *Builder) ([]map[string]any, error)
	CountRows(ctx context.Context, b *Builder) (int64, error)
	AggregateRows(ctx context.Context, b *Builder, agg clause.Aggregate) (float64, error)
	InsertRow(ctx context.Context, def *schema.Definition, row map[string]any) (any, error)
	UpdateRows(ctx context.Context, b *Builder, values map[string]any) (int64, error)
	DeleteRows(ctx context.Context, b *Builder) (int64, error)

	// Table-level row access, used for pivot management.
	TableInsert(ctx context.Context, table string, row map[string]any) error
	TableUpdate(ctx context.Context, table string, match, values map[string]any) (int64, error)
	TableDelete(ctx context.Context, table string, match map[string]any) (int64, error)
	TableSelect(ctx context.Context, table string, in map[string][]any) ([]map[string]any, error)
}

// Paginated is the result of a Paginate terminal call.
type Paginated struct {
	Data       []*entity.Entity `json:"data"`
	Pagination core.Pagination  `json:"pagination"`
}

// Builder accumulates the clause model for one query. A builder is owned by
// a single logical operation: it must not be shared across concurrent
// terminal calls, and soft-delete scoping is injected exactly once however
// many terminal methods run.
type Builder struct {
	def     *schema.Definition
	reg     *schema.Registry
	backend Backend
	loader  RelationLoader
	log     logger.Logger
	ctx     context.Context

	clauses    []clause.Clause
	orders     []clause.Order
	groups     []string
	columns    []string
	limit      int
	offset     int
	withs      map[string]*LoadNode
	trashed    trashedMode
	scoped     bool
	maxPerPage int

	err error
}

// NewBuilder creates a builder for def running against backend. The loader
// may be nil when eager loading is not wired.
func NewBuilder(def *schema.Definition, reg *schema.Registry, backend Backend, loader RelationLoader, log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		def:        def,
		reg:        reg,
		backend:    backend,
		loader:     loader,
		log:        log,
		ctx:        context.Background(),
		limit:      -1,
		offset:     -1,
		withs:      make(map[string]*LoadNode),
		maxPerPage: DefaultMaxPerPage,
	}
}

// NewFailedBuilder returns a builder that surfaces err at its first
// terminal call, letting Model stay chainable when lookup fails.
func NewFailedBuilder(err error) *Builder {
	b := NewBuilder(&schema.Definition{Name: "unknown", PrimaryKey: "id"}, nil, nil, nil, nil)
	b.err = err
	return b
}

// Definition returns the entity metadata the builder targets.
func (b *Builder) Definition() *schema.Definition { return b.def }

// MaxPerPage overrides the Paginate page-size cap.
func (b *Builder) MaxPerPage(n int) *Builder {
	if n > 0 {
		b.maxPerPage = n
	}
	return b
}

// WithContext sets the context used by terminal operations.
func (b *Builder) WithContext(ctx context.Context) *Builder {
	b.ctx = ctx
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// sub returns an empty builder over def sharing the query's registry and
// logger, used for grouped and has-condition constraints.
func (b *Builder) sub(def *schema.Definition) *Builder {
	s := NewBuilder(def, b.reg, b.backend, nil, b.log)
	s.ctx = b.ctx
	return s
}

// Where appends an AND-connected basic predicate.
func (b *Builder) Where(field, op string, value any) *Builder {
	return b.basic(field, op, value, clause.And)
}

// OrWhere appends an OR-connected basic predicate.
func (b *Builder) OrWhere(field, op string, value any) *Builder {
	return b.basic(field, op, value, clause.Or)
}

func (b *Builder) basic(field, op string, value any, conn clause.Connective) *Builder {
	if value == nil && (op == "=" || op == "!=" || op == "<>") {
		return b.null(field, op != "=", conn)
	}
	if !clause.Valid(op) {
		return b.fail(fmt.Errorf("%w: %q", errors.ErrInvalidOperator, op))
	}
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.Basic, Field: field, Operator: op, Value: value, Connective: conn,
	})
	return b
}

// WhereIn appends `field IN (values)`.
func (b *Builder) WhereIn(field string, values []any) *Builder {
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.In, Field: field, Values: values, Connective: clause.And,
	})
	return b
}

// WhereNotIn appends `field NOT IN (values)`.
func (b *Builder) WhereNotIn(field string, values []any) *Builder {
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.In, Field: field, Values: values, Not: true, Connective: clause.And,
	})
	return b
}

// WhereBetween appends `field BETWEEN lo AND hi`.
func (b *Builder) WhereBetween(field string, lo, hi any) *Builder {
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.Between, Field: field, Values: []any{lo, hi}, Connective: clause.And,
	})
	return b
}

// WhereNull appends `field IS NULL`.
func (b *Builder) WhereNull(field string) *Builder {
	return b.null(field, false, clause.And)
}

// WhereNotNull appends `field IS NOT NULL`.
func (b *Builder) WhereNotNull(field string) *Builder {
	return b.null(field, true, clause.And)
}

func (b *Builder) null(field string, not bool, conn clause.Connective) *Builder {
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.Null, Field: field, Not: not, Connective: conn,
	})
	return b
}

// WhereGroup appends a parenthesized sub-group built by fn. This is the only
// grouping mechanism; there is no open/close paren API.
func (b *Builder) WhereGroup(fn func(*Builder)) *Builder {
	return b.group(fn, clause.And)
}

// OrWhereGroup appends an OR-connected parenthesized sub-group.
func (b *Builder) OrWhereGroup(fn func(*Builder)) *Builder {
	return b.group(fn, clause.Or)
}

func (b *Builder) group(fn func(*Builder), conn clause.Connective) *Builder {
	s := b.sub(b.def)
	fn(s)
	if s.err != nil {
		return b.fail(s.err)
	}
	if len(s.clauses) == 0 {
		return b
	}
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.Nested, Sub: s.clauses, Connective: conn,
	})
	return b
}

// WhereHas appends a relation-existence condition: at least one related row
// matching the optional constraint. Unknown relation names are logged and
// skipped rather than failing the query.
func (b *Builder) WhereHas(relation string, constraint func(*Builder)) *Builder {
	return b.has(relation, constraint, ">=", 1)
}

// WhereHasCount appends a relation-existence condition with an explicit
// count comparator.
func (b *Builder) WhereHasCount(relation string, constraint func(*Builder), comparator string, threshold int) *Builder {
	return b.has(relation, constraint, comparator, threshold)
}

// WhereDoesntHave appends the inverse existence condition: no related row
// matching the optional constraint.
func (b *Builder) WhereDoesntHave(relation string, constraint func(*Builder)) *Builder {
	return b.has(relation, constraint, "<", 1)
}

func (b *Builder) has(relation string, constraint func(*Builder), comparator string, threshold int) *Builder {
	_, relatedDef, err := b.reg.Relation(b.def.Name, relation)
	if err != nil {
		// Documented degradation: the condition contributes nothing.
		b.log.Warn("skipping has-condition on unknown relation", map[string]any{
			"entity":   b.def.Name,
			"relation": relation,
		})
		return b
	}
	var sub []clause.Clause
	if constraint != nil {
		s := b.sub(relatedDef)
		constraint(s)
		if s.err != nil {
			return b.fail(s.err)
		}
		sub = s.clauses
	}
	b.clauses = append(b.clauses, clause.Clause{
		Kind: clause.Has, Relation: relation, Sub: sub,
		Comparator: comparator, Threshold: threshold, Connective: clause.And,
	})
	return b
}

// OrderBy appends an ordering rule; dir is "asc" or "desc".
func (b *Builder) OrderBy(field, dir string) *Builder {
	b.orders = append(b.orders, clause.Order{Field: field, Desc: dir == "desc" || dir == "DESC"})
	return b
}

// GroupBy sets grouping fields.
func (b *Builder) GroupBy(fields ...string) *Builder {
	b.groups = append(b.groups, fields...)
	return b
}

// Limit caps the number of rows fetched.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Offset skips the first n rows.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Select restricts the fetched columns.
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = columns
	return b
}

// With requests eager loading of a dot-separated relation path. Ancestors of
// a nested path load implicitly.
func (b *Builder) With(path string, opts ...LoadOption) *Builder {
	addPath(b.withs, path, opts...)
	return b
}

// WithTrashed disables the implicit soft-delete scope.
func (b *Builder) WithTrashed() *Builder {
	b.trashed = trashedWith
	return b
}

// OnlyTrashed restricts results to soft-deleted rows.
func (b *Builder) OnlyTrashed() *Builder {
	b.trashed = trashedOnly
	return b
}

// applyScope injects the soft-delete predicate. The guard keeps the
// injection idempotent when several terminal methods run on one builder.
func (b *Builder) applyScope() {
	if b.scoped || !b.def.SoftDeletes {
		b.scoped = true
		return
	}
	b.scoped = true
	switch b.trashed {
	case trashedWith:
	case trashedOnly:
		b.WhereNotNull(schema.DeletedAtField)
	default:
		b.WhereNull(schema.DeletedAtField)
	}
}

// All executes the query and returns the hydrated entities, running the
// eager-load tree when one was requested.
func (b *Builder) All() ([]*entity.Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.backend == nil {
		return nil, errors.New("all", b.def.Name, errors.ErrNoExecutor)
	}
	b.applyScope()

	rows, err := b.backend.Fetch(b.ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Hydrate(b.def, row))
	}
	if len(b.withs) > 0 {
		if b.loader == nil {
			return nil, errors.New("all", b.def.Name, errors.ErrNoExecutor)
		}
		if err := b.loader.Load(b.ctx, out, b.withs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// First returns the first matching entity, nil when none match.
func (b *Builder) First() (*entity.Entity, error) {
	b.limit = 1
	results, err := b.All()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// FirstOrFail returns the first matching entity or ErrNotFound.
func (b *Builder) FirstOrFail() (*entity.Entity, error) {
	e, err := b.First()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New("first", b.def.Name, errors.ErrNotFound)
	}
	return e, nil
}

// Find fetches by primary key, nil when missing.
func (b *Builder) Find(key any) (*entity.Entity, error) {
	return b.Where(b.def.PrimaryKey, "=", key).First()
}

// FindOrFail fetches by primary key or returns ErrNotFound.
func (b *Builder) FindOrFail(key any) (*entity.Entity, error) {
	e, err := b.Find(key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New("find", b.def.Name, errors.ErrNotFound)
	}
	return e, nil
}

// Count returns the number of matching rows.
func (b *Builder) Count() (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.backend == nil {
		return 0, errors.New("count", b.def.Name, errors.ErrNoExecutor)
	}
	b.applyScope()
	return b.backend.CountRows(b.ctx, b)
}

// Sum computes the sum of field over matching rows.
func (b *Builder) Sum(field string) (float64, error) { return b.aggregate("sum", field) }

// Avg computes the mean of field over matching rows.
func (b *Builder) Avg(field string) (float64, error) { return b.aggregate("avg", field) }

// Min computes the minimum of field over matching rows.
func (b *Builder) Min(field string) (float64, error) { return b.aggregate("min", field) }

// Max computes the maximum of field over matching rows.
func (b *Builder) Max(field string) (float64, error) { return b.aggregate("max", field) }

func (b *Builder) aggregate(fn, field string) (float64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.backend == nil {
		return 0, errors.New(fn, b.def.Name, errors.ErrNoExecutor)
	}
	b.applyScope()
	return b.backend.AggregateRows(b.ctx, b, clause.Aggregate{Fn: fn, Field: field})
}

// Paginate clamps perPage to [1, max] and page to at least 1, then issues a
// limited fetch plus a separate total count.
func (b *Builder) Paginate(perPage, page int) (*Paginated, error) {
	if b.err != nil {
		return nil, b.err
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > b.maxPerPage {
		perPage = b.maxPerPage
	}
	if page < 1 {
		page = 1
	}

	total, err := b.Count()
	if err != nil {
		return nil, err
	}

	b.limit = perPage
	b.offset = (page - 1) * perPage
	data, err := b.All()
	if err != nil {
		return nil, err
	}

	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	if lastPage < 1 {
		lastPage = 1
	}
	return &Paginated{
		Data: data,
		Pagination: core.Pagination{
			CurrentPage: page,
			PerPage:     perPage,
			Total:       total,
			LastPage:    lastPage,
		},
	}, nil
}

// Update writes values to every matching row and returns the affected count.
func (b *Builder) Update(values map[string]any) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.backend == nil {
		return 0, errors.New("update", b.def.Name, errors.ErrNoExecutor)
	}
	b.applyScope()
	if b.def.Timestamps {
		if _, ok := values[schema.UpdatedAtField]; !ok {
			values = copyValues(values)
			values[schema.UpdatedAtField] = time.Now().UTC()
		}
	}
	return b.backend.UpdateRows(b.ctx, b, values)
}

// Delete soft-deletes matching rows when the type supports it (and force is
// false), otherwise removes them physically.
func (b *Builder) Delete(force bool) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.backend == nil {
		return 0, errors.New("delete", b.def.Name, errors.ErrNoExecutor)
	}
	if b.def.SoftDeletes && !force {
		b.applyScope()
		return b.backend.UpdateRows(b.ctx, b, map[string]any{
			schema.DeletedAtField: time.Now().UTC(),
		})
	}
	b.applyScope()
	return b.backend.DeleteRows(b.ctx, b)
}

// Restore clears the deleted-at field on matching soft-deleted rows.
func (b *Builder) Restore() (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if !b.def.SoftDeletes {
		return 0, errors.New("restore", b.def.Name, errors.ErrSoftDeleteDisabled)
	}
	if b.backend == nil {
		return 0, errors.New("restore", b.def.Name, errors.ErrNoExecutor)
	}
	b.trashed = trashedWith
	b.applyScope()
	return b.backend.UpdateRows(b.ctx, b, map[string]any{schema.DeletedAtField: nil})
}

// Insert writes one row directly and returns its key. Missing string keys
// are generated when the type does not auto-increment.
func (b *Builder) Insert(values map[string]any) (any, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.backend == nil {
		return nil, errors.New("insert", b.def.Name, errors.ErrNoExecutor)
	}
	row := copyValues(values)
	if b.def.Timestamps {
		now := time.Now().UTC()
		if _, ok := row[schema.CreatedAtField]; !ok {
			row[schema.CreatedAtField] = now
		}
		row[schema.UpdatedAtField] = now
	}
	if _, ok := row[b.def.PrimaryKey]; !ok && !b.def.AutoIncrement {
		row[b.def.PrimaryKey] = uuid.NewString()
	}
	key, err := b.backend.InsertRow(b.ctx, b.def, row)
	if err != nil {
		return nil, err
	}
	if key == nil {
		key = row[b.def.PrimaryKey]
	}
	return key, nil
}

// Clauses exposes the accumulated clause list to the compilers.
func (b *Builder) Clauses() []clause.Clause { return b.clauses }

// Orders exposes the accumulated ordering rules.
func (b *Builder) Orders() []clause.Order { return b.orders }

// Groups exposes the grouping fields.
func (b *Builder) Groups() []string { return b.groups }

// Columns exposes the projection list.
func (b *Builder) Columns() []string { return b.columns }

// Bounds exposes limit and offset (-1 when unset).
func (b *Builder) Bounds() (limit, offset int) { return b.limit, b.offset }

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	return out
}
