// Package relations resolves relationship graphs: batched loaders per
// relation kind, breadth-first eager-load tree resolution and pivot
// association management. Loaders attach related entities for N parents with
// a single batched round trip per relation, never one per parent.
package relations

import (
	"context"
	"sort"

	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/ident"
	"github.com/polystore/polyorm/pkg/logger"
	"github.com/polystore/polyorm/pkg/query"
	"github.com/polystore/polyorm/pkg/schema"
)

// Engine drives relationship loading and association mutation over one
// backend. It implements query.RelationLoader and entity.PivotStore.
type Engine struct {
	reg     *schema.Registry
	backend query.Backend
	log     logger.Logger

	// expandKeyForms enables the read-side multi-form key matching needed on
	// the document backend for rows written by other producers.
	expandKeyForms bool
}

// NewEngine creates a relations engine. expandKeyForms should be true for
// the document backend only.
func NewEngine(reg *schema.Registry, backend query.Backend, log logger.Logger, expandKeyForms bool) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{reg: reg, backend: backend, log: log, expandKeyForms: expandKeyForms}
}

func (e *Engine) newQuery(def *schema.Definition) *query.Builder {
	return query.NewBuilder(def, e.reg, e.backend, e, e.log)
}

// Load resolves the eager-load tree breadth-first: each relation at a level
// is loaded in one batch across all parents, then the loaded entities become
// the parent batch for the next level. Loading `a.b.c` therefore issues at
// most (tree depth) batched round trips per path regardless of result width.
func (e *Engine) Load(ctx context.Context, parents []*entity.Entity, tree map[string]*query.LoadNode) error {
	if len(parents) == 0 || len(tree) == 0 {
		return nil
	}

	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	parentDef := parents[0].Definition()
	for _, name := range names {
		node := tree[name]
		rel, relatedDef, err := e.reg.Relation(parentDef.Name, name)
		if err != nil {
			// Unknown relations are fatal for eager-load requests.
			return err
		}
		children, err := e.loadRelation(ctx, parents, name, rel, relatedDef, node)
		if err != nil {
			return err
		}
		if len(node.Children) > 0 {
			if err := e.Load(ctx, children, node.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) loadRelation(ctx context.Context, parents []*entity.Entity, name string, rel schema.Relation, relatedDef *schema.Definition, node *query.LoadNode) ([]*entity.Entity, error) {
	switch rel.Kind {
	case schema.HasOne, schema.HasMany, schema.MorphOne, schema.MorphMany:
		return e.loadHas(ctx, parents, name, rel, relatedDef, node)
	case schema.BelongsTo:
		return e.loadBelongsTo(ctx, parents, name, rel, relatedDef, node)
	case schema.BelongsToMany:
		return e.loadBelongsToMany(ctx, parents, name, rel, relatedDef, node)
	}
	return nil, errors.New("load", relatedDef.Name, errors.ErrUnknownRelation)
}

// loadHas handles hasOne/hasMany and their polymorphic variants: related
// rows are matched by foreignKey against the batch of parent local keys.
func (e *Engine) loadHas(ctx context.Context, parents []*entity.Entity, name string, rel schema.Relation, relatedDef *schema.Definition, node *query.LoadNode) ([]*entity.Entity, error) {
	parentDef := parents[0].Definition()
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = parentDef.PrimaryKey
	}

	keys := collectKeys(parents, localKey)
	if len(keys) == 0 {
		for _, p := range parents {
			attachEmpty(p, name, rel)
		}
		return nil, nil
	}

	q := e.newQuery(relatedDef).
		WithContext(ctx).
		WhereIn(rel.ForeignKey, e.expand(keys))
	if rel.Kind == schema.MorphOne || rel.Kind == schema.MorphMany {
		q.Where(rel.MorphType, "=", parentDef.Name)
	}
	applyNode(q, node, rel.ForeignKey, rel.MorphType)

	related, err := q.All()
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*entity.Entity)
	for _, r := range related {
		k := ident.KeyString(r.GetRaw(rel.ForeignKey))
		grouped[k] = append(grouped[k], r)
	}
	for _, p := range parents {
		matches := grouped[ident.KeyString(p.GetRaw(localKey))]
		if rel.ToMany() {
			if matches == nil {
				matches = []*entity.Entity{}
			}
			p.SetRelation(name, matches)
		} else if len(matches) > 0 {
			p.SetRelation(name, matches[0])
		} else {
			p.SetRelation(name, nil)
		}
	}
	return related, nil
}

// loadBelongsTo is the inverse direction: related rows matched by ownerKey
// against the batch of parent foreign-key values.
func (e *Engine) loadBelongsTo(ctx context.Context, parents []*entity.Entity, name string, rel schema.Relation, relatedDef *schema.Definition, node *query.LoadNode) ([]*entity.Entity, error) {
	ownerKey := rel.OwnerKey
	if ownerKey == "" {
		ownerKey = relatedDef.PrimaryKey
	}

	keys := collectKeys(parents, rel.ForeignKey)
	if len(keys) == 0 {
		for _, p := range parents {
			p.SetRelation(name, nil)
		}
		return nil, nil
	}

	q := e.newQuery(relatedDef).WithContext(ctx).WhereIn(ownerKey, e.expand(keys))
	applyNode(q, node, ownerKey, "")

	related, err := q.All()
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*entity.Entity, len(related))
	for _, r := range related {
		byKey[ident.KeyString(r.GetRaw(ownerKey))] = r
	}
	for _, p := range parents {
		r, ok := byKey[ident.KeyString(p.GetRaw(rel.ForeignKey))]
		if ok {
			p.SetRelation(name, r)
		} else {
			p.SetRelation(name, nil)
		}
	}
	return related, nil
}

// loadBelongsToMany resolves a many-to-many relation in two batched round
// trips: pivot rows by parent keys, then related rows by the distinct
// related keys found in the pivot set, rejoined in memory.
func (e *Engine) loadBelongsToMany(ctx context.Context, parents []*entity.Entity, name string, rel schema.Relation, relatedDef *schema.Definition, node *query.LoadNode) ([]*entity.Entity, error) {
	parentDef := parents[0].Definition()
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = parentDef.PrimaryKey
	}
	ownerKey := rel.OwnerKey
	if ownerKey == "" {
		ownerKey = relatedDef.PrimaryKey
	}

	parentKeys := collectKeys(parents, localKey)
	if len(parentKeys) == 0 {
		for _, p := range parents {
			p.SetRelation(name, []*entity.Entity{})
		}
		return nil, nil
	}

	pivots, err := e.backend.TableSelect(ctx, rel.PivotTable, map[string][]any{
		rel.PivotForeignKey: e.expand(parentKeys),
	})
	if err != nil {
		return nil, err
	}

	relatedKeys := make([]any, 0, len(pivots))
	seen := make(map[string]bool)
	for _, pv := range pivots {
		k := pv[rel.PivotRelatedKey]
		ks := ident.KeyString(k)
		if ks == "" || seen[ks] {
			continue
		}
		seen[ks] = true
		relatedKeys = append(relatedKeys, k)
	}
	if len(relatedKeys) == 0 {
		for _, p := range parents {
			p.SetRelation(name, []*entity.Entity{})
		}
		return nil, nil
	}

	q := e.newQuery(relatedDef).WithContext(ctx).WhereIn(ownerKey, e.expand(relatedKeys))
	applyNode(q, node, ownerKey, "")

	related, err := q.All()
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*entity.Entity, len(related))
	for _, r := range related {
		byKey[ident.KeyString(r.GetRaw(ownerKey))] = r
	}

	children := make([]*entity.Entity, 0, len(related))
	attached := make(map[string][]*entity.Entity)
	for _, pv := range pivots {
		parentKS := ident.KeyString(pv[rel.PivotForeignKey])
		r, ok := byKey[ident.KeyString(pv[rel.PivotRelatedKey])]
		if !ok {
			continue
		}
		if node != nil && node.WithPivot {
			// Distinct pivot data per parent requires a distinct entity.
			r = r.Clone()
			r.SetPivot(entity.NewPivot(rel.PivotTable, rel.PivotForeignKey, rel.PivotRelatedKey, pv))
		}
		attached[parentKS] = append(attached[parentKS], r)
		children = append(children, r)
	}
	for _, p := range parents {
		matches := attached[ident.KeyString(p.GetRaw(localKey))]
		if matches == nil {
			matches = []*entity.Entity{}
		}
		p.SetRelation(name, matches)
	}
	return children, nil
}

// expand widens each key into its equivalent stored forms on the document
// backend; the relational backend matches a single canonical form.
func (e *Engine) expand(keys []any) []any {
	if !e.expandKeyForms {
		return keys
	}
	out := make([]any, 0, len(keys)*2)
	seen := make(map[string]bool)
	for _, k := range keys {
		for _, form := range ident.Forms(k) {
			fs := ident.KeyString(form)
			// forms that fold to the same comparable still differ in type
			key := fs + "|" + typeName(form)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, form)
		}
	}
	return out
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "s"
	case int64:
		return "i"
	case float64:
		return "f"
	default:
		return "o"
	}
}

func collectKeys(parents []*entity.Entity, field string) []any {
	keys := make([]any, 0, len(parents))
	seen := make(map[string]bool)
	for _, p := range parents {
		v := p.GetRaw(field)
		if v == nil {
			continue
		}
		ks := ident.KeyString(v)
		if seen[ks] {
			continue
		}
		seen[ks] = true
		keys = append(keys, v)
	}
	return keys
}

func attachEmpty(p *entity.Entity, name string, rel schema.Relation) {
	if rel.ToMany() {
		p.SetRelation(name, []*entity.Entity{})
		return
	}
	p.SetRelation(name, nil)
}

// applyNode applies a load node's constraint and projection to the batched
// fetch. Projections always keep the join keys, otherwise regrouping would
// be impossible.
func applyNode(q *query.Builder, node *query.LoadNode, joinKey, morphType string) {
	if node == nil {
		return
	}
	if node.Constraint != nil {
		node.Constraint(q)
	}
	if len(node.Columns) > 0 {
		columns := node.Columns
		if !contains(columns, joinKey) {
			columns = append(append([]string{}, columns...), joinKey)
		}
		if morphType != "" && !contains(columns, morphType) {
			columns = append(columns, morphType)
		}
		q.Select(columns...)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
