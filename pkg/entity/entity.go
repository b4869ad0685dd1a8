// Package entity implements the per-instance attribute store: raw values,
// cast transformations, dirty-tracking snapshots, accessor memoization and
// the loaded-relationship cache. Loaders only ever populate the relation
// cache; attributes belong to the entity alone.
package entity

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"time"

	"github.com/polystore/polyorm/pkg/schema"
)

// Entity is one in-memory record bound to a row or document.
type Entity struct {
	def *schema.Definition

	attributes map[string]any
	original   map[string]any

	relations   map[string]any // *Entity, []*Entity or nil
	relationSet map[string]bool

	accessorMemo map[string]any
	pivot        *Pivot

	exists bool
}

// New creates a blank entity for def.
func New(def *schema.Definition) *Entity {
	return &Entity{
		def:          def,
		attributes:   make(map[string]any),
		original:     make(map[string]any),
		relations:    make(map[string]any),
		relationSet:  make(map[string]bool),
		accessorMemo: make(map[string]any),
	}
}

// NewFromInput constructs an entity from caller input: fields pass the
// fillable/guarded lists and the dirty-tracking snapshot is taken.
func NewFromInput(def *schema.Definition, data map[string]any) *Entity {
	e := New(def)
	e.Fill(data)
	e.SyncOriginal()
	return e
}

// Hydrate constructs an entity from a trusted store row: every field is set
// directly, the snapshot is taken and the entity is marked as existing.
func Hydrate(def *schema.Definition, row map[string]any) *Entity {
	e := New(def)
	for field, value := range row {
		e.attributes[field] = value
	}
	e.SyncOriginal()
	e.exists = true
	return e
}

// Definition returns the entity's static metadata.
func (e *Entity) Definition() *schema.Definition { return e.def }

// Exists reports whether the entity is bound to a stored row.
func (e *Entity) Exists() bool { return e.exists }

// SetExists marks the entity as bound (or not) to a stored row.
func (e *Entity) SetExists(v bool) { e.exists = v }

// Key returns the primary key value, nil when unset.
func (e *Entity) Key() any { return e.attributes[e.def.PrimaryKey] }

// Fill copies fields that pass the fillable allow-list and guarded deny-list,
// routing each through SetAttribute so mutators and casts apply.
func (e *Entity) Fill(data map[string]any) *Entity {
	for field, value := range data {
		if !e.def.IsFillable(field) {
			continue
		}
		e.SetAttribute(field, value)
	}
	return e
}

// SetAttribute applies the field's mutator and declared cast, stores the
// value and invalidates any memoized accessor result for the field.
func (e *Entity) SetAttribute(field string, value any) {
	if mut, ok := e.def.Mutators[field]; ok {
		value = mut(value)
	}
	if cast, ok := e.def.Casts[field]; ok {
		value = applyCast(cast, value)
	}
	e.attributes[field] = value
	delete(e.accessorMemo, field)
}

// Get returns the read value of a field. Synchronous accessors run here and
// memoize. Async accessors are not invoked: the stored value is returned
// untouched and HasAsyncAccessor lets callers detect the case.
func (e *Entity) Get(field string) any {
	if memo, ok := e.accessorMemo[field]; ok {
		return memo
	}
	if acc, ok := e.def.Accessors[field]; ok {
		v := acc(e.attributes)
		e.accessorMemo[field] = v
		return v
	}
	return e.attributes[field]
}

// GetAsync returns the read value of a field, evaluating an async accessor
// when one is declared.
func (e *Entity) GetAsync(ctx context.Context, field string) (any, error) {
	if memo, ok := e.accessorMemo[field]; ok {
		return memo, nil
	}
	if acc, ok := e.def.AsyncAccessors[field]; ok {
		v, err := acc(ctx, e.attributes)
		if err != nil {
			return nil, err
		}
		e.accessorMemo[field] = v
		return v, nil
	}
	return e.Get(field), nil
}

// HasAsyncAccessor reports whether reading field requires the async path.
func (e *Entity) HasAsyncAccessor(field string) bool {
	_, ok := e.def.AsyncAccessors[field]
	return ok
}

// GetRaw returns the stored value bypassing accessors.
func (e *Entity) GetRaw(field string) any { return e.attributes[field] }

// Attributes returns a copy of the stored attribute map.
func (e *Entity) Attributes() map[string]any {
	out := make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		out[k] = v
	}
	return out
}

// IsDirty reports whether any of the given fields (all fields when none are
// given) differ from the snapshot.
func (e *Entity) IsDirty(fields ...string) bool {
	if len(fields) == 0 {
		return len(e.Dirty()) > 0
	}
	for _, f := range fields {
		if !reflect.DeepEqual(e.attributes[f], e.original[f]) {
			return true
		}
	}
	return false
}

// Dirty returns the fields whose values differ from the snapshot.
func (e *Entity) Dirty() map[string]any {
	dirty := make(map[string]any)
	for field, value := range e.attributes {
		orig, had := e.original[field]
		if !had || !reflect.DeepEqual(value, orig) {
			dirty[field] = value
		}
	}
	return dirty
}

// SyncOriginal resets the dirty-tracking snapshot to the current attributes.
func (e *Entity) SyncOriginal() {
	e.original = make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		e.original[k] = v
	}
}

// SetRelation stores a loaded relation result (entity, slice or nil).
func (e *Entity) SetRelation(name string, value any) {
	e.relations[name] = value
	e.relationSet[name] = true
}

// Relation returns a loaded relation and whether it was loaded at all.
func (e *Entity) Relation(name string) (any, bool) {
	v, ok := e.relations[name]
	if !ok && !e.relationSet[name] {
		return nil, false
	}
	return v, true
}

// RelationLoaded reports whether the named relation has been populated.
func (e *Entity) RelationLoaded(name string) bool { return e.relationSet[name] }

// LoadedRelations returns the names of populated relations.
func (e *Entity) LoadedRelations() []string {
	names := make([]string, 0, len(e.relationSet))
	for name := range e.relationSet {
		names = append(names, name)
	}
	return names
}

// SetPivot attaches the pivot sub-record for a many-to-many result.
func (e *Entity) SetPivot(p *Pivot) { e.pivot = p }

// PivotRecord returns the attached pivot sub-record, nil when absent.
func (e *Entity) PivotRecord() *Pivot { return e.pivot }

// SoftDeleted reports whether the deleted-at field carries a value.
func (e *Entity) SoftDeleted() bool {
	return e.def.SoftDeletes && e.attributes[schema.DeletedAtField] != nil
}

// Clone returns a shallow copy sharing no attribute or relation maps.
func (e *Entity) Clone() *Entity {
	c := New(e.def)
	for k, v := range e.attributes {
		c.attributes[k] = v
	}
	for k, v := range e.original {
		c.original[k] = v
	}
	for k, v := range e.relations {
		c.relations[k] = v
	}
	for k := range e.relationSet {
		c.relationSet[k] = true
	}
	c.exists = e.exists
	return c
}

func applyCast(cast schema.Cast, value any) any {
	if value == nil {
		return nil
	}
	switch cast.Type {
	case schema.CastInt:
		return castInt(value)
	case schema.CastFloat:
		return castFloat(value)
	case schema.CastBool:
		return castBool(value)
	case schema.CastString:
		if s, ok := value.(string); ok {
			return s
		}
		b, _ := json.Marshal(value)
		if len(b) > 0 && b[0] != '"' {
			return string(b)
		}
		var s string
		_ = json.Unmarshal(b, &s)
		return s
	case schema.CastDatetime:
		return castDatetime(value)
	case schema.CastJSON:
		if s, ok := value.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
		return value
	case schema.CastCustom:
		if cast.Fn != nil {
			return cast.Fn(value)
		}
	}
	return value
}

func castInt(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func castFloat(v any) any {
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
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return v
}

func castBool(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return v
}

func castDatetime(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return v
}
