// Package schema provides entity definitions and their registration for
// PolyORM. Definitions are declared explicitly and registered at startup;
// there is no runtime relation introspection or filesystem scanning.
package schema

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/polystore/polyorm/pkg/errors"
)

// Conventional column names shared by both backends.
const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
	DeletedAtField = "deleted_at"
)

// CastType names a declared attribute cast.
type CastType string

const (
	CastInt      CastType = "int"
	CastFloat    CastType = "float"
	CastBool     CastType = "bool"
	CastString   CastType = "string"
	CastDatetime CastType = "datetime"
	CastJSON     CastType = "json"
	CastCustom   CastType = "custom"
)

// Cast declares how a field value is transformed before storage.
type Cast struct {
	Type CastType
	Fn   func(any) any // required when Type is CastCustom
}

// Accessor derives a read value from the entity's raw attributes. The result
// is memoized until the underlying field is next written.
type Accessor func(attrs map[string]any) any

// AsyncAccessor is an accessor that suspends (I/O, remote lookups). It is
// only invoked through the async read/serialize path; the synchronous getter
// leaves the stored value untouched.
type AsyncAccessor func(ctx context.Context, attrs map[string]any) (any, error)

// Mutator transforms an input value before storage.
type Mutator func(v any) any

// RelationKind discriminates relation descriptors.
type RelationKind string

const (
	HasOne        RelationKind = "hasOne"
	HasMany       RelationKind = "hasMany"
	BelongsTo     RelationKind = "belongsTo"
	BelongsToMany RelationKind = "belongsToMany"
	MorphOne      RelationKind = "morphOne"
	MorphMany     RelationKind = "morphMany"
)

// Relation describes one named relation of an entity type. Descriptors are
// declared statically on the Definition and resolved against the registry.
type Relation struct {
	Kind    RelationKind
	Related string // related entity name as registered

	ForeignKey string // key on the related (or pivot-facing) side
	LocalKey   string // key on the owning side, defaults to the primary key
	OwnerKey   string // belongsTo / belongsToMany: key on the related side

	PivotTable      string
	PivotForeignKey string
	PivotRelatedKey string

	MorphType string // discriminator column on the related side
}

// ToMany reports whether the relation attaches a list rather than a single
// entity.
func (r Relation) ToMany() bool {
	switch r.Kind {
	case HasMany, BelongsToMany, MorphMany:
		return true
	}
	return false
}

// Definition is the static metadata for one entity type.
type Definition struct {
	Name          string
	Table         string // derived from Name when empty
	PrimaryKey    string // defaults to "id"
	AutoIncrement bool
	SoftDeletes   bool
	Timestamps    bool

	Fillable []string
	Guarded  []string
	Hidden   []string
	Appends  []string

	Casts          map[string]Cast
	Accessors      map[string]Accessor
	AsyncAccessors map[string]AsyncAccessor
	Mutators       map[string]Mutator

	Relations map[string]Relation
}

// normalize fills derived defaults and validates the definition.
func (d *Definition) normalize() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", errors.ErrInvalidDefinition)
	}
	if d.Table == "" {
		d.Table = DeriveTable(d.Name)
	}
	if d.PrimaryKey == "" {
		d.PrimaryKey = "id"
	}
	for name, rel := range d.Relations {
		if err := validateRelation(name, rel); err != nil {
			return err
		}
	}
	return nil
}

func validateRelation(name string, rel Relation) error {
	switch rel.Kind {
	case HasOne, HasMany, BelongsTo:
		if rel.ForeignKey == "" {
			return fmt.Errorf("%w: relation %s needs a foreign key", errors.ErrInvalidDefinition, name)
		}
	case BelongsToMany:
		if rel.PivotTable == "" || rel.PivotForeignKey == "" || rel.PivotRelatedKey == "" {
			return fmt.Errorf("%w: relation %s needs pivot table and keys", errors.ErrInvalidDefinition, name)
		}
	case MorphOne, MorphMany:
		if rel.ForeignKey == "" || rel.MorphType == "" {
			return fmt.Errorf("%w: relation %s needs foreign key and type column", errors.ErrInvalidDefinition, name)
		}
	default:
		return fmt.Errorf("%w: relation %s has unknown kind %q", errors.ErrInvalidDefinition, name, rel.Kind)
	}
	if rel.Related == "" {
		return fmt.Errorf("%w: relation %s names no related entity", errors.ErrInvalidDefinition, name)
	}
	return nil
}

// Relation returns the descriptor for name.
func (d *Definition) Relation(name string) (Relation, bool) {
	rel, ok := d.Relations[name]
	return rel, ok
}

// IsFillable reports whether field passes the fillable allow-list (all fields
// pass when the list is empty) and the guarded deny-list.
func (d *Definition) IsFillable(field string) bool {
	for _, g := range d.Guarded {
		if g == field {
			return false
		}
	}
	if len(d.Fillable) == 0 {
		return true
	}
	for _, f := range d.Fillable {
		if f == field {
			return true
		}
	}
	return false
}

// IsHidden reports whether field is excluded from serialized output.
func (d *Definition) IsHidden(field string) bool {
	for _, h := range d.Hidden {
		if h == field {
			return true
		}
	}
	return false
}

// DeriveTable derives a table/collection name by snake-casing and pluralizing
// the entity name, with irregular and uncountable noun handling.
func DeriveTable(name string) string {
	return inflection.Plural(Snake(name))
}

// Snake converts CamelCase to snake_case.
func Snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
