// Package serializer walks an entity graph into a plain nested structure
// suitable for JSON encoding, with cycle detection, depth truncation,
// attribute visibility rules and computed (accessor) fields.
package serializer

import (
	"context"
	"time"

	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/ident"
)

// Markers emitted in place of content the walk refuses to expand.
const (
	CircularMarker   = "[circular]"
	DepthLimitMarker = "[max depth]"
)

// DefaultMaxDepth bounds relation recursion when Options does not.
const DefaultMaxDepth = 8

// Options controls one serialization walk.
type Options struct {
	// Include restricts attribute output to these fields (relations named
	// here are always recursed into). Empty means all.
	Include []string
	// Exclude removes fields from the output after Include filtering.
	Exclude []string
	// MaxDepth caps relation recursion; 0 means DefaultMaxDepth.
	MaxDepth int
}

// Serialize walks e and its loaded relations into a plain map. The output
// shape is stable: every declared relation appears, loaded or not, as a
// value, an empty list or null.
func Serialize(ctx context.Context, e *entity.Entity, opts Options) (map[string]any, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	visited := make(map[*entity.Entity]bool)
	out, err := serialize(ctx, e, opts, 0, visited)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// SerializeAll serializes a batch with one shared option set. Each root
// entity gets its own visited set, so shared children serialize fully under
// every root.
func SerializeAll(ctx context.Context, entities []*entity.Entity, opts Options) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		m, err := Serialize(ctx, e, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func serialize(ctx context.Context, e *entity.Entity, opts Options, depth int, visited map[*entity.Entity]bool) (any, error) {
	if e == nil {
		return nil, nil
	}
	if visited[e] {
		return CircularMarker, nil
	}
	if depth >= opts.MaxDepth {
		return DepthLimitMarker, nil
	}
	visited[e] = true

	def := e.Definition()
	out := make(map[string]any)

	for field := range e.Attributes() {
		if def.IsHidden(field) || !included(opts, field) || excluded(opts, field) {
			continue
		}
		if e.HasAsyncAccessor(field) {
			v, err := e.GetAsync(ctx, field)
			if err != nil {
				return nil, err
			}
			out[field] = plain(v)
			continue
		}
		out[field] = plain(e.Get(field))
	}

	// Appended fields are accessor-derived and included even though they are
	// not stored attributes.
	for _, field := range def.Appends {
		if excluded(opts, field) {
			continue
		}
		v, err := e.GetAsync(ctx, field)
		if err != nil {
			return nil, err
		}
		out[field] = plain(v)
	}

	for name, rel := range def.Relations {
		if !included(opts, name) || excluded(opts, name) {
			continue
		}
		value, loaded := e.Relation(name)
		if !loaded {
			// Stable shape for declared-but-unloaded relations.
			if rel.ToMany() {
				out[name] = []any{}
			} else {
				out[name] = nil
			}
			continue
		}
		switch v := value.(type) {
		case nil:
			out[name] = nil
		case *entity.Entity:
			child, err := serialize(ctx, v, opts, depth+1, visited)
			if err != nil {
				return nil, err
			}
			out[name] = withPivot(child, v)
			if rel.ToMany() {
				out[name] = []any{out[name]}
			}
		case []*entity.Entity:
			list := make([]any, 0, len(v))
			for _, item := range v {
				child, err := serialize(ctx, item, opts, depth+1, visited)
				if err != nil {
					return nil, err
				}
				list = append(list, withPivot(child, item))
			}
			out[name] = list
		default:
			out[name] = v
		}
	}
	return out, nil
}

func withPivot(serialized any, e *entity.Entity) any {
	m, ok := serialized.(map[string]any)
	if !ok {
		return serialized
	}
	if p := e.PivotRecord(); p != nil {
		pivot := make(map[string]any, len(p.Attributes))
		for k, v := range p.Attributes {
			pivot[k] = plain(v)
		}
		m["pivot"] = pivot
	}
	return m
}

func included(opts Options, field string) bool {
	if len(opts.Include) == 0 {
		return true
	}
	for _, f := range opts.Include {
		if f == field {
			return true
		}
	}
	return false
}

func excluded(opts Options, field string) bool {
	for _, f := range opts.Exclude {
		if f == field {
			return true
		}
	}
	return false
}

// plain flattens store-native values to JSON-friendly forms.
func plain(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return ident.Normalize(v)
	}
}
