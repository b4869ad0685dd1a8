package schema

import (
	"fmt"
	"sync"

	"github.com/polystore/polyorm/pkg/errors"
)

// Registry manages registered entity definitions. Registration happens once
// at startup; lookups are concurrent-safe afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Definition
	tables map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Definition),
		tables: make(map[string]*Definition),
	}
}

// Register validates and registers a definition. Registering the same name
// twice is a no-op so packages may register their types independently.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", errors.ErrInvalidDefinition)
	}
	if err := def.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return nil
	}
	r.byName[def.Name] = def
	r.tables[def.Table] = def
	return nil
}

// Lookup retrieves a definition by entity name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotRegistered, name)
	}
	return def, nil
}

// LookupTable retrieves a definition by table/collection name.
func (r *Registry) LookupTable(table string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", errors.ErrNotRegistered, table)
	}
	return def, nil
}

// Relation resolves a relation name on entity to its descriptor and the
// related definition.
func (r *Registry) Relation(entity, relation string) (Relation, *Definition, error) {
	def, err := r.Lookup(entity)
	if err != nil {
		return Relation{}, nil, err
	}
	rel, ok := def.Relation(relation)
	if !ok {
		return Relation{}, nil, fmt.Errorf("%w: %s.%s", errors.ErrUnknownRelation, entity, relation)
	}
	related, err := r.Lookup(rel.Related)
	if err != nil {
		return Relation{}, nil, err
	}
	return rel, related, nil
}

// Names returns the registered entity names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
