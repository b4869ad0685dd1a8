package query

import "strings"

// LoadNode is one level of the requested eager-load tree. Loading a nested
// path implicitly loads every ancestor path.
type LoadNode struct {
	Name       string
	Children   map[string]*LoadNode
	Constraint func(*Builder)
	Columns    []string
	WithPivot  bool
}

// LoadOption configures one eager-load request.
type LoadOption func(*LoadNode)

// WithConstraint applies extra predicates to the relation's batched fetch.
func WithConstraint(fn func(*Builder)) LoadOption {
	return func(n *LoadNode) { n.Constraint = fn }
}

// WithColumns restricts the columns fetched for the relation.
func WithColumns(columns ...string) LoadOption {
	return func(n *LoadNode) { n.Columns = columns }
}

// WithPivot attaches the pivot row of a many-to-many relation to each
// related entity.
func WithPivot() LoadOption {
	return func(n *LoadNode) { n.WithPivot = true }
}

// addPath inserts path (dot-separated) into the tree, creating ancestors as
// needed. Options apply to the leaf node only.
func addPath(tree map[string]*LoadNode, path string, opts ...LoadOption) {
	segments := strings.Split(path, ".")
	current := tree
	var node *LoadNode
	for _, seg := range segments {
		next, ok := current[seg]
		if !ok {
			next = &LoadNode{Name: seg, Children: make(map[string]*LoadNode)}
			current[seg] = next
		}
		node = next
		current = next.Children
	}
	for _, opt := range opts {
		opt(node)
	}
}
