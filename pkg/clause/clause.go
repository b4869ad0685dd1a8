// Package clause holds the backend-neutral query representation shared by the
// SQL and document compilers. A query accumulates a flat list of Clause values
// plus ordering, grouping and pagination state; nothing in this package
// performs I/O.
package clause

// Connective joins a clause to the one before it. The first clause in any
// list ignores its connective when rendered.
type Connective string

const (
	And Connective = "and"
	Or  Connective = "or"
)

// Kind discriminates the clause variants.
type Kind int

const (
	// Basic is `field op value`
	Basic Kind = iota
	// In is `field IN (values)` (Not inverts)
	In
	// Between is `field BETWEEN values[0] AND values[1]`
	Between
	// Null is `field IS NULL` (Not inverts)
	Null
	// Nested wraps a parenthesized sub-list
	Nested
	// Has is a relation-existence condition with a count comparator
	Has
)

// Clause is one predicate in the clause model.
type Clause struct {
	Kind       Kind
	Field      string
	Operator   string // "=", "!=", "<", "<=", ">", ">=", "like"
	Value      any
	Values     []any // In / Between operands
	Not        bool
	Connective Connective

	// Nested group
	Sub []Clause

	// Has variant
	Relation   string
	Comparator string // applied to the related-row count
	Threshold  int
}

// Order is a single ordering rule.
type Order struct {
	Field string
	Desc  bool
}

// Aggregate names a terminal aggregate computation.
type Aggregate struct {
	Fn    string // "count", "sum", "avg", "min", "max"
	Field string
}

// Operators the compilers accept for Basic clauses.
var Operators = map[string]bool{
	"=": true, "!=": true, "<>": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"like": true, "LIKE": true,
}

// Valid reports whether op is a supported Basic operator.
func Valid(op string) bool { return Operators[op] }
