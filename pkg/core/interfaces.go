// Package core defines the driver boundaries and compiled query types shared
// by the PolyORM engine and its store adapters.
package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// CompiledSQL is a rendered statement with positional parameters in clause
// encounter order.
type CompiledSQL struct {
	Text string
	Args []any
}

// ExecResult reports the outcome of a SQL write.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// SQLExecutor is the relational driver boundary. Statement text uses `?`
// positional placeholders; adapters rewrite them when their dialect differs.
type SQLExecutor interface {
	Query(ctx context.Context, q *CompiledSQL) ([]map[string]any, error)
	Exec(ctx context.Context, q *CompiledSQL) (ExecResult, error)
}

// DocumentQuery is a compiled read against one collection.
type DocumentQuery struct {
	Collection string
	Filter     bson.M
	Projection []string
	Sort       bson.D
	Limit      int64
	Skip       int64
}

// DocumentExecutor is the document-store driver boundary.
type DocumentExecutor interface {
	Find(ctx context.Context, q *DocumentQuery) ([]map[string]any, error)
	Insert(ctx context.Context, collection string, doc map[string]any) (any, error)
	Update(ctx context.Context, collection string, filter bson.M, update bson.M) (int64, error)
	Delete(ctx context.Context, collection string, filter bson.M) (int64, error)
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]map[string]any, error)
}

// Pagination is the metadata block returned by paginated fetches.
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}
