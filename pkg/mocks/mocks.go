// Package mocks provides test doubles for the PolyORM driver boundaries:
// testify mocks for expectation-style tests, recording executors for
// asserting compiled output, and an in-memory document store for behavior
// tests without a running database.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/polystore/polyorm/pkg/core"
)

// MockSQLExecutor is a testify mock of core.SQLExecutor.
type MockSQLExecutor struct {
	mock.Mock
}

func (m *MockSQLExecutor) Query(ctx context.Context, q *core.CompiledSQL) ([]map[string]any, error) {
	args := m.Called(ctx, q)
	rows, _ := args.Get(0).([]map[string]any)
	return rows, args.Error(1)
}

func (m *MockSQLExecutor) Exec(ctx context.Context, q *core.CompiledSQL) (core.ExecResult, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(core.ExecResult)
	return res, args.Error(1)
}

// MockDocumentExecutor is a testify mock of core.DocumentExecutor.
type MockDocumentExecutor struct {
	mock.Mock
}

func (m *MockDocumentExecutor) Find(ctx context.Context, q *core.DocumentQuery) ([]map[string]any, error) {
	args := m.Called(ctx, q)
	rows, _ := args.Get(0).([]map[string]any)
	return rows, args.Error(1)
}

func (m *MockDocumentExecutor) Insert(ctx context.Context, collection string, doc map[string]any) (any, error) {
	args := m.Called(ctx, collection, doc)
	return args.Get(0), args.Error(1)
}

func (m *MockDocumentExecutor) Update(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	args := m.Called(ctx, collection, filter, update)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentExecutor) Delete(ctx context.Context, collection string, filter bson.M) (int64, error) {
	args := m.Called(ctx, collection, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentExecutor) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	args := m.Called(ctx, collection, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentExecutor) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]map[string]any, error) {
	args := m.Called(ctx, collection, pipeline)
	rows, _ := args.Get(0).([]map[string]any)
	return rows, args.Error(1)
}

// RecordingSQLExecutor captures every compiled statement it receives and
// replays canned rows, for asserting on compiler output.
type RecordingSQLExecutor struct {
	Queries []*core.CompiledSQL
	Execs   []*core.CompiledSQL
	Rows    []map[string]any
	Result  core.ExecResult
	Err     error
}

func (r *RecordingSQLExecutor) Query(_ context.Context, q *core.CompiledSQL) ([]map[string]any, error) {
	r.Queries = append(r.Queries, q)
	return r.Rows, r.Err
}

func (r *RecordingSQLExecutor) Exec(_ context.Context, q *core.CompiledSQL) (core.ExecResult, error) {
	r.Execs = append(r.Execs, q)
	return r.Result, r.Err
}

// CountingDocumentExecutor wraps a DocumentExecutor and counts round trips
// per collection, for N+1 assertions.
type CountingDocumentExecutor struct {
	Inner core.DocumentExecutor
	Calls map[string]int
}

// NewCounting wraps inner with call counting.
func NewCounting(inner core.DocumentExecutor) *CountingDocumentExecutor {
	return &CountingDocumentExecutor{Inner: inner, Calls: make(map[string]int)}
}

func (c *CountingDocumentExecutor) bump(collection string) {
	c.Calls[collection]++
}

func (c *CountingDocumentExecutor) Find(ctx context.Context, q *core.DocumentQuery) ([]map[string]any, error) {
	c.bump(q.Collection)
	return c.Inner.Find(ctx, q)
}

func (c *CountingDocumentExecutor) Insert(ctx context.Context, collection string, doc map[string]any) (any, error) {
	c.bump(collection)
	return c.Inner.Insert(ctx, collection, doc)
}

func (c *CountingDocumentExecutor) Update(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	c.bump(collection)
	return c.Inner.Update(ctx, collection, filter, update)
}

func (c *CountingDocumentExecutor) Delete(ctx context.Context, collection string, filter bson.M) (int64, error) {
	c.bump(collection)
	return c.Inner.Delete(ctx, collection, filter)
}

func (c *CountingDocumentExecutor) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	c.bump(collection)
	return c.Inner.Count(ctx, collection, filter)
}

func (c *CountingDocumentExecutor) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]map[string]any, error) {
	c.bump(collection)
	return c.Inner.Aggregate(ctx, collection, pipeline)
}
