// Package mongo adapts the official MongoDB driver to the PolyORM
// document-store executor boundary.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/polystore/polyorm/pkg/core"
)

// Executor implements core.DocumentExecutor over a *mongo.Database.
type Executor struct {
	db *mongo.Database
}

// Open connects to a MongoDB deployment and selects database.
func Open(ctx context.Context, uri, database string) (*Executor, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &Executor{db: client.Database(database)}, nil
}

// NewExecutor wraps an existing database handle.
func NewExecutor(db *mongo.Database) *Executor {
	return &Executor{db: db}
}

// Close disconnects the underlying client.
func (e *Executor) Close(ctx context.Context) error {
	return e.db.Client().Disconnect(ctx)
}

func (e *Executor) Find(ctx context.Context, q *core.DocumentQuery) ([]map[string]any, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if len(q.Projection) > 0 {
		projection := bson.M{}
		for _, f := range q.Projection {
			projection[f] = 1
		}
		opts.SetProjection(projection)
	}

	cursor, err := e.db.Collection(q.Collection).Find(ctx, q.Filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []map[string]any
	for cursor.Next(ctx) {
		doc := make(map[string]any)
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

func (e *Executor) Insert(ctx context.Context, collection string, doc map[string]any) (any, error) {
	res, err := e.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (e *Executor) Update(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	res, err := e.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (e *Executor) Delete(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := e.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (e *Executor) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	return e.db.Collection(collection).CountDocuments(ctx, filter)
}

func (e *Executor) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]map[string]any, error) {
	cursor, err := e.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []map[string]any
	for cursor.Next(ctx) {
		doc := make(map[string]any)
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}
