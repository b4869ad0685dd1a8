package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/polystore/polyorm/pkg/clause"
)

func docBuilder(t *testing.T, name string) *Builder {
	t.Helper()
	reg := testRegistry(t)
	def, err := reg.Lookup(name)
	require.NoError(t, err)
	return NewBuilder(def, reg, nil, nil, nil)
}

func TestFilterSingleClause(t *testing.T) {
	b := docBuilder(t, "User").Where("tier", "=", "gold")
	filter, has := compileFilter(b.Definition(), b.Clauses())
	assert.Empty(t, has)
	assert.Equal(t, bson.M{"tier": bson.M{"$eq": "gold"}}, filter)
}

func TestFilterAllAnd(t *testing.T) {
	b := docBuilder(t, "User").Where("tier", "=", "gold").Where("spend", ">", 100)
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"tier": bson.M{"$eq": "gold"}},
		{"spend": bson.M{"$gt": 100}},
	}}, filter)
}

func TestFilterMixedConnectives(t *testing.T) {
	b := docBuilder(t, "User").Where("tier", "=", "gold").OrWhere("spend", ">", 100)
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"$and": []bson.M{{"tier": bson.M{"$eq": "gold"}}}},
		{"$or": []bson.M{{"spend": bson.M{"$gt": 100}}}},
	}}, filter)
}

func TestFilterFirstClauseIgnoresConnective(t *testing.T) {
	b := docBuilder(t, "User").OrWhere("tier", "=", "gold")
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"tier": bson.M{"$eq": "gold"}}, filter)
}

func TestFilterOperatorMap(t *testing.T) {
	b := docBuilder(t, "User").
		Where("a", "!=", 1).
		Where("b", "<", 2).
		Where("c", "<=", 3).
		Where("d", ">=", 4)
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	parts := filter["$and"].([]bson.M)
	assert.Equal(t, bson.M{"a": bson.M{"$ne": 1}}, parts[0])
	assert.Equal(t, bson.M{"b": bson.M{"$lt": 2}}, parts[1])
	assert.Equal(t, bson.M{"c": bson.M{"$lte": 3}}, parts[2])
	assert.Equal(t, bson.M{"d": bson.M{"$gte": 4}}, parts[3])
}

func TestFilterInAndBetweenAndNull(t *testing.T) {
	b := docBuilder(t, "User").
		WhereIn("tier", []any{"gold", "silver"}).
		WhereNotIn("status", []any{"banned"}).
		WhereBetween("spend", 50, 150).
		WhereNull("email").
		WhereNotNull("phone")
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	parts := filter["$and"].([]bson.M)
	assert.Equal(t, bson.M{"tier": bson.M{"$in": []any{"gold", "silver"}}}, parts[0])
	assert.Equal(t, bson.M{"status": bson.M{"$nin": []any{"banned"}}}, parts[1])
	assert.Equal(t, bson.M{"spend": bson.M{"$gte": 50, "$lte": 150}}, parts[2])
	assert.Equal(t, bson.M{"email": bson.M{"$eq": nil}}, parts[3])
	assert.Equal(t, bson.M{"phone": bson.M{"$ne": nil}}, parts[4])
}

func TestFilterLikeBecomesAnchoredRegex(t *testing.T) {
	b := docBuilder(t, "User").Where("name", "like", "Jo%n_")
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"name": bson.M{"$regex": "^Jo.*n.$", "$options": "i"}}, filter)
}

func TestFilterIDCoercion(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)

	b := docBuilder(t, "User").Where("id", "=", hex)
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"id": bson.M{"$eq": oid}}, filter)

	// numeric strings are not hex ids and stay strings
	b = docBuilder(t, "User").Where("id", "=", "12345")
	filter, _ = compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"id": bson.M{"$eq": "12345"}}, filter)

	// _id-suffixed foreign keys coerce inside IN lists too
	b = docBuilder(t, "User").WhereIn("author_id", []any{hex, "123"})
	filter, _ = compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"author_id": bson.M{"$in": []any{oid, "123"}}}, filter)

	// ordinary fields are untouched
	b = docBuilder(t, "User").Where("name", "=", hex)
	filter, _ = compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"name": bson.M{"$eq": hex}}, filter)
}

func TestFilterNestedGroup(t *testing.T) {
	b := docBuilder(t, "User").Where("status", "=", "active").
		WhereGroup(func(q *Builder) {
			q.Where("tier", "=", "gold").Where("spend", ">", 100)
		})
	filter, _ := compileFilter(b.Definition(), b.Clauses())
	parts := filter["$and"].([]bson.M)
	require.Len(t, parts, 2)
	assert.Equal(t, bson.M{"status": bson.M{"$eq": "active"}}, parts[0])
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"tier": bson.M{"$eq": "gold"}},
		{"spend": bson.M{"$gt": 100}},
	}}, parts[1])
}

func TestHasClausesSplitFromFilter(t *testing.T) {
	b := docBuilder(t, "User").Where("tier", "=", "gold").WhereHas("posts", nil)
	filter, has := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"tier": bson.M{"$eq": "gold"}}, filter)
	require.Len(t, has, 1)
	assert.Equal(t, clause.Has, has[0].Kind)
	assert.Equal(t, "posts", has[0].Relation)
}

func TestNestedHasClausesAreHoisted(t *testing.T) {
	b := docBuilder(t, "User").WhereGroup(func(q *Builder) {
		q.Where("tier", "=", "gold").WhereHas("posts", nil)
	})
	filter, has := compileFilter(b.Definition(), b.Clauses())
	assert.Equal(t, bson.M{"tier": bson.M{"$eq": "gold"}}, filter)
	require.Len(t, has, 1)
	assert.Equal(t, "posts", has[0].Relation)
}

func TestEmptyFilter(t *testing.T) {
	b := docBuilder(t, "User")
	filter, has := compileFilter(b.Definition(), b.Clauses())
	assert.Empty(t, has)
	assert.Equal(t, bson.M{}, filter)
}

func TestCompareCount(t *testing.T) {
	assert.True(t, compareCount(2, ">=", 1))
	assert.False(t, compareCount(0, ">=", 1))
	assert.True(t, compareCount(0, "<", 1))
	assert.True(t, compareCount(3, "=", 3))
	assert.True(t, compareCount(3, "!=", 2))
	assert.False(t, compareCount(3, "weird", 2))
}
