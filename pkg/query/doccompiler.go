package query

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/polystore/polyorm/pkg/clause"
	"github.com/polystore/polyorm/pkg/ident"
	"github.com/polystore/polyorm/pkg/schema"
)

// docOperators maps basic operators to their filter-document form.
var docOperators = map[string]string{
	"=":  "$eq",
	"!=": "$ne",
	"<>": "$ne",
	"<":  "$lt",
	"<=": "$lte",
	">":  "$gt",
	">=": "$gte",
}

// compileFilter renders a clause list to a native filter tree. Has-variant
// clauses cannot be expressed as filters (no correlated subqueries) and are
// returned separately for the post-fetch pass; has-conditions found inside
// nested groups are hoisted into the same list with AND semantics.
func compileFilter(def *schema.Definition, clauses []clause.Clause) (bson.M, []clause.Clause) {
	var andParts []bson.M
	var orParts []bson.M
	var hasClauses []clause.Clause

	for i, cl := range clauses {
		if cl.Kind == clause.Has {
			hasClauses = append(hasClauses, cl)
			continue
		}
		frag, nestedHas := compileFragment(def, cl)
		hasClauses = append(hasClauses, nestedHas...)
		if frag == nil {
			continue
		}
		// The first clause ignores its connective.
		if i > 0 && cl.Connective == clause.Or {
			orParts = append(orParts, frag)
		} else {
			andParts = append(andParts, frag)
		}
	}

	switch {
	case len(andParts) == 0 && len(orParts) == 0:
		return bson.M{}, hasClauses
	case len(orParts) == 0:
		if len(andParts) == 1 {
			return andParts[0], hasClauses
		}
		return bson.M{"$and": andParts}, hasClauses
	case len(andParts) == 0:
		return bson.M{"$or": orParts}, hasClauses
	default:
		return bson.M{"$and": []bson.M{
			{"$and": andParts},
			{"$or": orParts},
		}}, hasClauses
	}
}

func compileFragment(def *schema.Definition, cl clause.Clause) (bson.M, []clause.Clause) {
	switch cl.Kind {
	case clause.Basic:
		value := cl.Value
		if ident.IsIDField(cl.Field, def.PrimaryKey) {
			value = ident.Canonical(value)
		}
		if cl.Operator == "like" || cl.Operator == "LIKE" {
			return bson.M{cl.Field: bson.M{"$regex": likeToRegex(cl.Value), "$options": "i"}}, nil
		}
		op, ok := docOperators[cl.Operator]
		if !ok {
			return nil, nil
		}
		return bson.M{cl.Field: bson.M{op: value}}, nil
	case clause.In:
		values := cl.Values
		if ident.IsIDField(cl.Field, def.PrimaryKey) {
			coerced := make([]any, 0, len(values))
			for _, v := range values {
				coerced = append(coerced, ident.Canonical(v))
			}
			values = coerced
		}
		op := "$in"
		if cl.Not {
			op = "$nin"
		}
		return bson.M{cl.Field: bson.M{op: values}}, nil
	case clause.Between:
		return bson.M{cl.Field: bson.M{"$gte": cl.Values[0], "$lte": cl.Values[1]}}, nil
	case clause.Null:
		if cl.Not {
			return bson.M{cl.Field: bson.M{"$ne": nil}}, nil
		}
		return bson.M{cl.Field: bson.M{"$eq": nil}}, nil
	case clause.Nested:
		sub, nestedHas := compileFilter(def, cl.Sub)
		if len(sub) == 0 {
			return nil, nestedHas
		}
		return sub, nestedHas
	}
	return nil, nil
}

// likeToRegex converts a SQL LIKE pattern to an anchored regular expression.
func likeToRegex(v any) string {
	s, _ := v.(string)
	escaped := regexp.QuoteMeta(s)
	escaped = strings.ReplaceAll(escaped, "%", ".*")
	escaped = strings.ReplaceAll(escaped, "_", ".")
	return "^" + escaped + "$"
}
