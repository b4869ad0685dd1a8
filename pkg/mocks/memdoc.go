package mocks

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/ident"
)

// MemDocStore is an in-memory core.DocumentExecutor implementing the filter
// operator subset the document compiler emits: $and, $or, $eq, $ne, $in,
// $nin, $gt, $gte, $lt, $lte, $regex. Missing fields compare as nil, like
// the real store.
type MemDocStore struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
}

// NewMemDocStore creates an empty store.
func NewMemDocStore() *MemDocStore {
	return &MemDocStore{collections: make(map[string][]map[string]any)}
}

// Seed replaces the contents of a collection.
func (s *MemDocStore) Seed(collection string, docs []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		copied = append(copied, copyDoc(d))
	}
	s.collections[collection] = copied
}

func (s *MemDocStore) Find(_ context.Context, q *core.DocumentQuery) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, doc := range s.collections[q.Collection] {
		if matches(doc, q.Filter) {
			out = append(out, copyDoc(doc))
		}
	}
	if len(q.Sort) > 0 {
		sortDocs(out, q.Sort)
	}
	if q.Skip > 0 {
		if q.Skip >= int64(len(out)) {
			out = nil
		} else {
			out = out[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < int64(len(out)) {
		out = out[:q.Limit]
	}
	if len(q.Projection) > 0 {
		for i, doc := range out {
			out[i] = project(doc, q.Projection)
		}
	}
	return out, nil
}

func (s *MemDocStore) Insert(_ context.Context, collection string, doc map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyDoc(doc)
	id, ok := stored["_id"]
	if !ok {
		id = primitive.NewObjectID()
		stored["_id"] = id
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return id, nil
}

func (s *MemDocStore) Update(_ context.Context, collection string, filter, update bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, _ := update["$set"].(bson.M)
	var n int64
	for _, doc := range s.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		for k, v := range set {
			doc[k] = v
		}
		n++
	}
	return n, nil
}

func (s *MemDocStore) Delete(_ context.Context, collection string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.collections[collection][:0:0]
	var n int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return n, nil
}

func (s *MemDocStore) Count(_ context.Context, collection string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

// Aggregate supports the $match + $group(_id: nil) pipeline shape the
// document backend emits for sum/avg/min/max.
func (s *MemDocStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]map[string]any, error) {
	filter := bson.M{}
	var group bson.M
	for _, stage := range pipeline {
		if m, ok := stage["$match"].(bson.M); ok {
			filter = m
		}
		if g, ok := stage["$group"].(bson.M); ok {
			group = g
		}
	}
	rows, err := s.Find(ctx, &core.DocumentQuery{Collection: collection, Filter: filter})
	if err != nil {
		return nil, err
	}
	if group == nil {
		return rows, nil
	}

	out := map[string]any{"_id": nil}
	for name, exprAny := range group {
		if name == "_id" {
			continue
		}
		expr, ok := exprAny.(bson.M)
		if !ok {
			continue
		}
		for op, fieldAny := range expr {
			field, _ := fieldAny.(string)
			if len(field) > 0 && field[0] == '$' {
				field = field[1:]
			}
			out[name] = fold(op, field, rows)
		}
	}
	return []map[string]any{out}, nil
}

func fold(op, field string, rows []map[string]any) any {
	var sum float64
	var count int
	var minV, maxV float64
	first := true
	for _, row := range rows {
		f, ok := toNumber(row[field])
		if !ok {
			continue
		}
		sum += f
		count++
		if first || f < minV {
			minV = f
		}
		if first || f > maxV {
			maxV = f
		}
		first = false
	}
	switch op {
	case "$sum":
		return sum
	case "$avg":
		if count == 0 {
			return nil
		}
		return sum / float64(count)
	case "$min":
		if first {
			return nil
		}
		return minV
	case "$max":
		if first {
			return nil
		}
		return maxV
	}
	return nil
}

func matches(doc map[string]any, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range toFilterList(cond) {
				if !matches(doc, sub) {
					return false
				}
			}
		case "$or":
			subs := toFilterList(cond)
			if len(subs) == 0 {
				continue
			}
			matched := false
			for _, sub := range subs {
				if matches(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if !matchField(doc[key], cond) {
				return false
			}
		}
	}
	return true
}

func toFilterList(v any) []bson.M {
	switch list := v.(type) {
	case []bson.M:
		return list
	case []any:
		out := make([]bson.M, 0, len(list))
		for _, item := range list {
			if m, ok := item.(bson.M); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func matchField(value any, cond any) bool {
	ops, ok := cond.(bson.M)
	if !ok {
		return equal(value, cond)
	}
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !equal(value, operand) {
				return false
			}
		case "$ne":
			if equal(value, operand) {
				return false
			}
		case "$in":
			if !inList(value, operand) {
				return false
			}
		case "$nin":
			if inList(value, operand) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			cmp, comparable := compare(value, operand)
			if !comparable {
				return false
			}
			switch op {
			case "$gt":
				if cmp <= 0 {
					return false
				}
			case "$gte":
				if cmp < 0 {
					return false
				}
			case "$lt":
				if cmp >= 0 {
					return false
				}
			case "$lte":
				if cmp > 0 {
					return false
				}
			}
		case "$regex":
			pattern, _ := operand.(string)
			s, isStr := value.(string)
			if !isStr {
				return false
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil || !re.MatchString(s) {
				return false
			}
		case "$options":
			// handled alongside $regex
		default:
			return false
		}
	}
	return true
}

func inList(value any, operand any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if equal(value, item) {
			return true
		}
	}
	return false
}

// equal folds identifier forms so an ObjectID compares equal to its hex
// string and numbers compare across int/float representations.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return ident.KeyString(a) == ident.KeyString(b)
}

func compare(a, b any) (int, bool) {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sortDocs(docs []map[string]any, order bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			cmp, ok := compare(docs[i][o.Key], docs[j][o.Key])
			if !ok || cmp == 0 {
				continue
			}
			if dir, _ := o.Value.(int); dir < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func project(doc map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
