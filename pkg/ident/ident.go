// Package ident handles identifier representation for the document backend.
//
// Identifiers are canonicalized at the write boundary: 24-hex strings in
// id-like fields become native ObjectID references before they reach the
// store. The read side still expands candidate forms when matching keys, but
// only to cope with rows written by other producers.
package ident

import (
	"fmt"
	"regexp"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	hexPattern     = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
)

// IsIDField reports whether field is identifier-like: the primary key itself
// or any field with an "_id" suffix.
func IsIDField(field, primaryKey string) bool {
	if field == primaryKey || field == "id" || field == "_id" {
		return true
	}
	n := len(field)
	return n > 3 && field[n-3:] == "_id"
}

// IsHex reports whether v is a string in the 24-hex-character form.
func IsHex(v any) bool {
	s, ok := v.(string)
	return ok && hexPattern.MatchString(s)
}

// Canonical returns the single write-boundary representation of an id value:
// 24-hex strings become ObjectID, everything else passes through. Numeric
// strings deliberately stay strings so they remain distinguishable from
// hex ids.
func Canonical(v any) any {
	if s, ok := v.(string); ok && hexPattern.MatchString(s) {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return v
}

// Normalize converts store-native reference values back to their portable
// string form on the read path.
func Normalize(v any) any {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

// Forms expands a key value into every representation it may have been
// stored under: raw, string form, numeric form for digit-only strings,
// ObjectID form for 24-hex strings, and the 8-character prefix form used by
// truncated-id storage.
func Forms(v any) []any {
	forms := []any{v}

	switch val := v.(type) {
	case string:
		if numericPattern.MatchString(val) {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				forms = append(forms, n)
			}
		}
		if hexPattern.MatchString(val) {
			if oid, err := primitive.ObjectIDFromHex(val); err == nil {
				forms = append(forms, oid)
			}
		}
		if len(val) > 8 {
			forms = append(forms, val[:8])
		}
	case primitive.ObjectID:
		forms = append(forms, val.Hex())
	case int, int32, int64, float64:
		forms = append(forms, fmt.Sprintf("%v", val))
	}
	return forms
}

// KeyString folds every representation of the same key into one comparable
// string, so rows fetched in mixed forms group correctly.
func KeyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return val.Hex()
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
