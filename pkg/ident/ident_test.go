package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIsIDField(t *testing.T) {
	assert.True(t, IsIDField("id", "id"))
	assert.True(t, IsIDField("_id", "id"))
	assert.True(t, IsIDField("customer_id", "id"))
	assert.True(t, IsIDField("uuid", "uuid"))
	assert.False(t, IsIDField("paid", "id"))
	assert.False(t, IsIDField("name", "id"))
}

func TestCanonical(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	oid, ok := Canonical(hex).(primitive.ObjectID)
	assert.True(t, ok)
	assert.Equal(t, hex, oid.Hex())

	// numeric strings stay strings so they remain distinguishable from hex ids
	assert.Equal(t, "12345", Canonical("12345"))
	assert.Equal(t, 42, Canonical(42))
	assert.Nil(t, Canonical(nil))
}

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), Normalize(oid))
	assert.Equal(t, "plain", Normalize("plain"))
	assert.Equal(t, 7, Normalize(7))
}

func TestForms(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	forms := Forms(hex)
	assert.Contains(t, forms, hex)
	assert.Contains(t, forms, hex[:8])
	var hasOID bool
	for _, f := range forms {
		if oid, ok := f.(primitive.ObjectID); ok && oid.Hex() == hex {
			hasOID = true
		}
	}
	assert.True(t, hasOID, "24-hex strings expand to their native reference form")

	forms = Forms("123")
	assert.Contains(t, forms, "123")
	assert.Contains(t, forms, int64(123))

	forms = Forms(7)
	assert.Contains(t, forms, 7)
	assert.Contains(t, forms, "7")

	oid := primitive.NewObjectID()
	assert.Contains(t, Forms(oid), oid.Hex())
}

func TestKeyStringFoldsRepresentations(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, KeyString(oid), KeyString(oid.Hex()))
	assert.Equal(t, KeyString(7), KeyString(int64(7)))
	assert.Equal(t, KeyString(7), KeyString(float64(7)))
	assert.Equal(t, "7.5", KeyString(7.5))
	assert.Equal(t, "", KeyString(nil))
}

func TestIsHex(t *testing.T) {
	assert.True(t, IsHex("507f1f77bcf86cd799439011"))
	assert.False(t, IsHex("507f1f77"))
	assert.False(t, IsHex(24))
}
