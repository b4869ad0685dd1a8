package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePivotStore struct {
	inserts  []map[string]any
	updates  []map[string]any
	deletes  []map[string]any
	affected int64
}

func (f *fakePivotStore) InsertRow(_ context.Context, _ string, row map[string]any) error {
	f.inserts = append(f.inserts, row)
	return nil
}

func (f *fakePivotStore) UpdateRows(_ context.Context, _ string, match, _ map[string]any) (int64, error) {
	f.updates = append(f.updates, match)
	return f.affected, nil
}

func (f *fakePivotStore) DeleteRows(_ context.Context, _ string, match map[string]any) (int64, error) {
	f.deletes = append(f.deletes, match)
	return f.affected, nil
}

func TestPivotSaveUpdatesExistingRow(t *testing.T) {
	store := &fakePivotStore{affected: 1}
	p := NewPivot("role_user", "user_id", "role_id", map[string]any{
		"user_id": 1, "role_id": 2, "expires_at": "2026-12-31",
	})
	require.NoError(t, p.Save(context.Background(), store))
	assert.Len(t, store.updates, 1)
	assert.Empty(t, store.inserts)
	assert.Equal(t, map[string]any{"user_id": 1, "role_id": 2}, store.updates[0])
}

func TestPivotSaveInsertsWhenMissing(t *testing.T) {
	store := &fakePivotStore{affected: 0}
	p := NewPivot("role_user", "user_id", "role_id", map[string]any{
		"user_id": 1, "role_id": 2, "expires_at": "2026-12-31",
	})
	require.NoError(t, p.Save(context.Background(), store))
	assert.Len(t, store.inserts, 1)
}

func TestPivotSaveKeysOnlyInsertsDirectly(t *testing.T) {
	store := &fakePivotStore{}
	p := NewPivot("role_user", "user_id", "role_id", map[string]any{
		"user_id": 1, "role_id": 2,
	})
	require.NoError(t, p.Save(context.Background(), store))
	assert.Empty(t, store.updates, "nothing to update when only join keys exist")
	assert.Len(t, store.inserts, 1)
}

func TestPivotDelete(t *testing.T) {
	store := &fakePivotStore{affected: 1}
	p := NewPivot("role_user", "user_id", "role_id", map[string]any{"user_id": 1, "role_id": 2})
	require.NoError(t, p.Delete(context.Background(), store))
	assert.Equal(t, map[string]any{"user_id": 1, "role_id": 2}, store.deletes[0])
}

func TestPivotGetSet(t *testing.T) {
	p := NewPivot("role_user", "user_id", "role_id", nil)
	p.Set("note", "temp")
	assert.Equal(t, "temp", p.Get("note"))
}
