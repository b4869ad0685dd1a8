package relations

import (
	"context"
	"fmt"

	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/ident"
	"github.com/polystore/polyorm/pkg/schema"
)

// SyncResult reports the key movements performed by Sync and Toggle.
type SyncResult struct {
	Attached []any
	Detached []any
	Updated  []any
}

// pivotRel resolves a belongsToMany descriptor or fails.
func (e *Engine) pivotRel(parent *entity.Entity, relation string) (schema.Relation, error) {
	def := parent.Definition()
	rel, _, err := e.reg.Relation(def.Name, relation)
	if err != nil {
		return schema.Relation{}, err
	}
	if rel.Kind != schema.BelongsToMany {
		return schema.Relation{}, fmt.Errorf("%w: %s.%s is not many-to-many", errors.ErrUnknownRelation, def.Name, relation)
	}
	return rel, nil
}

func (e *Engine) parentKey(parent *entity.Entity, rel schema.Relation) (any, error) {
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = parent.Definition().PrimaryKey
	}
	key := parent.GetRaw(localKey)
	if key == nil {
		return nil, errors.New("associate", parent.Definition().Name, errors.ErrMissingPrimaryKey)
	}
	return key, nil
}

// currentKeys returns the related keys currently present in the pivot
// table for parent, in stored form.
func (e *Engine) currentKeys(ctx context.Context, parent *entity.Entity, rel schema.Relation) ([]any, error) {
	key, err := e.parentKey(parent, rel)
	if err != nil {
		return nil, err
	}
	pivots, err := e.backend.TableSelect(ctx, rel.PivotTable, map[string][]any{
		rel.PivotForeignKey: e.expand([]any{key}),
	})
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, len(pivots))
	seen := make(map[string]bool)
	for _, pv := range pivots {
		k := pv[rel.PivotRelatedKey]
		ks := ident.KeyString(k)
		if ks == "" || seen[ks] {
			continue
		}
		seen[ks] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// Attach inserts pivot rows joining parent to each related key. Rows are
// inserted one by one and are not transactional: a mid-sequence failure
// leaves the earlier rows attached.
func (e *Engine) Attach(ctx context.Context, parent *entity.Entity, relation string, relatedKeys []any, attrs map[string]any) error {
	rel, err := e.pivotRel(parent, relation)
	if err != nil {
		return err
	}
	key, err := e.parentKey(parent, rel)
	if err != nil {
		return err
	}
	for _, rk := range relatedKeys {
		row := map[string]any{
			rel.PivotForeignKey: key,
			rel.PivotRelatedKey: rk,
		}
		for f, v := range attrs {
			row[f] = v
		}
		if err := e.backend.TableInsert(ctx, rel.PivotTable, row); err != nil {
			return err
		}
	}
	return nil
}

// Detach removes pivot rows for the given related keys, or every row of the
// parent when no keys are given. Returns the number of removed rows.
func (e *Engine) Detach(ctx context.Context, parent *entity.Entity, relation string, relatedKeys ...any) (int64, error) {
	rel, err := e.pivotRel(parent, relation)
	if err != nil {
		return 0, err
	}
	key, err := e.parentKey(parent, rel)
	if err != nil {
		return 0, err
	}
	match := map[string]any{rel.PivotForeignKey: key}
	if len(relatedKeys) > 0 {
		match[rel.PivotRelatedKey] = e.expand(relatedKeys)
	}
	return e.backend.TableDelete(ctx, rel.PivotTable, match)
}

// Sync reconciles the pivot set against target: keys not in target detach,
// missing keys attach, and keys that stay are updated when attrs carries
// values for them (keyed by their comparable form). Each step commits
// independently; Sync is not atomic.
func (e *Engine) Sync(ctx context.Context, parent *entity.Entity, relation string, target []any, attrs map[string]map[string]any) (*SyncResult, error) {
	rel, err := e.pivotRel(parent, relation)
	if err != nil {
		return nil, err
	}
	current, err := e.currentKeys(ctx, parent, rel)
	if err != nil {
		return nil, err
	}

	currentSet := keySet(current)
	targetSet := keySet(target)
	result := &SyncResult{}

	var toDetach []any
	for _, c := range current {
		if !targetSet[ident.KeyString(c)] {
			toDetach = append(toDetach, c)
			result.Detached = append(result.Detached, c)
		}
	}
	if len(toDetach) > 0 {
		if _, err := e.Detach(ctx, parent, relation, toDetach...); err != nil {
			return nil, err
		}
	}

	key, err := e.parentKey(parent, rel)
	if err != nil {
		return nil, err
	}
	for _, t := range target {
		ks := ident.KeyString(t)
		if !currentSet[ks] {
			if err := e.Attach(ctx, parent, relation, []any{t}, attrs[ks]); err != nil {
				return nil, err
			}
			result.Attached = append(result.Attached, t)
			continue
		}
		if values, ok := attrs[ks]; ok && len(values) > 0 {
			match := map[string]any{
				rel.PivotForeignKey: key,
				rel.PivotRelatedKey: t,
			}
			if _, err := e.backend.TableUpdate(ctx, rel.PivotTable, match, values); err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, t)
		}
	}
	return result, nil
}

// Toggle flips membership for exactly the supplied keys: present keys
// detach, absent keys attach. Not atomic.
func (e *Engine) Toggle(ctx context.Context, parent *entity.Entity, relation string, keys []any) (*SyncResult, error) {
	rel, err := e.pivotRel(parent, relation)
	if err != nil {
		return nil, err
	}
	current, err := e.currentKeys(ctx, parent, rel)
	if err != nil {
		return nil, err
	}
	currentSet := keySet(current)

	result := &SyncResult{}
	for _, k := range keys {
		if currentSet[ident.KeyString(k)] {
			if _, err := e.Detach(ctx, parent, relation, k); err != nil {
				return nil, err
			}
			result.Detached = append(result.Detached, k)
			continue
		}
		if err := e.Attach(ctx, parent, relation, []any{k}, nil); err != nil {
			return nil, err
		}
		result.Attached = append(result.Attached, k)
	}
	return result, nil
}

// Associate points a belongsTo child at parent by writing the foreign key
// attribute. Nothing is persisted until the child is saved.
func (e *Engine) Associate(child *entity.Entity, relation string, parent *entity.Entity) error {
	def := child.Definition()
	rel, relatedDef, err := e.reg.Relation(def.Name, relation)
	if err != nil {
		return err
	}
	if rel.Kind != schema.BelongsTo {
		return fmt.Errorf("%w: %s.%s is not belongsTo", errors.ErrUnknownRelation, def.Name, relation)
	}
	ownerKey := rel.OwnerKey
	if ownerKey == "" {
		ownerKey = relatedDef.PrimaryKey
	}
	child.SetAttribute(rel.ForeignKey, parent.GetRaw(ownerKey))
	child.SetRelation(relation, parent)
	return nil
}

// Dissociate clears a belongsTo foreign key.
func (e *Engine) Dissociate(child *entity.Entity, relation string) error {
	def := child.Definition()
	rel, _, err := e.reg.Relation(def.Name, relation)
	if err != nil {
		return err
	}
	if rel.Kind != schema.BelongsTo {
		return fmt.Errorf("%w: %s.%s is not belongsTo", errors.ErrUnknownRelation, def.Name, relation)
	}
	child.SetAttribute(rel.ForeignKey, nil)
	child.SetRelation(relation, nil)
	return nil
}

// InsertRow implements entity.PivotStore.
func (e *Engine) InsertRow(ctx context.Context, table string, row map[string]any) error {
	return e.backend.TableInsert(ctx, table, row)
}

// UpdateRows implements entity.PivotStore.
func (e *Engine) UpdateRows(ctx context.Context, table string, match, values map[string]any) (int64, error) {
	return e.backend.TableUpdate(ctx, table, match, values)
}

// DeleteRows implements entity.PivotStore.
func (e *Engine) DeleteRows(ctx context.Context, table string, match map[string]any) (int64, error) {
	return e.backend.TableDelete(ctx, table, match)
}

func keySet(keys []any) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[ident.KeyString(k)] = true
	}
	return set
}
