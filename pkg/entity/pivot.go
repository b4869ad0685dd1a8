package entity

import "context"

// PivotStore is the slice of a backend the pivot needs: direct row access to
// the join table/collection.
type PivotStore interface {
	InsertRow(ctx context.Context, table string, row map[string]any) error
	UpdateRows(ctx context.Context, table string, match, values map[string]any) (int64, error)
	DeleteRows(ctx context.Context, table string, match map[string]any) (int64, error)
}

// Pivot represents one join row of a many-to-many relation. It owns no
// entity; its lifetime is tied to the join row it mirrors, and Save/Delete
// act directly on the join table.
type Pivot struct {
	Table      string
	ForeignKey string
	RelatedKey string
	Attributes map[string]any
}

// NewPivot builds a pivot record for table keyed by foreignKey/relatedKey.
func NewPivot(table, foreignKey, relatedKey string, attrs map[string]any) *Pivot {
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Pivot{
		Table:      table,
		ForeignKey: foreignKey,
		RelatedKey: relatedKey,
		Attributes: attrs,
	}
}

// Get returns a pivot attribute.
func (p *Pivot) Get(field string) any { return p.Attributes[field] }

// Set stores a pivot attribute.
func (p *Pivot) Set(field string, value any) { p.Attributes[field] = value }

func (p *Pivot) match() map[string]any {
	return map[string]any{
		p.ForeignKey: p.Attributes[p.ForeignKey],
		p.RelatedKey: p.Attributes[p.RelatedKey],
	}
}

// Save updates the join row in place, inserting it when it does not exist.
func (p *Pivot) Save(ctx context.Context, store PivotStore) error {
	values := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		if k == p.ForeignKey || k == p.RelatedKey {
			continue
		}
		values[k] = v
	}
	if len(values) > 0 {
		affected, err := store.UpdateRows(ctx, p.Table, p.match(), values)
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
	}
	return store.InsertRow(ctx, p.Table, p.Attributes)
}

// Delete removes the join row.
func (p *Pivot) Delete(ctx context.Context, store PivotStore) error {
	_, err := store.DeleteRows(ctx, p.Table, p.match())
	return err
}
