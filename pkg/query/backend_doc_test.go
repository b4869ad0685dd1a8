package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/mocks"
	"github.com/polystore/polyorm/pkg/schema"
)

func shopRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.Definition{
		Name: "Customer", Table: "customers", AutoIncrement: true, SoftDeletes: true,
		Relations: map[string]schema.Relation{
			"orders": {Kind: schema.HasMany, Related: "Order", ForeignKey: "customer_id"},
		},
	}))
	require.NoError(t, reg.Register(&schema.Definition{
		Name: "Order", Table: "orders", AutoIncrement: true,
		Relations: map[string]schema.Relation{
			"customer": {Kind: schema.BelongsTo, Related: "Customer", ForeignKey: "customer_id"},
		},
	}))
	return reg
}

func seedShop(store *mocks.MemDocStore) {
	store.Seed("customers", []map[string]any{
		{"id": 1, "name": "Ann", "tier": "gold", "spend": 320.0},
		{"id": 2, "name": "Bea", "tier": "silver", "spend": 80.0},
		{"id": 3, "name": "Cal", "tier": "gold", "spend": 40.0},
	})
	store.Seed("orders", []map[string]any{
		{"id": 10, "customer_id": 1, "total": 100.0, "status": "paid"},
		{"id": 11, "customer_id": 1, "total": 220.0, "status": "paid"},
		{"id": 12, "customer_id": 2, "total": 80.0, "status": "pending"},
	})
}

func docQuery(t *testing.T, reg *schema.Registry, store *mocks.MemDocStore, name string) *Builder {
	t.Helper()
	def, err := reg.Lookup(name)
	require.NoError(t, err)
	return NewBuilder(def, reg, NewDocumentBackend(store, reg, nil), nil, nil)
}

func TestDocFetchFilterSortLimit(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	got, err := docQuery(t, reg, store, "Customer").
		Where("tier", "=", "gold").
		OrderBy("spend", "desc").
		All()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ann", got[0].GetRaw("name"))
	assert.Equal(t, "Cal", got[1].GetRaw("name"))

	one, err := docQuery(t, reg, store, "Customer").
		OrderBy("id", "asc").
		Limit(1).
		Offset(1).
		All()
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Bea", one[0].GetRaw("name"))
}

func TestDocHasConditionFiltersCandidates(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	withBigOrders, err := docQuery(t, reg, store, "Customer").
		WhereHas("orders", func(q *Builder) {
			q.Where("total", ">", 150)
		}).
		All()
	require.NoError(t, err)
	require.Len(t, withBigOrders, 1)
	assert.Equal(t, "Ann", withBigOrders[0].GetRaw("name"))

	without, err := docQuery(t, reg, store, "Customer").
		WhereDoesntHave("orders", nil).
		All()
	require.NoError(t, err)
	require.Len(t, without, 1)
	assert.Equal(t, "Cal", without[0].GetRaw("name"))
}

func TestDocHasConditionBoundsApplyAfterFiltering(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	got, err := docQuery(t, reg, store, "Customer").
		WhereHas("orders", nil).
		OrderBy("id", "asc").
		Limit(1).
		All()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ann", got[0].GetRaw("name"))

	n, err := docQuery(t, reg, store, "Customer").WhereHas("orders", nil).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDocAggregates(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	sum, err := docQuery(t, reg, store, "Order").Sum("total")
	require.NoError(t, err)
	assert.Equal(t, 400.0, sum)

	avg, err := docQuery(t, reg, store, "Order").Where("status", "=", "paid").Avg("total")
	require.NoError(t, err)
	assert.Equal(t, 160.0, avg)

	max, err := docQuery(t, reg, store, "Order").Max("total")
	require.NoError(t, err)
	assert.Equal(t, 220.0, max)

	// aggregate over a has-filtered candidate set folds in memory
	total, err := docQuery(t, reg, store, "Customer").
		WhereHas("orders", nil).
		Sum("spend")
	require.NoError(t, err)
	assert.Equal(t, 400.0, total)
}

func TestDocPaginationLaws(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	docs := make([]map[string]any, 0, 47)
	for i := 1; i <= 47; i++ {
		docs = append(docs, map[string]any{"id": i, "name": fmt.Sprintf("c%02d", i)})
	}
	store.Seed("customers", docs)

	var seen int
	for page := 1; page <= 5; page++ {
		p, err := docQuery(t, reg, store, "Customer").
			OrderBy("id", "asc").
			Paginate(10, page)
		require.NoError(t, err)
		assert.Equal(t, int64(47), p.Pagination.Total)
		assert.Equal(t, 5, p.Pagination.LastPage)
		assert.Equal(t, page, p.Pagination.CurrentPage)
		if page < 5 {
			assert.Len(t, p.Data, 10)
		} else {
			assert.Len(t, p.Data, 7)
		}
		seen += len(p.Data)
	}
	assert.Equal(t, 47, seen)

	past, err := docQuery(t, reg, store, "Customer").Paginate(10, 6)
	require.NoError(t, err)
	assert.Empty(t, past.Data)
}

func TestDocSoftDeleteScoping(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	n, err := docQuery(t, reg, store, "Customer").
		Where("id", "=", 2).
		Delete(false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// default scope hides the soft-deleted row
	visible, err := docQuery(t, reg, store, "Customer").All()
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	trashed, err := docQuery(t, reg, store, "Customer").OnlyTrashed().All()
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, "Bea", trashed[0].GetRaw("name"))

	all, err := docQuery(t, reg, store, "Customer").WithTrashed().All()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	restored, err := docQuery(t, reg, store, "Customer").
		Where("id", "=", 2).
		Restore()
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored)

	visible, err = docQuery(t, reg, store, "Customer").All()
	require.NoError(t, err)
	assert.Len(t, visible, 3)
}

func TestDocWritesThroughHasConditions(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	// the write resolves surviving candidates first, then targets their keys
	n, err := docQuery(t, reg, store, "Customer").
		WhereHas("orders", func(q *Builder) { q.Where("total", ">", 150) }).
		Update(map[string]any{"tier": "platinum"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ann, err := docQuery(t, reg, store, "Customer").Find(1)
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "platinum", ann.GetRaw("tier"))
}

func TestDocInsertCanonicalizesIdentifiers(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()

	hex := "507f1f77bcf86cd799439011"
	_, err := docQuery(t, reg, store, "Order").Insert(map[string]any{
		"id": 20, "customer_ref_id": hex, "total": 10.0,
	})
	require.NoError(t, err)

	// reading back, the native reference normalizes to its portable form
	got, err := docQuery(t, reg, store, "Order").Find(20)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hex, got.GetRaw("customer_ref_id"))
}

func TestDocFirstAndFindOrFail(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	seedShop(store)

	none, err := docQuery(t, reg, store, "Customer").Where("tier", "=", "bronze").First()
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = docQuery(t, reg, store, "Customer").FindOrFail(404)
	assert.True(t, errors.IsNotFound(err))
}

func TestDocTimePassThrough(t *testing.T) {
	reg := shopRegistry(t)
	store := mocks.NewMemDocStore()
	now := time.Now().UTC()
	store.Seed("customers", []map[string]any{{"id": 1, "name": "Ann", "joined": now}})

	got, err := docQuery(t, reg, store, "Customer").Find(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, now, got.GetRaw("joined"))
}
