package polyorm_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	polyorm "github.com/polystore/polyorm"
	"github.com/polystore/polyorm/drivers/sqlite"
	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/ident"
	"github.com/polystore/polyorm/pkg/mocks"
	"github.com/polystore/polyorm/pkg/query"
	"github.com/polystore/polyorm/pkg/schema"
	"github.com/polystore/polyorm/pkg/session"
)

func shopDefs() []*schema.Definition {
	return []*schema.Definition{
		{
			Name: "Customer", Table: "customers", AutoIncrement: true, SoftDeletes: true,
			Relations: map[string]schema.Relation{
				"orders": {Kind: schema.HasMany, Related: "Order", ForeignKey: "customer_id"},
			},
		},
		{
			Name: "Order", Table: "orders", AutoIncrement: true,
			Relations: map[string]schema.Relation{
				"customer": {Kind: schema.BelongsTo, Related: "Customer", ForeignKey: "customer_id"},
			},
		},
		{
			Name: "Account", Table: "accounts", SoftDeletes: true, Timestamps: true,
		},
	}
}

func newSQLShop(t *testing.T) *polyorm.DB {
	t.Helper()
	exec, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, tier TEXT, spend REAL, deleted_at TIMESTAMP)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, total REAL, status TEXT)`,
		`CREATE TABLE accounts (id TEXT PRIMARY KEY, name TEXT, plan TEXT, created_at TIMESTAMP, updated_at TIMESTAMP, deleted_at TIMESTAMP)`,
		`INSERT INTO customers (id, name, tier, spend) VALUES (1, 'Ann', 'gold', 320), (2, 'Bea', 'silver', 80), (3, 'Cal', 'gold', 40)`,
		`INSERT INTO customers (id, name, tier, spend, deleted_at) VALUES (4, 'Dee', 'gold', 10, '2026-01-01 00:00:00')`,
		`INSERT INTO orders (id, customer_id, total, status) VALUES (10, 1, 100, 'paid'), (11, 1, 220, 'paid'), (12, 2, 80, 'pending')`,
	} {
		_, err := exec.DB().Exec(stmt)
		require.NoError(t, err)
	}

	db, err := polyorm.New(&session.Config{Engine: session.EngineSQL}, polyorm.WithSQL(exec))
	require.NoError(t, err)
	require.NoError(t, db.Register(shopDefs()...))
	return db
}

func newDocShop(t *testing.T) *polyorm.DB {
	t.Helper()
	store := mocks.NewMemDocStore()
	store.Seed("customers", []map[string]any{
		{"id": 1, "name": "Ann", "tier": "gold", "spend": 320.0},
		{"id": 2, "name": "Bea", "tier": "silver", "spend": 80.0},
		{"id": 3, "name": "Cal", "tier": "gold", "spend": 40.0},
		{"id": 4, "name": "Dee", "tier": "gold", "spend": 10.0, "deleted_at": "2026-01-01 00:00:00"},
	})
	store.Seed("orders", []map[string]any{
		{"id": 10, "customer_id": 1, "total": 100.0, "status": "paid"},
		{"id": 11, "customer_id": 1, "total": 220.0, "status": "paid"},
		{"id": 12, "customer_id": 2, "total": 80.0, "status": "pending"},
	})

	db, err := polyorm.New(&session.Config{Engine: session.EngineDocument}, polyorm.WithDocument(store))
	require.NoError(t, err)
	require.NoError(t, db.Register(shopDefs()...))
	return db
}

func customerIDs(t *testing.T, db *polyorm.DB, build func(*query.Builder) *query.Builder) []string {
	t.Helper()
	got, err := build(db.Model("Customer")).All()
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, ident.KeyString(e.GetRaw("id")))
	}
	sort.Strings(ids)
	return ids
}

// Both backends must select the same rows for every supported predicate
// shape, given the same data.
func TestPredicateEquivalenceAcrossBackends(t *testing.T) {
	sqlDB := newSQLShop(t)
	docDB := newDocShop(t)

	cases := []struct {
		name  string
		build func(*query.Builder) *query.Builder
	}{
		{"basic equality", func(b *query.Builder) *query.Builder {
			return b.Where("tier", "=", "gold")
		}},
		{"comparison", func(b *query.Builder) *query.Builder {
			return b.Where("spend", ">", 50)
		}},
		{"in list", func(b *query.Builder) *query.Builder {
			return b.WhereIn("tier", []any{"gold", "silver"})
		}},
		{"between", func(b *query.Builder) *query.Builder {
			return b.WhereBetween("spend", 50, 150)
		}},
		{"null check", func(b *query.Builder) *query.Builder {
			return b.WhereNotNull("name")
		}},
		{"like pattern", func(b *query.Builder) *query.Builder {
			return b.Where("name", "like", "A%")
		}},
		{"nested and group", func(b *query.Builder) *query.Builder {
			return b.Where("tier", "=", "gold").WhereGroup(func(q *query.Builder) {
				q.Where("spend", ">", 30).Where("spend", "<", 400)
			})
		}},
		{"relation exists", func(b *query.Builder) *query.Builder {
			return b.WhereHas("orders", nil)
		}},
		{"relation exists with constraint", func(b *query.Builder) *query.Builder {
			return b.WhereHas("orders", func(q *query.Builder) {
				q.Where("total", ">", 150)
			})
		}},
		{"relation absent", func(b *query.Builder) *query.Builder {
			return b.WhereDoesntHave("orders", nil)
		}},
		{"only trashed", func(b *query.Builder) *query.Builder {
			return b.OnlyTrashed()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sqlIDs := customerIDs(t, sqlDB, tc.build)
			docIDs := customerIDs(t, docDB, tc.build)
			assert.Equal(t, sqlIDs, docIDs)
			assert.NotNil(t, docIDs)

			sqlCount, err := tc.build(sqlDB.Model("Customer")).Count()
			require.NoError(t, err)
			docCount, err := tc.build(docDB.Model("Customer")).Count()
			require.NoError(t, err)
			assert.Equal(t, sqlCount, docCount)
			assert.Equal(t, int64(len(sqlIDs)), sqlCount)
		})
	}
}

func TestAggregateEquivalenceAcrossBackends(t *testing.T) {
	sqlDB := newSQLShop(t)
	docDB := newDocShop(t)

	for _, db := range []*polyorm.DB{sqlDB, docDB} {
		sum, err := db.Model("Order").Where("status", "=", "paid").Sum("total")
		require.NoError(t, err)
		assert.Equal(t, 320.0, sum)

		avg, err := db.Model("Order").Where("status", "=", "paid").Avg("total")
		require.NoError(t, err)
		assert.Equal(t, 160.0, avg)
	}
}

func TestEagerLoadingOnSQLBackend(t *testing.T) {
	db := newSQLShop(t)

	got, err := db.Model("Customer").Where("id", "=", 1).With("orders").All()
	require.NoError(t, err)
	require.Len(t, got, 1)

	v, loaded := got[0].Relation("orders")
	require.True(t, loaded)
	orders, ok := v.([]*entity.Entity)
	require.True(t, ok)
	require.Len(t, orders, 2)
	ids := []string{
		ident.KeyString(orders[0].GetRaw("id")),
		ident.KeyString(orders[1].GetRaw("id")),
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"10", "11"}, ids)
}

func TestEntityLifecycleDocument(t *testing.T) {
	store := mocks.NewMemDocStore()
	db, err := polyorm.New(&session.Config{Engine: session.EngineDocument}, polyorm.WithDocument(store))
	require.NoError(t, err)
	require.NoError(t, db.Register(shopDefs()...))
	ctx := context.Background()

	acct, err := db.NewEntity("Account", map[string]any{"name": "Eve", "plan": "free"})
	require.NoError(t, err)
	assert.False(t, acct.Exists())

	require.NoError(t, db.Save(ctx, acct))
	assert.True(t, acct.Exists())
	key := acct.Key()
	require.NotNil(t, key, "a string key is generated for non-auto-increment types")
	assert.NotNil(t, acct.GetRaw(schema.CreatedAtField))
	assert.False(t, acct.IsDirty(), "save resyncs the snapshot")

	// dirty-only update
	acct.SetAttribute("plan", "pro")
	require.NoError(t, db.Save(ctx, acct))

	fetched, err := db.Model("Account").Find(key)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "pro", fetched.GetRaw("plan"))

	// soft delete hides the row from scoped reads
	require.NoError(t, db.Delete(ctx, acct, false))
	gone, err := db.Model("Account").Find(key)
	require.NoError(t, err)
	assert.Nil(t, gone)

	trashed, err := db.Model("Account").WithTrashed().Find(key)
	require.NoError(t, err)
	require.NotNil(t, trashed)
	assert.True(t, trashed.SoftDeleted())

	restored, err := db.Restore(ctx, acct)
	require.NoError(t, err)
	assert.True(t, restored)
	back, err := db.Model("Account").Find(key)
	require.NoError(t, err)
	assert.NotNil(t, back)

	// force delete removes it entirely
	require.NoError(t, db.Delete(ctx, acct, true))
	assert.False(t, acct.Exists())
	none, err := db.Model("Account").WithTrashed().Find(key)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEntityLifecycleSQL(t *testing.T) {
	db := newSQLShop(t)
	ctx := context.Background()

	acct, err := db.NewEntity("Account", map[string]any{"name": "Eve", "plan": "free"})
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, acct))
	key := acct.Key()
	require.NotNil(t, key)

	acct.SetAttribute("plan", "pro")
	require.NoError(t, db.Save(ctx, acct))

	fetched, err := db.Model("Account").Find(key)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "pro", fetched.GetRaw("plan"))

	require.NoError(t, db.Delete(ctx, acct, false))
	gone, err := db.Model("Account").Find(key)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSaveWithoutChangesIsANoOp(t *testing.T) {
	db := newDocShop(t)
	ctx := context.Background()

	cust, err := db.Model("Customer").Find(1)
	require.NoError(t, err)
	require.NotNil(t, cust)
	require.NoError(t, db.Save(ctx, cust), "clean entities save without touching the store")
}

func TestModelUnknownEntity(t *testing.T) {
	db := newDocShop(t)
	_, err := db.Model("Ghost").All()
	assert.ErrorIs(t, err, errors.ErrNotRegistered)
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := polyorm.New(&session.Config{Engine: session.EngineSQL})
	assert.ErrorIs(t, err, errors.ErrNoExecutor)

	_, err = polyorm.New(&session.Config{Engine: session.EngineDocument})
	assert.ErrorIs(t, err, errors.ErrNoExecutor)
}

func TestPaginationRespectsConfiguredCap(t *testing.T) {
	store := mocks.NewMemDocStore()
	store.Seed("customers", []map[string]any{{"id": 1, "name": "Ann"}})
	db, err := polyorm.New(
		&session.Config{Engine: session.EngineDocument, MaxPerPage: 10},
		polyorm.WithDocument(store),
	)
	require.NoError(t, err)
	require.NoError(t, db.Register(shopDefs()...))

	page, err := db.Model("Customer").Paginate(500, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, page.Pagination.PerPage)
}
