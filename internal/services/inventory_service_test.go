package services_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bookstore/internal/models"
	"bookstore/internal/notify"
	"bookstore/internal/repositories"
	"bookstore/internal/schema"
	"bookstore/internal/services"
	"bookstore/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ptr[T any](v T) *T { return &v }

func bookOne() models.ProductFields {
	return models.ProductFields{
		Name:          ptr("BookOne"),
		Price:         ptr(int64(40)),
		Quantity:      ptr(2),
		SupplierName:  ptr("Mary"),
		SupplierPhone: ptr("2345650043"),
	}
}

type fixture struct {
	svc  *services.InventoryService
	repo repositories.ProductRepository
	hub  *notify.Hub
}

func newMemoryFixture(t *testing.T, opts ...services.Option) fixture {
	t.Helper()
	repo := repositories.NewMemoryProductRepository()
	hub := notify.NewHub(32, zap.NewNop(), nil)
	t.Cleanup(hub.Close)
	return fixture{svc: services.NewInventoryService(repo, hub, opts...), repo: repo, hub: hub}
}

func newSQLiteFixture(t *testing.T) fixture {
	t.Helper()
	return newSQLiteFixtureWith(t)
}

func newSQLiteFixtureWith(t *testing.T, opts ...services.Option) fixture {
	t.Helper()
	engine := storage.New(storage.Config{
		Driver: schema.DialectSQLite,
		Path:   filepath.Join(t.TempDir(), "inventory.db"),
	}, zap.NewNop())
	t.Cleanup(func() { _ = engine.Close() })
	repo := repositories.NewGORMProductRepository(engine)
	hub := notify.NewHub(32, zap.NewNop(), nil)
	t.Cleanup(hub.Close)
	return fixture{svc: services.NewInventoryService(repo, hub, opts...), repo: repo, hub: hub}
}

func forEachFixture(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteFixture(t)) })
}

func nextEvent(t *testing.T, sub *notify.Subscription) notify.ChangeEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}
	return notify.ChangeEvent{}
}

func assertNoEvent(t *testing.T, sub *notify.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected change event %+v", ev)
	default:
	}
}

func TestExampleLifecycle(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.Product{ID: 1, Name: "BookOne", Price: 40, Quantity: 2, SupplierName: "Mary", SupplierPhone: "2345650043"}, *got)

		qty, err := f.svc.QuickDecrement(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, qty)

		rows, err := f.svc.DeleteOne(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		_, err = f.svc.Get(ctx, id)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestInsertDefaultsQuantityToZero(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fields := bookOne()
		fields.Quantity = nil

		id, err := f.svc.Insert(ctx, fields)
		require.NoError(t, err)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Quantity)
		assert.Equal(t, int64(40), got.Price)
	})
}

func TestInsertRejectsInvalidFieldsWithoutWriting(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *models.ProductFields)
		field  string
	}{
		{"missing name", func(f *models.ProductFields) { f.Name = nil }, "name"},
		{"empty name", func(f *models.ProductFields) { f.Name = ptr("") }, "name"},
		{"blank name", func(f *models.ProductFields) { f.Name = ptr("   ") }, "name"},
		{"missing price", func(f *models.ProductFields) { f.Price = nil }, "price"},
		{"negative price", func(f *models.ProductFields) { f.Price = ptr(int64(-1)) }, "price"},
		{"negative quantity", func(f *models.ProductFields) { f.Quantity = ptr(-3) }, "quantity"},
		{"empty supplier name", func(f *models.ProductFields) { f.SupplierName = ptr("") }, "supplier_name"},
		{"missing supplier phone", func(f *models.ProductFields) { f.SupplierPhone = nil }, "supplier_phone"},
		{"empty supplier phone", func(f *models.ProductFields) { f.SupplierPhone = ptr("") }, "supplier_phone"},
	}

	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		sub := f.svc.Subscribe(models.Collection())
		defer sub.Close()

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				fields := bookOne()
				tc.mutate(&fields)

				_, err := f.svc.Insert(ctx, fields)
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrValidation)

				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.field, verr.Field)

				count, err := f.svc.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, count)
				assertNoEvent(t, sub)
			})
		}
	})
}

func TestInsertReportsFirstInvalidFieldInColumnOrder(t *testing.T) {
	f := newMemoryFixture(t)
	fields := bookOne()
	fields.Name = ptr("")
	fields.Price = nil

	_, err := f.svc.Insert(context.Background(), fields)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestInsertAcceptsZeroPrice(t *testing.T) {
	f := newMemoryFixture(t)
	fields := bookOne()
	fields.Price = ptr(int64(0))

	_, err := f.svc.Insert(context.Background(), fields)
	assert.NoError(t, err)
}

func TestUpdatePartialFields(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)

		rows, err := f.svc.Update(ctx, models.Item(id), models.ProductFields{Price: ptr(int64(55)), Quantity: ptr(0)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.Product{ID: id, Name: "BookOne", Price: 55, Quantity: 0, SupplierName: "Mary", SupplierPhone: "2345650043"}, *got)
	})
}

func TestUpdateWithEmptyFieldsIsNoOp(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)

		sub := f.svc.Subscribe(models.Item(id))
		defer sub.Close()

		rows, err := f.svc.Update(ctx, models.Item(id), models.ProductFields{})
		require.NoError(t, err)
		assert.Zero(t, rows)
		assertNoEvent(t, sub)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "BookOne", got.Name)
		assert.Equal(t, 2, got.Quantity)
	})
}

func TestUpdateRejectsPresentButInvalidFields(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)

		for field, fields := range map[string]models.ProductFields{
			"name":           {Name: ptr("")},
			"price":          {Price: ptr(int64(-5))},
			"quantity":       {Quantity: ptr(-1)},
			"supplier_name":  {SupplierName: ptr(" ")},
			"supplier_phone": {SupplierPhone: ptr("")},
		} {
			_, err := f.svc.Update(ctx, models.Item(id), fields)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr, field)
			assert.Equal(t, field, verr.Field)
		}

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.Product{ID: id, Name: "BookOne", Price: 40, Quantity: 2, SupplierName: "Mary", SupplierPhone: "2345650043"}, *got)
	})
}

func TestUpdateMissingItemAffectsNothing(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		sub := f.svc.Subscribe(models.Collection())
		defer sub.Close()

		rows, err := f.svc.Update(context.Background(), models.Item(42), models.ProductFields{Name: ptr("Ghost")})
		require.NoError(t, err)
		assert.Zero(t, rows)
		assertNoEvent(t, sub)
	})
}

func TestUpdateByFilter(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		_, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)
		second := bookOne()
		second.Name = ptr("BookTwo")
		_, err = f.svc.Insert(ctx, second)
		require.NoError(t, err)
		other := bookOne()
		other.SupplierName = ptr("John")
		_, err = f.svc.Insert(ctx, other)
		require.NoError(t, err)

		rows, err := f.svc.Update(ctx, models.Where(models.Filter{SupplierName: "Mary"}), models.ProductFields{Price: ptr(int64(10))})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rows)

		cheap, err := f.svc.ListAll(ctx, services.ListOptions{Filter: models.Filter{SupplierName: "Mary"}})
		require.NoError(t, err)
		require.Len(t, cheap, 2)
		for _, p := range cheap {
			assert.Equal(t, int64(10), p.Price)
		}
	})
}

func TestQuickDecrement(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fields := bookOne()
		fields.Quantity = ptr(1)
		id, err := f.svc.Insert(ctx, fields)
		require.NoError(t, err)

		sub := f.svc.Subscribe(models.Item(id))
		defer sub.Close()

		qty, err := f.svc.QuickDecrement(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, qty)
		ev := nextEvent(t, sub)
		assert.Equal(t, notify.OpDecrement, ev.Op)
		assert.Equal(t, "inventory/1", ev.Path)

		qty, err = f.svc.QuickDecrement(ctx, id)
		assert.ErrorIs(t, err, models.ErrNoOpAtZero)
		assert.Zero(t, qty)
		assertNoEvent(t, sub)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Quantity)

		_, err = f.svc.QuickDecrement(ctx, 999)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestConcurrentQuickDecrementsDoNotLoseUpdates(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fields := bookOne()
		fields.Quantity = ptr(5)
		id, err := f.svc.Insert(ctx, fields)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var err1, err2 error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err1 = f.svc.QuickDecrement(ctx, id)
		}()
		go func() {
			defer wg.Done()
			_, err2 = f.svc.QuickDecrement(ctx, id)
		}()
		wg.Wait()

		require.NoError(t, err1)
		require.NoError(t, err2)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Quantity)
	})
}

func TestRestock(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)

		qty, err := f.svc.Restock(ctx, id, 3)
		require.NoError(t, err)
		assert.Equal(t, 5, qty)

		_, err = f.svc.Restock(ctx, id, 0)
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "amount", verr.Field)

		_, err = f.svc.Restock(ctx, 999, 1)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestRestockRejectsAmountsPastLimit(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		id, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)
		sub := f.svc.Subscribe(models.Item(id))
		defer sub.Close()

		for _, amount := range []int{math.MaxInt, models.MaxQuantity + 1, models.MaxQuantity - 1} {
			_, err = f.svc.Restock(ctx, id, amount)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr, "amount %d", amount)
			assert.Equal(t, "amount", verr.Field)
			assert.Equal(t, "amount is too large", verr.Error())
		}
		assertNoEvent(t, sub)

		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Quantity)

		qty, err := f.svc.Restock(ctx, id, models.MaxQuantity-2)
		require.NoError(t, err)
		assert.Equal(t, models.MaxQuantity, qty)
	})
}

func TestInsertRejectsQuantityPastLimit(t *testing.T) {
	f := newMemoryFixture(t)
	fields := bookOne()
	fields.Quantity = ptr(models.MaxQuantity + 1)

	_, err := f.svc.Insert(context.Background(), fields)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quantity", verr.Field)
	assert.Equal(t, "lte", verr.Rule)
}

func TestDeleteAllAndNotifications(t *testing.T) {
	forEachFixture(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		sub := f.svc.Subscribe(models.Collection())
		defer sub.Close()

		for i := 0; i < 3; i++ {
			_, err := f.svc.Insert(ctx, bookOne())
			require.NoError(t, err)
			ev := nextEvent(t, sub)
			assert.Equal(t, notify.OpInsert, ev.Op)
			assert.Equal(t, "inventory", ev.Path)
		}

		rows, err := f.svc.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rows)
		ev := nextEvent(t, sub)
		assert.Equal(t, notify.OpDelete, ev.Op)
		assert.Equal(t, int64(3), ev.Rows)

		rows, err = f.svc.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, rows)
		assertNoEvent(t, sub)
	})
}

func TestItemSubscriberIgnoresOtherItems(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	first, err := f.svc.Insert(ctx, bookOne())
	require.NoError(t, err)
	second, err := f.svc.Insert(ctx, bookOne())
	require.NoError(t, err)

	sub := f.svc.Subscribe(models.Item(first))
	defer sub.Close()

	_, err = f.svc.QuickDecrement(ctx, second)
	require.NoError(t, err)
	assertNoEvent(t, sub)

	_, err = f.svc.QuickDecrement(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, nextEvent(t, sub).ID)
}

func TestListIsLazyAndRestartable(t *testing.T) {
	f := newMemoryFixture(t, services.WithPageSize(2))
	ctx := context.Background()
	for _, name := range []string{"C", "A", "B", "E", "D"} {
		fields := bookOne()
		fields.Name = ptr(name)
		_, err := f.svc.Insert(ctx, fields)
		require.NoError(t, err)
	}

	seq := f.svc.List(ctx, services.ListOptions{Sort: services.Sort{Column: schema.ColumnName}})

	var first []string
	for p, err := range seq {
		require.NoError(t, err)
		first = append(first, p.Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, first)

	// Stop early, then range again from the start.
	var partial []string
	for p, err := range seq {
		require.NoError(t, err)
		partial = append(partial, p.Name)
		if len(partial) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"A", "B", "C"}, partial)

	_, err := f.svc.DeleteOne(ctx, 1)
	require.NoError(t, err)
	again, err := f.svc.ListAll(ctx, services.ListOptions{Sort: services.Sort{Column: schema.ColumnName, Desc: true}})
	require.NoError(t, err)
	assert.Len(t, again, 4)
	assert.Equal(t, "E", again[0].Name)
}

func TestListAllowsWritesInsideLoop(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Insert(ctx, bookOne())
		require.NoError(t, err)
	}

	for p, err := range f.svc.List(ctx, services.ListOptions{}) {
		require.NoError(t, err)
		_, err = f.svc.QuickDecrement(ctx, p.ID)
		require.NoError(t, err)
	}

	all, err := f.svc.ListAll(ctx, services.ListOptions{})
	require.NoError(t, err)
	for _, p := range all {
		assert.Equal(t, 1, p.Quantity)
	}
}

func TestListYieldsEveryRowWhileLoopDeletes(t *testing.T) {
	fixtures := map[string]func(t *testing.T) fixture{
		"memory": func(t *testing.T) fixture { return newMemoryFixture(t, services.WithPageSize(2)) },
		"sqlite": func(t *testing.T) fixture { return newSQLiteFixtureWith(t, services.WithPageSize(2)) },
	}
	for name, build := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := build(t)
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				_, err := f.svc.Insert(ctx, bookOne())
				require.NoError(t, err)
			}

			var yielded []int64
			for p, err := range f.svc.List(ctx, services.ListOptions{}) {
				require.NoError(t, err)
				yielded = append(yielded, p.ID)
				_, err = f.svc.DeleteOne(ctx, p.ID)
				require.NoError(t, err)
			}

			assert.Equal(t, []int64{1, 2, 3, 4, 5}, yielded)
			count, err := f.svc.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestListSkipsNothingWhenLoopInsertsAhead(t *testing.T) {
	f := newMemoryFixture(t, services.WithPageSize(2))
	ctx := context.Background()
	for _, name := range []string{"B", "D", "F"} {
		fields := bookOne()
		fields.Name = ptr(name)
		_, err := f.svc.Insert(ctx, fields)
		require.NoError(t, err)
	}

	var yielded []string
	for p, err := range f.svc.List(ctx, services.ListOptions{Sort: services.Sort{Column: schema.ColumnName}}) {
		require.NoError(t, err)
		yielded = append(yielded, p.Name)
		if p.Name == "B" {
			// Sorts before the cursor: not seen, and must not push D or F out.
			early := bookOne()
			early.Name = ptr("A")
			_, err = f.svc.Insert(ctx, early)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"B", "D", "F"}, yielded)
}

func TestListRejectsUnknownSortColumn(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.svc.ListAll(context.Background(), services.ListOptions{Sort: services.Sort{Column: "rowid; DROP TABLE inventory"}})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sort", verr.Field)
}

func TestSupplierDialURI(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	id, err := f.svc.Insert(ctx, bookOne())
	require.NoError(t, err)

	uri, err := f.svc.SupplierDialURI(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tel:2345650043", uri)

	short := bookOne()
	short.SupplierPhone = ptr("555-1234")
	shortID, err := f.svc.Insert(ctx, short)
	require.NoError(t, err, "storage accepts any non-empty phone")

	_, err = f.svc.SupplierDialURI(ctx, shortID)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "supplier_phone", verr.Field)

	_, err = f.svc.SupplierDialURI(ctx, 999)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestWithPublisherReceivesEventsAfterHub(t *testing.T) {
	var got []notify.ChangeEvent
	extra := notify.PublisherFunc(func(_ context.Context, ev notify.ChangeEvent) {
		got = append(got, ev)
	})
	f := newMemoryFixture(t, services.WithPublisher(extra))

	id, err := f.svc.Insert(context.Background(), bookOne())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, notify.OpInsert, got[0].Op)
}

func TestContentType(t *testing.T) {
	f := newMemoryFixture(t)
	assert.Equal(t, models.ContentTypeList, f.svc.ContentType(models.Collection()))
	assert.Equal(t, models.ContentTypeItem, f.svc.ContentType(models.Item(1)))
}
