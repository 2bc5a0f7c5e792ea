package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

type stubTx struct{ calls int }

func (s *stubTx) InTx(_ context.Context, fn func(postgres.Querier) error) error {
	s.calls++
	return fn(nil)
}

func (s *stubTx) Reader() postgres.Querier { return nil }

type stubProducts struct {
	listFn   func(context.Context, ListQuery) ([]Product, int, error)
	getFn    func(context.Context, uuid.UUID) (Product, error)
	insertFn func(context.Context, Product) error
	updateFn func(context.Context, Product) error
	deleteFn func(context.Context, uuid.UUID) error
	stockFn  func(context.Context, uuid.UUID, string, int) error
	lists    int
}

func (s *stubProducts) List(ctx context.Context, _ postgres.Querier, q ListQuery) ([]Product, int, error) {
	s.lists++
	if s.listFn != nil {
		return s.listFn(ctx, q)
	}
	return nil, 0, nil
}

func (s *stubProducts) Get(ctx context.Context, _ postgres.Querier, id uuid.UUID) (Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return Product{ID: id, Status: StatusActive}, nil
}

func (s *stubProducts) Insert(ctx context.Context, _ postgres.Querier, p Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, p)
	}
	return nil
}

func (s *stubProducts) Update(ctx context.Context, _ postgres.Querier, p Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, p)
	}
	return nil
}

func (s *stubProducts) SoftDelete(ctx context.Context, _ postgres.Querier, id uuid.UUID, _ time.Time) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

func (s *stubProducts) SetStock(ctx context.Context, _ postgres.Querier, id uuid.UUID, unit string, qty int) error {
	if s.stockFn != nil {
		return s.stockFn(ctx, id, unit, qty)
	}
	return nil
}

type stubDiscountStore struct{ inserted []pricing.Discount }

func (s *stubDiscountStore) Insert(_ context.Context, _ postgres.Querier, d pricing.Discount) error {
	s.inserted = append(s.inserted, d)
	return nil
}

type stubPricer struct {
	role        pricing.Role
	viewerCalls int
	batchCalls  int
}

func (s *stubPricer) Viewer(_ context.Context, id uuid.UUID) (pricing.Viewer, error) {
	s.viewerCalls++
	role := s.role
	if role == "" {
		role = pricing.RoleCustomer
	}
	return pricing.Viewer{UserID: id, Role: role}, nil
}

func (s *stubPricer) PriceBatch(_ context.Context, v pricing.Viewer, products []pricing.Product) ([]pricing.Price, error) {
	s.batchCalls++
	out := make([]pricing.Price, len(products))
	for i, p := range products {
		out[i] = pricing.Quote(p, v.Role, nil)
	}
	return out, nil
}

// memoryCache stores JSON like the redis cache so round-trips are realistic.
type memoryCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	ttls        map[string]time.Duration
	down        bool
	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if m.down || !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return
	}
	raw, _ := json.Marshal(value)
	m.data[key] = raw
	m.ttls[key] = ttl
}

func (m *memoryCache) InvalidatePrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, prefix)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
}

func runInline(f func()) { f() }

// deferredWrites holds cache writes until flush so a mutation can land in between.
type deferredWrites struct{ pending []func() }

func (d *deferredWrites) run(f func()) { d.pending = append(d.pending, f) }

func (d *deferredWrites) flush() {
	for _, f := range d.pending {
		f()
	}
	d.pending = nil
}

func newService(t *testing.T, products *stubProducts, pricer *stubPricer, cache Cache) *Service {
	t.Helper()
	svc, err := NewService(ServiceDeps{
		Tx:        &stubTx{},
		Products:  products,
		Discounts: &stubDiscountStore{},
		Pricer:    pricer,
		Cache:     cache,
		Clock:     func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
		Async:     runInline,
	})
	require.NoError(t, err)
	return svc
}

func sampleProducts() []Product {
	iva := decimal.RequireFromString("0.21")
	return []Product{
		{ID: uuid.New(), SKU: "A", Name: "Alpha", ListPrice: decimal.NewFromInt(100), WholesalePrice: decimal.NewFromInt(80), IVA: &iva, Status: StatusActive},
		{ID: uuid.New(), SKU: "B", Name: "Beta", ListPrice: decimal.NewFromInt(10), Status: StatusActive},
	}
}

func TestListPricesAndCachesPerViewer(t *testing.T) {
	items := sampleProducts()
	products := &stubProducts{listFn: func(context.Context, ListQuery) ([]Product, int, error) { return items, 2, nil }}
	pricer := &stubPricer{}
	cache := newMemoryCache()
	svc := newService(t, products, pricer, cache)

	ctx := context.Background()
	page, err := svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "121.00", page.Items[0].Pricing.Price.StringFixed(2))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, paging.DefaultLimit, page.Limit)

	again, err := svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 1, products.lists)
	assert.Equal(t, 1, pricer.batchCalls)
	assert.True(t, again.Items[0].Pricing.Price.Equal(page.Items[0].Pricing.Price))

	_, err = svc.List(ctx, ListQuery{}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, products.lists, "another viewer must not share the anonymous entry")
}

func TestListBusinessSortsByWholesale(t *testing.T) {
	var seen ListQuery
	products := &stubProducts{listFn: func(_ context.Context, q ListQuery) ([]Product, int, error) {
		seen = q
		return sampleProducts(), 2, nil
	}}
	svc := newService(t, products, &stubPricer{role: pricing.RoleBusiness}, nil)

	page, err := svc.List(context.Background(), ListQuery{SortByPrice: SortAsc}, uuid.New())
	require.NoError(t, err)
	assert.True(t, seen.SortWholesale)
	assert.Equal(t, "80.00", page.Items[0].Pricing.Price.StringFixed(2))
}

func TestListCacheOutageDegradesToMiss(t *testing.T) {
	products := &stubProducts{listFn: func(context.Context, ListQuery) ([]Product, int, error) { return sampleProducts(), 2, nil }}
	cache := newMemoryCache()
	cache.down = true
	svc := newService(t, products, &stubPricer{}, cache)

	for i := 0; i < 3; i++ {
		_, err := svc.List(context.Background(), ListQuery{}, uuid.Nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, products.lists)
}

func TestMutationsInvalidateCatalogPrefix(t *testing.T) {
	products := &stubProducts{listFn: func(context.Context, ListQuery) ([]Product, int, error) { return sampleProducts(), 2, nil }}
	cache := newMemoryCache()
	svc := newService(t, products, &stubPricer{}, cache)
	ctx := context.Background()

	_, err := svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, cache.data, 1)

	_, err = svc.Create(ctx, CreateProductInput{SKU: "C", Name: "Gamma", ListPrice: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Empty(t, cache.data)

	name := "Renamed"
	_, err = svc.Update(ctx, uuid.New(), UpdateProductInput{Name: &name})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, uuid.New()))
	require.NoError(t, svc.SetStock(ctx, uuid.New(), "unit", 3))
	_, err = svc.AddDiscount(ctx, DiscountInput{UserID: uuid.New(), ProductID: uuid.New(), Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	assert.Equal(t, []string{"catalog:", "catalog:", "catalog:", "catalog:", "catalog:"}, cache.invalidated)

	_, err = svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 2, products.lists)
}

func TestCreateValidationAndConflict(t *testing.T) {
	products := &stubProducts{insertFn: func(context.Context, Product) error {
		return apperr.Conflict("catalog.create", "sku already exists")
	}}
	cache := newMemoryCache()
	svc := newService(t, products, &stubPricer{}, cache)

	_, err := svc.Create(context.Background(), CreateProductInput{SKU: " ", Name: "x"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = svc.Create(context.Background(), CreateProductInput{SKU: "A", Name: "x", ListPrice: decimal.NewFromInt(-1)})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = svc.Create(context.Background(), CreateProductInput{SKU: "A", Name: "x"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Empty(t, cache.invalidated)
}

func TestGetHidesDeletedAndWrapsFailures(t *testing.T) {
	boom := errors.New("db down")
	deletedID := uuid.New()
	products := &stubProducts{getFn: func(_ context.Context, id uuid.UUID) (Product, error) {
		if id == deletedID {
			return Product{ID: id, Status: StatusDeleted}, nil
		}
		return Product{}, boom
	}}
	svc := newService(t, products, &stubPricer{}, nil)

	_, err := svc.Get(context.Background(), deletedID, uuid.Nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.Get(context.Background(), uuid.New(), uuid.Nil)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.ErrorIs(t, err, boom)
}

func TestAddDiscountRejectsInvertedWindow(t *testing.T) {
	svc := newService(t, &stubProducts{}, &stubPricer{}, nil)
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, err := svc.AddDiscount(context.Background(), DiscountInput{
		UserID: uuid.New(), ProductID: uuid.New(), Price: decimal.NewFromInt(3), ValidFrom: &from, ValidTo: &to,
	})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestListCacheKey(t *testing.T) {
	viewer := uuid.New()
	base := ListCacheKey(ListQuery{SearchName: "mug"}, viewer)

	assert.Equal(t, base, ListCacheKey(ListQuery{SearchName: " mug ", Params: paging.Params{Page: 1, Limit: paging.DefaultLimit}}, viewer))
	assert.NotEqual(t, base, ListCacheKey(ListQuery{SearchName: "mug"}, uuid.Nil))
	assert.NotEqual(t, base, ListCacheKey(ListQuery{SearchName: "mug", SortByPrice: SortDesc}, viewer))
	assert.NotEqual(t, base, ListCacheKey(ListQuery{SearchName: "mug", Params: paging.Params{Page: 2}}, viewer))
	assert.Len(t, base, 64)
}

func TestCacheWritesUseCatalogTTL(t *testing.T) {
	products := &stubProducts{listFn: func(context.Context, ListQuery) ([]Product, int, error) { return sampleProducts(), 2, nil }}
	cache := newMemoryCache()
	svc := newService(t, products, &stubPricer{}, cache)

	_, err := svc.List(context.Background(), ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), uuid.New(), uuid.Nil)
	require.NoError(t, err)

	require.Len(t, cache.ttls, 2)
	for key, ttl := range cache.ttls {
		assert.Equal(t, 5*time.Minute, ttl, key)
	}

	custom, err := NewService(ServiceDeps{
		Tx: &stubTx{}, Products: products, Pricer: &stubPricer{}, Cache: cache,
		CacheTTL: 30 * time.Second, Async: runInline,
	})
	require.NoError(t, err)
	_, err = custom.List(context.Background(), ListQuery{SearchName: "beta"}, uuid.Nil)
	require.NoError(t, err)
	key := "catalog:products:" + ListCacheKey(ListQuery{SearchName: "beta"}, uuid.Nil)
	assert.Equal(t, 30*time.Second, cache.ttls[key])
}

func TestCacheWriteComputedBeforeMutationIsDropped(t *testing.T) {
	products := &stubProducts{listFn: func(context.Context, ListQuery) ([]Product, int, error) { return sampleProducts(), 2, nil }}
	cache := newMemoryCache()
	writes := &deferredWrites{}
	svc, err := NewService(ServiceDeps{
		Tx: &stubTx{}, Products: products, Pricer: &stubPricer{}, Cache: cache, Async: writes.run,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, writes.pending, 1)

	name := "Renamed"
	_, err = svc.Update(ctx, uuid.New(), UpdateProductInput{Name: &name})
	require.NoError(t, err)
	writes.flush()
	assert.Empty(t, cache.data, "a page read before the update must not be cached after it")

	_, err = svc.List(ctx, ListQuery{}, uuid.Nil)
	require.NoError(t, err)
	writes.flush()
	assert.Len(t, cache.data, 1)
}
