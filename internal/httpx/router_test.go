package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/catalog"
	"github.com/ariefcatur/shop-backoffice/internal/orders"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/points"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

const testSecret = "router-secret"

type stubOrders struct {
	createFn     func(context.Context, orders.CreateInput) (orders.Order, error)
	getFn        func(context.Context, uuid.UUID, orders.Actor) (orders.Order, error)
	listUserFn   func(context.Context, uuid.UUID, paging.Params) (paging.Page[orders.Order], error)
	listAllFn    func(context.Context, orders.ListQuery) (paging.Page[orders.Order], error)
	updateFn     func(context.Context, uuid.UUID, orders.Patch, orders.Actor) (orders.Order, error)
	cancelFn     func(context.Context, uuid.UUID, string, orders.Actor) (orders.Order, error)
	addLineFn    func(context.Context, uuid.UUID, orders.LineInput, orders.Actor) (orders.Order, error)
	updateLineFn func(context.Context, uuid.UUID, uuid.UUID, int, orders.Actor) (orders.Order, error)
	removeLineFn func(context.Context, uuid.UUID, uuid.UUID, orders.Actor) (orders.Order, error)
}

var errNotImplemented = errors.New("not implemented")

func (s *stubOrders) Create(ctx context.Context, in orders.CreateInput) (orders.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, in)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) Get(ctx context.Context, id uuid.UUID, a orders.Actor) (orders.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, a)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) ListByUser(ctx context.Context, id uuid.UUID, p paging.Params) (paging.Page[orders.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, id, p)
	}
	return paging.Page[orders.Order]{}, errNotImplemented
}

func (s *stubOrders) FindAllPaginated(ctx context.Context, q orders.ListQuery) (paging.Page[orders.Order], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, q)
	}
	return paging.Page[orders.Order]{}, errNotImplemented
}

func (s *stubOrders) Update(ctx context.Context, id uuid.UUID, p orders.Patch, a orders.Actor) (orders.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, id, p, a)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) Cancel(ctx context.Context, id uuid.UUID, reason string, a orders.Actor) (orders.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id, reason, a)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) AddLine(ctx context.Context, id uuid.UUID, in orders.LineInput, a orders.Actor) (orders.Order, error) {
	if s.addLineFn != nil {
		return s.addLineFn(ctx, id, in, a)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) UpdateLine(ctx context.Context, id, lineID uuid.UUID, qty int, a orders.Actor) (orders.Order, error) {
	if s.updateLineFn != nil {
		return s.updateLineFn(ctx, id, lineID, qty, a)
	}
	return orders.Order{}, errNotImplemented
}

func (s *stubOrders) RemoveLine(ctx context.Context, id, lineID uuid.UUID, a orders.Actor) (orders.Order, error) {
	if s.removeLineFn != nil {
		return s.removeLineFn(ctx, id, lineID, a)
	}
	return orders.Order{}, errNotImplemented
}

type stubCatalog struct {
	listFn   func(context.Context, catalog.ListQuery, uuid.UUID) (paging.Page[catalog.PricedProduct], error)
	getFn    func(context.Context, uuid.UUID, uuid.UUID) (catalog.PricedProduct, error)
	createFn func(context.Context, catalog.CreateProductInput) (catalog.Product, error)
	stockFn  func(context.Context, uuid.UUID, string, int) error
}

func (s *stubCatalog) List(ctx context.Context, q catalog.ListQuery, v uuid.UUID) (paging.Page[catalog.PricedProduct], error) {
	if s.listFn != nil {
		return s.listFn(ctx, q, v)
	}
	return paging.Page[catalog.PricedProduct]{}, errNotImplemented
}

func (s *stubCatalog) Get(ctx context.Context, id, v uuid.UUID) (catalog.PricedProduct, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, v)
	}
	return catalog.PricedProduct{}, errNotImplemented
}

func (s *stubCatalog) Create(ctx context.Context, in catalog.CreateProductInput) (catalog.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, in)
	}
	return catalog.Product{}, errNotImplemented
}

func (s *stubCatalog) Update(context.Context, uuid.UUID, catalog.UpdateProductInput) (catalog.Product, error) {
	return catalog.Product{}, errNotImplemented
}

func (s *stubCatalog) Delete(context.Context, uuid.UUID) error { return nil }

func (s *stubCatalog) SetStock(ctx context.Context, id uuid.UUID, unit string, qty int) error {
	if s.stockFn != nil {
		return s.stockFn(ctx, id, unit, qty)
	}
	return errNotImplemented
}

func (s *stubCatalog) AddDiscount(context.Context, catalog.DiscountInput) (pricing.Discount, error) {
	return pricing.Discount{}, errNotImplemented
}

type stubPoints struct {
	summary points.Summary
	balance int64
	ledger  paging.Page[points.Entry]
	seen    uuid.UUID
}

func (s *stubPoints) Summary(_ context.Context, id uuid.UUID) (points.Summary, error) {
	s.seen = id
	return s.summary, nil
}

func (s *stubPoints) Balance(_ context.Context, id uuid.UUID) (int64, error) {
	s.seen = id
	return s.balance, nil
}

func (s *stubPoints) Ledger(_ context.Context, id uuid.UUID, _ paging.Params) (paging.Page[points.Entry], error) {
	s.seen = id
	return s.ledger, nil
}

type harness struct {
	router  http.Handler
	orders  *stubOrders
	catalog *stubCatalog
	points  *stubPoints
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	h := &harness{orders: &stubOrders{}, catalog: &stubCatalog{}, points: &stubPoints{}}
	h.router = NewRouter(RouterDeps{
		Auth:    auth.NewMiddleware(v, WriteError),
		Orders:  h.orders,
		Catalog: h.catalog,
		Points:  h.points,
	})
	return h
}

func token(t *testing.T, id uuid.UUID, role pricing.Role) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, auth.Identity{UserID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.NotFound("x", "order not found"), http.StatusNotFound, "not_found"},
		{apperr.Conflict("x", "sku already exists"), http.StatusConflict, "conflict"},
		{apperr.Forbidden("x", "nope"), http.StatusForbidden, "forbidden"},
		{apperr.Wrap(apperr.KindBadRequest, "x", orders.ErrLastLine), http.StatusBadRequest, "bad_request"},
		{apperr.Unauthorized("x", "login"), http.StatusUnauthorized, "unauthorized"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, tc.kind, body["error"])
		assert.EqualValues(t, tc.status, body["status"])
		if tc.status == http.StatusInternalServerError {
			assert.Equal(t, "internal error", body["message"], "internal detail must not leak")
		}
	}
}

func TestCreateOrderAttachesUser(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	var got orders.CreateInput
	h.orders.createFn = func(_ context.Context, in orders.CreateInput) (orders.Order, error) {
		got = in
		if in.UserID == uuid.Nil {
			return orders.Order{}, apperr.Wrap(apperr.KindBadRequest, "orders.create", orders.ErrGuestCheckout)
		}
		return orders.Order{ID: uuid.New(), OrderNumber: "2026101609300001", TotalAmount: decimal.RequireFromString("35.00")}, nil
	}
	body := map[string]any{"lines": []map[string]any{{"productId": uuid.NewString(), "quantity": 2}}, "pointsEarned": 5}

	rec := h.do(http.MethodPost, "/orders", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, got.UserID)

	rec = h.do(http.MethodPost, "/orders", token(t, user, pricing.RoleCustomer), body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, user, got.UserID)
	assert.Equal(t, 5, got.PointsEarned)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Quantity)
	assert.Equal(t, "2026101609300001", decodeBody(t, rec)["orderNumber"])
	assert.Contains(t, rec.Body.String(), `"totalAmount":35.00`)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderRoutesRequireAuth(t *testing.T) {
	h := newHarness(t)
	id := uuid.NewString()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/orders/user/me"},
		{http.MethodGet, "/orders/admin/all"},
		{http.MethodPut, "/orders/" + id},
		{http.MethodPost, "/orders/" + id + "/cancel"},
		{http.MethodPost, "/orders/" + id + "/lines"},
		{http.MethodPatch, "/orders/" + id + "/lines/" + id},
		{http.MethodDelete, "/orders/" + id + "/lines/" + id},
		{http.MethodGet, "/points/me"},
		{http.MethodPost, "/admin/products"},
	} {
		rec := h.do(tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.method+" "+tc.path)
	}
}

func TestAdminListPassesSortAndRejectsCustomers(t *testing.T) {
	h := newHarness(t)
	var got orders.ListQuery
	h.orders.listAllFn = func(_ context.Context, q orders.ListQuery) (paging.Page[orders.Order], error) {
		got = q
		return paging.NewPage([]orders.Order{}, 0, q.Params), nil
	}

	rec := h.do(http.MethodGet, "/orders/admin/all?page=3&limit=20&sortField=total_amount&sortDirection=asc", token(t, uuid.New(), pricing.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/orders/admin/all?page=3&limit=20&sortField=total_amount&sortDirection=asc", token(t, uuid.New(), pricing.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, 20, got.Limit)
	assert.Equal(t, "total_amount", got.SortField)
	assert.Equal(t, "asc", got.SortDirection)
}

func TestLineRoutesPassActorAndIDs(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	orderID, lineID := uuid.New(), uuid.New()
	var (
		gotActor orders.Actor
		gotQty   int
		gotLine  uuid.UUID
	)
	h.orders.updateLineFn = func(_ context.Context, id, line uuid.UUID, qty int, a orders.Actor) (orders.Order, error) {
		assert.Equal(t, orderID, id)
		gotLine, gotQty, gotActor = line, qty, a
		return orders.Order{ID: id}, nil
	}
	h.orders.removeLineFn = func(context.Context, uuid.UUID, uuid.UUID, orders.Actor) (orders.Order, error) {
		return orders.Order{}, apperr.Wrap(apperr.KindBadRequest, "orders.remove_line", orders.ErrLastLine)
	}

	rec := h.do(http.MethodPatch, "/orders/"+orderID.String()+"/lines/"+lineID.String(), token(t, user, pricing.RoleCustomer), map[string]int{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lineID, gotLine)
	assert.Equal(t, 4, gotQty)
	assert.Equal(t, orders.Actor{UserID: user}, gotActor)

	rec = h.do(http.MethodDelete, "/orders/"+orderID.String()+"/lines/"+lineID.String(), token(t, user, pricing.RoleCustomer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "cancel the order")

	rec = h.do(http.MethodPatch, "/orders/not-a-uuid/lines/"+lineID.String(), token(t, user, pricing.RoleCustomer), map[string]int{"quantity": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRoute(t *testing.T) {
	h := newHarness(t)
	admin := uuid.New()
	var reason string
	var actor orders.Actor
	h.orders.cancelFn = func(_ context.Context, id uuid.UUID, r string, a orders.Actor) (orders.Order, error) {
		reason, actor = r, a
		return orders.Order{ID: id, Status: orders.StatusCancelled}, nil
	}
	rec := h.do(http.MethodPost, "/orders/"+uuid.NewString()+"/cancel", token(t, admin, pricing.RoleAdmin), map[string]string{"reason": "customer request"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "customer request", reason)
	assert.True(t, actor.Admin)
	assert.Equal(t, "cancelled", decodeBody(t, rec)["status"])
}

func TestListProductsParsesQuery(t *testing.T) {
	h := newHarness(t)
	viewer := uuid.New()
	cat1, cat2 := uuid.New(), uuid.New()
	var (
		gotQuery  catalog.ListQuery
		gotViewer uuid.UUID
	)
	h.catalog.listFn = func(_ context.Context, q catalog.ListQuery, v uuid.UUID) (paging.Page[catalog.PricedProduct], error) {
		gotQuery, gotViewer = q, v
		items := []catalog.PricedProduct{{
			Product: catalog.Product{ID: uuid.New(), Name: "Mug"},
			Pricing: pricing.Price{Price: decimal.RequireFromString("121"), IVA: decimal.NewFromInt(21), VATIncluded: true},
		}}
		return paging.NewPage(items, 1, q.Params), nil
	}

	path := "/products?page=2&limit=5&searchName=mug&sortByPrice=DESC&categoryFilters=" + cat1.String() + "," + cat2.String()
	rec := h.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uuid.Nil, gotViewer)
	assert.Equal(t, 2, gotQuery.Page)
	assert.Equal(t, 5, gotQuery.Limit)
	assert.Equal(t, "mug", gotQuery.SearchName)
	assert.Equal(t, catalog.SortDesc, gotQuery.SortByPrice)
	assert.Equal(t, []uuid.UUID{cat1, cat2}, gotQuery.CategoryIDs)
	assert.Contains(t, rec.Body.String(), `"price":121.00`)

	h.do(http.MethodGet, "/products", token(t, viewer, pricing.RoleBusiness), nil)
	assert.Equal(t, viewer, gotViewer)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/products?sortByPrice=up", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/products?categoryFilters=abc", "", nil).Code)
}

func TestAdminCatalogRoutes(t *testing.T) {
	h := newHarness(t)
	h.catalog.createFn = func(context.Context, catalog.CreateProductInput) (catalog.Product, error) {
		return catalog.Product{}, apperr.Conflict("catalog.create", "sku already exists")
	}
	var unit string
	h.catalog.stockFn = func(_ context.Context, _ uuid.UUID, u string, _ int) error {
		unit = u
		return nil
	}
	admin := token(t, uuid.New(), pricing.RoleAdmin)

	rec := h.do(http.MethodPost, "/admin/products", admin, map[string]any{"sku": "A", "name": "x", "listPrice": "10.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPut, "/admin/products/"+uuid.NewString()+"/stock", admin, map[string]any{"unitId": "box", "quantity": 3})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "box", unit)

	rec = h.do(http.MethodPost, "/admin/products", token(t, uuid.New(), pricing.RoleBusiness), map[string]any{"sku": "A"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPointsRoutes(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.points.summary = points.Summary{UserID: user, Balance: 60, Earned: 60, Entries: 3, MaterializedTotal: 60, Consistent: true}
	h.points.balance = 60
	tok := token(t, user, pricing.RoleCustomer)

	rec := h.do(http.MethodGet, "/points/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 60, decodeBody(t, rec)["balance"])
	assert.Equal(t, user, h.points.seen)

	rec = h.do(http.MethodGet, "/points/me/balance", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 60, decodeBody(t, rec)["balance"])

	rec = h.do(http.MethodGet, "/points/me/ledger?page=1", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
