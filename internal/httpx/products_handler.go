package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/catalog"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

type CatalogService interface {
	List(ctx context.Context, query catalog.ListQuery, viewerID uuid.UUID) (paging.Page[catalog.PricedProduct], error)
	Get(ctx context.Context, productID, viewerID uuid.UUID) (catalog.PricedProduct, error)
	Create(ctx context.Context, in catalog.CreateProductInput) (catalog.Product, error)
	Update(ctx context.Context, id uuid.UUID, in catalog.UpdateProductInput) (catalog.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetStock(ctx context.Context, productID uuid.UUID, unitID string, quantity int) error
	AddDiscount(ctx context.Context, in catalog.DiscountInput) (pricing.Discount, error)
}

type ProductsHandler struct {
	svc CatalogService
}

func (h *ProductsHandler) Register(r chi.Router, mw *auth.Middleware) {
	r.With(mw.Optional).Get("/products", h.listProducts)
	r.With(mw.Optional).Get("/products/{id}", h.getProduct)
	r.Route("/admin", func(r chi.Router) {
		r.Use(mw.Required, mw.RequireAdmin)
		r.Post("/products", h.createProduct)
		r.Put("/products/{id}", h.updateProduct)
		r.Delete("/products/{id}", h.deleteProduct)
		r.Put("/products/{id}/stock", h.setStock)
		r.Post("/discounts", h.addDiscount)
	})
}

func viewerOf(r *http.Request) uuid.UUID {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}

// listQuery reads page, limit, searchName, categoryFilters (comma separated ids) and sortByPrice.
func listQuery(r *http.Request) (catalog.ListQuery, error) {
	q := r.URL.Query()
	query := catalog.ListQuery{
		Params:     paging.FromQuery(q),
		SearchName: strings.TrimSpace(q.Get("searchName")),
	}
	switch dir := catalog.SortDirection(strings.ToLower(q.Get("sortByPrice"))); dir {
	case catalog.SortNone, catalog.SortAsc, catalog.SortDesc:
		query.SortByPrice = dir
	default:
		return query, apperr.BadRequest("products.list", "sortByPrice must be asc or desc")
	}
	for _, raw := range strings.Split(q.Get("categoryFilters"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return query, apperr.BadRequest("products.list", "categoryFilters must be uuids")
		}
		query.CategoryIDs = append(query.CategoryIDs, id)
	}
	return query, nil
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	query, err := listQuery(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	page, err := h.svc.List(r.Context(), query, viewerOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.svc.Get(r.Context(), id, viewerOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateProductInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.svc.Create(r.Context(), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var in catalog.UpdateProductInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stockRequest struct {
	UnitID   string `json:"unitId"`
	Quantity int    `json:"quantity"`
}

func (h *ProductsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.svc.SetStock(r.Context(), id, req.UnitID, req.Quantity); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductsHandler) addDiscount(w http.ResponseWriter, r *http.Request) {
	var in catalog.DiscountInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	d, err := h.svc.AddDiscount(r.Context(), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, d)
}
