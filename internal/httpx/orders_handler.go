package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/orders"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
)

type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.Order, error)
	Get(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (orders.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params paging.Params) (paging.Page[orders.Order], error)
	FindAllPaginated(ctx context.Context, query orders.ListQuery) (paging.Page[orders.Order], error)
	Update(ctx context.Context, orderID uuid.UUID, patch orders.Patch, actor orders.Actor) (orders.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string, actor orders.Actor) (orders.Order, error)
	AddLine(ctx context.Context, orderID uuid.UUID, in orders.LineInput, actor orders.Actor) (orders.Order, error)
	UpdateLine(ctx context.Context, orderID, lineID uuid.UUID, quantity int, actor orders.Actor) (orders.Order, error)
	RemoveLine(ctx context.Context, orderID, lineID uuid.UUID, actor orders.Actor) (orders.Order, error)
}

type OrdersHandler struct {
	svc OrderService
}

const orderTimeout = 5 * time.Second

func (h *OrdersHandler) Register(r chi.Router, mw *auth.Middleware) {
	r.With(mw.Optional).Post("/orders", h.createOrder)
	r.With(mw.Required).Get("/orders/user/me", h.listMine)
	r.With(mw.Required, mw.RequireAdmin).Get("/orders/admin/all", h.listAll)
	r.With(mw.Optional).Get("/orders/{id}", h.getOrder)
	r.Group(func(r chi.Router) {
		r.Use(mw.Required)
		r.Put("/orders/{id}", h.updateOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/orders/{id}/lines", h.addLine)
		r.Patch("/orders/{id}/lines/{lineId}", h.updateLine)
		r.Delete("/orders/{id}/lines/{lineId}", h.removeLine)
	})
}

func actorOf(r *http.Request) orders.Actor {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return orders.Actor{}
	}
	return orders.Actor{UserID: id.UserID, Admin: id.Admin()}
}

// createOrder attaches the authenticated user; without one the service rejects the checkout.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	in.UserID = actorOf(r).UserID

	ctx, cancel := context.WithTimeout(r.Context(), orderTimeout)
	defer cancel()

	o, err := h.svc.Create(ctx, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.Get(r.Context(), id, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ListByUser(r.Context(), actorOf(r).UserID, paging.FromQuery(r.URL.Query()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.FindAllPaginated(r.Context(), orders.ListQuery{
		Params:        paging.FromQuery(q),
		SortField:     q.Get("sortField"),
		SortDirection: q.Get("sortDirection"),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var patch orders.Patch
	if err := decodeJSON(r, &patch); err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.Update(r.Context(), id, patch, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.Cancel(r.Context(), id, req.Reason, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addLine(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var in orders.LineInput
	if err := decodeJSON(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.AddLine(r.Context(), id, in, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, o)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *OrdersHandler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	lineID, err := uuidParam(r, "lineId")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.UpdateLine(r.Context(), id, lineID, req.Quantity, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	lineID, err := uuidParam(r, "lineId")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.svc.RemoveLine(r.Context(), id, lineID, actorOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, o)
}
