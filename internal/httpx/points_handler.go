package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/points"
)

type PointsService interface {
	Summary(ctx context.Context, userID uuid.UUID) (points.Summary, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Ledger(ctx context.Context, userID uuid.UUID, params paging.Params) (paging.Page[points.Entry], error)
}

type PointsHandler struct {
	svc PointsService
}

func (h *PointsHandler) Register(r chi.Router, mw *auth.Middleware) {
	r.Route("/points/me", func(r chi.Router) {
		r.Use(mw.Required)
		r.Get("/", h.summary)
		r.Get("/balance", h.balance)
		r.Get("/ledger", h.ledger)
	})
}

func (h *PointsHandler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context(), viewerOf(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

type balanceResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Balance int64     `json:"balance"`
}

func (h *PointsHandler) balance(w http.ResponseWriter, r *http.Request) {
	user := viewerOf(r)
	b, err := h.svc.Balance(r.Context(), user)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{UserID: user, Balance: b})
}

func (h *PointsHandler) ledger(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Ledger(r.Context(), viewerOf(r), paging.FromQuery(r.URL.Query()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}
