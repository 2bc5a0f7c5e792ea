package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/kafka"
	"github.com/ariefcatur/shop-backoffice/internal/observability"
)

const defaultTimeout = 15 * time.Second

type RouterDeps struct {
	Logger  *zap.Logger
	Auth    *auth.Middleware
	Orders  OrderService
	Catalog CatalogService
	Points  PointsService
	Timeout time.Duration
}

func NewRouter(deps RouterDeps) *chi.Mux {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, observability.RequestLogger(deps.Logger), traceID, middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "route not found", "status": http.StatusNotFound})
	})

	if deps.Orders != nil {
		(&OrdersHandler{svc: deps.Orders}).Register(r, deps.Auth)
	}
	if deps.Catalog != nil {
		(&ProductsHandler{svc: deps.Catalog}).Register(r, deps.Auth)
	}
	if deps.Points != nil {
		(&PointsHandler{svc: deps.Points}).Register(r, deps.Auth)
	}
	return r
}

// traceID carries the request id into published event envelopes.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(kafka.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
