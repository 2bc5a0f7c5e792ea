package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
	"github.com/ariefcatur/shop-backoffice/internal/redisx"
)

// ProductStore is the persistence the catalog service needs; *Repo implements it.
type ProductStore interface {
	List(ctx context.Context, q postgres.Querier, query ListQuery) ([]Product, int, error)
	Get(ctx context.Context, q postgres.Querier, id uuid.UUID) (Product, error)
	Insert(ctx context.Context, q postgres.Querier, p Product) error
	Update(ctx context.Context, q postgres.Querier, p Product) error
	SoftDelete(ctx context.Context, q postgres.Querier, id uuid.UUID, at time.Time) error
	SetStock(ctx context.Context, q postgres.Querier, productID uuid.UUID, unitID string, quantity int) error
}

type DiscountStore interface {
	Insert(ctx context.Context, q postgres.Querier, d pricing.Discount) error
}

type Pricer interface {
	Viewer(ctx context.Context, userID uuid.UUID) (pricing.Viewer, error)
	PriceBatch(ctx context.Context, viewer pricing.Viewer, products []pricing.Product) ([]pricing.Price, error)
}

// Cache is a best-effort store; implementations report failures as misses.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	InvalidatePrefix(ctx context.Context, prefix string)
}

type ServiceDeps struct {
	Tx        postgres.TxRunner
	Products  ProductStore
	Discounts DiscountStore
	Pricer    Pricer
	Cache     Cache
	CacheTTL  time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
	// Async runs cache writes off the request path. Defaults to a goroutine.
	Async func(func())
}

type Service struct {
	tx        postgres.TxRunner
	products  ProductStore
	discounts DiscountStore
	pricer    Pricer
	cache     Cache
	ttl       time.Duration
	clock     func() time.Time
	logger    *zap.Logger
	async     func(func())

	// gen counts invalidations. A cache write whose read started in an older generation is
	// dropped; cacheMu orders writes against invalidations.
	cacheMu sync.RWMutex
	gen     uint64
}

const cacheWriteTimeout = 2 * time.Second

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Tx == nil || deps.Products == nil || deps.Pricer == nil {
		return nil, errors.New("catalog service: tx, products and pricer are required")
	}
	s := &Service{
		tx:        deps.Tx,
		products:  deps.Products,
		discounts: deps.Discounts,
		pricer:    deps.Pricer,
		cache:     deps.Cache,
		ttl:       deps.CacheTTL,
		clock:     deps.Clock,
		logger:    deps.Logger,
		async:     deps.Async,
	}
	if s.cache == nil {
		s.cache = noCache{}
	}
	if s.ttl <= 0 {
		s.ttl = redisx.TTLCatalog
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.async == nil {
		s.async = func(f func()) { go f() }
	}
	return s, nil
}

// List returns a page of active products priced for viewerID (uuid.Nil for anonymous).
func (s *Service) List(ctx context.Context, query ListQuery, viewerID uuid.UUID) (paging.Page[PricedProduct], error) {
	query.Params = query.Params.Normalize()
	key := fmt.Sprintf(redisx.KeyCatalogProducts, ListCacheKey(query, viewerID))
	gen := s.generation()

	var cached paging.Page[PricedProduct]
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	viewer, err := s.pricer.Viewer(ctx, viewerID)
	if err != nil {
		return paging.Page[PricedProduct]{}, apperr.Internal("catalog.list", err)
	}
	query.SortWholesale = viewer.Business()

	products, total, err := s.products.List(ctx, s.tx.Reader(), query)
	if err != nil {
		return paging.Page[PricedProduct]{}, apperr.Internal("catalog.list", err)
	}
	priced, err := s.price(ctx, viewer, products)
	if err != nil {
		return paging.Page[PricedProduct]{}, apperr.Internal("catalog.list", err)
	}

	page := paging.NewPage(priced, total, query.Params)
	s.store(ctx, gen, key, page)
	return page, nil
}

// Get returns one product priced for viewerID. Deleted products are not visible.
func (s *Service) Get(ctx context.Context, productID, viewerID uuid.UUID) (PricedProduct, error) {
	key := fmt.Sprintf(redisx.KeyCatalogProduct, productID, viewerKey(viewerID))
	gen := s.generation()

	var cached PricedProduct
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	p, err := s.products.Get(ctx, s.tx.Reader(), productID)
	if err != nil {
		return PricedProduct{}, s.wrap("catalog.get", err)
	}
	if p.Status == StatusDeleted {
		return PricedProduct{}, apperr.NotFound("catalog.get", "product not found")
	}
	viewer, err := s.pricer.Viewer(ctx, viewerID)
	if err != nil {
		return PricedProduct{}, apperr.Internal("catalog.get", err)
	}
	priced, err := s.price(ctx, viewer, []Product{p})
	if err != nil {
		return PricedProduct{}, apperr.Internal("catalog.get", err)
	}
	s.store(ctx, gen, key, priced[0])
	return priced[0], nil
}

func (s *Service) price(ctx context.Context, viewer pricing.Viewer, products []Product) ([]PricedProduct, error) {
	inputs := make([]pricing.Product, len(products))
	for i, p := range products {
		inputs[i] = p.PricingInput()
	}
	prices, err := s.pricer.PriceBatch(ctx, viewer, inputs)
	if err != nil {
		return nil, err
	}
	out := make([]PricedProduct, len(products))
	for i, p := range products {
		out[i] = PricedProduct{Product: p, Pricing: prices[i]}
	}
	return out, nil
}

func (s *Service) generation() uint64 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.gen
}

// store writes value off the request path unless the catalog was invalidated after gen was read.
func (s *Service) store(ctx context.Context, gen uint64, key string, value any) {
	detached := context.WithoutCancel(ctx)
	s.async(func() {
		s.cacheMu.RLock()
		defer s.cacheMu.RUnlock()
		if s.gen != gen {
			s.logger.Debug("skipping stale catalog cache write", zap.String("key", key))
			return
		}
		cctx, cancel := context.WithTimeout(detached, cacheWriteTimeout)
		defer cancel()
		s.cache.Set(cctx, key, value, s.ttl)
	})
}

func (s *Service) invalidate(ctx context.Context) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	s.cache.InvalidatePrefix(context.WithoutCancel(ctx), redisx.PrefixCatalog)
}

func (s *Service) Create(ctx context.Context, in CreateProductInput) (Product, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if in.SKU == "" || in.Name == "" {
		return Product{}, apperr.BadRequest("catalog.create", "sku and name are required")
	}
	if in.ListPrice.IsNegative() || in.WholesalePrice.IsNegative() {
		return Product{}, apperr.BadRequest("catalog.create", "prices must not be negative")
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}
	if !in.Status.Valid() || in.Status == StatusDeleted {
		return Product{}, apperr.BadRequest("catalog.create", "invalid status")
	}

	now := s.clock().UTC()
	p := Product{
		ID:             uuid.New(),
		SKU:            in.SKU,
		Name:           in.Name,
		Description:    in.Description,
		ListPrice:      in.ListPrice,
		WholesalePrice: in.WholesalePrice,
		IVA:            in.IVA,
		Status:         in.Status,
		Images:         in.Images,
		CategoryIDs:    in.CategoryIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		return s.products.Insert(ctx, q, p)
	})
	if err != nil {
		return Product{}, s.wrap("catalog.create", err)
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateProductInput) (Product, error) {
	var updated Product
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		p, err := s.products.Get(ctx, q, id)
		if err != nil {
			return err
		}
		if p.Status == StatusDeleted {
			return apperr.NotFound("catalog.update", "product not found")
		}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return apperr.BadRequest("catalog.update", "name must not be empty")
			}
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.ListPrice != nil {
			if in.ListPrice.IsNegative() {
				return apperr.BadRequest("catalog.update", "prices must not be negative")
			}
			p.ListPrice = *in.ListPrice
		}
		if in.WholesalePrice != nil {
			if in.WholesalePrice.IsNegative() {
				return apperr.BadRequest("catalog.update", "prices must not be negative")
			}
			p.WholesalePrice = *in.WholesalePrice
		}
		if in.IVA != nil {
			p.IVA = in.IVA
		}
		if in.Status != nil {
			if !in.Status.Valid() || *in.Status == StatusDeleted {
				return apperr.BadRequest("catalog.update", "invalid status")
			}
			p.Status = *in.Status
		}
		p.UpdatedAt = s.clock().UTC()
		if err := s.products.Update(ctx, q, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Product{}, s.wrap("catalog.update", err)
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete soft-deletes the product; its rows stay for historical order lines.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		return s.products.SoftDelete(ctx, q, id, s.clock().UTC())
	})
	if err != nil {
		return s.wrap("catalog.delete", err)
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) SetStock(ctx context.Context, productID uuid.UUID, unitID string, quantity int) error {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return apperr.BadRequest("catalog.stock", "unit is required")
	}
	if quantity < 0 {
		return apperr.BadRequest("catalog.stock", "quantity must not be negative")
	}
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		if _, err := s.products.Get(ctx, q, productID); err != nil {
			return err
		}
		return s.products.SetStock(ctx, q, productID, unitID, quantity)
	})
	if err != nil {
		return s.wrap("catalog.stock", err)
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) AddDiscount(ctx context.Context, in DiscountInput) (pricing.Discount, error) {
	if s.discounts == nil {
		return pricing.Discount{}, apperr.Internal("catalog.discount", errors.New("discount store not configured"))
	}
	if in.UserID == uuid.Nil || in.ProductID == uuid.Nil {
		return pricing.Discount{}, apperr.BadRequest("catalog.discount", "userId and productId are required")
	}
	if in.Price.IsNegative() {
		return pricing.Discount{}, apperr.BadRequest("catalog.discount", "price must not be negative")
	}
	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return pricing.Discount{}, apperr.BadRequest("catalog.discount", "validTo must not be before validFrom")
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	d := pricing.Discount{
		ID:        uuid.New(),
		UserID:    in.UserID,
		ProductID: in.ProductID,
		Price:     in.Price,
		ValidFrom: in.ValidFrom,
		ValidTo:   in.ValidTo,
		IsActive:  active,
		CreatedAt: s.clock().UTC(),
	}
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		if _, err := s.products.Get(ctx, q, in.ProductID); err != nil {
			return err
		}
		return s.discounts.Insert(ctx, q, d)
	})
	if err != nil {
		return pricing.Discount{}, s.wrap("catalog.discount", err)
	}
	s.invalidate(ctx)
	return d, nil
}

// wrap passes typed errors through and turns anything else into a logged internal error.
func (s *Service) wrap(op string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	s.logger.Error("catalog operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Internal(op, err)
}

// ListCacheKey hashes the normalized query together with the viewer identity.
func ListCacheKey(query ListQuery, viewerID uuid.UUID) string {
	query.Params = query.Params.Normalize()
	query.SearchName = strings.TrimSpace(query.SearchName)
	query.SortWholesale = false
	raw, _ := json.Marshal(struct {
		Query  ListQuery `json:"q"`
		Viewer string    `json:"v"`
	}{Query: query, Viewer: viewerKey(viewerID)})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func viewerKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return "anonymous"
	}
	return id.String()
}

type noCache struct{}

func (noCache) Get(context.Context, string, any) bool           { return false }
func (noCache) Set(context.Context, string, any, time.Duration) {}
func (noCache) InvalidatePrefix(context.Context, string)        {}
