// Package pricing computes the price a specific user sees for a product: role-based base price,
// per-user discount override, VAT normalization and 2-decimal rounding.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	defaultIVA = decimal.NewFromInt(21)
	hundred    = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// RoleResolver returns the role of a user. Unknown users resolve to "" without error.
type RoleResolver interface {
	RoleOf(ctx context.Context, userID uuid.UUID) (Role, error)
}

// DiscountSource loads the candidate discounts of one user for a set of products in a single
// query. It may return discounts that do not apply at "at"; the engine filters again.
type DiscountSource interface {
	ActiveDiscounts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID, at time.Time) ([]Discount, error)
}

type EngineDeps struct {
	Roles     RoleResolver
	Discounts DiscountSource
	Clock     func() time.Time
	Logger    *zap.Logger
}

type Engine struct {
	roles     RoleResolver
	discounts DiscountSource
	clock     func() time.Time
	logger    *zap.Logger
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Roles == nil {
		return nil, errors.New("pricing engine: role resolver is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("pricing engine: discount source is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{roles: deps.Roles, discounts: deps.Discounts, clock: clock, logger: logger}, nil
}

// Viewer resolves the role of userID once. uuid.Nil yields an anonymous customer.
func (e *Engine) Viewer(ctx context.Context, userID uuid.UUID) (Viewer, error) {
	if userID == uuid.Nil {
		return Viewer{Role: RoleCustomer}, nil
	}
	role, err := e.roles.RoleOf(ctx, userID)
	if err != nil {
		return Viewer{}, fmt.Errorf("pricing: resolve role: %w", err)
	}
	if role == "" {
		role = RoleCustomer
	}
	return Viewer{UserID: userID, Role: role}, nil
}

// PriceFor prices a single product for userID.
func (e *Engine) PriceFor(ctx context.Context, product Product, userID uuid.UUID) (Price, error) {
	viewer, err := e.Viewer(ctx, userID)
	if err != nil {
		return Price{}, err
	}
	prices, err := e.PriceBatch(ctx, viewer, []Product{product})
	if err != nil {
		return Price{}, err
	}
	return prices[0], nil
}

// PriceBatch prices products for an already resolved viewer. Discounts for the whole batch are
// fetched with one lookup. The result is index-aligned with products.
func (e *Engine) PriceBatch(ctx context.Context, viewer Viewer, products []Product) ([]Price, error) {
	out := make([]Price, len(products))
	if len(products) == 0 {
		return out, nil
	}

	now := e.clock()
	var byProduct map[uuid.UUID]Discount
	if !viewer.Anonymous() {
		ids := make([]uuid.UUID, 0, len(products))
		for _, p := range products {
			ids = append(ids, p.ID)
		}
		candidates, err := e.discounts.ActiveDiscounts(ctx, viewer.UserID, ids, now)
		if err != nil {
			return nil, fmt.Errorf("pricing: load discounts: %w", err)
		}
		byProduct = SelectDiscounts(candidates, now)
	}

	for i, p := range products {
		var override *decimal.Decimal
		if d, ok := byProduct[p.ID]; ok {
			price := d.Price
			override = &price
		}
		out[i] = Quote(p, viewer.Role, override)
	}
	return out, nil
}

// SelectDiscounts keeps at most one applicable discount per product: the one with the latest
// ValidFrom (an open start counts as oldest), then the most recently created.
func SelectDiscounts(candidates []Discount, at time.Time) map[uuid.UUID]Discount {
	out := make(map[uuid.UUID]Discount, len(candidates))
	for _, d := range candidates {
		if !d.AppliesAt(at) {
			continue
		}
		cur, ok := out[d.ProductID]
		if !ok || moreSpecific(d, cur) {
			out[d.ProductID] = d
		}
	}
	return out
}

func moreSpecific(a, b Discount) bool {
	switch {
	case a.ValidFrom != nil && b.ValidFrom == nil:
		return true
	case a.ValidFrom == nil && b.ValidFrom != nil:
		return false
	case a.ValidFrom != nil && b.ValidFrom != nil && !a.ValidFrom.Equal(*b.ValidFrom):
		return a.ValidFrom.After(*b.ValidFrom)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Quote applies the pricing rules to one product for role with an optional discount price.
func Quote(p Product, role Role, discount *decimal.Decimal) Price {
	business := role == RoleBusiness
	base := p.ListPrice
	if business {
		base = p.WholesalePrice
	}

	result := Price{Price: base, IVA: NormalizeIVA(p.IVA)}
	if discount != nil && base.IsPositive() && discount.LessThan(base) {
		original := base
		result.Price = *discount
		result.OriginalPrice = &original
		result.DiscountPercent = base.Sub(*discount).Div(base).Mul(hundred).Round(0).IntPart()
	}

	if !business {
		factor := one.Add(result.IVA.Div(hundred))
		result.Price = result.Price.Mul(factor)
		if result.OriginalPrice != nil {
			withVAT := result.OriginalPrice.Mul(factor)
			result.OriginalPrice = &withVAT
		}
		result.VATIncluded = true
	}

	result.Price = Round2(result.Price)
	if result.OriginalPrice != nil {
		rounded := Round2(*result.OriginalPrice)
		result.OriginalPrice = &rounded
	}
	return result
}

// NormalizeIVA returns the VAT rate as a percentage. Values in (0, 1) are fractions and are
// scaled by 100; unset, zero or negative values default to 21. A true rate of 1% or less
// cannot be told apart from a fraction.
func NormalizeIVA(iva *decimal.Decimal) decimal.Decimal {
	if iva == nil || !iva.IsPositive() {
		return defaultIVA
	}
	if iva.LessThan(one) {
		return iva.Mul(hundred)
	}
	return *iva
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
