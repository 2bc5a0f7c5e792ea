package pricing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleBusiness Role = "business"
	RoleAdmin    Role = "admin"
)

// Viewer is the user a price is computed for. A zero UserID is an anonymous visitor.
type Viewer struct {
	UserID uuid.UUID
	Role   Role
}

func (v Viewer) Anonymous() bool { return v.UserID == uuid.Nil }

func (v Viewer) Business() bool { return v.Role == RoleBusiness }

// Product holds the fields of a catalog product the engine reads.
type Product struct {
	ID             uuid.UUID
	ListPrice      decimal.Decimal
	WholesalePrice decimal.Decimal
	// IVA may be stored as a fraction (0.21) or a percentage (21). Nil means unset.
	IVA *decimal.Decimal
}

// Discount is a per-user override price for one product.
type Discount struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ProductID uuid.UUID
	Price     decimal.Decimal
	ValidFrom *time.Time
	ValidTo   *time.Time
	IsActive  bool
	CreatedAt time.Time
}

// AppliesAt reports whether d is active and at lies within [ValidFrom, ValidTo]; a nil
// bound is open in that direction.
func (d Discount) AppliesAt(at time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.ValidFrom != nil && at.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidTo != nil && at.After(*d.ValidTo) {
		return false
	}
	return true
}

// Price is what a viewer sees for one product.
type Price struct {
	Price           decimal.Decimal  `json:"price"`
	OriginalPrice   *decimal.Decimal `json:"originalPrice,omitempty"`
	DiscountPercent int64            `json:"discountPercent"`
	IVA             decimal.Decimal  `json:"iva"`
	VATIncluded     bool             `json:"vatIncluded"`
}

// MarshalJSON renders money with exactly two decimals (121.00, not 121).
func (p Price) MarshalJSON() ([]byte, error) {
	type wire struct {
		Price           json.Number  `json:"price"`
		OriginalPrice   *json.Number `json:"originalPrice,omitempty"`
		DiscountPercent int64        `json:"discountPercent"`
		IVA             json.Number  `json:"iva"`
		VATIncluded     bool         `json:"vatIncluded"`
	}
	w := wire{
		Price:           Money(p.Price),
		DiscountPercent: p.DiscountPercent,
		IVA:             json.Number(p.IVA.String()),
		VATIncluded:     p.VATIncluded,
	}
	if p.OriginalPrice != nil {
		o := Money(*p.OriginalPrice)
		w.OriginalPrice = &o
	}
	return json.Marshal(w)
}

// Money renders an amount as a JSON number with exactly two decimals.
func Money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
