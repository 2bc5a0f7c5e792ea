package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusDraft   Status = "draft"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDraft, StatusPaused, StatusDeleted:
		return true
	}
	return false
}

type Product struct {
	ID             uuid.UUID        `json:"id"`
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	ListPrice      decimal.Decimal  `json:"listPrice"`
	WholesalePrice decimal.Decimal  `json:"wholesalePrice"`
	IVA            *decimal.Decimal `json:"iva,omitempty"`
	Status         Status           `json:"status"`
	Stock          int              `json:"stock"`
	Images         []string         `json:"images"`
	CategoryIDs    []uuid.UUID      `json:"categoryIds"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (p Product) PricingInput() pricing.Product {
	return pricing.Product{ID: p.ID, ListPrice: p.ListPrice, WholesalePrice: p.WholesalePrice, IVA: p.IVA}
}

// Orderable reports whether the product may be added to an order.
func (p Product) Orderable() bool { return p.Status == StatusActive }

type PricedProduct struct {
	Product
	Pricing pricing.Price `json:"pricing"`
}

type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ListQuery is the public catalog listing filter. Only active products are listed.
type ListQuery struct {
	paging.Params
	SearchName  string        `json:"searchName,omitempty"`
	CategoryIDs []uuid.UUID   `json:"categoryIds,omitempty"`
	SortByPrice SortDirection `json:"sortByPrice,omitempty"`
	// Set by the service from the viewer role so business users sort by wholesale price.
	SortWholesale bool `json:"sortWholesale,omitempty"`
}

type CreateProductInput struct {
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	ListPrice      decimal.Decimal  `json:"listPrice"`
	WholesalePrice decimal.Decimal  `json:"wholesalePrice"`
	IVA            *decimal.Decimal `json:"iva"`
	Status         Status           `json:"status"`
	Images         []string         `json:"images"`
	CategoryIDs    []uuid.UUID      `json:"categoryIds"`
}

type UpdateProductInput struct {
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	ListPrice      *decimal.Decimal `json:"listPrice"`
	WholesalePrice *decimal.Decimal `json:"wholesalePrice"`
	IVA            *decimal.Decimal `json:"iva"`
	Status         *Status          `json:"status"`
}

type DiscountInput struct {
	UserID    uuid.UUID       `json:"userId"`
	ProductID uuid.UUID       `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	ValidFrom *time.Time      `json:"validFrom"`
	ValidTo   *time.Time      `json:"validTo"`
	IsActive  *bool           `json:"isActive"`
}
