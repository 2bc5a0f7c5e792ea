package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

type Order struct {
	ID                 uuid.UUID       `json:"id"`
	OrderNumber        string          `json:"orderNumber"`
	UserID             *uuid.UUID      `json:"userId,omitempty"`
	Status             Status          `json:"status"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	Currency           string          `json:"currency"`
	PointsEarned       int             `json:"pointsEarned"`
	DeliveryDate       *time.Time      `json:"deliveryDate,omitempty"`
	CancellationReason *string         `json:"cancellationReason,omitempty"`
	CancellationDate   *time.Time      `json:"cancellationDate,omitempty"`
	InvoiceFileURL     *string         `json:"invoiceFileUrl,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Lines              []Line          `json:"lines"`
	Addresses          []Address       `json:"addresses"`
	Payments           []Payment       `json:"payments"`
}

// MarshalJSON renders money with two decimals (35.00), like catalog prices.
func (o Order) MarshalJSON() ([]byte, error) {
	type order Order
	return json.Marshal(struct {
		order
		TotalAmount json.Number `json:"totalAmount"`
	}{order(o), pricing.Money(o.TotalAmount)})
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && userID != uuid.Nil && *o.UserID == userID
}

func (o Order) line(id uuid.UUID) (Line, bool) {
	for _, l := range o.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// quantityOf sums the quantity of productID over all lines except skip.
func (o Order) quantityOf(productID, skip uuid.UUID) int {
	n := 0
	for _, l := range o.Lines {
		if l.ProductID == productID && l.ID != skip {
			n += l.Quantity
		}
	}
	return n
}

// Line snapshots the product name and unit price at the time it was written.
type Line struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"orderId"`
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (l Line) MarshalJSON() ([]byte, error) {
	type line Line
	return json.Marshal(struct {
		line
		UnitPrice  json.Number `json:"unitPrice"`
		TotalPrice json.Number `json:"totalPrice"`
	}{line(l), pricing.Money(l.UnitPrice), pricing.Money(l.TotalPrice)})
}

func lineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

func sumLines(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.TotalPrice)
	}
	return total.Round(2)
}

type AddressType string

const (
	AddressBilling  AddressType = "billing"
	AddressShipping AddressType = "shipping"
)

type Address struct {
	ID         uuid.UUID   `json:"id"`
	Type       AddressType `json:"type"`
	Name       string      `json:"name"`
	Line1      string      `json:"line1"`
	Line2      string      `json:"line2"`
	City       string      `json:"city"`
	PostalCode string      `json:"postalCode"`
	Region     string      `json:"region"`
	Country    string      `json:"country"`
	Phone      string      `json:"phone"`
}

// Payment is stored as given; no gateway is contacted.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	PaymentMethod string          `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID *string         `json:"transactionId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Status        string          `json:"status"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	type payment Payment
	return json.Marshal(struct {
		payment
		Amount json.Number `json:"amount"`
	}{payment(p), pricing.Money(p.Amount)})
}

// Actor is the caller of a mutation, resolved from the bearer token.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

type LineInput struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type CreateInput struct {
	UserID       uuid.UUID   `json:"-"`
	Currency     string      `json:"currency"`
	PointsEarned int         `json:"pointsEarned"`
	Lines        []LineInput `json:"lines"`
	Addresses    []Address   `json:"addresses"`
	Payments     []Payment   `json:"payments"`
}

// Patch is a status/metadata update. Nil fields are left untouched.
type Patch struct {
	Status             *Status    `json:"status"`
	DeliveryDate       *time.Time `json:"deliveryDate"`
	CancellationReason *string    `json:"cancellationReason"`
	CancellationDate   *time.Time `json:"cancellationDate"`
	InvoiceFileURL     *string    `json:"invoiceFileUrl"`
}

type ListQuery struct {
	paging.Params
	SortField     string
	SortDirection string
}
