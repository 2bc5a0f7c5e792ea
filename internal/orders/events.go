package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Payloads are keyed by order id so every event of one order stays on one partition.

type ItemSnapshot struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID      string          `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	UserID       string          `json:"user_id"`
	Items        []ItemSnapshot  `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	PointsEarned int             `json:"points_earned"`
}

type OrderStatusChangedPayload struct {
	OrderID            string     `json:"order_id"`
	OrderNumber        string     `json:"order_number"`
	UserID             string     `json:"user_id,omitempty"`
	From               Status     `json:"from"`
	To                 Status     `json:"to"`
	DeliveryDate       *time.Time `json:"delivery_date,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	ChangedBy          string     `json:"changed_by"`
}

func createdPayload(o Order) OrderCreatedPayload {
	items := make([]ItemSnapshot, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = ItemSnapshot{ProductID: l.ProductID.String(), Name: l.ProductName, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	p := OrderCreatedPayload{
		OrderID:      o.ID.String(),
		OrderNumber:  o.OrderNumber,
		Items:        items,
		TotalAmount:  o.TotalAmount,
		Currency:     o.Currency,
		PointsEarned: o.PointsEarned,
	}
	if o.UserID != nil {
		p.UserID = o.UserID.String()
	}
	return p
}
