package orders

import "errors"

var (
	ErrGuestCheckout     = errors.New("orders: a user is required to place an order")
	ErrNoLines           = errors.New("orders: an order needs at least one line")
	ErrNotEditable       = errors.New("orders: order is no longer editable")
	ErrLastLine          = errors.New("orders: cannot remove the last line, cancel the order instead")
	ErrInsufficientStock = errors.New("orders: requested quantity exceeds available stock")
	ErrInvalidQuantity   = errors.New("orders: quantity must be at least 1")
	ErrProductInactive   = errors.New("orders: product is not available for ordering")
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	ErrMissingDelivery   = errors.New("orders: delivered status requires a delivery date")
	ErrMissingReason     = errors.New("orders: cancelled status requires a cancellation reason")
	ErrUnpairedFields    = errors.New("orders: delivery and cancellation fields require the matching status")
)
