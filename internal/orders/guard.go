package orders

import (
	"github.com/ariefcatur/shop-backoffice/internal/apperr"
)

// IsEditable reports whether lines may still be added, changed or removed.
func IsEditable(o Order) bool {
	return o.Status == StatusPending || o.Status == StatusAccepted
}

func checkAccess(op string, o Order, actor Actor) error {
	if actor.Admin || o.OwnedBy(actor.UserID) {
		return nil
	}
	return apperr.Forbidden(op, "not allowed to modify this order")
}

func checkEditable(op string, o Order) error {
	if !IsEditable(o) {
		return apperr.Wrap(apperr.KindBadRequest, op, ErrNotEditable)
	}
	return nil
}

func checkQuantity(op string, qty int) error {
	if qty < 1 {
		return apperr.Wrap(apperr.KindBadRequest, op, ErrInvalidQuantity)
	}
	return nil
}

// checkStock compares the total quantity the order would hold for one product against the
// stock read under the product row lock.
func checkStock(op string, requested, available int) error {
	if requested > available {
		return apperr.Wrap(apperr.KindBadRequest, op, ErrInsufficientStock)
	}
	return nil
}
