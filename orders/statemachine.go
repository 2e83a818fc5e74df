package orders

import (
	"agrimart/apperr"
	"agrimart/models"
)

var sellerTargets = map[models.OrderStatus]bool{
	models.OrderConfirmed:  true,
	models.OrderProcessing: true,
	models.OrderShipped:    true,
}

// Transition decides whether by may move order to target. It never mutates.
// ownsItem reports whether by sells at least one of the order's items.
func Transition(order models.Order, by models.Principal, ownsItem bool, target models.OrderStatus) error {
	if _, ok := models.ParseOrderStatus(string(target)); !ok {
		return apperr.Validation("unknown_status")
	}
	// Cancellation has already returned the stock, so not even an admin
	// may reopen the order.
	if order.Status == models.OrderCancelled {
		return apperr.Conflict("order_cancelled")
	}
	if by.IsAdmin() {
		return nil
	}
	if order.Status.Terminal() {
		return apperr.Conflict("order_terminal")
	}

	switch {
	case by.UserID == order.BuyerID:
		if target != models.OrderDelivered {
			return apperr.Forbidden("buyer_may_only_confirm_delivery")
		}
		if order.PaymentStatus != models.PaymentPaid {
			return apperr.Conflict("order_not_paid")
		}
		if order.Status != models.OrderShipped {
			return apperr.Conflict("order_not_shipped")
		}
		return nil

	case ownsItem && by.Has(models.RoleSeller):
		if !sellerTargets[target] {
			return apperr.Forbidden("seller_target_not_allowed")
		}
		if order.PaymentStatus != models.PaymentPaid {
			return apperr.Conflict("order_not_paid")
		}
		cur, _ := order.Status.Rank()
		next, _ := target.Rank()
		if next < cur {
			return apperr.Conflict("status_regression")
		}
		return nil
	}
	return apperr.Forbidden("not_order_party")
}

// Cancellable reports whether a non-admin may still cancel the order.
func Cancellable(s models.OrderStatus) bool {
	switch s {
	case models.OrderShipped, models.OrderDelivered, models.OrderCancelled:
		return false
	}
	return true
}
