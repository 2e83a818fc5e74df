package orders

import (
	"testing"

	"agrimart/apperr"
	"agrimart/models"

	"github.com/stretchr/testify/assert"
)

var (
	buyer  = models.Principal{UserID: "buyer-1", Roles: []string{"buyer"}}
	seller = models.Principal{UserID: "farmer-1", Roles: []string{"seller"}}
	admin  = models.Principal{UserID: "root", Roles: []string{"admin"}}
)

var allStatuses = []models.OrderStatus{
	models.OrderPending,
	models.OrderConfirmed,
	models.OrderProcessing,
	models.OrderShipped,
	models.OrderDelivered,
	models.OrderCancelled,
}

func order(status models.OrderStatus, paid models.PaymentStatus) models.Order {
	return models.Order{ID: "o1", BuyerID: "buyer-1", SellerID: "farmer-1", Status: status, PaymentStatus: paid}
}

func TestTransitionBuyer(t *testing.T) {
	err := Transition(order(models.OrderShipped, models.PaymentPending), buyer, false, models.OrderDelivered)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, "order_not_paid", apperr.ReasonOf(err))

	assert.NoError(t, Transition(order(models.OrderShipped, models.PaymentPaid), buyer, false, models.OrderDelivered))

	err = Transition(order(models.OrderProcessing, models.PaymentPaid), buyer, false, models.OrderDelivered)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	err = Transition(order(models.OrderShipped, models.PaymentPaid), buyer, false, models.OrderConfirmed)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestTransitionSeller(t *testing.T) {
	assert.NoError(t, Transition(order(models.OrderPending, models.PaymentPaid), seller, true, models.OrderConfirmed))
	assert.NoError(t, Transition(order(models.OrderConfirmed, models.PaymentPaid), seller, true, models.OrderConfirmed))
	assert.NoError(t, Transition(order(models.OrderConfirmed, models.PaymentPaid), seller, true, models.OrderShipped))

	err := Transition(order(models.OrderShipped, models.PaymentPaid), seller, true, models.OrderProcessing)
	assert.Equal(t, "status_regression", apperr.ReasonOf(err))

	err = Transition(order(models.OrderPending, models.PaymentPending), seller, true, models.OrderConfirmed)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	err = Transition(order(models.OrderShipped, models.PaymentPaid), seller, true, models.OrderDelivered)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	err = Transition(order(models.OrderPending, models.PaymentPaid), seller, false, models.OrderConfirmed)
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "seller must own an item")
}

func TestTransitionTerminalAndAdmin(t *testing.T) {
	for _, s := range []models.OrderStatus{models.OrderDelivered, models.OrderCancelled} {
		err := Transition(order(s, models.PaymentPaid), seller, true, models.OrderShipped)
		assert.True(t, apperr.Is(err, apperr.KindConflict), s)
	}
	assert.NoError(t, Transition(order(models.OrderDelivered, models.PaymentPaid), admin, false, models.OrderShipped))

	for _, to := range allStatuses {
		err := Transition(order(models.OrderCancelled, models.PaymentPaid), admin, false, to)
		assert.Equal(t, "order_cancelled", apperr.ReasonOf(err), to)
	}
	err := Transition(order(models.OrderPending, models.PaymentPaid), admin, false, "lost")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

// No non-admin transition ever lowers the rank or leaves a terminal state.
func TestNonAdminTransitionsNeverRegress(t *testing.T) {
	actors := []struct {
		p    models.Principal
		owns bool
	}{{buyer, false}, {seller, true}, {models.Principal{UserID: "x", Roles: []string{"logistics"}}, false}}
	for _, a := range actors {
		for _, from := range allStatuses {
			for _, to := range allStatuses {
				for _, paid := range []models.PaymentStatus{models.PaymentPending, models.PaymentPaid} {
					if Transition(order(from, paid), a.p, a.owns, to) != nil {
						continue
					}
					assert.False(t, from.Terminal(), "%s left terminal %s", a.p.UserID, from)
					fr, _ := from.Rank()
					tr, ok := to.Rank()
					assert.True(t, ok, "%s reached unranked %s", a.p.UserID, to)
					assert.GreaterOrEqual(t, tr, fr, "%s: %s -> %s", a.p.UserID, from, to)
				}
			}
		}
	}
}
