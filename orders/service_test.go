package orders

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"agrimart/apperr"
	"agrimart/escrow"
	"agrimart/inventory"
	"agrimart/models"
	"agrimart/mq"
	"agrimart/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	svc     *Service
	st      *store.Memory
	catalog *inventory.Memory
	ledger  *escrow.Ledger
	rec     *mq.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	catalog := inventory.NewMemory(
		models.Product{ID: "yam", SellerID: "farmer-1", Name: "Yam tubers", Unit: "crate", Price: 50, Stock: 10},
		models.Product{ID: "maize", SellerID: "farmer-1", Name: "Maize", Unit: "bag", Price: 100, Stock: 4},
		models.Product{ID: "rice", SellerID: "farmer-2", Name: "Rice", Unit: "bag", Price: 80, Stock: 4},
	)
	rec := &mq.Recorder{}
	logger := zaptest.NewLogger(t)
	ledger := escrow.NewLedger(st, 200, rec, logger)
	svc := NewService(st, catalog, ledger, 0, "NGN", rec, logger)
	return fixture{svc: svc, st: st, catalog: catalog, ledger: ledger, rec: rec}
}

func (f fixture) checkout(t *testing.T) OrderView {
	t.Helper()
	view, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		Items:           []models.CartLine{{ProductID: "yam", Quantity: 2}, {ProductID: "maize", Quantity: 1}},
		ShippingAddress: "12 Market Road, Ibadan",
	})
	require.NoError(t, err)
	return view
}

func (f fixture) markPaid(t *testing.T, id string) {
	t.Helper()
	ok, err := f.st.SetOrderPaymentStatus(context.Background(), id, []models.PaymentStatus{models.PaymentPending}, models.PaymentPaid)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckoutComputesTotalsAndReservesStock(t *testing.T) {
	f := newFixture(t)
	view := f.checkout(t)

	assert.Equal(t, models.OrderPending, view.Status)
	assert.Equal(t, models.PaymentPending, view.PaymentStatus)
	assert.Equal(t, "farmer-1", view.SellerID)
	assert.Equal(t, 200.0, view.Subtotal)
	assert.Equal(t, 200.0, view.TotalAmount)
	require.Len(t, view.Items, 2)
	assert.Equal(t, 100.0, view.Items[0].TotalPrice)

	assert.Equal(t, 8, f.catalog.Stock("yam"))
	assert.Equal(t, 3, f.catalog.Stock("maize"))
	assert.Equal(t, []string{mq.OrderCreated}, f.rec.Types())
}

func TestCheckoutRejectsMultipleSellers(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		Items:           []models.CartLine{{ProductID: "yam", Quantity: 1}, {ProductID: "rice", Quantity: 1}},
		ShippingAddress: "x",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "multiple_sellers", apperr.ReasonOf(err))
	assert.Equal(t, 10, f.catalog.Stock("yam"))
}

func TestCheckoutInsufficientStockCompensates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
		Items:           []models.CartLine{{ProductID: "yam", Quantity: 3}, {ProductID: "maize", Quantity: 5}},
		ShippingAddress: "x",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 10, f.catalog.Stock("yam"))
	assert.Equal(t, 4, f.catalog.Stock("maize"))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), buyer, CheckoutInput{
				Items:           []models.CartLine{{ProductID: "maize", Quantity: 1}},
				ShippingAddress: "x",
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, created)
	assert.Equal(t, 0, f.catalog.Stock("maize"))
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []CheckoutInput{
		{ShippingAddress: "x"},
		{Items: []models.CartLine{{ProductID: "yam", Quantity: 0}}, ShippingAddress: "x"},
		{Items: []models.CartLine{{ProductID: "yam", Quantity: 1}}},
	}
	for _, in := range cases {
		_, err := f.svc.Checkout(ctx, buyer, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
	_, err := f.svc.Checkout(ctx, buyer, CheckoutInput{Items: []models.CartLine{{ProductID: "ghost", Quantity: 1}}, ShippingAddress: "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Checkout(ctx, seller, CheckoutInput{Items: []models.CartLine{{ProductID: "yam", Quantity: 1}}, ShippingAddress: "x"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestCheckoutRejectsOversizedQuantities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carts := map[string][]models.CartLine{
		"merge overflow": {{ProductID: "yam", Quantity: math.MaxInt}, {ProductID: "yam", Quantity: math.MaxInt}},
		"merge past cap": {{ProductID: "yam", Quantity: MaxLineQuantity}, {ProductID: "yam", Quantity: 1}},
		"single line":    {{ProductID: "yam", Quantity: MaxLineQuantity + 1}},
	}
	for name, items := range carts {
		_, err := f.svc.Checkout(ctx, buyer, CheckoutInput{Items: items, ShippingAddress: "x"})
		assert.Equal(t, "quantity_too_large", apperr.ReasonOf(err), name)
	}
	assert.Equal(t, 10, f.catalog.Stock("yam"))
	assert.Empty(t, f.rec.Types())
}

func TestAdminCannotReopenCancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)

	_, err := f.svc.UpdateStatus(ctx, view.ID, admin, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 10, f.catalog.Stock("yam"))

	_, err = f.svc.UpdateStatus(ctx, view.ID, admin, "pending")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	got, _ := f.st.GetOrder(ctx, view.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)

	// Cancelling again must not return the stock twice.
	_, err = f.svc.UpdateStatus(ctx, view.ID, admin, "cancelled")
	assert.Error(t, err)
	assert.Equal(t, 10, f.catalog.Stock("yam"))
	assert.Equal(t, 4, f.catalog.Stock("maize"))
}

func TestBuyerCannotConfirmDeliveryUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)
	ok, err := f.st.SetOrderStatus(ctx, view.ID, models.OrderPending, models.OrderShipped)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.UpdateStatus(ctx, view.ID, buyer, "delivered")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	got, _ := f.st.GetOrder(ctx, view.ID)
	assert.Equal(t, models.OrderShipped, got.Status)
	has, _ := f.st.HasEscrow(ctx, view.ID, models.BeneficiarySeller)
	assert.False(t, has)
}

func TestDeliveryQueuesSellerPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)
	f.markPaid(t, view.ID)
	require.NoError(t, f.st.UpsertRecipient(ctx, models.PayoutRecipient{UserID: "farmer-1", RecipientCode: "RCP_1"}))
	escrows, err := f.ledger.EnsureForOrder(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, escrows, 1)
	assert.Equal(t, int64(400), escrows[0].PlatformFeeKobo)
	assert.Equal(t, int64(19600), escrows[0].NetAmountKobo)

	for _, next := range []string{"confirmed", "processing", "shipped"} {
		_, err := f.svc.UpdateStatus(ctx, view.ID, seller, next)
		require.NoError(t, err, next)
	}
	o, err := f.svc.UpdateStatus(ctx, view.ID, buyer, "delivered")
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, o.Status)

	payouts, err := f.st.ListPayoutsForEscrow(ctx, escrows[0].ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(19600), payouts[0].AmountKobo)
	assert.Equal(t, models.PayoutQueued, payouts[0].Status)

	_, err = f.svc.UpdateStatus(ctx, view.ID, buyer, "delivered")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "delivered is terminal")
}

type failingReleaser struct{}

func (failingReleaser) ReleaseForOrder(context.Context, string) (escrow.ReleaseReport, error) {
	return escrow.ReleaseReport{}, errors.New("store down")
}

func TestDeliveryRevertsWhenReleaseFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.escrow = failingReleaser{}
	view := f.checkout(t)
	f.markPaid(t, view.ID)
	_, err := f.st.SetOrderStatus(ctx, view.ID, models.OrderPending, models.OrderShipped)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, view.ID, buyer, "delivered")
	require.Error(t, err)
	got, _ := f.st.GetOrder(ctx, view.ID)
	assert.Equal(t, models.OrderShipped, got.Status)
}

func TestCancelRestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)

	_, err := f.svc.Cancel(ctx, view.ID, seller)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Cancel(ctx, view.ID, buyer)
		}()
	}
	wg.Wait()

	got, _ := f.st.GetOrder(ctx, view.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Equal(t, 10, f.catalog.Stock("yam"))
	assert.Equal(t, 4, f.catalog.Stock("maize"))

	_, err = f.svc.Cancel(ctx, view.ID, buyer)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCancelAfterShipmentIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)
	_, err := f.st.SetOrderStatus(ctx, view.ID, models.OrderPending, models.OrderShipped)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, view.ID, buyer)
	assert.Equal(t, "order_not_cancellable", apperr.ReasonOf(err))

	_, err = f.svc.Cancel(ctx, view.ID, admin)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.checkout(t)

	_, err := f.svc.Get(ctx, view.ID, seller)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, view.ID, models.Principal{UserID: "other", Roles: []string{"buyer"}})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.svc.Get(ctx, "missing", admin)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
