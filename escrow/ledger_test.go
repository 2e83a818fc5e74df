package escrow

import (
	"context"
	"testing"
	"time"

	"agrimart/apperr"
	"agrimart/models"
	"agrimart/mq"
	"agrimart/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLedger(t *testing.T) (*Ledger, *store.Memory, *mq.Recorder) {
	t.Helper()
	st := store.NewMemory()
	rec := &mq.Recorder{}
	l := NewLedger(st, 200, rec, zaptest.NewLogger(t))
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return l, st, rec
}

func seedOrder(t *testing.T, st *store.Memory, id string, paid models.PaymentStatus, items ...models.OrderItem) {
	t.Helper()
	order := models.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		SellerID:      "farmer-1",
		Status:        models.OrderShipped,
		PaymentStatus: paid,
		Currency:      "NGN",
	}
	for i := range items {
		items[i].OrderID = id
		order.Subtotal += items[i].TotalPrice
	}
	order.TotalAmount = order.Subtotal
	require.NoError(t, st.CreateOrder(context.Background(), order, items))
}

func twoItems() []models.OrderItem {
	return []models.OrderItem{
		{ID: "i1", ProductID: "yam", SellerID: "farmer-1", Quantity: 2, UnitPrice: 50, TotalPrice: 100},
		{ID: "i2", ProductID: "maize", SellerID: "farmer-1", Quantity: 1, UnitPrice: 100, TotalPrice: 100},
	}
}

func registerRecipient(t *testing.T, st *store.Memory, userID string) {
	t.Helper()
	require.NoError(t, st.UpsertRecipient(context.Background(), models.PayoutRecipient{
		UserID:        userID,
		RecipientCode: "RCP_" + userID,
	}))
}

func TestEnsureForOrderIsIdempotent(t *testing.T) {
	l, st, rec := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	ctx := context.Background()

	first, err := l.EnsureForOrder(ctx, "o1")
	require.NoError(t, err)
	second, err := l.EnsureForOrder(ctx, "o1")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	e := first[0]
	assert.Equal(t, int64(20000), e.GrossAmountKobo)
	assert.Equal(t, int64(400), e.PlatformFeeKobo)
	assert.Equal(t, int64(19600), e.NetAmountKobo)
	assert.Equal(t, e.GrossAmountKobo, e.PlatformFeeKobo+e.NetAmountKobo)
	assert.Equal(t, models.EscrowHeld, e.Status)
	assert.Equal(t, []string{mq.EscrowCreated}, rec.Types())
}

func TestEnsureForOrderSplitsFeeExactly(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, models.OrderItem{ID: "i1", SellerID: "farmer-1", TotalPrice: 100})

	escrows, err := l.EnsureForOrder(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, escrows, 1)
	assert.Equal(t, int64(10000), escrows[0].GrossAmountKobo)
	assert.Equal(t, int64(200), escrows[0].PlatformFeeKobo)
	assert.Equal(t, int64(9800), escrows[0].NetAmountKobo)
}

func TestEnsureForOrderRequiresPaid(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPending, twoItems()...)

	_, err := l.EnsureForOrder(context.Background(), "o1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = l.EnsureForOrder(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReleaseForOrderQueuesNetPayout(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	registerRecipient(t, st, "farmer-1")
	ctx := context.Background()

	report, err := l.ReleaseForOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Queued())

	res := report.Results[0]
	p, err := st.GetPayout(ctx, res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, int64(19600), p.AmountKobo)
	assert.Equal(t, models.PayoutQueued, p.Status)
	assert.Equal(t, res.EscrowID, p.EscrowID)

	e, err := st.GetEscrow(ctx, res.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleasePending, e.Status)

	again, err := l.ReleaseForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Queued())
	assert.Equal(t, OutcomeSkipped, again.Results[0].Outcome)
	payouts, _ := st.ListPayoutsForEscrow(ctx, res.EscrowID)
	assert.Len(t, payouts, 1)
}

func TestReleaseForOrderEvaluatesBeneficiariesIndependently(t *testing.T) {
	l, st, rec := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid,
		models.OrderItem{ID: "i1", SellerID: "farmer-1", TotalPrice: 100},
		models.OrderItem{ID: "i2", SellerID: "farmer-2", TotalPrice: 50},
	)
	registerRecipient(t, st, "farmer-2")

	report, err := l.ReleaseForOrder(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	byBeneficiary := map[string]BeneficiaryResult{}
	for _, r := range report.Results {
		byBeneficiary[r.BeneficiaryID] = r
	}
	assert.Equal(t, OutcomeFailed, byBeneficiary["farmer-1"].Outcome)
	assert.Equal(t, models.ReasonMissingRecipient, byBeneficiary["farmer-1"].Reason)
	assert.Equal(t, OutcomeQueued, byBeneficiary["farmer-2"].Outcome)

	e, _ := st.GetEscrow(context.Background(), byBeneficiary["farmer-1"].EscrowID)
	assert.Equal(t, models.EscrowFailed, e.Status)
	assert.Contains(t, rec.Types(), mq.EscrowFailed)
	assert.Contains(t, rec.Types(), mq.PayoutQueued)
}

func TestReleaseForOrderRequiresPaid(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPending, twoItems()...)

	_, err := l.ReleaseForOrder(context.Background(), "o1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestResetThenRelease(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	ctx := context.Background()
	admin := models.Principal{UserID: "root", Roles: []string{"admin"}}

	report, err := l.ReleaseForOrder(ctx, "o1")
	require.NoError(t, err)
	escrowID := report.Results[0].EscrowID

	_, err = l.Reset(ctx, escrowID, models.Principal{UserID: "farmer-1", Roles: []string{"seller"}})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	e, err := l.Reset(ctx, escrowID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowHeld, e.Status)

	_, err = l.Reset(ctx, escrowID, admin)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	registerRecipient(t, st, "farmer-1")
	report, err = l.ReleaseForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued())

	_, err = l.Reset(ctx, escrowID, admin)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestReleaseLogisticsForOrder(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	ctx := context.Background()
	require.NoError(t, st.CreateShipment(ctx, models.Shipment{
		ID:                  "sh1",
		OrderID:             "o1",
		LogisticsProviderID: "rider-1",
		Status:              models.ShipmentDelivered,
		LogisticsFeeKobo:    5000,
	}))
	registerRecipient(t, st, "rider-1")

	report, err := l.ReleaseLogisticsForOrder(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Queued())

	escrows, err := st.ListEscrows(ctx, "o1", models.BeneficiaryLogistics)
	require.NoError(t, err)
	require.Len(t, escrows, 1)
	assert.Equal(t, int64(5000), escrows[0].GrossAmountKobo)
	assert.Equal(t, int64(100), escrows[0].PlatformFeeKobo)
	assert.Equal(t, "rider-1", escrows[0].SellerID)

	again, err := l.ReleaseLogisticsForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Queued())
	escrows, _ = st.ListEscrows(ctx, "o1", models.BeneficiaryLogistics)
	assert.Len(t, escrows, 1)
}

func TestReleaseLogisticsWithoutFee(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	ctx := context.Background()
	require.NoError(t, st.CreateShipment(ctx, models.Shipment{ID: "sh1", OrderID: "o1", LogisticsProviderID: "rider-1"}))

	report, err := l.ReleaseLogisticsForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	has, _ := st.HasEscrow(ctx, "o1", models.BeneficiaryLogistics)
	assert.False(t, has)
}

func TestListForOrderVisibility(t *testing.T) {
	l, st, _ := newLedger(t)
	seedOrder(t, st, "o1", models.PaymentPaid, twoItems()...)
	ctx := context.Background()
	_, err := l.EnsureForOrder(ctx, "o1")
	require.NoError(t, err)

	got, err := l.ListForOrder(ctx, "o1", models.Principal{UserID: "buyer-1", Roles: []string{"buyer"}})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = l.ListForOrder(ctx, "o1", models.Principal{UserID: "stranger", Roles: []string{"buyer"}})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}
