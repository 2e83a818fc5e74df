package routes

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agrimart/escrow"
	"agrimart/gateway"
	"agrimart/inventory"
	"agrimart/middleware"
	"agrimart/models"
	"agrimart/mq"
	"agrimart/orders"
	"agrimart/pay"
	"agrimart/payouts"
	"agrimart/ratelim"
	"agrimart/receipts"
	"agrimart/shipments"
	"agrimart/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var secret = []byte("routes-secret")

func token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	claims := &middleware.Claims{
		UserID: userID,
		Role:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return "Bearer " + s
}

func newRouter(t *testing.T) *httprouter.Router {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.NewMemory()
	rec := &mq.Recorder{}
	gw := gateway.NewMock()
	catalog := inventory.NewMemory(models.Product{ID: "yam", SellerID: "farmer-1", Name: "Yam", Price: 50, Stock: 10})

	ledger := escrow.NewLedger(st, 200, rec, logger)
	payoutSvc := payouts.NewService(st, gw, nil, payouts.Config{RetryBase: time.Minute, RetryMax: time.Hour, Currency: "NGN"}, rec, logger)
	orderSvc := orders.NewService(st, catalog, ledger, 0, "NGN", rec, logger)
	paySvc := pay.NewService(st, gw, ledger, payoutSvc, pay.Config{Currency: "NGN", WebhookSecret: "whsec"}, rec, logger)

	router := httprouter.New()
	RoutesWrapper(router, ratelim.NewRateLimiter(600, 100), Deps{
		Auth:      middleware.NewAuth(secret),
		Store:     st,
		Orders:    orderSvc,
		Payments:  paySvc,
		Escrow:    ledger,
		Payouts:   payoutSvc,
		Shipments: shipments.NewService(st, ledger, rec, logger),
		Receipts:  receipts.NewService(orderSvc, st, "receipt-key", logger),
	})
	return router
}

func serve(router http.Handler, method, path, auth string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5000"
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(t)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/metrics", "", nil).Code)
}

func TestCheckoutRoute(t *testing.T) {
	router := newRouter(t)
	body := []byte(`{"items":[{"productId":"yam","quantity":2}],"shippingAddress":"Ibadan"}`)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/api/v1/orders", "", body).Code)
	assert.Equal(t, http.StatusForbidden,
		serve(router, http.MethodPost, "/api/v1/orders", token(t, "carrier-1", "logistics"), body).Code)

	w := serve(router, http.MethodPost, "/api/v1/orders", token(t, "buyer-1", "buyer"), body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	router := newRouter(t)
	w := serve(router, http.MethodPost, "/api/v1/admin/payouts/run", token(t, "farmer-1", "seller"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(router, http.MethodPost, "/api/v1/admin/payouts/run", token(t, "root", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestWebhookIsUnauthenticatedButSigned(t *testing.T) {
	router := newRouter(t)
	body := []byte(`{"event":"charge.success","data":{"reference":"AGM-x"}}`)
	w := serve(router, http.MethodPost, "/api/v1/webhooks/gateway", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("X-Signature", gateway.Sign("whsec", body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
