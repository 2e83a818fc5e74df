package routes

import (
	"net/http"

	"agrimart/escrow"
	"agrimart/metrics"
	"agrimart/middleware"
	"agrimart/models"
	"agrimart/orders"
	"agrimart/pay"
	"agrimart/payouts"
	"agrimart/ratelim"
	"agrimart/receipts"
	"agrimart/shipments"
	"agrimart/store"

	"github.com/julienschmidt/httprouter"
)

// Deps carries the services the route tables bind to.
type Deps struct {
	Auth      *middleware.Auth
	Store     store.IdempotencyStore
	Orders    *orders.Service
	Payments  *pay.Service
	Escrow    *escrow.Ledger
	Payouts   *payouts.Service
	Shipments *shipments.Service
	Receipts  *receipts.Service
}

// handle registers h with per-route metrics under the route pattern.
func handle(router *httprouter.Router, method, path string, mw middleware.Middleware, h httprouter.Handle) {
	router.Handle(method, path, middleware.Chain(metrics.Instrument(method, path), mw)(h))
}

func (d Deps) authed(rl *ratelim.RateLimiter, roles ...models.Role) middleware.Middleware {
	mws := []middleware.Middleware{rl.Limit, d.Auth.Authenticate}
	if len(roles) > 0 {
		mws = append(mws, middleware.RequireRoles(roles...))
	}
	return middleware.Chain(mws...)
}

func AddHealthRoutes(router *httprouter.Router) {
	router.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("200"))
	})
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
}

func AddOrderRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, d Deps) {
	handle(router, http.MethodPost, "/api/v1/orders",
		middleware.Chain(d.authed(rl, models.RoleBuyer), middleware.Idempotent(d.Store)),
		d.Orders.HandleCheckout)
	handle(router, http.MethodGet, "/api/v1/orders/:id", d.authed(rl), d.Orders.HandleGet)
	handle(router, http.MethodPut, "/api/v1/orders/:id/status", d.authed(rl), d.Orders.HandleUpdateStatus)
	handle(router, http.MethodPost, "/api/v1/orders/:id/cancel", d.authed(rl), d.Orders.HandleCancel)
	handle(router, http.MethodGet, "/api/v1/orders/:id/receipt", d.authed(rl), d.Receipts.HandleReceipt)
	handle(router, http.MethodGet, "/api/v1/orders/:id/escrows", d.authed(rl), d.Escrow.HandleListForOrder)
}

func AddPaymentRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, d Deps) {
	handle(router, http.MethodPost, "/api/v1/payments/initialize",
		middleware.Chain(d.authed(rl), middleware.Idempotent(d.Store)),
		d.Payments.HandleInitialize)
	handle(router, http.MethodGet, "/api/v1/payments/verify/:reference", d.authed(rl), d.Payments.HandleVerify)

	// The gateway authenticates with the body signature, not a bearer token.
	handle(router, http.MethodPost, "/api/v1/webhooks/gateway", rl.Limit, d.Payments.HandleWebhookRequest)
}

func AddPayoutRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, d Deps) {
	handle(router, http.MethodPost, "/api/v1/payouts/recipients",
		d.authed(rl, models.RoleSeller, models.RoleLogistics), d.Payouts.HandleRegisterRecipient)
	handle(router, http.MethodGet, "/api/v1/payouts/recipients/me",
		d.authed(rl, models.RoleSeller, models.RoleLogistics), d.Payouts.HandleMyRecipient)
}

func AddAdminRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, d Deps) {
	admin := d.authed(rl, models.RoleAdmin)
	handle(router, http.MethodPost, "/api/v1/admin/payouts/run", admin, d.Payouts.HandleRunBatch)
	handle(router, http.MethodPost, "/api/v1/admin/payouts/retry", admin, d.Payouts.HandleRetryFailed)
	handle(router, http.MethodPost, "/api/v1/admin/payouts/retry/:id",
		middleware.Chain(admin, middleware.Idempotent(d.Store)), d.Payouts.HandleRetry)
	handle(router, http.MethodPost, "/api/v1/admin/escrows/:id/reset", admin, d.Escrow.HandleReset)
}

func AddShipmentRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, d Deps) {
	handle(router, http.MethodPost, "/api/v1/shipments", d.authed(rl, models.RoleSeller), d.Shipments.HandleCreate)
	handle(router, http.MethodGet, "/api/v1/shipments/:id", d.authed(rl), d.Shipments.HandleGet)
	handle(router, http.MethodPut, "/api/v1/shipments/:id/assign", d.authed(rl, models.RoleAdmin), d.Shipments.HandleAssign)
	handle(router, http.MethodPut, "/api/v1/shipments/:id/status", d.authed(rl, models.RoleLogistics), d.Shipments.HandleUpdateStatus)
	handle(router, http.MethodPost, "/api/v1/shipments/:id/locations", d.authed(rl, models.RoleLogistics), d.Shipments.HandleRecordLocation)
	handle(router, http.MethodGet, "/api/v1/shipments/:id/eta", d.authed(rl), d.Shipments.HandleETA)

	// Long-lived; one rate-limit token per connection.
	router.GET("/api/v1/shipments/:id/locations/ws",
		d.authed(rl, models.RoleLogistics)(d.Shipments.LocationSocket))
}
