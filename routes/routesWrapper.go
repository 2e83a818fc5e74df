package routes

import (
	"agrimart/ratelim"

	"github.com/julienschmidt/httprouter"
)

func RoutesWrapper(router *httprouter.Router, rateLimiter *ratelim.RateLimiter, deps Deps) {
	AddHealthRoutes(router)
	AddOrderRoutes(router, rateLimiter, deps)
	AddPaymentRoutes(router, rateLimiter, deps)
	AddPayoutRoutes(router, rateLimiter, deps)
	AddAdminRoutes(router, rateLimiter, deps)
	AddShipmentRoutes(router, rateLimiter, deps)
}
