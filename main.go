package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrimart/config"
	"agrimart/db"
	"agrimart/escrow"
	"agrimart/gateway"
	"agrimart/inventory"
	"agrimart/middleware"
	"agrimart/mq"
	"agrimart/orders"
	"agrimart/pay"
	"agrimart/payouts"
	"agrimart/ratelim"
	"agrimart/rdx"
	"agrimart/receipts"
	"agrimart/routes"
	"agrimart/shipments"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func newGateway(cfg config.Config, logger *zap.Logger) gateway.Gateway {
	if cfg.GatewayMock {
		logger.Warn("payment gateway running in mock mode")
		return gateway.NewMock()
	}
	return gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout)
}

func newEmitter(cfg config.Config, conn *redis.Client, logger *zap.Logger) (mq.Emitter, func()) {
	switch cfg.EventSink {
	case "redis":
		return mq.NewRedisEmitter(conn, "settlement-events"), func() {}
	case "kafka":
		k := mq.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic)
		return k, func() {
			if err := k.Close(); err != nil {
				logger.Warn("kafka writer close", zap.Error(err))
			}
		}
	}
	return mq.NewLogEmitter(logger), func() {}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Fatal("mongo", zap.Error(err))
	}
	defer client.Disconnect(context.Background())
	st := db.NewMongo(client, cfg.MongoDB)
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Fatal("mongo indexes", zap.Error(err))
	}

	conn, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer conn.Close()

	emitter, closeEmitter := newEmitter(cfg, conn, logger)
	defer closeEmitter()
	gw := newGateway(cfg, logger)

	ledger := escrow.NewLedger(st, cfg.PlatformFeeBps, emitter, logger)
	payoutSvc := payouts.NewService(st, gw, rdx.NewLocker(conn, "agrimart:lock:"), payouts.Config{
		RetryBase:  cfg.PayoutRetryBase,
		RetryMax:   cfg.PayoutRetryMax,
		BatchLimit: cfg.PayoutBatchLimit,
		Lease:      cfg.PayoutLease,
		Currency:   cfg.Currency,
	}, emitter, logger)
	orderSvc := orders.NewService(st, inventory.NewMongoCatalog(st.Products()), ledger, cfg.TaxBps, cfg.Currency, emitter, logger)
	paySvc := pay.NewService(st, gw, ledger, payoutSvc, pay.Config{
		Currency:      cfg.Currency,
		CallbackURL:   cfg.PaymentCallbackURL,
		WebhookSecret: cfg.GatewayWebhookSecret,
	}, emitter, logger)
	shipmentSvc := shipments.NewService(st, ledger, emitter, logger)
	receiptSvc := receipts.NewService(orderSvc, st, string(cfg.ReceiptSigningKey), logger)

	rateLimiter := ratelim.NewRateLimiter(120, 20)
	router := httprouter.New()
	routes.RoutesWrapper(router, rateLimiter, routes.Deps{
		Auth:      middleware.NewAuth(cfg.JwtSecret),
		Store:     st,
		Orders:    orderSvc,
		Payments:  paySvc,
		Escrow:    ledger,
		Payouts:   payoutSvc,
		Shipments: shipmentSvc,
		Receipts:  receiptSvc,
	})

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(router)
	handler := middleware.Logging(logger)(middleware.SecurityHeaders(corsHandler))

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go rateLimiter.Run(ctx, time.Minute)
	go payouts.NewWorker(payoutSvc, cfg.PayoutInterval, logger).Run(ctx)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ListenAndServe", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}
