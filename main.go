package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-settlement/internal/auth"
	"ms-settlement/internal/catalog"
	"ms-settlement/internal/config"
	"ms-settlement/internal/database"
	"ms-settlement/internal/database/migrations"
	"ms-settlement/internal/group"
	groupdb "ms-settlement/internal/group/db"
	"ms-settlement/internal/group/group_api"
	"ms-settlement/internal/identity"
	"ms-settlement/internal/kafka"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/metrics"
	"ms-settlement/internal/notify"
	"ms-settlement/internal/order"
	"ms-settlement/internal/order/db"
	orderkafka "ms-settlement/internal/order/kafka"
	"ms-settlement/internal/order/order_api"
	rediswrap "ms-settlement/internal/order/redis"
	"ms-settlement/internal/promo"
	promodb "ms-settlement/internal/promo/db"
	"ms-settlement/internal/promo/promo_api"
	"ms-settlement/internal/tickets"
	ticket_db "ms-settlement/internal/tickets/db"
	"ms-settlement/internal/tickets/ticket_api"
	"ms-settlement/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client, nil
}

func healthHandler(bunDB *bun.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := bunDB.PingContext(ctx); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("database unavailable", err.Error()))
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("redis unavailable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	}
}

func main() {
	logger := logger.NewLogger("settlement")
	defer logger.Close()

	logger.Info("APP", "Starting Settlement Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("APP", "Verifying database connections")
	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB.DB, logger)
		if err := runner.Up(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient, err := connectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("REDIS", err.Error())
	}
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	issuer, err := tickets.NewIssuer(cfg.Tickets.HashSecret)
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	orderStore := &db.DB{Bun: bunDB}
	ticketStore := &ticket_db.DB{Bun: bunDB}
	catalogStore := &catalog.Store{Bun: bunDB}
	identityStore := &identity.Store{Bun: bunDB}
	locks := rediswrap.NewRedis(redisClient, cfg.Redis, logger)
	promos := promo.NewEngine(&promodb.DB{Bun: bunDB}, logger)

	var payments order.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		payments = order.NewStripeGateway(cfg.Stripe.SecretKey, logger)
	} else {
		logger.Warn("STRIPE", "STRIPE_SECRET_KEY not set, paid checkout is disabled")
	}

	// Ticket emails and the completed-order event go out through the same
	// retrying dispatcher. Without Kafka there is no transport, so settlement
	// runs without a notifier.
	var producer *kafka.Producer
	var dispatcher *notify.Dispatcher
	var notifier order.Notifier
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer producer.Close()
		dispatcher = notify.NewDispatcher(notify.Fanout{
			&notify.KafkaSender{Publisher: producer, Topic: cfg.Kafka.Topics.TicketEmail},
			&orderkafka.CompletedSender{Publisher: producer, Orders: orderStore, Topic: cfg.Kafka.Topics.OrderCompleted},
		}, cfg.Notify, m, logger)
		dispatcher.Start()
		notifier = dispatcher
	} else {
		logger.Warn("NOTIFY", "KAFKA_ENABLED=false, no transport for ticket notifications; none will be sent")
	}

	orderService := order.NewService(order.Deps{
		Orders:   orderStore,
		Ledger:   order.NewLedger(bunDB, issuer, logger),
		Lock:     locks,
		Notifier: notifier,
		Catalog:  catalogStore,
		Identity: identityStore,
		Promos:   promos,
		Payments: payments,
		Metrics:  m,
		Logger:   logger,
		Currency: cfg.Stripe.Currency,
	})
	coordinator := group.NewCoordinator(group.Deps{
		Store:    &groupdb.DB{Bun: bunDB},
		Orders:   orderStore,
		Settler:  orderService,
		Catalog:  catalogStore,
		Identity: identityStore,
		Payments: payments,
		Metrics:  m,
		Logger:   logger,
		Expiry:   cfg.Group.Expiry,
	})
	router := &order.Router{Orders: orderService, Groups: coordinator}
	webhooks := &order.Webhooks{
		Parser: &order.WebhookParser{Secret: cfg.Stripe.WebhookSecret, Logger: logger},
		Router: router,
		Dedupe: locks,
		Logger: logger,
	}
	if !cfg.Stripe.Signed() {
		logger.LogSecurity("UNSIGNED_WEBHOOK", "STRIPE_WEBHOOK_SECRET not set, payment webhooks are accepted without a signature")
	}

	var consumer *kafka.Consumer
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentEvents, cfg.Kafka.GroupID, logger)
		consumer.MaxRetries = cfg.Kafka.MaxRetries
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx, orderkafka.PaymentHandler(router, logger)); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Payment consumer stopped: %v", err))
			}
		}()
	} else {
		close(consumerDone)
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		logger.Fatal("AUTH", err.Error())
	}

	orderHandler := order_api.NewHandler(orderService, webhooks, logger)
	groupHandler := &group_api.Handler{Coordinator: coordinator, Logger: logger}
	ticketHandler := &ticket_api.Handler{
		Service:   tickets.NewService(ticketStore, issuer, logger),
		Lifecycle: tickets.NewLifecycle(ticketStore, catalogStore, logger),
		Logger:    logger,
	}
	promoHandler := &promo_api.Handler{Engine: promos, Logger: logger}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/healthz", healthHandler(bunDB, redisClient))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post("/api/webhooks/payment", orderHandler.PaymentWebhook)
	r.Get("/api/order/tickets/count", ticketHandler.GetTotalTicketsCount)
	r.Post("/api/promo/validate", promoHandler.ValidatePromo)
	r.Get("/api/group/{shareCode}", groupHandler.GetGroup)

	// --- Guest checkout: a bearer token is used when present ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Optional(verifier, logger))
		r.Post("/api/order/checkout", orderHandler.Checkout)
		r.Post("/api/order/free", orderHandler.FreeReservation)
		r.Post("/api/group/{shareCode}/checkout", groupHandler.Checkout)
	})

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		logger.Info("AUTH", "Token middleware applied to protected API routes")

		r.Get("/api/order", orderHandler.ListOrders)
		r.Get("/api/order/{orderId}", orderHandler.GetOrder)
		r.Get("/api/order/ticket", ticketHandler.ListTicketsByOrder)
		r.Get("/api/order/ticket/{ticketId}", ticketHandler.ViewTicket)
		r.Get("/api/order/ticket/{ticketId}/qr", ticketHandler.TicketQR)
		r.Post("/api/order/ticket/{ticketId}/resale", ticketHandler.ToggleResale)
		r.With(auth.RequireRole(auth.ScannerRole)).Post("/api/order/ticket/check-in", ticketHandler.CheckinTicket)
		logger.Info("ROUTER", "Order and ticket routes registered under /api/order")

		r.Post("/api/group", groupHandler.CreateGroupOrder)
		r.Post("/api/group/{shareCode}/join", groupHandler.Join)
		r.With(auth.RequireRole(auth.AdminRole)).Post("/api/admin/group/{groupId}/reconcile", groupHandler.Reconcile)
		logger.Info("ROUTER", "Group order routes registered under /api/group")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Settlement Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	<-consumerDone
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Consumer close: %v", err))
		}
	}
	// pending ticket emails get the rest of the shutdown window
	if dispatcher != nil {
		if err := dispatcher.Close(ctxShutdown); err != nil {
			logger.Warn("NOTIFY", fmt.Sprintf("Dispatcher did not drain: %v", err))
		}
	}
	logger.Info("APP", "Settlement Service shutdown complete")
}
