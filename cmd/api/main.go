package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medisync-labs/medisync-backend/api/controllers"
	"github.com/medisync-labs/medisync-backend/api/routes"
	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/hospitals"
	"github.com/medisync-labs/medisync-backend/internal/notifications"
	"github.com/medisync-labs/medisync-backend/internal/pricing"
	"github.com/medisync-labs/medisync-backend/internal/renewals"
	"github.com/medisync-labs/medisync-backend/internal/subscriptions"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	razorpaywebhook "github.com/medisync-labs/medisync-backend/internal/webhooks/razorpay"
	"github.com/medisync-labs/medisync-backend/pkg/config"
	"github.com/medisync-labs/medisync-backend/pkg/db"
	"github.com/medisync-labs/medisync-backend/pkg/locks"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/migrate"
	"github.com/medisync-labs/medisync-backend/pkg/pubsub"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
	"github.com/medisync-labs/medisync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	gateway, err := razorpay.NewClient(context.Background(), cfg.Razorpay, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create razorpay client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	lockManager, err := locks.NewManager(locks.ManagerParams{
		Store:           redisClient,
		Namespace:       redisClient.Namespace(),
		TTL:             cfg.Locks.TTL,
		AcquireAttempts: cfg.Locks.AcquireAttempts,
		AcquireBaseWait: cfg.Locks.AcquireBaseWait,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lock manager", err)
		os.Exit(1)
	}

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		PubSub: pubsubClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	calculator, err := pricing.NewCalculator(pricing.NewPolicy(cfg.Billing))
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing calculator", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	hospitalRepo := hospitals.NewRepository(dbClient.DB())

	renewalService, err := renewals.NewService(renewals.ServiceParams{
		TransactionRunner: dbClient,
		BillingRepo:       billingRepo,
		Roster:            hospitalRepo,
		Locks:             lockManager,
		Gateway:           gateway,
		Calculator:        calculator,
		Metrics:           paymentMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal service", err)
		os.Exit(1)
	}

	verificationService, err := verification.NewService(verification.ServiceParams{
		TransactionRunner: dbClient,
		BillingRepo:       billingRepo,
		Locks:             lockManager,
		Gateway:           gateway,
		Notifier:          dispatcher,
		Cache:             redisClient,
		Metrics:           paymentMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create verification service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo: billingRepo,
		Cache:       redisClient,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	webhookService, err := razorpaywebhook.NewService(razorpaywebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Settler:           verificationService,
		TransactionRunner: dbClient,
		Metrics:           paymentMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := razorpaywebhook.NewEventGuard(redisClient, 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook event guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:              cfg,
			Logger:              logg,
			Redis:               redisClient,
			Gateway:             gateway,
			RenewalService:      renewalService,
			VerificationService: verificationService,
			SubscriptionService: subscriptionService,
			WebhookService:      webhookService,
			WebhookGuard:        webhookGuard,
			MetricsRegistry:     registry,
			ReadinessProbes: []controllers.ReadinessProbe{
				{Name: "postgres", Check: dbClient.Ping},
				{Name: "redis", Check: redisClient.Ping},
				{Name: "pubsub", Check: pubsubClient.Ping},
			},
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
