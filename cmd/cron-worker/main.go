package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medisync-labs/medisync-backend/api/controllers"
	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/cron"
	"github.com/medisync-labs/medisync-backend/internal/notifications"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	"github.com/medisync-labs/medisync-backend/pkg/config"
	"github.com/medisync-labs/medisync-backend/pkg/db"
	"github.com/medisync-labs/medisync-backend/pkg/instance"
	"github.com/medisync-labs/medisync-backend/pkg/locks"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/migrate"
	"github.com/medisync-labs/medisync-backend/pkg/pubsub"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
	"github.com/medisync-labs/medisync-backend/pkg/redis"
)

const workerNameFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	promRegistry := prometheus.NewRegistry()
	cronMetrics := metrics.NewCronJobMetrics(promRegistry)
	paymentMetrics := metrics.NewPaymentMetrics(promRegistry)

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

	billingRepo := billing.NewRepository(dbClient.DB())

	settler, err := verification.NewService(verification.ServiceParams{
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

	reconcileJob, err := cron.NewReconcileRenewalsJob(cron.ReconcileRenewalsJobParams{
		Logger:      logg,
		DB:          dbClient,
		BillingRepo: billingRepo,
		Gateway:     gateway,
		Settler:     settler,
		Notifier:    dispatcher,
		Metrics:     paymentMetrics,
		StaleAfter:  cfg.Reconciler.StaleAfter,
		BatchSize:   cfg.Reconciler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	lockSweepJob, err := cron.NewLockSweepJob(cron.LockSweepJobParams{
		Logger:           logg,
		Locks:            lockManager,
		Metrics:          paymentMetrics,
		LongHoldWarnSpan: cfg.Locks.LongHoldWarnSpan,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lock sweep job", err)
		os.Exit(1)
	}

	healthJob, err := cron.NewDependencyHealthJob(cron.DependencyHealthJobParams{
		Logger: logg,
		Probes: []cron.DependencyProbe{
			{Name: "postgres", Check: dbClient.Ping},
			{Name: "redis", Check: redisClient.Ping},
			{Name: "pubsub", Check: pubsubClient.Ping},
		},
		Notifier: dispatcher,
		Metrics:  paymentMetrics,
		Interval: cfg.Reconciler.HealthInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dependency health job", err)
		os.Exit(1)
	}

	cycleLock, err := cron.NewCycleLock(lockManager, workerName(cfg.App.Env), cfg.Locks.WorkerTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob, lockSweepJob, healthJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     cycleLock,
		Metrics:  cronMetrics,
		Interval: cfg.Reconciler.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	metricsRouter := chi.NewRouter()
	metricsRouter.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	metricsRouter.Get("/health/live", controllers.HealthLive(cfg))
	metricsServer := &http.Server{Addr: ":" + port, Handler: metricsRouter}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	defer func() {
		_ = metricsServer.Close()
	}()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// workerName keeps environments sharing a redis from contending for the same
// worker lease.
func workerName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(workerNameFormat, env)
}
