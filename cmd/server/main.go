package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taxi/internal/app"
	"taxi/internal/config"
	"taxi/internal/distance"
	"taxi/internal/handler"
	"taxi/internal/pricing"
	internalRedis "taxi/internal/redis"
	"taxi/internal/repository/postgres"
	"taxi/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)

	for _, warning := range cfg.Validate() {
		logger.Warn(warning)
	}

	pricingRules, err := cfg.PricingRules()
	if err != nil {
		logger.WithError(err).Fatal("invalid pricing configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.WithError(err).Error("failed to initialize New Relic")
		} else {
			logger.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.WithError(err).Fatal("failed to apply schema")
	}

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	dispatcher, closeDispatcher := app.NewNotificationDispatcher(cfg.RabbitMQ, logger)
	defer closeDispatcher()

	// Wire dependencies.
	server := wireServer(db, redisClient, nrApp, dispatcher, pricingRules, cfg, logger)

	// Start server in goroutine.
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	dispatcher service.Dispatcher,
	pricingRules pricing.Config,
	cfg *config.Config,
	logger *logrus.Logger,
) *http.Server {
	// Initialize Redis stores.
	cacheStore := internalRedis.NewCacheStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	sessionStore := internalRedis.NewSessionStore(redisClient)

	// Initialize repositories.
	bookingRepo := postgres.NewBookingRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	transactor := postgres.NewTransactor(db)

	// Initialize clients.
	gateway := app.NewPaynowClient(cfg.Paynow, logger)
	verifier := app.NewPaynowVerifier(cfg.Paynow)
	distanceClient := distance.NewClient(distance.Config{
		APIKey:   cfg.Distance.APIKey,
		BaseURL:  cfg.Distance.BaseURL,
		CacheTTL: cfg.Distance.CacheTTL,
		Timeout:  cfg.Distance.Timeout,
	}, cacheStore, logger.WithField("component", "distance"))

	// Initialize services.
	notificationService := service.NewNotificationService(dispatcher, cfg.Business.OwnerEmail, logger)
	stateMachine := service.NewPaymentStateMachine(transactor, notificationService, logger.WithField("component", "payment_state"))
	resolver := service.NewReferenceResolver(paymentRepo)
	summaries := service.NewSummaryBuilder(cfg.Business.AverageSpeedKmh, cfg.Business.OwnerPhone)
	bookingService := service.NewBookingService(
		transactor,
		bookingRepo,
		paymentRepo,
		pricing.NewCalculator(pricingRules),
		distanceClient,
		gateway,
		stateMachine,
		notificationService,
		sessionStore,
		logger.WithField("component", "booking"),
	)
	reconcileService := service.NewReconcileService(
		service.ReconcileConfig{
			PollLockTTL:  cfg.Paynow.PollTimeout + 2*time.Second,
			PollOnReturn: cfg.Paynow.PollOnReturn,
		},
		bookingRepo,
		paymentRepo,
		resolver,
		verifier,
		gateway,
		stateMachine,
		lockStore,
		sessionStore,
		summaries,
		logger.WithField("component", "reconcile"),
	)

	// Initialize handlers.
	bookingHandler := handler.NewBookingHandler(bookingService)
	paynowHandler := handler.NewPaynowHandler(reconcileService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		BookingHandler: bookingHandler,
		PaynowHandler:  paynowHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Logger:         logger,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
