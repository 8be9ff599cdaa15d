package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"academy-checkout/internal/config"
	"academy-checkout/internal/database"
	httpapi "academy-checkout/internal/http"
	"academy-checkout/internal/infrastructure/cache"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"
	"academy-checkout/internal/service"
	"academy-checkout/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		gin.SetMode(gin.ReleaseMode)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "academy-checkout").Logger()
}

func newProvider(cfg *config.Config) payment.Provider {
	if cfg.PaymentAPIBaseURL != "" {
		return payment.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAccessToken, cfg.PaymentTimeout())
	}
	log.Warn().Msg("PAYMENT_API_BASE_URL not set, using in-process sandbox provider")
	return payment.NewMockGateway(cfg.PaymentWebhookSecret)
}

func newSender(cfg *config.Config) (notify.Sender, func()) {
	if cfg.RabbitMQURL == "" {
		log.Warn().Msg("RABBITMQ_URL not set, notifications are logged only")
		return notify.LogSender{}, func() {}
	}
	publisher, err := notify.NewAMQPPublisher(cfg.RabbitMQURL, cfg.NotificationExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	log.Info().Str("exchange", cfg.NotificationExchange).Msg("Connected to RabbitMQ")
	return publisher, publisher.Close
}

func newDeliveryCache(ctx context.Context, cfg *config.Config) (cache.DeliveryCache, func()) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryDeliveryCache(cfg.WebhookDedupTTL()), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Msg("Connected to Redis")
	return cache.NewRedisDeliveryCache(client, "academy:webhook:", cfg.WebhookDedupTTL()), func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis client")
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL(), cfg.DBMaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	dbService := database.New(db)
	if cfg.DBRunMigrations {
		if err := database.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	tx := repo.NewTxManager(db)
	orderRepo := repo.NewOrderRepo(db)
	courseRepo := repo.NewCourseRepo(db)
	couponRepo := repo.NewCouponRepo(db)
	enrollmentRepo := repo.NewEnrollmentRepo(db)
	bankAccountRepo := repo.NewBankAccountRepo(db)

	gateway := payment.NewPaymentGateway(newProvider(cfg), cfg.PaymentWebhookSecret)

	sender, closeSender := newSender(cfg)
	dispatcher := notify.NewAsyncDispatcher(sender, 0)

	deliveries, closeCache := newDeliveryCache(ctx, cfg)

	orders := service.NewOrderService(orderRepo, nil)
	coupons := service.NewCouponService(couponRepo, nil)
	enrollments := service.NewEnrollmentService(tx, enrollmentRepo, courseRepo, dispatcher, nil)

	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Tx:              tx,
		Orders:          orders,
		Coupons:         coupons,
		Enrollments:     enrollments,
		CourseRepo:      courseRepo,
		CouponRepo:      couponRepo,
		EnrollmentRepo:  enrollmentRepo,
		BankAccountRepo: bankAccountRepo,
		Gateway:         gateway,
		Notifier:        dispatcher,
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultCurrency: cfg.DefaultCurrency,
	})
	webhooks := service.NewWebhookService(service.WebhookDeps{
		Tx:          tx,
		Orders:      orders,
		Enrollments: enrollments,
		CouponRepo:  couponRepo,
		CourseRepo:  courseRepo,
		Gateway:     gateway,
		Notifier:    dispatcher,
		Deliveries:  deliveries,
	})

	auth := httpapi.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	api := httpapi.NewServer(checkout, webhooks, auth, dbService, cfg.AllowedOrigins())

	sweeper := worker.NewSweepWorker(orders, cfg.OrderAbandonAfter(), cfg.SweepSchedule)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("sweeper stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	<-sweepDone
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("notification queue not drained")
	}
	closeSender()
	closeCache()
	if err := dbService.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("Server exited")
}
