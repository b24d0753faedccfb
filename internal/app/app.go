package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/config"
	"github.com/Dhoini/Coaching-billing-service/internal/db"
	"github.com/Dhoini/Coaching-billing-service/internal/http/handlers"
	"github.com/Dhoini/Coaching-billing-service/internal/kafka"
	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/internal/notify"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/services"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry

	WebhookHandler      *handlers.WebhookHandler
	EntitlementHandler  *handlers.EntitlementHandler
	CancellationHandler *handlers.CancellationHandler
	PlanHandler         *handlers.PlanHandler
	CheckoutHandler     *handlers.CheckoutHandler
	HealthHandler       *handlers.HealthHandler

	AuthMiddleware   *middleware.JWTMiddleware
	LoggerMiddleware gin.HandlerFunc

	dbClient *db.DBClient
	redis    *redis.Client
	producer kafka.Producer
	notifier *notify.Revalidator
}

// NewApp подключает инфраструктуру и собирает сервисы. Redis и Kafka не обязательны.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	dbClient, err := db.NewDBClient(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(ctx); err != nil {
			_ = dbClient.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: metrics.NewRegistry(),
		dbClient: dbClient,
	}
	billingMetrics := metrics.NewBillingMetrics(a.Registry)

	var cache repository.EntitlementCache = repository.NopEntitlementCache{}
	redisClient, err := repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		a.redis = redisClient
		cache = repository.NewRedisCacheRepository(redisClient, cfg.Redis.EntitlementTTL, log)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			a.producer = producer
		}
	}

	a.notifier = notify.NewRevalidator(notify.Options{
		URL:     cfg.Revalidation.URL,
		Secret:  cfg.Revalidation.Secret,
		Timeout: cfg.Revalidation.Timeout,
		Cache:   cache,
	}, a.producer, billingMetrics, log)

	stripeClient := stripe.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, log)

	sqlDB := dbClient.DB()
	subRepo := repository.NewPostgresSubscriptionRepository(sqlDB, log)
	planRepo := repository.NewPostgresPlanRepository(sqlDB, log)
	cancelRepo := repository.NewPostgresCancellationRepository(sqlDB, log)

	reconciler := services.NewReconciler(subRepo, stripeClient, a.notifier, log)
	cancellationService := services.NewCancellationService(cancelRepo, planRepo, stripeClient, billingMetrics, log)
	planService := services.NewPlanService(planRepo, stripeClient, billingMetrics, log)
	checkoutService := services.NewCheckoutService(planRepo, stripeClient, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, log)
	entitlementService := services.NewEntitlementService(subRepo, cache, cfg.Revalidation.Secret, log)

	a.WebhookHandler = handlers.NewWebhookHandler(stripeClient, reconciler, billingMetrics, log)
	a.EntitlementHandler = handlers.NewEntitlementHandler(entitlementService, log)
	a.CancellationHandler = handlers.NewCancellationHandler(cancellationService, log)
	a.PlanHandler = handlers.NewPlanHandler(planService, log)
	a.CheckoutHandler = handlers.NewCheckoutHandler(checkoutService, log)
	a.HealthHandler = handlers.NewHealthHandler(a.healthChecks())

	a.AuthMiddleware = middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	})
	a.LoggerMiddleware = middleware.RequestLogger(log)

	return a, nil
}

func (a *App) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error { return a.dbClient.DB().PingContext(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Shutdown дожидается фоновых уведомлений и закрывает соединения.
// Вызывается после остановки HTTP сервера.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.notifier.Wait(ctx); err != nil {
		a.Logger.Warnw("Pending notifications were not delivered before shutdown", "error", err)
		errs = append(errs, err)
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.Logger.Errorw("Error closing Kafka producer", "error", err)
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Errorw("Error closing Redis connection", "error", err)
			errs = append(errs, err)
		}
	}
	if err := a.dbClient.Close(); err != nil {
		a.Logger.Errorw("Error closing database connection", "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
